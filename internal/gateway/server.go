package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/thinhdabezt/hexbound-vtt/internal/auth"
	"github.com/thinhdabezt/hexbound-vtt/internal/catalog"
	"github.com/thinhdabezt/hexbound-vtt/internal/config"
	"github.com/thinhdabezt/hexbound-vtt/internal/game/encounter"
)

const (
	maxFrameBytes = 64 << 10
	// requestIDHeader carries the per-request id assigned by the middleware.
	requestIDHeader = "X-Request-Id"
)

// Server owns the HTTP routes and WebSocket sessions.
type Server struct {
	cfg      config.GatewayConfig
	engine   *encounter.Engine
	hub      *Hub
	auth     *auth.Authenticator
	catalog  catalog.Repository
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewServer wires a Server.
//
// Precondition: engine, hub, repo and logger must be non-nil; authn is nil
// when authentication is disabled, in which case every socket acts as the
// moderator.
// Postcondition: Returns a Server ready to be mounted with Handler.
func NewServer(cfg config.GatewayConfig, engine *encounter.Engine, hub *Hub, authn *auth.Authenticator, repo catalog.Repository, logger *zap.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		engine:  engine,
		hub:     hub,
		auth:    authn,
		catalog: repo,
		logger:  logger,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.requestLog)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/ws/{encounter}", s.handleSocket).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/login", s.handleLogin).Methods(http.MethodPost)
	api.HandleFunc("/dice", s.handleDice).Methods(http.MethodPost)
	api.HandleFunc("/catalog/monsters", s.handleMonsters).Methods(http.MethodGet)
	api.HandleFunc("/catalog/spells", s.handleSpells).Methods(http.MethodGet)
	return r
}

// HTTPServer returns an http.Server for the configured address.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:              s.cfg.Addr(),
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
	}
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	return slices.Contains(s.cfg.AllowedOrigins, r.Header.Get("Origin"))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// requestLog assigns a request id and logs each request once it completes.
// WebSocket upgrades are logged when the connection closes.
func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		if websocket.IsWebSocketUpgrade(r) {
			next.ServeHTTP(w, r)
			return
		}
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("http request",
			zap.String("request_id", id),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error string `json:"error"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token    string   `json:"token"`
	Username string   `json:"username"`
	Role     string   `json:"role"`
	Tokens   []string `json:"tokens"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if s.auth == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "authentication is disabled"})
		return
	}
	var req loginRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxFrameBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "malformed login request"})
		return
	}
	token, claims, err := s.auth.Login(req.Username, req.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		s.logger.Info("login rejected", zap.String("user", req.Username))
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: err.Error()})
		return
	}
	if err != nil {
		s.logger.Error("login failed", zap.String("user", req.Username), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "login failed"})
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Token: token, Username: claims.Subject, Role: claims.Role, Tokens: claims.Tokens})
}

type diceRequest struct {
	Formula string `json:"formula"`
}

func (s *Server) handleDice(w http.ResponseWriter, r *http.Request) {
	var req diceRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxFrameBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "malformed dice request"})
		return
	}
	res, err := s.engine.Roll(req.Formula)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func queryLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New("limit must be a non-negative integer")
	}
	return n, nil
}

func (s *Server) handleMonsters(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	ms, err := s.catalog.ListMonsters(r.Context(), limit)
	if err != nil {
		s.logger.Warn("listing monsters", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "catalog unavailable"})
		return
	}
	if ms == nil {
		ms = []catalog.Monster{}
	}
	writeJSON(w, http.StatusOK, ms)
}

func (s *Server) handleSpells(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	ss, err := s.catalog.ListSpells(r.Context(), limit)
	if err != nil {
		s.logger.Warn("listing spells", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "catalog unavailable"})
		return
	}
	if ss == nil {
		ss = []catalog.Spell{}
	}
	writeJSON(w, http.StatusOK, ss)
}

// authenticate resolves the caller of a socket request. With auth disabled
// the caller is the moderator named by the "user" query parameter.
func (s *Server) authenticate(r *http.Request) (encounter.Caller, error) {
	if s.auth == nil {
		user := r.URL.Query().Get("user")
		if user == "" {
			user = "guest"
		}
		return encounter.Caller{User: user, Moderator: true}, nil
	}
	token := r.URL.Query().Get("access_token")
	if h := r.Header.Get("Authorization"); token == "" && strings.HasPrefix(h, "Bearer ") {
		token = strings.TrimPrefix(h, "Bearer ")
	}
	if token == "" {
		return encounter.Caller{}, auth.ErrInvalidToken
	}
	claims, err := s.auth.Verify(token)
	if err != nil {
		return encounter.Caller{}, err
	}
	return encounter.Caller{User: claims.Subject, Moderator: claims.Moderator(), Tokens: claims.Tokens}, nil
}

func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	encounterID := mux.Vars(r)["encounter"]
	caller, err := s.authenticate(r)
	if err != nil {
		s.logger.Info("socket rejected", zap.String("encounter", encounterID), zap.Error(err))
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized"})
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Info("upgrade failed", zap.String("encounter", encounterID), zap.Error(err))
		return
	}

	c := newClient(uuid.NewString(), encounterID, caller, conn, s.cfg.SendBuffer)
	log := s.logger.With(
		zap.String("client", c.id),
		zap.String("encounter", encounterID),
		zap.String("user", caller.User),
	)
	log.Info("client connected", zap.Bool("moderator", caller.Moderator))

	ctx, cancel := context.WithCancel(context.Background())
	go s.writePump(c, log)

	err = s.engine.Join(ctx, encounterID, func(initial []encounter.Event) {
		s.hub.register(c)
		s.hub.reply(c, initial...)
	})
	if err != nil {
		log.Warn("join sync failed", zap.Error(err))
		s.hub.register(c)
		s.hub.reply(c, encounter.ErrorEvent("Join", err))
	}

	s.readPump(ctx, c, log)
	cancel()
	s.hub.unregister(c)
	c.close()
	log.Info("client disconnected")
}

// readPump processes inbound frames until the connection fails. Pongs
// extend the read deadline.
func (s *Server) readPump(ctx context.Context, c *client, log *zap.Logger) {
	pongWait := 2 * s.cfg.PingInterval
	c.conn.SetReadLimit(maxFrameBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Info("read failed", zap.Error(err))
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		s.dispatch(ctx, c, raw)
	}
}

// writePump drains the client's queue and pings on an interval. It is the
// only goroutine writing to the connection.
func (s *Server) writePump(c *client, log *zap.Logger) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()
	writeWait := s.cfg.WriteTimeout
	if writeWait <= 0 {
		writeWait = 10 * time.Second
	}
	for {
		select {
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				log.Info("write failed", zap.Error(err))
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.done:
			return
		}
	}
}
