// Package encounter is the command surface of a live encounter. It serializes
// every mutating command per encounter id, persists the result through the
// store port and only then publishes events to observers.
package encounter

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/thinhdabezt/hexbound-vtt/internal/game/combat"
	"github.com/thinhdabezt/hexbound-vtt/internal/game/combatant"
	"github.com/thinhdabezt/hexbound-vtt/internal/game/condition"
	"github.com/thinhdabezt/hexbound-vtt/internal/game/dice"
	"github.com/thinhdabezt/hexbound-vtt/internal/storage"
)

// Caller identifies who issued a command.
type Caller struct {
	User      string
	Moderator bool
	// Tokens lists the token ids the caller may act for.
	Tokens []string
}

// Controls reports whether the caller may act for tokenID.
func (c Caller) Controls(tokenID string) bool {
	return c.Moderator || slices.Contains(c.Tokens, tokenID)
}

// Options tune an Engine.
type Options struct {
	// DefaultSpeed is the movement of actors with no stored stats.
	DefaultSpeed int
	// TurnTimeout ends a turn automatically when positive.
	TurnTimeout time.Duration
}

// room holds the per-encounter lock and the state that lives only in memory.
type room struct {
	mu        sync.Mutex
	timer     *combat.TurnTimer
	difficult map[combat.Hex]bool
	// refs counts goroutines holding or waiting for mu; guarded by Engine.mu.
	refs int
}

// idle reports whether the room holds nothing worth keeping.
//
// Precondition: r.mu is held.
func (r *room) idle() bool {
	return (r.timer == nil || !r.timer.Armed()) && len(r.difficult) == 0
}

// Engine executes encounter commands.
//
// Every mutating command runs its read-validate-mutate-persist cycle under
// the encounter's lock. Events are published after persistence; a failed
// broadcast is logged and never undoes state.
type Engine struct {
	store    storage.Store
	registry *condition.Registry
	roller   *dice.Roller
	notifier Notifier
	logger   *zap.Logger
	opts     Options

	mu    sync.Mutex
	rooms map[string]*room
}

// NewEngine wires an Engine.
//
// Precondition: all pointer and interface arguments must be non-nil.
// Postcondition: Returns an Engine with no live encounters; opts.DefaultSpeed
// falls back to combat.DefaultSpeed when not positive.
func NewEngine(store storage.Store, registry *condition.Registry, roller *dice.Roller, notifier Notifier, opts Options, logger *zap.Logger) *Engine {
	if opts.DefaultSpeed <= 0 {
		opts.DefaultSpeed = combat.DefaultSpeed
	}
	return &Engine{
		store:    store,
		registry: registry,
		roller:   roller,
		notifier: notifier,
		logger:   logger,
		opts:     opts,
		rooms:    make(map[string]*room),
	}
}

// Registry returns the condition registry the engine validates against.
func (e *Engine) Registry() *condition.Registry { return e.registry }

// Close stops every pending turn timer.
func (e *Engine) Close() {
	e.mu.Lock()
	rooms := make([]*room, 0, len(e.rooms))
	for _, r := range e.rooms {
		rooms = append(rooms, r)
	}
	e.mu.Unlock()
	for _, r := range rooms {
		r.mu.Lock()
		if r.timer != nil {
			r.timer.Stop()
		}
		r.mu.Unlock()
	}
}

func (e *Engine) room(encounterID string) *room {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.rooms[encounterID]
	if !ok {
		r = &room{difficult: map[combat.Hex]bool{}}
		e.rooms[encounterID] = r
	}
	r.refs++
	return r
}

// lock acquires the encounter's lock and returns its room. Every lock must be
// paired with release.
func (e *Engine) lock(encounterID string) *room {
	r := e.room(encounterID)
	r.mu.Lock()
	return r
}

// release unlocks r and forgets the room once nobody holds or waits for it
// and it has no armed timer or difficult terrain.
//
// Engine.mu is never held while waiting for a room lock, so taking it here
// under r.mu cannot deadlock.
func (e *Engine) release(encounterID string, r *room) {
	e.mu.Lock()
	r.refs--
	if r.refs == 0 && r.idle() && e.rooms[encounterID] == r {
		delete(e.rooms, encounterID)
	}
	e.mu.Unlock()
	r.mu.Unlock()
}

// Rooms returns the number of encounters with in-memory state.
func (e *Engine) Rooms() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.rooms)
}

func (e *Engine) publish(encounterID string, events ...Event) {
	if len(events) == 0 {
		return
	}
	if err := e.notifier.Broadcast(encounterID, events...); err != nil {
		e.logger.Warn("broadcast failed",
			zap.String("encounter", encounterID),
			zap.Int("events", len(events)),
			zap.Error(err),
		)
	}
}

// undo runs a compensating write after a later write of the same command
// failed. It ignores ctx cancellation so a timed-out command still rolls back.
func (e *Engine) undo(ctx context.Context, encounterID, op string, write func(context.Context) error) {
	if err := write(context.WithoutCancel(ctx)); err != nil {
		e.logger.Error("compensating write failed",
			zap.String("encounter", encounterID),
			zap.String("op", op),
			zap.Error(err),
		)
	}
}

// finish logs a failed command at the level matching its kind and returns err.
func (e *Engine) finish(command, encounterID string, caller Caller, err error) error {
	if err == nil {
		return nil
	}
	fields := []zap.Field{
		zap.String("command", command),
		zap.String("encounter", encounterID),
		zap.String("user", caller.User),
		zap.Error(err),
	}
	switch Kind(err) {
	case KindValidation, KindPrecondition:
		e.logger.Info("command rejected", fields...)
	case KindTransient:
		e.logger.Warn("command failed on store", fields...)
	case KindInvariant:
		// already logged when the session was deactivated
	default:
		e.logger.Error("command failed", fields...)
	}
	return err
}

// loadSession returns the encounter's session, or an inactive one when none
// was ever saved. A snapshot that fails validation is deactivated, persisted
// and reported as InvariantViolation.
//
// Precondition: r.mu is held.
func (e *Engine) loadSession(ctx context.Context, r *room, encounterID string) (*combat.Session, error) {
	s, err := e.store.LoadSessionState(ctx, encounterID)
	if errors.Is(err, storage.ErrNotFound) {
		return combat.NewSession(), nil
	}
	if err != nil {
		return nil, storeErr("load session", err)
	}
	verr := s.Validate()
	if verr == nil {
		return s, nil
	}

	e.logger.Error("deactivating corrupt session",
		zap.String("encounter", encounterID),
		zap.Int("turn_index", s.CurrentTurnIndex),
		zap.Int("round", s.RoundNumber),
		zap.Error(verr),
	)
	s.End()
	if r.timer != nil {
		r.timer.Stop()
	}
	if err := e.store.SaveSessionState(ctx, encounterID, s); err != nil {
		e.logger.Warn("persisting deactivated session", zap.String("encounter", encounterID), zap.Error(err))
	} else {
		e.publish(encounterID, Event{Type: EventCombatEnded, Payload: CombatEndedPayload{Session: s.Clone(), Reason: "invariant violation"}})
	}
	return nil, &InvariantViolation{EncounterID: encounterID, Err: verr}
}

// activeSession is loadSession that rejects an inactive session.
func (e *Engine) activeSession(ctx context.Context, r *room, encounterID string) (*combat.Session, error) {
	s, err := e.loadSession(ctx, r, encounterID)
	if err != nil {
		return nil, err
	}
	if !s.IsActive {
		return nil, rejected("no active combat")
	}
	return s, nil
}

// requireTurn returns the current actor if the caller controls it.
func requireTurn(caller Caller, s *combat.Session) (string, error) {
	actor, ok := s.CurrentActor()
	if !ok {
		return "", rejected("no active combat")
	}
	if !caller.Controls(actor) {
		return "", rejected("not your turn: %s is acting", actor)
	}
	return actor, nil
}

func requireModerator(caller Caller, command string) error {
	if !caller.Moderator {
		return rejected("%s requires the moderator role", command)
	}
	return nil
}

// statsByID loads every combatant of the encounter keyed by token id.
func (e *Engine) statsByID(ctx context.Context, encounterID string) (map[string]combatant.Combatant, error) {
	all, err := e.store.GetAllStats(ctx, encounterID)
	if err != nil {
		return nil, storeErr("load stats", err)
	}
	out := make(map[string]combatant.Combatant, len(all))
	for _, c := range all {
		out[c.TokenID] = c
	}
	return out, nil
}

// speedLookup returns effective speed from stats, or the configured default
// for tokens with none.
func (e *Engine) speedLookup(stats map[string]combatant.Combatant) combat.SpeedLookup {
	return func(tokenID string) (int, bool) {
		c, ok := stats[tokenID]
		if !ok {
			return e.opts.DefaultSpeed, true
		}
		return e.registry.EffectiveSpeed(c.Conditions, c.Speed), true
	}
}

// turnEvents describes the turn that just began.
func (e *Engine) turnEvents(s *combat.Session, stats map[string]combatant.Combatant) []Event {
	actor, ok := s.CurrentActor()
	if !ok {
		return nil
	}
	b, _ := s.Budget(actor)
	c, known := stats[actor]
	canAct := !known || e.registry.CanTakeTurn(c.Conditions)
	events := []Event{{
		Type: EventTurnChanged,
		Payload: TurnChangedPayload{
			ActorID:          actor,
			CurrentTurnIndex: s.CurrentTurnIndex,
			RoundNumber:      s.RoundNumber,
			CanAct:           canAct,
			Budget:           b,
		},
	}}
	if !canAct {
		events = append(events, logLine(c.Name+" cannot act this turn"))
	}
	return events
}

// armTimer schedules the automatic end of the current turn.
//
// Precondition: r.mu is held.
func (e *Engine) armTimer(r *room, encounterID string, s *combat.Session) {
	if e.opts.TurnTimeout <= 0 {
		return
	}
	round, index := s.RoundNumber, s.CurrentTurnIndex
	onFire := func() { e.expireTurn(encounterID, round, index) }
	if r.timer == nil {
		r.timer = combat.NewTurnTimer(e.opts.TurnTimeout, onFire)
		return
	}
	r.timer.Reset(e.opts.TurnTimeout, onFire)
}

// expireTurn advances the turn if it is still the one the timer was armed for.
func (e *Engine) expireTurn(encounterID string, round, index int) {
	ctx := context.Background()
	r := e.lock(encounterID)
	defer e.release(encounterID, r)

	s, err := e.loadSession(ctx, r, encounterID)
	if err != nil {
		e.logger.Warn("turn timer: loading session", zap.String("encounter", encounterID), zap.Error(err))
		return
	}
	if !s.IsActive || s.RoundNumber != round || s.CurrentTurnIndex != index {
		return
	}
	actor, _ := s.CurrentActor()
	e.logger.Info("turn timed out",
		zap.String("encounter", encounterID),
		zap.String("actor", actor),
		zap.Int("round", round),
	)
	if err := e.advance(ctx, r, encounterID, s, actor+"'s turn timed out"); err != nil {
		e.logger.Warn("turn timer: advancing", zap.String("encounter", encounterID), zap.Error(err))
	}
}

// advance moves s to the next actor, persists it and publishes the change.
//
// Precondition: r.mu is held and s is active.
func (e *Engine) advance(ctx context.Context, r *room, encounterID string, s *combat.Session, narration string) error {
	stats, err := e.statsByID(ctx, encounterID)
	if err != nil {
		return err
	}
	s.AdvanceTurn(e.speedLookup(stats))
	if err := e.store.SaveSessionState(ctx, encounterID, s); err != nil {
		return storeErr("save session", err)
	}
	e.armTimer(r, encounterID, s)

	events := []Event{logLine(narration)}
	events = append(events, e.turnEvents(s, stats)...)
	e.publish(encounterID, events...)
	return nil
}
