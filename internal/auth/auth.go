// Package auth verifies configured users and issues the bearer tokens the
// gateway checks on connect.
package auth

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/thinhdabezt/hexbound-vtt/internal/config"
)

// Role constants for users.
const (
	RolePlayer    = "player"
	RoleModerator = "moderator"
)

var (
	// ErrInvalidCredentials is returned when the username is unknown or the
	// password does not match.
	ErrInvalidCredentials = errors.New("invalid username or password")
	// ErrInvalidToken is returned for tokens that fail signature, issuer or
	// expiry checks.
	ErrInvalidToken = errors.New("invalid token")
)

// ValidRole reports whether role is a recognized role value.
func ValidRole(role string) bool {
	return role == RolePlayer || role == RoleModerator
}

// HashPassword creates a bcrypt hash of the given password.
//
// Precondition: password must be at most 72 bytes.
// Postcondition: Returns a bcrypt hash string.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword compares a plaintext password against a bcrypt hash.
func CheckPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// Claims are the token claims the gateway relies on.
type Claims struct {
	Role   string   `json:"role"`
	Tokens []string `json:"tokens,omitempty"`
	jwt.RegisteredClaims
}

// Moderator reports whether the claims carry the moderator role.
func (c Claims) Moderator() bool { return c.Role == RoleModerator }

// Authenticator checks passwords against the configured users and signs
// HS256 tokens.
type Authenticator struct {
	secret []byte
	issuer string
	ttl    time.Duration
	users  map[string]config.UserConfig
	now    func() time.Time
}

// New builds an Authenticator from cfg.
//
// Precondition: cfg has passed config validation.
// Postcondition: Returns an Authenticator; users with an invalid role are rejected.
func New(cfg config.AuthConfig) (*Authenticator, error) {
	users := make(map[string]config.UserConfig, len(cfg.Users))
	for _, u := range cfg.Users {
		if !ValidRole(u.Role) {
			return nil, fmt.Errorf("user %q: invalid role %q", u.Username, u.Role)
		}
		users[u.Username] = u
	}
	return &Authenticator{
		secret: []byte(cfg.JWTSecret),
		issuer: cfg.Issuer,
		ttl:    cfg.TokenTTL,
		users:  users,
		now:    time.Now,
	}, nil
}

// Login verifies username and password and returns a signed token.
//
// Postcondition: Returns ErrInvalidCredentials on any mismatch.
func (a *Authenticator) Login(username, password string) (string, Claims, error) {
	u, ok := a.users[username]
	if !ok || !CheckPassword(password, u.PasswordHash) {
		return "", Claims{}, ErrInvalidCredentials
	}
	now := a.now()
	claims := Claims{
		Role:   u.Role,
		Tokens: slices.Clone(u.Tokens),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   u.Username,
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", Claims{}, fmt.Errorf("signing token: %w", err)
	}
	return signed, claims, nil
}

// Verify parses and validates a token produced by Login.
//
// Postcondition: Every failure wraps ErrInvalidToken.
func (a *Authenticator) Verify(token string) (Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(a.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !ValidRole(claims.Role) {
		return Claims{}, fmt.Errorf("%w: unknown role %q", ErrInvalidToken, claims.Role)
	}
	return claims, nil
}
