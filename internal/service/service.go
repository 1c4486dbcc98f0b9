package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type Services struct {
	Auth     *AuthService
	Command  *CommandService
	Billing  *BillingService
	Reminder *ReminderService
}

// MessageGuard remembers keys for a while. FirstSeen reports whether key was not
// already remembered and remembers it.
type MessageGuard interface {
	FirstSeen(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// Replier sends a WhatsApp text to a phone number
type Replier interface {
	SendText(ctx context.Context, to, body string) error
}

// Broadcaster publishes events to connected operators
type Broadcaster interface {
	Broadcast(event string, data interface{})
}

// AuthService verifies operator tokens issued by the hosted backend
type AuthService struct {
	secret []byte
}

func NewAuthService(jwtSecret string) *AuthService {
	return &AuthService{secret: []byte(jwtSecret)}
}

// JWTClaims are the claims the hosted auth provider puts in access tokens
type JWTClaims struct {
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

func (s *AuthService) ValidateToken(tokenString string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}

	return claims, nil
}

// MemoryGuard is the in-process MessageGuard used when Redis is not configured
type MemoryGuard struct {
	mu   sync.Mutex
	seen map[string]time.Time
	now  func() time.Time
}

func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{seen: make(map[string]time.Time), now: time.Now}
}

func (g *MemoryGuard) FirstSeen(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if exp, ok := g.seen[key]; ok && now.Before(exp) {
		return false, nil
	}
	// drop expired keys once the map grows
	if len(g.seen) > 10000 {
		for k, exp := range g.seen {
			if !now.Before(exp) {
				delete(g.seen, k)
			}
		}
	}
	g.seen[key] = now.Add(ttl)
	return true, nil
}
