package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/tphan267/supportcall/pkg/providers"
	"github.com/tphan267/supportcall/pkg/utils"
)

const (
	issuer     = "supportcall"
	defaultTTL = 24 * time.Hour
)

// ErrInvalidToken is returned for tokens that fail signature, expiry or claim checks
var ErrInvalidToken = errors.New("invalid token")

// Claims is the payload of an identity token. Subject carries the identity.
type Claims struct {
	Room string `json:"room"`
	jwt.RegisteredClaims
}

// Service implements authentication with HS256 signed identity tokens
type Service struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
	mu     sync.RWMutex
}

// NewService creates a new auth service
func NewService() *Service {
	return &Service{ttl: defaultTTL, now: time.Now}
}

// Name returns the service name
func (s *Service) Name() string {
	return "auth"
}

// Initialize loads the signing secret from config, generating one if none is set
func (s *Service) Initialize(ctx context.Context, registry *providers.Registry) error {
	registry.Logger().Println("Initializing auth service")

	s.mu.Lock()
	defer s.mu.Unlock()

	if cfg := registry.Config(); cfg != nil {
		s.secret = []byte(cfg.Auth.JWTSecret)
		s.ttl = cfg.TokenTTL()
	}
	if len(s.secret) == 0 {
		secret, err := utils.GenerateRandomString(32)
		if err != nil {
			return fmt.Errorf("failed to generate jwt secret: %w", err)
		}
		s.secret = []byte(secret)
		registry.Logger().Warn("[Auth] No jwt secret configured, tokens will not survive a restart")
	}

	return nil
}

// IsRunnable returns false as auth service doesn't need background processing
func (s *Service) IsRunnable() bool {
	return false
}

// Start is not used for auth service
func (s *Service) Start(ctx context.Context) error {
	return nil
}

// Stop gracefully shuts down the service
func (s *Service) Stop(ctx context.Context) error {
	return nil
}

// RegisterAPIRoutes registers auth-related routes
func (s *Service) RegisterAPIRoutes(app interface{}) error {
	// Auth routes are handled by apiserver
	return nil
}

// IssueToken signs a token for identity in room
func (s *Service) IssueToken(ctx context.Context, identity, room string) (string, time.Time, error) {
	if identity == "" || room == "" {
		return "", time.Time{}, errors.New("identity and room are required")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	expires := now.Add(s.ttl)
	claims := Claims{
		Room: room,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   identity,
			ExpiresAt: jwt.NewNumericDate(expires),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return token, expires, nil
}

// ValidateToken verifies a token and returns the identity it carries
func (s *Service) ValidateToken(ctx context.Context, tokenString string) (*providers.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithIssuer(issuer), jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.Subject == "" || claims.Room == "" {
		return nil, ErrInvalidToken
	}

	return &providers.Identity{Name: claims.Subject, Room: claims.Room}, nil
}

// Verify that Service implements both Service and AuthProvider interfaces
var _ providers.Service = (*Service)(nil)
var _ providers.AuthProvider = (*Service)(nil)
