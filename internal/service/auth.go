package service

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/yukihoshiii/zfh-project/internal/model"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_]{3,32}$`)

const minPasswordLen = 6

// AuthService issues and validates session tokens. Tokens are HS256 JWTs
// whose jti must still be in the active set, so logout revokes immediately.
// The active set lives in memory: a restart signs everyone out.
type AuthService struct {
	store      *Store
	jwtSecret  []byte
	sessionTTL time.Duration
	admins     map[string]struct{}
	cost       int
	now        func() time.Time

	mu       sync.Mutex
	sessions map[string]time.Time // jti -> expiry
}

func NewAuthService(store *Store, jwtSecret string, sessionTTL time.Duration, adminUsers []string) *AuthService {
	admins := make(map[string]struct{}, len(adminUsers))
	for _, name := range adminUsers {
		admins[name] = struct{}{}
	}
	return &AuthService{
		store:      store,
		jwtSecret:  []byte(jwtSecret),
		sessionTTL: sessionTTL,
		admins:     admins,
		cost:       bcrypt.DefaultCost,
		now:        time.Now,
		sessions:   make(map[string]time.Time),
	}
}

// Register creates an account. It does not sign the user in.
func (s *AuthService) Register(ctx context.Context, req *model.RegisterRequest) (model.Identity, error) {
	username := strings.TrimSpace(req.Username)
	if !usernamePattern.MatchString(username) {
		return model.Identity{}, ErrInvalidUsername
	}
	if len(req.Password) < minPasswordLen {
		return model.Identity{}, ErrWeakPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cost)
	if err != nil {
		return model.Identity{}, fmt.Errorf("hash password: %w", err)
	}

	user := model.User{
		Username:     username,
		PasswordHash: string(hash),
		Role:         s.roleFor(username),
		RegisteredAt: s.now().UTC(),
	}
	if err := s.store.AddUser(ctx, user); err != nil {
		return model.Identity{}, ErrUserExists
	}
	return model.Identity{Username: user.Username, Role: user.Role}, nil
}

func (s *AuthService) Login(ctx context.Context, req *model.LoginRequest) (string, model.Identity, error) {
	user, ok := s.store.User(strings.TrimSpace(req.Username))
	if !ok {
		return "", model.Identity{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return "", model.Identity{}, ErrInvalidCredentials
	}

	token, err := s.issue(user.Username)
	if err != nil {
		return "", model.Identity{}, err
	}
	s.store.TouchUser(ctx, user.Username)

	return token, model.Identity{Username: user.Username, Role: s.roleOf(user)}, nil
}

// ValidateSession resolves a session token to the identity behind it.
// The role is read from the current user record, not from the token.
func (s *AuthService) ValidateSession(tokenString string) (model.Identity, error) {
	username, jti, err := s.parse(tokenString)
	if err != nil {
		return model.Identity{}, err
	}

	s.mu.Lock()
	expiry, active := s.sessions[jti]
	s.mu.Unlock()
	if !active || !s.now().Before(expiry) {
		return model.Identity{}, ErrInvalidToken
	}

	user, ok := s.store.User(username)
	if !ok {
		return model.Identity{}, ErrInvalidToken
	}
	return model.Identity{Username: user.Username, Role: s.roleOf(user)}, nil
}

// Logout revokes the session. Unknown or already revoked tokens are an error.
func (s *AuthService) Logout(tokenString string) error {
	_, jti, err := s.parse(tokenString)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[jti]; !ok {
		return ErrInvalidToken
	}
	delete(s.sessions, jti)
	return nil
}

// ActiveSessions counts unexpired sessions and prunes the rest.
func (s *AuthService) ActiveSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked(s.now())
	return len(s.sessions)
}

func (s *AuthService) pruneLocked(now time.Time) {
	for jti, expiry := range s.sessions {
		if !now.Before(expiry) {
			delete(s.sessions, jti)
		}
	}
}

func (s *AuthService) issue(username string) (string, error) {
	now := s.now()
	expiry := now.Add(s.sessionTTL)
	jti := uuid.NewString()

	claims := jwt.MapClaims{
		"sub": username,
		"jti": jti,
		"iat": now.Unix(),
		"exp": expiry.Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}

	s.mu.Lock()
	s.pruneLocked(now)
	s.sessions[jti] = expiry
	s.mu.Unlock()
	return signed, nil
}

func (s *AuthService) parse(tokenString string) (username, jti string, err error) {
	if tokenString == "" {
		return "", "", ErrInvalidToken
	}
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return "", "", ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", "", ErrInvalidToken
	}
	username, _ = claims["sub"].(string)
	jti, _ = claims["jti"].(string)
	if username == "" || jti == "" {
		return "", "", ErrInvalidToken
	}
	return username, jti, nil
}

func (s *AuthService) roleFor(username string) model.Role {
	if _, ok := s.admins[username]; ok {
		return model.RoleAdmin
	}
	return model.RoleUser
}

// roleOf promotes users listed in ADMIN_USERS after registration too.
func (s *AuthService) roleOf(u model.User) model.Role {
	if s.roleFor(u.Username) == model.RoleAdmin || u.Role == model.RoleAdmin {
		return model.RoleAdmin
	}
	return model.RoleUser
}
