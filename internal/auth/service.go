package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/hivehq/hive/internal/model"
	"github.com/hivehq/hive/internal/store"
)

var (
	ErrEmailAlreadyRegistered = errors.New("email already registered")
	ErrInvalidCredentials     = errors.New("invalid credentials")
	ErrTokenInvalid           = errors.New("token invalid")
)

const bcryptCost = 12

// Claims is the authenticated principal carried in a bearer token.
type Claims struct {
	UserID string     `json:"userId"`
	Role   model.Role `json:"role"`
	jwtlib.RegisteredClaims
}

// Service issues and validates HS256 bearer tokens and manages
// credentials. Tokens are stateless; there is no revocation list.
type Service struct {
	store    store.Store
	secret   []byte
	tokenTTL time.Duration

	now func() time.Time
}

func NewService(s store.Store, secret string, tokenTTL time.Duration) *Service {
	return &Service{store: s, secret: []byte(secret), tokenTTL: tokenTTL, now: time.Now}
}

// Register creates a user with a hashed password and returns the user
// plus a fresh token. Duplicate emails are rejected.
func (s *Service) Register(ctx context.Context, email, password, name string, role model.Role) (*model.User, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if role == "" {
		role = model.RoleEmployee
	}

	if _, err := s.store.Users().GetByEmail(ctx, email); err == nil {
		return nil, "", ErrEmailAlreadyRegistered
	} else if !errors.Is(err, model.ErrNotFound) {
		return nil, "", err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return nil, "", err
	}

	u, err := s.store.Users().Create(ctx, &model.User{
		ID:           uuid.New().String(),
		Email:        email,
		Name:         name,
		PasswordHash: string(hash),
		Role:         role,
	})
	if err != nil {
		return nil, "", err
	}

	token, err := s.generateToken(u.ID, u.Role)
	if err != nil {
		return nil, "", err
	}
	return u, token, nil
}

// Login verifies credentials and returns the user plus a fresh token.
// Unknown email and wrong password are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, email, password string) (*model.User, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	u, err := s.store.Users().GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, "", ErrInvalidCredentials
		}
		return nil, "", err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, "", ErrInvalidCredentials
	}

	token, err := s.generateToken(u.ID, u.Role)
	if err != nil {
		return nil, "", err
	}
	return u, token, nil
}

// VerifyToken parses and validates a bearer token.
func (s *Service) VerifyToken(tokenString string) (*Claims, error) {
	p := jwtlib.NewParser(jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Alg()}))

	var c Claims
	tok, err := p.ParseWithClaims(tokenString, &c, func(t *jwtlib.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil || tok == nil || !tok.Valid {
		return nil, ErrTokenInvalid
	}
	if c.UserID == "" {
		return nil, ErrTokenInvalid
	}
	return &c, nil
}

func (s *Service) generateToken(userID string, role model.Role) (string, error) {
	now := s.now().UTC()
	c := Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(now.Add(s.tokenTTL)),
		},
	}
	t := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, c)
	signed, err := t.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
