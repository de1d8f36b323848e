// Package users manages accounts and guest identities and issues session tokens.
package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jason-s-yu/promptquest/internal/auth"
	"github.com/jason-s-yu/promptquest/internal/models"
)

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrNotFound           = errors.New("user not found")
)

const (
	minPasswordLength = 6
	maxNameLength     = 40
	guestName         = "Guest"
)

// Store persists users. Create returns ErrEmailTaken on a duplicate email and the
// getters return ErrNotFound.
type Store interface {
	Create(ctx context.Context, u *models.User) error
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// Session is the result of a successful sign-in.
type Session struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

type Service struct {
	store  Store
	params auth.HashParams
	logger logrus.FieldLogger
}

func NewService(store Store, logger logrus.FieldLogger) *Service {
	return &Service{store: store, params: auth.DefaultParams, logger: logger}
}

// Register creates a credentialed account and signs it in.
func (s *Service) Register(ctx context.Context, email, password, name string) (*Session, error) {
	email = normalizeEmail(email)
	name = strings.TrimSpace(name)
	switch {
	case name == "" || email == "" || password == "":
		return nil, fmt.Errorf("%w: name, email and password are required", ErrInvalidInput)
	case !strings.Contains(email, "@"):
		return nil, fmt.Errorf("%w: malformed email", ErrInvalidInput)
	case len(password) < minPasswordLength:
		return nil, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLength)
	case len([]rune(name)) > maxNameLength:
		return nil, fmt.Errorf("%w: name exceeds %d characters", ErrInvalidInput, maxNameLength)
	}

	hash, err := auth.HashPassword(password, s.params)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	u := &models.User{
		ID:        uuid.New(),
		Email:     email,
		Password:  hash,
		Username:  name,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.Create(ctx, u); err != nil {
		return nil, err
	}

	s.logger.WithField("user_id", u.ID).Info("user registered")
	return s.session(u)
}

// Login checks credentials. Unknown email and wrong password are indistinguishable.
func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, fmt.Errorf("%w: email and password are required", ErrInvalidInput)
	}

	u, err := s.store.GetByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if u.IsEphemeral || u.Password == "" {
		return nil, ErrInvalidCredentials
	}

	match, err := auth.VerifyPassword(password, u.Password)
	if err != nil {
		s.logger.WithError(err).WithField("user_id", u.ID).Warn("stored password hash is unreadable")
		return nil, ErrInvalidCredentials
	}
	if !match {
		return nil, ErrInvalidCredentials
	}
	return s.session(u)
}

// Guest mints an ephemeral identity without credentials.
func (s *Service) Guest(ctx context.Context, name string) (*Session, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = guestName
	}
	if len([]rune(name)) > maxNameLength {
		return nil, fmt.Errorf("%w: name exceeds %d characters", ErrInvalidInput, maxNameLength)
	}

	u := &models.User{
		ID:          uuid.New(),
		Username:    name,
		IsEphemeral: true,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.Create(ctx, u); err != nil {
		return nil, err
	}
	return s.session(u)
}

// Get returns a user without the password hash.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.User, error) {
	u, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	u.Password = ""
	return u, nil
}

func (s *Service) session(u *models.User) (*Session, error) {
	token, err := auth.CreateJWT(u.ID, u.Username)
	if err != nil {
		return nil, fmt.Errorf("failed to create jwt: %w", err)
	}
	out := *u
	out.Password = ""
	return &Session{Token: token, User: &out}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
