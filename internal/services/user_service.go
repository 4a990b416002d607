package services

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/Oashe02/ELVORA-Backend-sub000/internal/domain"
	"github.com/Oashe02/ELVORA-Backend-sub000/internal/repositories"
)

const (
	userIDPrefix     = "usr_"
	userRoleCustomer = "customer"
)

var (
	// ErrUserInvalidInput indicates buyer details failed validation.
	ErrUserInvalidInput = errors.New("user: invalid input")
	// ErrUserNotFound indicates the referenced account does not exist.
	ErrUserNotFound = errors.New("user: not found")
	// ErrUserBlocked indicates the account may not place orders.
	ErrUserBlocked = errors.New("user: blocked")

	buyerPhonePattern = regexp.MustCompile(`^[0-9+()\-\s]{6,20}$`)
)

// UserServiceDeps bundles the dependencies required to construct a user service instance.
type UserServiceDeps struct {
	Users       repositories.UserRepository
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type userService struct {
	users  repositories.UserRepository
	clock  func() time.Time
	newID  func() string
	logger func(context.Context, string, map[string]any)
}

// NewUserService wires dependencies into a concrete UserService implementation.
func NewUserService(deps UserServiceDeps) (UserService, error) {
	if deps.Users == nil {
		return nil, errors.New("user service: user repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &userService{
		users: deps.Users,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

func (s *userService) GetUser(ctx context.Context, userID string) (User, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return User{}, fmt.Errorf("%w: user id is required", ErrUserInvalidInput)
	}
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return User{}, s.mapRepositoryError(err)
	}
	return user, nil
}

// ResolveBuyer returns the account placing an order. Signed-in buyers are looked up by ID;
// guests must supply name, email and phone and are matched or created by email.
func (s *userService) ResolveBuyer(ctx context.Context, cmd ResolveBuyerCommand) (User, error) {
	if userID := strings.TrimSpace(cmd.UserID); userID != "" {
		user, err := s.GetUser(ctx, userID)
		if err != nil {
			return User{}, err
		}
		if user.Blocked {
			return User{}, fmt.Errorf("%w: %s", ErrUserBlocked, user.ID)
		}
		return user, nil
	}

	name := strings.TrimSpace(cmd.Name)
	phone := strings.TrimSpace(cmd.Phone)
	email, err := normalizeEmail(cmd.Email)
	if err != nil {
		return User{}, err
	}
	if name == "" {
		return User{}, fmt.Errorf("%w: name is required for guest checkout", ErrUserInvalidInput)
	}
	if !buyerPhonePattern.MatchString(phone) {
		return User{}, fmt.Errorf("%w: a valid phone is required for guest checkout", ErrUserInvalidInput)
	}

	now := s.clock()
	user, created, err := s.users.FindOrCreateByEmail(ctx, domain.User{
		ID:        userIDPrefix + s.newID(),
		Email:     email,
		Phone:     phone,
		Name:      name,
		Role:      userRoleCustomer,
		Guest:     true,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return User{}, s.mapRepositoryError(err)
	}
	if user.Blocked {
		return User{}, fmt.Errorf("%w: %s", ErrUserBlocked, user.ID)
	}
	if created {
		s.logger(ctx, "user.guest.created", map[string]any{"userId": user.ID})
	}
	return user, nil
}

func (s *userService) mapRepositoryError(err error) error {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsNotFound() {
		return fmt.Errorf("%w: %v", ErrUserNotFound, err)
	}
	return err
}

func normalizeEmail(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: email is required for guest checkout", ErrUserInvalidInput)
	}
	addr, err := mail.ParseAddress(raw)
	if err != nil || addr.Address != raw {
		return "", fmt.Errorf("%w: invalid email %q", ErrUserInvalidInput, raw)
	}
	return strings.ToLower(addr.Address), nil
}
