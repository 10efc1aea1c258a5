package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"room-relay/internal/domain"
	"room-relay/internal/repository"
)

// UserService coordina reglas de negocio para usuarios.
type UserService struct {
	logger *zap.Logger
	users  repository.UserRepository
}

func NewUserService(logger *zap.Logger, users repository.UserRepository) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UserService{
		logger: logger,
		users:  users,
	}
}

type RegisterInput struct {
	Email       string
	DisplayName string
	Password    string
}

var (
	ErrUserServiceNotConfigured = errors.New("user service not configured")
	ErrUserNotFound             = errors.New("user not found")
	ErrInvalidCredentials       = errors.New("invalid credentials")
	ErrInvalidEmail             = errors.New("invalid email")
	ErrWeakPassword             = errors.New("password too short")
	ErrEmailTaken               = errors.New("email already registered")
)

const minPasswordRunes = 8

func (s *UserService) Register(ctx context.Context, input RegisterInput) (domain.User, error) {
	if s == nil || s.users == nil {
		return domain.User{}, ErrUserServiceNotConfigured
	}

	email := normalizeEmail(input.Email)
	if !isValidEmail(email) {
		return domain.User{}, ErrInvalidEmail
	}
	password := strings.TrimSpace(input.Password)
	if utf8.RuneCountInString(password) < minPasswordRunes {
		return domain.User{}, ErrWeakPassword
	}
	displayName := strings.TrimSpace(input.DisplayName)
	if displayName == "" {
		displayName = strings.SplitN(email, "@", 2)[0]
	}

	hashBytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return domain.User{}, fmt.Errorf("hash password: %w", err)
	}

	user := domain.User{
		ID:           uuid.NewString(),
		Email:        email,
		DisplayName:  displayName,
		PasswordHash: string(hashBytes),
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			return domain.User{}, ErrEmailTaken
		}
		return domain.User{}, err
	}

	s.logger.Info("user registered", zap.String("user_id", user.ID))
	return user, nil
}

func (s *UserService) Authenticate(ctx context.Context, emailAddr, password string) (domain.User, error) {
	if s == nil || s.users == nil {
		return domain.User{}, ErrUserServiceNotConfigured
	}

	emailAddr = normalizeEmail(emailAddr)
	password = strings.TrimSpace(password)
	if emailAddr == "" || password == "" {
		return domain.User{}, ErrInvalidCredentials
	}
	user, err := s.users.GetByEmail(ctx, emailAddr)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, ErrInvalidCredentials
		}
		return domain.User{}, err
	}
	if user.PasswordHash == "" {
		return domain.User{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return domain.User{}, ErrInvalidCredentials
	}
	return user, nil
}

func (s *UserService) GetByID(ctx context.Context, id string) (domain.User, error) {
	if s == nil || s.users == nil {
		return domain.User{}, ErrUserServiceNotConfigured
	}
	user, err := s.users.GetByID(ctx, strings.TrimSpace(id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, ErrUserNotFound
		}
		return domain.User{}, err
	}
	return user, nil
}

// UpdateProfilePicture guarda la URL publica de la foto de perfil.
func (s *UserService) UpdateProfilePicture(ctx context.Context, userID, url string) (domain.User, error) {
	if s == nil || s.users == nil {
		return domain.User{}, ErrUserServiceNotConfigured
	}
	userID = strings.TrimSpace(userID)
	url = strings.TrimSpace(url)
	if userID == "" || url == "" {
		return domain.User{}, ErrUserNotFound
	}
	user, err := s.users.UpdateProfilePicture(ctx, userID, url)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, ErrUserNotFound
		}
		return domain.User{}, err
	}
	return user, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func isValidEmail(email string) bool {
	if email == "" {
		return false
	}
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}
