package service

import (
	"fmt"

	"github.com/slezkinis/pentolymp-backend/internal/models"
	"github.com/slezkinis/pentolymp-backend/pkg/jwt"
)

type userStore interface {
	Create(username, email, passwordHash string) (*models.User, error)
	FindByID(id string) (*models.User, error)
	FindByUsername(username string) (*models.User, error)
}

type UserService struct {
	users      userStore
	jwtManager *jwt.JWTManager
}

func NewUserService(users userStore, jwtManager *jwt.JWTManager) *UserService {
	return &UserService{
		users:      users,
		jwtManager: jwtManager,
	}
}

// Register creates a new user account and returns it with a signed token.
func (s *UserService) Register(username, email, password string) (*models.User, string, error) {
	if username == "" || password == "" {
		return nil, "", ErrInvalidInput
	}

	existing, err := s.users.FindByUsername(username)
	if err != nil {
		return nil, "", fmt.Errorf("failed to check username: %w", err)
	}
	if existing != nil {
		return nil, "", ErrUserAlreadyExists
	}

	hash, err := models.HashPassword(password)
	if err != nil {
		return nil, "", fmt.Errorf("failed to hash password: %w", err)
	}

	user, err := s.users.Create(username, email, hash)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create user: %w", err)
	}

	token, err := s.jwtManager.Generate(user.ID, user.Username, user.Email)
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate token: %w", err)
	}

	return user, token, nil
}

// Login verifies credentials and returns the user with a signed token.
func (s *UserService) Login(username, password string) (*models.User, string, error) {
	user, err := s.users.FindByUsername(username)
	if err != nil {
		return nil, "", fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, "", ErrInvalidCredentials
	}

	if !user.CheckPassword(password) {
		return nil, "", ErrInvalidCredentials
	}

	token, err := s.jwtManager.Generate(user.ID, user.Username, user.Email)
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate token: %w", err)
	}

	return user, token, nil
}

// GetByID returns the user or ErrUserNotFound.
func (s *UserService) GetByID(id string) (*models.User, error) {
	user, err := s.users.FindByID(id)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}
