package services

import (
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/okralab/okra-server/internal/models"
)

type AuthStore interface {
	GetOperator(username string) (*models.Operator, error)
	UpsertOperator(op *models.Operator) error
}

type TokenSigner func(username string, ttl time.Duration) (string, error)

type AuthService struct {
	store     AuthStore
	signToken TokenSigner
	tokenTTL  time.Duration
}

type AuthResult struct {
	Token    string
	Username string
}

func NewAuthService(store AuthStore, signer TokenSigner) *AuthService {
	return &AuthService{
		store:     store,
		signToken: signer,
		tokenTTL:  24 * time.Hour,
	}
}

// SeedOperator installs or updates the operator account configured in the
// environment. Called once at startup.
func (s *AuthService) SeedOperator(username, password string) error {
	if strings.TrimSpace(username) == "" || strings.TrimSpace(password) == "" {
		return NewInvalidError("username/password required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	return s.store.UpsertOperator(&models.Operator{Username: username, PassHash: hash})
}

func (s *AuthService) Login(username, password string) (*AuthResult, error) {
	username = strings.TrimSpace(username)
	if username == "" || strings.TrimSpace(password) == "" {
		return nil, NewInvalidError("username/password required")
	}
	op, err := s.store.GetOperator(username)
	if err != nil {
		return nil, err
	}
	if op == nil {
		return nil, NewUnauthorizedError("invalid credentials")
	}
	if err := bcrypt.CompareHashAndPassword(op.PassHash, []byte(password)); err != nil {
		return nil, NewUnauthorizedError("invalid credentials")
	}
	if s.signToken == nil {
		return nil, NewInvalidError("token signer not configured")
	}
	token, err := s.signToken(op.Username, s.tokenTTL)
	if err != nil {
		return nil, err
	}
	return &AuthResult{Token: token, Username: op.Username}, nil
}

func (s *AuthService) TokenTTL() time.Duration {
	return s.tokenTTL
}
