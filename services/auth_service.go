package services

import (
	"chat-relay/auth"
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/errors"
	"chat-relay/repositories"
	"context"
	"fmt"
	"log/slog"
	"time"
)

// IAuthService is the identity store of the relay plus the account
// management used by the admin tooling.
type IAuthService interface {
	contract.IIdentityStore
	Register(username, displayName, password string) (domain.Identity, error)
	ImportBcrypt(username, displayName, bcryptHash string) (domain.Identity, error)
	ListUsers() ([]domain.Identity, error)
}

type AuthService struct {
	log            *slog.Logger
	userRepository repositories.IUserRepository
	tokens         *auth.TokenIssuer
}

func NewAuthService(log *slog.Logger, repo repositories.IUserRepository, tokens *auth.TokenIssuer) IAuthService {
	return &AuthService{log: log, userRepository: repo, tokens: tokens}
}

// Authenticate accepts either the account password or a still valid
// session token issued to the same username.
func (s *AuthService) Authenticate(ctx context.Context, username, proof string) (domain.Identity, error) {
	if err := ctx.Err(); err != nil {
		return domain.Identity{}, err
	}
	if err := auth.ValidateLogin(auth.LoginRequest{Username: username, Proof: proof}); err != nil {
		return domain.Identity{}, err
	}

	if auth.LooksLikeToken(proof) {
		claims, err := s.tokens.ValidateToken(proof)
		if err != nil || claims.UserID != username {
			s.log.Debug("Token rejected", "username", username, "error", err)
			return domain.Identity{}, errors.ErrInvalidCredentials
		}
	}

	user, err := s.userRepository.GetUser(username)
	if err != nil {
		if errors.Is(err, errors.ErrUserNotFound) {
			// Same answer as a wrong password, no user enumeration
			return domain.Identity{}, errors.ErrInvalidCredentials
		}
		return domain.Identity{}, fmt.Errorf("user lookup: %w", err)
	}

	if !auth.LooksLikeToken(proof) {
		match, err := auth.ComparePassword(proof, user.PasswordHash)
		if err != nil || !match {
			return domain.Identity{}, errors.ErrInvalidCredentials
		}
	}
	return toIdentity(user), nil
}

func (s *AuthService) IssueToken(identity domain.Identity) (string, error) {
	token, err := s.tokens.GenerateToken(identity)
	if err != nil {
		return "", errors.ErrTokenGeneration
	}
	return token, nil
}

func (s *AuthService) Register(username, displayName, password string) (domain.Identity, error) {
	if err := auth.ValidateRegister(auth.RegisterRequest{
		Username:    username,
		DisplayName: displayName,
		Password:    password,
	}); err != nil {
		return domain.Identity{}, err
	}

	// Hashed here so the repository never sees a plain password
	hashedPassword, err := auth.HashPassword(password)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("hashing failed: %w", err)
	}
	return s.create(username, displayName, hashedPassword)
}

// ImportBcrypt stores an account whose bcrypt hash was exported from
// another deployment. The hash is kept as is and checked on login.
func (s *AuthService) ImportBcrypt(username, displayName, bcryptHash string) (domain.Identity, error) {
	if username == "" || len(username) > auth.MaxCredentialLength || username == domain.PublicRecipient {
		return domain.Identity{}, fmt.Errorf("%w: invalid username %q", errors.ErrInvalidCredentials, username)
	}
	if !auth.IsBcryptHash(bcryptHash) {
		return domain.Identity{}, fmt.Errorf("%w: not a bcrypt hash", errors.ErrInvalidPassword)
	}
	if displayName == "" {
		displayName = username
	}
	return s.create(username, displayName, bcryptHash)
}

func (s *AuthService) ListUsers() ([]domain.Identity, error) {
	users, err := s.userRepository.ListUsers()
	if err != nil {
		return nil, err
	}
	identities := make([]domain.Identity, 0, len(users))
	for _, u := range users {
		identities = append(identities, toIdentity(u))
	}
	return identities, nil
}

func (s *AuthService) create(username, displayName, hash string) (domain.Identity, error) {
	user := repositories.User{
		Username:     username,
		DisplayName:  displayName,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.userRepository.CreateUser(user); err != nil {
		return domain.Identity{}, err
	}
	s.log.Info("User created", "username", username)
	return toIdentity(user), nil
}

func toIdentity(u repositories.User) domain.Identity {
	return domain.Identity{ID: u.Username, DisplayName: u.DisplayName}
}
