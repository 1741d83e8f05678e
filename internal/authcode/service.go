// Package authcode implements the login-code exchange: a short-lived
// one-time code is issued for a directory user and redeemed exactly once for
// a bearer token. Codes live in a keyed TTL store (Redis when configured, an
// in-process map otherwise).
package authcode

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	id "entitle/pkg/domain"
	dErrors "entitle/pkg/domain-errors"
	"entitle/pkg/platform/sentinel"

	"entitle/internal/directory"
)

// CodeStore keeps issued codes until redeemed or expired. Take must be
// atomic get-and-delete so a code redeems at most once.
type CodeStore interface {
	Put(ctx context.Context, code string, userID id.UserID, ttl time.Duration) error
	// Take returns the user bound to the code and removes it, or
	// sentinel.ErrNotFound when the code is unknown or already used.
	Take(ctx context.Context, code string) (id.UserID, error)
}

// TokenIssuer mints the bearer token a redeemed code converts into.
type TokenIssuer interface {
	Issue(actor id.UserID, admin bool) (string, error)
}

// Service issues and redeems login codes.
type Service struct {
	codes  CodeStore
	tokens TokenIssuer
	dir    directory.Directory
	logger *slog.Logger
	ttl    time.Duration
}

// NewService builds the login-code service.
func NewService(codes CodeStore, tokens TokenIssuer, dir directory.Directory, ttl time.Duration, logger *slog.Logger) (*Service, error) {
	if codes == nil {
		return nil, errors.New("code store is required")
	}
	if tokens == nil {
		return nil, errors.New("token issuer is required")
	}
	if dir == nil {
		return nil, errors.New("directory is required")
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{codes: codes, tokens: tokens, dir: dir, logger: logger, ttl: ttl}, nil
}

// Issue creates a one-time login code for an active directory user.
func (s *Service) Issue(ctx context.Context, userID id.UserID) (string, error) {
	profile, err := s.dir.LookupUser(ctx, userID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return "", dErrors.New(dErrors.CodeNotFound, "user not found")
		}
		return "", fmt.Errorf("lookup user: %w", err)
	}
	if !profile.Active {
		return "", dErrors.New(dErrors.CodeAuthorization, "user is inactive")
	}

	code, err := generateCode()
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	if err := s.codes.Put(ctx, code, userID, s.ttl); err != nil {
		return "", fmt.Errorf("store code: %w", err)
	}
	s.logger.InfoContext(ctx, "login code issued", "user_id", userID)
	return code, nil
}

// Redeem exchanges a code for a bearer token. The code is consumed even when
// the directory lookup afterwards fails, so a failed redemption cannot be
// retried with the same code.
func (s *Service) Redeem(ctx context.Context, code string) (string, error) {
	if code == "" {
		return "", dErrors.New(dErrors.CodeValidation, "code is required")
	}
	userID, err := s.codes.Take(ctx, code)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) || errors.Is(err, sentinel.ErrExpired) {
			return "", dErrors.New(dErrors.CodeAuthorization, "code is invalid or expired")
		}
		return "", fmt.Errorf("take code: %w", err)
	}

	profile, err := s.dir.LookupUser(ctx, userID)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeAuthorization, "user no longer resolvable")
	}
	if !profile.Active {
		return "", dErrors.New(dErrors.CodeAuthorization, "user is inactive")
	}

	token, err := s.tokens.Issue(userID, profile.Admin)
	if err != nil {
		return "", fmt.Errorf("issue token: %w", err)
	}
	s.logger.InfoContext(ctx, "login code redeemed", "user_id", userID)
	return token, nil
}

func generateCode() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
