package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/conduit-ecg/annotator/internal/persistence"
)

// PasswordVerifier compares a stored hash with a candidate password.
type PasswordVerifier func(hashedPassword, password string) error

// AuthenticateParams carries the credentials of one request. Origin keys the
// session cache, typically the client network address.
type AuthenticateParams struct {
	Origin         string
	Username       string
	Password       string
	HasCredentials bool
}

// AuthenticateResult describes how a request was authenticated.
type AuthenticateResult struct {
	Principal Principal
	// Bypassed is set when a live session for the origin was trusted in place
	// of a credential check.
	Bypassed bool
}

// AuthService verifies basic credentials and maintains the origin session cache.
type AuthService struct {
	annotators persistence.AnnotatorRepository
	verify     PasswordVerifier
	sessions   *SessionCache
	admins     map[string]struct{}
	logger     *slog.Logger
}

// NewAuthService constructs an AuthService with the provided dependencies.
func NewAuthService(annotators persistence.AnnotatorRepository, verify PasswordVerifier, sessions *SessionCache, admins []string) *AuthService {
	return NewAuthServiceWithLogger(annotators, verify, sessions, admins, nil)
}

// NewAuthServiceWithLogger constructs an AuthService with a specified logger.
func NewAuthServiceWithLogger(annotators persistence.AnnotatorRepository, verify PasswordVerifier, sessions *SessionCache, admins []string, logger *slog.Logger) *AuthService {
	if verify == nil {
		verify = VerifyPassword
	}
	adminSet := make(map[string]struct{}, len(admins))
	for _, admin := range admins {
		if trimmed := strings.TrimSpace(admin); trimmed != "" {
			adminSet[trimmed] = struct{}{}
		}
	}
	return &AuthService{
		annotators: annotators,
		verify:     verify,
		sessions:   sessions,
		admins:     adminSet,
		logger:     defaultLogger(logger),
	}
}

func (s *AuthService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "AuthService", operation, attrs...)
}

// Authenticate resolves the principal of a request. An origin with a live
// session is admitted without a credential check as long as the request does
// not name a different annotator; otherwise the credentials are verified and
// the origin remembered on success.
func (s *AuthService) Authenticate(ctx context.Context, params AuthenticateParams) (result AuthenticateResult, err error) {
	if s == nil {
		err = fmt.Errorf("AuthService is nil")
		return
	}
	if s.annotators == nil {
		err = fmt.Errorf("annotator store not configured")
		return
	}

	username := strings.TrimSpace(params.Username)
	logger := s.loggerWith(ctx, "Authenticate", "origin", params.Origin, "username", username)
	defer func() {
		if err != nil {
			logger.WarnContext(ctx, "authentication failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With(
			"principal", result.Principal.Username,
			"bypassed", result.Bypassed,
		).DebugContext(ctx, "authentication succeeded")
	}()

	if cached, ok := s.sessions.Touch(params.Origin); ok {
		if !params.HasCredentials || username == cached {
			result = AuthenticateResult{Principal: s.principal(cached), Bypassed: true}
			return
		}
	}

	if !params.HasCredentials || username == "" || params.Password == "" {
		err = ErrInvalidCredentials
		return
	}

	record, lookupErr := s.annotators.GetAnnotatorByUsername(ctx, username)
	if lookupErr != nil {
		if errors.Is(lookupErr, persistence.ErrNotFound) {
			err = ErrInvalidCredentials
			return
		}
		err = translate(lookupErr)
		return
	}
	if verifyErr := s.verify(record.PasswordHash, params.Password); verifyErr != nil {
		err = ErrInvalidCredentials
		return
	}

	s.sessions.Remember(params.Origin, record.Username)
	result = AuthenticateResult{Principal: s.principal(record.Username)}
	return
}

// Forget ends the cached session of origin.
func (s *AuthService) Forget(origin string) {
	if s == nil {
		return
	}
	s.sessions.Forget(origin)
}

func (s *AuthService) principal(username string) Principal {
	_, admin := s.admins[username]
	return Principal{Username: username, IsAdmin: admin}
}
