package application

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/conduit-ecg/annotator/internal/ids"
	"github.com/conduit-ecg/annotator/internal/persistence"
)

// placeholderCampaignName names the campaign every new annotator starts with.
const placeholderCampaignName = "empty"

// PasswordHasher derives the stored credential from a clear text password.
type PasswordHasher func(password string) (string, error)

// AnnotatorService manages annotator accounts.
type AnnotatorService struct {
	annotators  persistence.AnnotatorRepository
	hash        PasswordHasher
	idGenerator ids.Generator
	now         func() time.Time
	audit       AuditSink
	logger      *slog.Logger
}

// NewAnnotatorService wires dependencies for the annotator service.
func NewAnnotatorService(annotators persistence.AnnotatorRepository, hash PasswordHasher, idGenerator ids.Generator, now func() time.Time, audit AuditSink) *AnnotatorService {
	return NewAnnotatorServiceWithLogger(annotators, hash, idGenerator, now, audit, nil)
}

// NewAnnotatorServiceWithLogger wires dependencies for the annotator service with a specific logger.
func NewAnnotatorServiceWithLogger(annotators persistence.AnnotatorRepository, hash PasswordHasher, idGenerator ids.Generator, now func() time.Time, audit AuditSink, logger *slog.Logger) *AnnotatorService {
	if hash == nil {
		hash = HashPassword
	}
	if idGenerator == nil {
		idGenerator = ids.New
	}
	if now == nil {
		now = time.Now
	}
	return &AnnotatorService{
		annotators:  annotators,
		hash:        hash,
		idGenerator: idGenerator,
		now:         now,
		audit:       defaultAudit(audit),
		logger:      defaultLogger(logger),
	}
}

func (s *AnnotatorService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "AnnotatorService", operation, attrs...)
}

// List returns every annotator ordered by creation. Credential hashes are
// left empty unless includeCredential is set.
func (s *AnnotatorService) List(ctx context.Context, includeCredential bool) ([]Annotator, error) {
	if s == nil {
		return nil, fmt.Errorf("AnnotatorService is nil")
	}
	records, err := s.annotators.ListAnnotators(ctx)
	if err != nil {
		return nil, translate(err)
	}
	out := make([]Annotator, len(records))
	for i, record := range records {
		out[i] = annotatorFromRecord(record, includeCredential)
	}
	return out, nil
}

// Get returns one annotator without its credential.
func (s *AnnotatorService) Get(ctx context.Context, username string) (Annotator, error) {
	if s == nil {
		return Annotator{}, fmt.Errorf("AnnotatorService is nil")
	}
	username = strings.TrimSpace(username)
	if username == "" {
		return Annotator{}, invalidArgument("username", "is required")
	}
	record, err := s.annotators.GetAnnotatorByUsername(ctx, username)
	if err != nil {
		return Annotator{}, translate(err)
	}
	return annotatorFromRecord(record, false), nil
}

// Create registers an annotator with an empty placeholder campaign.
func (s *AnnotatorService) Create(ctx context.Context, params CreateAnnotatorParams) (annotator Annotator, err error) {
	if s == nil {
		return Annotator{}, fmt.Errorf("AnnotatorService is nil")
	}

	username := strings.TrimSpace(params.Username)
	logger := s.loggerWith(ctx, "Create", "principal", params.Principal.Username, "username", username)
	defer func() {
		emitAudit(ctx, s.audit, s.now, params.Principal.Username, "annotator.create", map[string]any{
			"username":    username,
			"designation": strings.TrimSpace(params.Designation),
		}, err)
		if err != nil {
			logger.ErrorContext(ctx, "annotator creation failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "annotator created")
	}()

	if !params.Principal.IsAdmin {
		err = ErrUnauthorized
		return
	}

	vErr := &ValidationError{}
	if strings.TrimSpace(params.Name) == "" {
		vErr.add("name", "is required")
	}
	vErr.merge(validateUsername(username))
	if params.Password == "" {
		vErr.add("password", "is required")
	}
	if vErr.HasErrors() {
		err = vErr
		return
	}

	var hash string
	if hash, err = s.hash(params.Password); err != nil {
		err = fmt.Errorf("hash password: %w", err)
		return
	}

	var annotatorID, campaignID ids.ID
	if annotatorID, err = s.idGenerator(); err != nil {
		return
	}
	if campaignID, err = s.idGenerator(); err != nil {
		return
	}

	now := s.now().UTC()
	record := persistence.Annotator{
		ID:           annotatorID,
		Name:         strings.TrimSpace(params.Name),
		Username:     username,
		Designation:  strings.TrimSpace(params.Designation),
		PasswordHash: hash,
		CurrentCampaign: &persistence.Campaign{
			ID:        campaignID,
			Name:      placeholderCampaignName,
			Segments:  []ids.ID{},
			CreatedAt: now,
		},
		PreviousCampaigns: []persistence.Campaign{},
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err = s.annotators.CreateAnnotator(ctx, record); err != nil {
		err = translate(err)
		return
	}
	return annotatorFromRecord(record, false), nil
}

// ResetCredential replaces an annotator's password.
func (s *AnnotatorService) ResetCredential(ctx context.Context, params ResetCredentialParams) (err error) {
	if s == nil {
		return fmt.Errorf("AnnotatorService is nil")
	}

	username := strings.TrimSpace(params.Username)
	logger := s.loggerWith(ctx, "ResetCredential", "principal", params.Principal.Username, "username", username)
	defer func() {
		emitAudit(ctx, s.audit, s.now, params.Principal.Username, "annotator.reset_password", map[string]any{"username": username}, err)
		if err != nil {
			logger.ErrorContext(ctx, "password reset failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "password reset")
	}()

	if !params.Principal.IsAdmin {
		err = ErrUnauthorized
		return
	}
	vErr := &ValidationError{}
	if username == "" {
		vErr.add("username", "is required")
	}
	if params.Password == "" {
		vErr.add("password", "is required")
	}
	if vErr.HasErrors() {
		err = vErr
		return
	}

	var hash string
	if hash, err = s.hash(params.Password); err != nil {
		err = fmt.Errorf("hash password: %w", err)
		return
	}
	if err = s.annotators.UpdatePasswordHash(ctx, username, hash); err != nil {
		err = translate(err)
	}
	return
}

// validateUsername rejects names that cannot travel in a basic auth header.
func validateUsername(username string) *ValidationError {
	vErr := &ValidationError{}
	switch {
	case username == "":
		vErr.add("username", "is required")
	case strings.ContainsRune(username, ':'):
		vErr.add("username", "must not contain ':'")
	case strings.IndexFunc(username, unicode.IsSpace) >= 0:
		vErr.add("username", "must not contain whitespace")
	}
	return vErr
}
