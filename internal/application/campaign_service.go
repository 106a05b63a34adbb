package application

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/conduit-ecg/annotator/internal/ids"
	"github.com/conduit-ecg/annotator/internal/persistence"
)

const defaultImportWorkers = 4

// CampaignService manages the current and archived campaigns of annotators.
// Every replacement is one atomic compare-and-swap on the annotator record.
type CampaignService struct {
	annotators    persistence.AnnotatorRepository
	tx            persistence.Transactor
	retry         *RetryHelper
	idGenerator   ids.Generator
	now           func() time.Time
	audit         AuditSink
	importWorkers int
	logger        *slog.Logger
}

// NewCampaignService wires dependencies for the campaign service.
func NewCampaignService(annotators persistence.AnnotatorRepository, tx persistence.Transactor, retry *RetryHelper, idGenerator ids.Generator, now func() time.Time, audit AuditSink) *CampaignService {
	return NewCampaignServiceWithLogger(annotators, tx, retry, idGenerator, now, audit, nil)
}

// NewCampaignServiceWithLogger wires dependencies for the campaign service with a specific logger.
func NewCampaignServiceWithLogger(annotators persistence.AnnotatorRepository, tx persistence.Transactor, retry *RetryHelper, idGenerator ids.Generator, now func() time.Time, audit AuditSink, logger *slog.Logger) *CampaignService {
	if retry == nil {
		retry = NewRetryHelper(DefaultRetryConfig())
	}
	if idGenerator == nil {
		idGenerator = ids.New
	}
	if now == nil {
		now = time.Now
	}
	return &CampaignService{
		annotators:    annotators,
		tx:            tx,
		retry:         retry,
		idGenerator:   idGenerator,
		now:           now,
		audit:         defaultAudit(audit),
		importWorkers: defaultImportWorkers,
		logger:        defaultLogger(logger),
	}
}

func (s *CampaignService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "CampaignService", operation, attrs...)
}

// AssignCampaign archives the annotator's current campaign and installs a new
// one holding segmentIDs, de-duplicated in first-seen order.
func (s *CampaignService) AssignCampaign(ctx context.Context, params AssignCampaignParams) (campaign Campaign, err error) {
	if s == nil {
		return Campaign{}, fmt.Errorf("CampaignService is nil")
	}

	username := strings.TrimSpace(params.Username)
	name := strings.TrimSpace(params.Name)
	logger := s.loggerWith(ctx, "AssignCampaign", "principal", params.Principal.Username, "username", username, "campaign", name)
	defer func() {
		emitAudit(ctx, s.audit, s.now, params.Principal.Username, "campaign.assign", map[string]any{
			"username": username,
			"campaign": name,
			"segments": len(params.SegmentIDs),
		}, err)
		if err != nil {
			logger.ErrorContext(ctx, "campaign assignment failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("segments", len(campaign.Segments)).InfoContext(ctx, "campaign assigned")
	}()

	if !params.Principal.IsAdmin {
		err = ErrUnauthorized
		return
	}

	var segmentIDs []ids.ID
	segmentIDs, err = validateCampaign(username, name, params.SegmentIDs)
	if err != nil {
		return
	}

	var record persistence.Campaign
	record, err = s.replace(ctx, username, name, segmentIDs)
	if err != nil {
		err = translate(err)
		return
	}
	return campaignFromRecord(record), nil
}

// AppendToCurrentCampaign adds one segment to the annotator's current
// campaign. It reports false when the segment was already present and fails
// with ErrNotFound when the annotator has no current campaign.
func (s *CampaignService) AppendToCurrentCampaign(ctx context.Context, params AppendSegmentParams) (added bool, err error) {
	if s == nil {
		return false, fmt.Errorf("CampaignService is nil")
	}

	username := strings.TrimSpace(params.Username)
	logger := s.loggerWith(ctx, "AppendToCurrentCampaign", "principal", params.Principal.Username, "username", username, "segment_id", params.SegmentID)
	defer func() {
		emitAudit(ctx, s.audit, s.now, params.Principal.Username, "campaign.append", map[string]any{
			"username":   username,
			"segment_id": params.SegmentID,
		}, err)
		if err != nil {
			logger.ErrorContext(ctx, "campaign append failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("added", added).InfoContext(ctx, "campaign append applied")
	}()

	if !params.Principal.IsAdmin {
		err = ErrUnauthorized
		return
	}
	vErr := &ValidationError{}
	if username == "" {
		vErr.add("username", "is required")
	}
	segmentID, parseErr := ids.Parse(params.SegmentID)
	if parseErr != nil {
		vErr.add("segment_id", "must be a segment identifier")
	}
	if vErr.HasErrors() {
		err = vErr
		return
	}

	err = s.retry.WithRetry(ctx, func(ctx context.Context) error {
		var appendErr error
		added, appendErr = s.annotators.AppendToCurrentCampaign(ctx, username, segmentID)
		return appendErr
	})
	err = translate(err)
	return
}

// ImportCampaigns applies a bulk assignment. Each batch replaces one
// annotator's campaign atomically; batches for the same annotator apply in
// input order and a failing batch does not stop the others.
func (s *CampaignService) ImportCampaigns(ctx context.Context, params ImportCampaignsParams) (result CampaignImportResult, err error) {
	if s == nil {
		return CampaignImportResult{}, fmt.Errorf("CampaignService is nil")
	}

	logger := s.loggerWith(ctx, "ImportCampaigns", "principal", params.Principal.Username, "batches", len(params.Batches))
	defer func() {
		failed := len(result.Failed())
		emitAudit(ctx, s.audit, s.now, params.Principal.Username, "campaign.import", map[string]any{
			"batches": len(params.Batches),
			"failed":  failed,
		}, err)
		if err != nil {
			logger.ErrorContext(ctx, "campaign import failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("applied", len(result.Outcomes)-failed, "failed", failed).InfoContext(ctx, "campaign import finished")
	}()

	if !params.Principal.IsAdmin {
		err = ErrUnauthorized
		return
	}
	if len(params.Batches) == 0 {
		err = invalidArgument("batches", "at least one campaign is required")
		return
	}

	outcomes := make([]CampaignImportOutcome, len(params.Batches))
	order := make([]string, 0)
	byUser := make(map[string][]int)
	for i, batch := range params.Batches {
		username := strings.TrimSpace(batch.Username)
		outcomes[i] = CampaignImportOutcome{Username: username, Name: strings.TrimSpace(batch.Name), Segments: len(batch.Segments)}
		if _, seen := byUser[username]; !seen {
			order = append(order, username)
		}
		byUser[username] = append(byUser[username], i)
	}

	var group errgroup.Group
	group.SetLimit(s.importWorkers)
	for _, username := range order {
		indexes := byUser[username]
		group.Go(func() error {
			for _, i := range indexes {
				outcomes[i].Err = s.importBatch(ctx, params.Batches[i])
				if outcomes[i].Err != nil {
					logger.WarnContext(ctx, "campaign batch rejected",
						"username", outcomes[i].Username,
						"campaign", outcomes[i].Name,
						"error", outcomes[i].Err,
						"error_kind", ErrorKind(outcomes[i].Err))
				}
			}
			return nil
		})
	}
	_ = group.Wait()

	return CampaignImportResult{Outcomes: outcomes}, nil
}

func (s *CampaignService) importBatch(ctx context.Context, batch CampaignBatch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	username := strings.TrimSpace(batch.Username)
	name := strings.TrimSpace(batch.Name)
	segmentIDs, err := validateCampaign(username, name, batch.Segments)
	if err != nil {
		return err
	}
	_, err = s.replace(ctx, username, name, segmentIDs)
	return translate(err)
}

// replace runs the read-compare-swap unit, restarting it when another writer
// changed the annotator first.
func (s *CampaignService) replace(ctx context.Context, username, name string, segmentIDs []ids.ID) (persistence.Campaign, error) {
	campaignID, err := s.idGenerator()
	if err != nil {
		return persistence.Campaign{}, err
	}
	next := persistence.Campaign{
		ID:        campaignID,
		Name:      name,
		Segments:  segmentIDs,
		CreatedAt: s.now().UTC(),
	}

	swap := func(ctx context.Context, annotators persistence.AnnotatorRepository) error {
		current, err := annotators.GetAnnotatorByUsername(ctx, username)
		if err != nil {
			return err
		}
		return annotators.SwapCurrentCampaign(ctx, username, current.Version, next)
	}

	err = s.retry.WithRetry(ctx, func(ctx context.Context) error {
		if s.tx == nil {
			return swap(ctx, s.annotators)
		}
		return s.tx.WithinTransaction(ctx, func(ctx context.Context, stores persistence.Stores) error {
			return swap(ctx, stores.Annotators)
		})
	})
	if err != nil {
		return persistence.Campaign{}, err
	}
	return next, nil
}

func validateCampaign(username, name string, rawSegments []string) ([]ids.ID, error) {
	vErr := &ValidationError{}
	if username == "" {
		vErr.add("username", "is required")
	}
	if name == "" {
		vErr.add("name", "is required")
	}
	segmentIDs := make([]ids.ID, 0, len(rawSegments))
	for _, raw := range rawSegments {
		id, err := ids.Parse(raw)
		if err != nil {
			vErr.add("segment_ids", fmt.Sprintf("%q is not a segment identifier", raw))
			break
		}
		segmentIDs = append(segmentIDs, id)
	}
	if vErr.HasErrors() {
		return nil, vErr
	}
	return ids.Unique(segmentIDs), nil
}
