package application

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/conduit-ecg/annotator/internal/ids"
	"github.com/conduit-ecg/annotator/internal/persistence"
)

// AnnotationService records annotations. Each submission writes the
// annotation onto the segment and moves the annotator's last-annotated
// pointer in a single transaction.
type AnnotationService struct {
	tx         persistence.Transactor
	vocabulary *Vocabulary
	retry      *RetryHelper
	now        func() time.Time
	audit      AuditSink
	logger     *slog.Logger
}

// NewAnnotationService wires dependencies for the annotation service.
func NewAnnotationService(tx persistence.Transactor, vocabulary *Vocabulary, retry *RetryHelper, now func() time.Time, audit AuditSink) *AnnotationService {
	return NewAnnotationServiceWithLogger(tx, vocabulary, retry, now, audit, nil)
}

// NewAnnotationServiceWithLogger wires dependencies for the annotation service with a specific logger.
func NewAnnotationServiceWithLogger(tx persistence.Transactor, vocabulary *Vocabulary, retry *RetryHelper, now func() time.Time, audit AuditSink, logger *slog.Logger) *AnnotationService {
	if vocabulary == nil {
		vocabulary = DefaultVocabulary()
	}
	if retry == nil {
		retry = NewRetryHelper(DefaultRetryConfig())
	}
	if now == nil {
		now = time.Now
	}
	return &AnnotationService{
		tx:         tx,
		vocabulary: vocabulary,
		retry:      retry,
		now:        now,
		audit:      defaultAudit(audit),
		logger:     defaultLogger(logger),
	}
}

func (s *AnnotationService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "AnnotationService", operation, attrs...)
}

// Vocabulary returns the labels accepted by SubmitAnnotation.
func (s *AnnotationService) Vocabulary() *Vocabulary {
	if s == nil {
		return nil
	}
	return s.vocabulary
}

// SubmitAnnotation stores the annotation of params.Annotator on a segment.
// Annotators may only write their own entry unless the principal is an
// administrator. A repeated submission overwrites the previous one. The
// campaign pointer is only moved when the segment belongs to the annotator's
// current campaign.
func (s *AnnotationService) SubmitAnnotation(ctx context.Context, params SubmitAnnotationParams) (annotation Annotation, err error) {
	if s == nil {
		return Annotation{}, fmt.Errorf("AnnotationService is nil")
	}

	annotator := strings.TrimSpace(params.Annotator)
	logger := s.loggerWith(ctx, "SubmitAnnotation",
		"principal", params.Principal.Username,
		"annotator", annotator,
		"segment_id", params.SegmentID,
	)
	pointerMoved := false
	defer func() {
		emitAudit(ctx, s.audit, s.now, params.Principal.Username, "annotation.submit", map[string]any{
			"segment_id": params.SegmentID,
			"annotator":  annotator,
			"label":      params.Input.Label,
		}, err)
		if err != nil {
			logger.ErrorContext(ctx, "annotation submission failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("label", annotation.Label, "pointer_moved", pointerMoved).InfoContext(ctx, "annotation recorded")
	}()

	if s.tx == nil {
		err = fmt.Errorf("transactor not configured")
		return
	}

	var segmentID ids.ID
	segmentID, annotation, err = s.validate(annotator, params)
	if err != nil {
		return
	}
	if !params.Principal.IsAdmin && params.Principal.Username != annotator {
		err = ErrUnauthorized
		return
	}

	record := persistence.Annotation{
		Label:      annotation.Label,
		Confidence: annotation.Confidence,
		Comments:   annotation.Comments,
		UpdatedAt:  annotation.UpdatedAt,
	}
	err = s.retry.WithRetry(ctx, func(ctx context.Context) error {
		return s.tx.WithinTransaction(ctx, func(ctx context.Context, stores persistence.Stores) error {
			if err := stores.Segments.SetAnnotation(ctx, segmentID, annotator, record); err != nil {
				return err
			}
			moved, err := stores.Annotators.RecordLastAnnotated(ctx, annotator, segmentID)
			if err != nil {
				return err
			}
			pointerMoved = moved
			return nil
		})
	})
	if err != nil {
		err = translate(err)
		return Annotation{}, err
	}
	return annotation, nil
}

func (s *AnnotationService) validate(annotator string, params SubmitAnnotationParams) (ids.ID, Annotation, error) {
	vErr := &ValidationError{}
	if annotator == "" {
		vErr.add("annotator", "is required")
	}
	segmentID, err := ids.Parse(params.SegmentID)
	if err != nil {
		vErr.add("segment_id", "must be a segment identifier")
	}

	label := strings.TrimSpace(params.Input.Label)
	if label == "" {
		vErr.add("label", "is required")
	} else if !s.vocabulary.Contains(label) {
		vErr.add("label", fmt.Sprintf("%q is not a known rhythm class", label))
	}

	confidence := 1.0
	if params.Input.Confidence != nil {
		confidence = *params.Input.Confidence
		if math.IsNaN(confidence) || confidence < 0 || confidence > 1 {
			vErr.add("confidence", "must be between 0 and 1")
		}
	}
	if vErr.HasErrors() {
		return ids.Nil, Annotation{}, vErr
	}

	var comments *string
	if params.Input.Comments != nil {
		trimmed := strings.TrimSpace(*params.Input.Comments)
		if trimmed != "" {
			comments = &trimmed
		}
	}
	return segmentID, Annotation{
		Label:      label,
		Confidence: confidence,
		Comments:   comments,
		UpdatedAt:  s.now().UTC(),
	}, nil
}
