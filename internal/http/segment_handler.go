package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/conduit-ecg/annotator/internal/application"
)

type segmentService interface {
	Paginate(ctx context.Context, req application.PageRequest) ([]application.Segment, error)
	ListByIDs(ctx context.Context, segmentIDs []string) ([]application.Segment, error)
	Detail(ctx context.Context, id, annotator string) (application.SegmentDetail, error)
	Count(ctx context.Context, since string) (application.SegmentCount, error)
}

type annotationService interface {
	SubmitAnnotation(ctx context.Context, params application.SubmitAnnotationParams) (application.Annotation, error)
}

// SegmentHandler serves segment browsing and annotation submission.
type SegmentHandler struct {
	segments    segmentService
	annotations annotationService
	responder   responder
	logger      *slog.Logger
}

func NewSegmentHandler(segments segmentService, annotations annotationService, logger *slog.Logger) *SegmentHandler {
	base := defaultLogger(logger)
	return &SegmentHandler{segments: segments, annotations: annotations, responder: newResponder(base), logger: base}
}

func (h *SegmentHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	if h == nil {
		return slog.Default()
	}
	return handlerLogger(ctx, h.logger, "SegmentHandler", operation, attrs...)
}

// List pages through segments, or looks up the identifiers given as
// repeated find parameters.
func (h *SegmentHandler) List(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.segments == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	query := r.URL.Query()
	if find, ok := query["find"]; ok {
		logger := h.log(r.Context(), "Find", "requested", len(find))
		segments, err := h.segments.ListByIDs(r.Context(), find)
		if err != nil {
			logger.WarnContext(r.Context(), "segment lookup failed", "error", err, "error_kind", application.ErrorKind(err))
			h.responder.handleServiceError(r.Context(), w, err)
			return
		}
		logger.With("result_count", len(segments)).DebugContext(r.Context(), "segments found")
		h.responder.writeJSON(r.Context(), w, http.StatusOK, toSegmentDTOs(segments))
		return
	}

	req := application.PageRequest{
		Before: strings.TrimSpace(query.Get("before")),
		After:  strings.TrimSpace(query.Get("after")),
	}
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidLimit)
			return
		}
		req.Limit = &limit
	}

	logger := h.log(r.Context(), "List", "before", req.Before, "after", req.After)
	segments, err := h.segments.Paginate(r.Context(), req)
	if err != nil {
		logger.WarnContext(r.Context(), "segment page failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.With("result_count", len(segments)).DebugContext(r.Context(), "segments listed")
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toSegmentDTOs(segments))
}

// Count responds with [count after start, total].
func (h *SegmentHandler) Count(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.segments == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	start := strings.TrimSpace(r.URL.Query().Get("start"))
	count, err := h.segments.Count(r.Context(), start)
	if err != nil {
		h.log(r.Context(), "Count", "start", start).WarnContext(r.Context(), "segment count failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, []int{count.Since, count.Total})
}

// Get returns the signals of a segment and the requested annotator's
// annotation. The annotator defaults to the caller.
func (h *SegmentHandler) Get(w http.ResponseWriter, r *http.Request, segmentID string) {
	if h == nil || h.segments == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	annotator := strings.TrimSpace(r.URL.Query().Get("annotator"))
	if annotator == "" {
		principal, _ := PrincipalFromContext(r.Context())
		annotator = principal.Username
	}

	detail, err := h.segments.Detail(r.Context(), segmentID, annotator)
	if err != nil {
		h.log(r.Context(), "Get", "segment_id", segmentID).WarnContext(r.Context(), "segment lookup failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	resp := segmentDetailResponse{Signals: detail.Signals}
	if detail.Annotation != nil {
		annotation := toAnnotationDTO(*detail.Annotation)
		resp.Annotation = &annotation
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, resp)
}

// Annotate records the annotator's verdict on a segment.
func (h *SegmentHandler) Annotate(w http.ResponseWriter, r *http.Request, segmentID, annotator string) {
	if h == nil || h.annotations == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())

	var req annotationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.log(r.Context(), "Annotate", "principal", principal.Username, "error_kind", "bad_request").WarnContext(r.Context(), "failed to decode annotation", "error", err)
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	annotation, err := h.annotations.SubmitAnnotation(r.Context(), application.SubmitAnnotationParams{
		Principal: principal,
		SegmentID: segmentID,
		Annotator: annotator,
		Input:     req.toInput(),
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusOK, toAnnotationDTO(annotation))
}

type annotationRequest struct {
	Label      string   `json:"label"`
	Confidence *float64 `json:"confidence"`
	Comments   *string  `json:"comments"`
}

func (r annotationRequest) toInput() application.AnnotationInput {
	return application.AnnotationInput{
		Label:      strings.TrimSpace(r.Label),
		Confidence: r.Confidence,
		Comments:   r.Comments,
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, target any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}

const maxJSONBody = 1 << 20
