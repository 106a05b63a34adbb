package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/conduit-ecg/annotator/internal/application"
	"github.com/conduit-ecg/annotator/internal/importer"
)

type adminAnnotatorService interface {
	Create(ctx context.Context, params application.CreateAnnotatorParams) (application.Annotator, error)
	ResetCredential(ctx context.Context, params application.ResetCredentialParams) error
}

type campaignService interface {
	AssignCampaign(ctx context.Context, params application.AssignCampaignParams) (application.Campaign, error)
	AppendToCurrentCampaign(ctx context.Context, params application.AppendSegmentParams) (bool, error)
	ImportCampaigns(ctx context.Context, params application.ImportCampaignsParams) (application.CampaignImportResult, error)
}

const (
	campaignFormField = "csv_file"
	maxCampaignUpload = 32 << 20
)

// AdminHandler serves the administrative annotator and campaign endpoints.
// Authorization is enforced by the services.
type AdminHandler struct {
	annotators adminAnnotatorService
	campaigns  campaignService
	responder  responder
	logger     *slog.Logger
}

func NewAdminHandler(annotators adminAnnotatorService, campaigns campaignService, logger *slog.Logger) *AdminHandler {
	base := defaultLogger(logger)
	return &AdminHandler{annotators: annotators, campaigns: campaigns, responder: newResponder(base), logger: base}
}

func (h *AdminHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	if h == nil {
		return slog.Default()
	}
	return handlerLogger(ctx, h.logger, "AdminHandler", operation, attrs...)
}

func (h *AdminHandler) CreateAnnotator(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.annotators == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())

	var req createAnnotatorRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.log(r.Context(), "CreateAnnotator", "principal", principal.Username, "error_kind", "bad_request").WarnContext(r.Context(), "failed to decode annotator request", "error", err)
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	annotator, err := h.annotators.Create(r.Context(), application.CreateAnnotatorParams{
		Principal:   principal,
		Name:        strings.TrimSpace(req.Name),
		Username:    strings.TrimSpace(req.Username),
		Designation: strings.TrimSpace(req.Designation),
		Password:    req.Password,
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusCreated, toAnnotatorDTO(annotator))
}

func (h *AdminHandler) ResetPassword(w http.ResponseWriter, r *http.Request, username string) {
	if h == nil || h.annotators == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())

	var req resetPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.log(r.Context(), "ResetPassword", "principal", principal.Username, "error_kind", "bad_request").WarnContext(r.Context(), "failed to decode password reset", "error", err)
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	err := h.annotators.ResetCredential(r.Context(), application.ResetCredentialParams{
		Principal: principal,
		Username:  username,
		Password:  req.Password,
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
}

// AssignCampaign replaces the annotator's current campaign.
func (h *AdminHandler) AssignCampaign(w http.ResponseWriter, r *http.Request, username string) {
	if h == nil || h.campaigns == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())

	var req assignCampaignRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.log(r.Context(), "AssignCampaign", "principal", principal.Username, "error_kind", "bad_request").WarnContext(r.Context(), "failed to decode campaign", "error", err)
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	campaign, err := h.campaigns.AssignCampaign(r.Context(), application.AssignCampaignParams{
		Principal:  principal,
		Username:   username,
		Name:       strings.TrimSpace(req.Name),
		SegmentIDs: req.Segments,
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toCampaignDTO(campaign))
}

// AppendSegment adds one segment to the annotator's current campaign.
func (h *AdminHandler) AppendSegment(w http.ResponseWriter, r *http.Request, username string) {
	if h == nil || h.campaigns == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())

	var req appendSegmentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.log(r.Context(), "AppendSegment", "principal", principal.Username, "error_kind", "bad_request").WarnContext(r.Context(), "failed to decode segment", "error", err)
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}
	if strings.TrimSpace(req.SegmentID) == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errMissingSegment)
		return
	}

	added, err := h.campaigns.AppendToCurrentCampaign(r.Context(), application.AppendSegmentParams{
		Principal: principal,
		Username:  username,
		SegmentID: strings.TrimSpace(req.SegmentID),
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, appendSegmentResponse{Added: added})
}

// ImportCampaigns accepts a campaign CSV either as a multipart upload in the
// csv_file field or as the raw request body.
func (h *AdminHandler) ImportCampaigns(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.campaigns == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	logger := h.log(r.Context(), "ImportCampaigns", "principal", principal.Username)

	body, closeBody, err := campaignUpload(w, r)
	if err != nil {
		logger.WarnContext(r.Context(), "campaign upload unreadable", "error", err)
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}
	defer closeBody()

	batches, err := importer.ReadCampaigns(body)
	if err != nil {
		status := http.StatusBadRequest
		var rowErr *importer.RowError
		if !errors.Is(err, importer.ErrMissingColumn) && !errors.As(err, &rowErr) {
			status = http.StatusInternalServerError
		}
		logger.WarnContext(r.Context(), "campaign file rejected", "error", err)
		h.responder.writeError(r.Context(), w, status, err)
		return
	}

	result, err := h.campaigns.ImportCampaigns(r.Context(), application.ImportCampaignsParams{
		Principal: principal,
		Batches:   batches,
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	resp := importResponse{Outcomes: make([]importOutcomeDTO, 0, len(result.Outcomes))}
	for _, outcome := range result.Outcomes {
		dto := importOutcomeDTO{Username: outcome.Username, Name: outcome.Name, Segments: outcome.Segments}
		if outcome.Err != nil {
			dto.ErrorCode = application.ErrorKind(outcome.Err)
			dto.Error = application.Message(outcome.Err)
		}
		resp.Outcomes = append(resp.Outcomes, dto)
	}
	resp.Failed = len(result.Failed())
	logger.With("batches", len(batches), "failed", resp.Failed).InfoContext(r.Context(), "campaigns imported")
	h.responder.writeJSON(r.Context(), w, http.StatusOK, resp)
}

func campaignUpload(w http.ResponseWriter, r *http.Request) (io.Reader, func(), error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxCampaignUpload)
	if !strings.HasPrefix(strings.ToLower(r.Header.Get("Content-Type")), "multipart/form-data") {
		return r.Body, func() {}, nil
	}
	file, _, err := r.FormFile(campaignFormField)
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", campaignFormField, err)
	}
	return file, func() { _ = file.Close() }, nil
}

type createAnnotatorRequest struct {
	Name        string `json:"name"`
	Username    string `json:"username"`
	Designation string `json:"designation"`
	Password    string `json:"password"`
}

type resetPasswordRequest struct {
	Password string `json:"password"`
}

type assignCampaignRequest struct {
	Name     string   `json:"name"`
	Segments []string `json:"segments"`
}

type appendSegmentRequest struct {
	SegmentID string `json:"segment_id"`
}

type appendSegmentResponse struct {
	Added bool `json:"added"`
}

type importOutcomeDTO struct {
	Username  string `json:"username"`
	Name      string `json:"name"`
	Segments  int    `json:"segments"`
	ErrorCode string `json:"error_code,omitempty"`
	Error     string `json:"error,omitempty"`
}

type importResponse struct {
	Outcomes []importOutcomeDTO `json:"outcomes"`
	Failed   int                `json:"failed"`
}
