package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/conduit-ecg/annotator/internal/application"
)

type annotatorService interface {
	List(ctx context.Context, includeCredential bool) ([]application.Annotator, error)
	Get(ctx context.Context, username string) (application.Annotator, error)
}

// AnnotatorHandler serves annotator read endpoints and the label vocabulary.
type AnnotatorHandler struct {
	service    annotatorService
	vocabulary *application.Vocabulary
	responder  responder
	logger     *slog.Logger
}

func NewAnnotatorHandler(service annotatorService, vocabulary *application.Vocabulary, logger *slog.Logger) *AnnotatorHandler {
	base := defaultLogger(logger)
	if vocabulary == nil {
		vocabulary = application.DefaultVocabulary()
	}
	return &AnnotatorHandler{service: service, vocabulary: vocabulary, responder: newResponder(base), logger: base}
}

func (h *AnnotatorHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	if h == nil {
		return slog.Default()
	}
	return handlerLogger(ctx, h.logger, "AnnotatorHandler", operation, attrs...)
}

func (h *AnnotatorHandler) List(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	annotators, err := h.service.List(r.Context(), false)
	if err != nil {
		h.log(r.Context(), "List").ErrorContext(r.Context(), "annotator list failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toAnnotatorDTOs(annotators))
}

// Me returns the authenticated annotator.
func (h *AnnotatorHandler) Me(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	annotator, err := h.service.Get(r.Context(), principal.Username)
	if err != nil {
		h.log(r.Context(), "Me", "principal", principal.Username).WarnContext(r.Context(), "annotator lookup failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toAnnotatorDTO(annotator))
}

// Classes lists the labels accepted on submission.
func (h *AnnotatorHandler) Classes(w http.ResponseWriter, r *http.Request) {
	if h == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, h.vocabulary.Classes())
}
