package leads

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wolfman30/buyer-lead-intake/internal/identity"
	"github.com/wolfman30/buyer-lead-intake/pkg/logging"
)

const defaultImportMaxBytes = 1 << 20

// Handler handles HTTP requests for buyers
type Handler struct {
	service        *Service
	importer       *Importer
	logger         *logging.Logger
	importMaxBytes int64
	now            func() time.Time
}

// HandlerOption customizes a Handler.
type HandlerOption func(*Handler)

// WithImportMaxBytes caps the multipart body accepted by Import.
func WithImportMaxBytes(n int64) HandlerOption {
	return func(h *Handler) {
		if n > 0 {
			h.importMaxBytes = n
		}
	}
}

// NewHandler creates a new buyers handler
func NewHandler(service *Service, importer *Importer, logger *logging.Logger, opts ...HandlerOption) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	h := &Handler{
		service:        service,
		importer:       importer,
		logger:         logger,
		importMaxBytes: defaultImportMaxBytes,
		now:            time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// RouteGuards are the middlewares placed in front of buyer routes. Auth
// runs first so the mutation guards can see the principal.
type RouteGuards struct {
	Auth   func(http.Handler) http.Handler
	Create func(http.Handler) http.Handler
	Update func(http.Handler) http.Handler
}

// Routes mounts the buyer endpoints. Only the filter enumerations are public.
func (h *Handler) Routes(g RouteGuards) chi.Router {
	r := chi.NewRouter()
	r.Get("/filters", h.Filters)
	r.Group(func(r chi.Router) {
		r.Use(orPassthrough(g.Auth))
		r.Get("/", h.List)
		r.With(orPassthrough(g.Create)).Post("/", h.Create)
		r.Post("/import", h.Import)
		r.Get("/export", h.Export)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.With(orPassthrough(g.Update)).Put("/", h.Update)
			r.Delete("/", h.Delete)
			r.Get("/history", h.History)
		})
	})
	return r
}

func orPassthrough(mw func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	if mw == nil {
		return passthrough
	}
	return mw
}

func passthrough(next http.Handler) http.Handler { return next }

// ListBuyersResponse is the response for listing buyers
type ListBuyersResponse struct {
	Data       []*Buyer   `json:"data"`
	Pagination Pagination `json:"pagination"`
}

// List handles GET /api/buyers
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	filter := ParseListFilter(r.URL.Query(), true)
	buyers, page, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.internalError(w, r, "failed to list buyers", err)
		return
	}
	writeJSON(w, http.StatusOK, ListBuyersResponse{Data: buyers, Pagination: page})
}

// Create handles POST /api/buyers
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.principal(w, r)
	if !ok {
		return
	}
	var in BuyerInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	buyer, err := h.service.Create(r.Context(), in, actor)
	if err != nil {
		h.handleError(w, r, "failed to create buyer", err)
		return
	}
	writeJSON(w, http.StatusCreated, buyer)
}

// Get handles GET /api/buyers/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := buyerID(w, r)
	if !ok {
		return
	}
	buyer, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.handleError(w, r, "failed to fetch buyer", err)
		return
	}
	writeJSON(w, http.StatusOK, buyer)
}

// Update handles PUT /api/buyers/{id}
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, ok := buyerID(w, r)
	if !ok {
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req, err := ParseUpdateRequest(body)
	if err != nil {
		h.handleError(w, r, "failed to parse update", err)
		return
	}
	buyer, err := h.service.Update(r.Context(), id, req, actor)
	if err != nil {
		h.handleError(w, r, "failed to update buyer", err)
		return
	}
	writeJSON(w, http.StatusOK, buyer)
}

// Delete handles DELETE /api/buyers/{id}
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, ok := buyerID(w, r)
	if !ok {
		return
	}
	deleted, err := h.service.Delete(r.Context(), id, actor)
	if err != nil {
		h.handleError(w, r, "failed to delete buyer", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":      "Buyer deleted successfully",
		"deletedBuyer": deleted,
	})
}

// History handles GET /api/buyers/{id}/history
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	id, ok := buyerID(w, r)
	if !ok {
		return
	}
	entries, err := h.service.History(r.Context(), id)
	if err != nil {
		h.handleError(w, r, "failed to load history", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": entries})
}

// Import handles POST /api/buyers/import (multipart, field "file").
func (h *Handler) Import(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.principal(w, r)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.importMaxBytes)
	if err := r.ParseMultipartForm(h.importMaxBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "File too large")
			return
		}
		writeError(w, http.StatusBadRequest, "No file provided")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No file provided")
		return
	}
	defer file.Close()
	if !strings.HasSuffix(header.Filename, ".csv") {
		writeError(w, http.StatusBadRequest, "Only CSV files are allowed")
		return
	}

	report, err := h.importer.Import(r.Context(), file, actor)
	if err != nil {
		var perr *CSVParseError
		switch {
		case errors.As(err, &perr):
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "CSV parsing failed", "details": perr.Details})
		case errors.Is(err, ErrTooManyRows):
			writeError(w, http.StatusBadRequest, "Maximum 200 rows allowed")
		case errors.Is(err, ErrImportBusy):
			writeError(w, http.StatusServiceUnavailable, "Too many imports in progress, please try again")
		default:
			h.internalError(w, r, "import failed", err)
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": report.Message(),
		"results": report,
	})
}

// Export handles GET /api/buyers/export
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	filter := ParseListFilter(r.URL.Query(), false)
	buyers, err := h.service.Export(r.Context(), filter)
	if err != nil {
		h.internalError(w, r, "failed to export buyers", err)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="`+ExportFilename(h.now())+`"`)
	if err := WriteCSV(w, buyers); err != nil {
		h.logger.FromContext(r.Context()).Error("failed to write export", "error", err)
	}
}

// Filters handles GET /api/buyers/filters
func (h *Handler) Filters(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Filters())
}

func (h *Handler) principal(w http.ResponseWriter, r *http.Request) (identity.Principal, bool) {
	p, ok := identity.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
	}
	return p, ok
}

func buyerID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusNotFound, "Buyer not found")
		return "", false
	}
	return id, true
}

// handleError maps domain errors to responses and logs the rest.
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Validation failed", "details": verr.Details})
	case errors.Is(err, ErrBuyerNotFound):
		writeError(w, http.StatusNotFound, "Buyer not found")
	case errors.Is(err, ErrForbidden):
		if r.Method == http.MethodDelete {
			writeError(w, http.StatusForbidden, "You can only delete your own leads")
			return
		}
		writeError(w, http.StatusForbidden, "You can only edit your own leads")
	case errors.Is(err, ErrStaleData):
		writeJSON(w, http.StatusConflict, map[string]string{
			"error": "Record changed, please refresh the page and try again",
			"code":  "STALE_DATA",
		})
	default:
		h.internalError(w, r, msg, err)
	}
}

func (h *Handler) internalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	h.logger.FromContext(r.Context()).Error(msg, "error", err, "path", r.URL.Path)
	writeError(w, http.StatusInternalServerError, "Internal server error")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
