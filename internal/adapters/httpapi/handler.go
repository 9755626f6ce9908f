package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/atvirokodosprendimai/keygate/internal/cache"
	"github.com/atvirokodosprendimai/keygate/internal/core/domain"
	"github.com/atvirokodosprendimai/keygate/internal/metrics"
)

const (
	timeFormat      = "2006-01-02T15:04:05.999999999Z07:00"
	maxJSONBodySize = 1 << 20
)

type Admitter interface {
	CheckAndConsume(ctx context.Context, secret string) domain.Admission
}

type TierResolver interface {
	ResolveTiers(ctx context.Context) []domain.Tier
	ResolveTierByID(ctx context.Context, id string) (domain.Tier, bool)
	PurchasableTiers(ctx context.Context) []domain.Tier
	Invalidate()
}

type KeyManager interface {
	Issue(ctx context.Context, ownerID string, in domain.NewKey) (domain.APIKey, error)
	List(ctx context.Context, ownerID string) ([]domain.APIKey, error)
	Get(ctx context.Context, ownerID, id string) (domain.APIKey, error)
	Update(ctx context.Context, ownerID, id string, patch domain.KeyPatch) (domain.APIKey, error)
	Revoke(ctx context.Context, ownerID, id string) error
}

type EventLister interface {
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]domain.OutboxEvent, error)
}

type Options struct {
	// AdminToken guards the owner and catalog routes. Empty disables them.
	AdminToken string
	// ResponseTTL is how long cached listings are served.
	ResponseTTL time.Duration
	// HealthCheck, when set, makes /healthz report 503 on error.
	HealthCheck func(ctx context.Context) error
	Logger      *zap.Logger
	Metrics     *metrics.Metrics
}

type Handler struct {
	meter     Admitter
	tiers     TierResolver
	keys      KeyManager
	events    EventLister
	responses *cache.ResponseCache
	opts      Options
	log       *zap.Logger
	now       func() time.Time
}

func NewHandler(meter Admitter, tiers TierResolver, keys KeyManager, events EventLister, responses *cache.ResponseCache, opts Options) *Handler {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.ResponseTTL <= 0 {
		opts.ResponseTTL = time.Minute
	}
	if responses == nil {
		responses = cache.NewResponseCache(nil, nil, opts.Logger, opts.Metrics)
	}
	return &Handler{
		meter:     meter,
		tiers:     tiers,
		keys:      keys,
		events:    events,
		responses: responses,
		opts:      opts,
		log:       opts.Logger,
		now:       time.Now,
	}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.logRequests)

	r.Get("/healthz", h.healthz)
	r.Get("/openapi.json", h.openapi)
	r.Method(http.MethodGet, "/metrics", h.opts.Metrics.Handler())

	r.Post("/v1/admission", h.admission)
	r.Get("/v1/tiers", h.listTiers)
	r.Get("/v1/tiers/{id}", h.getTier)
	r.Get("/v1/products", h.listProducts)

	r.Group(func(ar chi.Router) {
		ar.Use(h.requireAdminToken)
		ar.Post("/v1/admin/catalog:refresh", h.refreshCatalog)

		ar.Get("/v1/owners/{ownerID}/keys", h.listKeys)
		ar.Post("/v1/owners/{ownerID}/keys", h.issueKey)
		ar.Get("/v1/owners/{ownerID}/keys/{id}", h.getKey)
		ar.Patch("/v1/owners/{ownerID}/keys/{id}", h.updateKey)
		ar.Delete("/v1/owners/{ownerID}/keys/{id}", h.revokeKey)
		ar.Get("/v1/owners/{ownerID}/events", h.listEvents)
	})

	return r
}

func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	if h.opts.HealthCheck != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.opts.HealthCheck(ctx); err != nil {
			h.log.Warn("health check failed", zap.Error(err))
			h.writeJSON(w, http.StatusServiceUnavailable, map[string]bool{"ok": false})
			return
		}
	}
	h.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) openapi(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, openapiSpec())
}

func (h *Handler) requireAdminToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.opts.AdminToken == "" {
			h.writeError(w, http.StatusForbidden, "admin api disabled")
			return
		}
		token := bearerToken(r)
		if subtle.ConstantTimeCompare([]byte(token), []byte(h.opts.AdminToken)) != 1 {
			h.writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.log.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func bearerToken(r *http.Request) string {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

func (h *Handler) parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 500 {
			h.writeError(w, http.StatusBadRequest, "limit must be an integer between 1 and 500")
			return 0, false
		}
		limit = parsed
	}
	return limit, true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	data, err := json.Marshal(body)
	if err != nil {
		h.log.Error("encode json response", zap.Error(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	h.writeRaw(w, status, data)
}

func (h *Handler) writeRaw(w http.ResponseWriter, status int, data []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(append(data, '\n')); err != nil {
		h.log.Debug("write response", zap.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]any{"error": message})
}

func (h *Handler) handleDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrForbidden):
		h.writeError(w, http.StatusForbidden, err.Error())
	default:
		h.log.Error("request failed", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func ensureEOF(decoder *json.Decoder) error {
	var extra json.RawMessage
	if err := decoder.Decode(&extra); err != nil {
		if err == io.EOF {
			return nil
		}
		return err
	}
	return errors.New("extra json tokens")
}

func openapiSpec() map[string]any {
	return map[string]any{
		"openapi": "3.0.3",
		"info": map[string]any{
			"title":   "keygate",
			"version": "1.0.0",
		},
		"paths": map[string]any{
			"/v1/admission": map[string]any{
				"post": map[string]any{"summary": "Validate a key and debit one unit of monthly quota"},
			},
			"/v1/tiers": map[string]any{
				"get": map[string]any{"summary": "List tiers with live billing data"},
			},
			"/v1/tiers/{id}": map[string]any{
				"get": map[string]any{"summary": "Get one tier"},
			},
			"/v1/products": map[string]any{
				"get": map[string]any{"summary": "List purchasable tiers"},
			},
			"/v1/admin/catalog:refresh": map[string]any{
				"post": map[string]any{"summary": "Drop cached catalog data"},
			},
			"/v1/owners/{ownerID}/keys": map[string]any{
				"get":  map[string]any{"summary": "List an owner's keys"},
				"post": map[string]any{"summary": "Issue a key"},
			},
			"/v1/owners/{ownerID}/keys/{id}": map[string]any{
				"get":    map[string]any{"summary": "Get a key"},
				"patch":  map[string]any{"summary": "Update key settings"},
				"delete": map[string]any{"summary": "Revoke a key"},
			},
			"/v1/owners/{ownerID}/events": map[string]any{
				"get": map[string]any{"summary": "List an owner's key and usage events"},
			},
		},
	}
}
