package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/atvirokodosprendimai/keygate/internal/core/domain"
)

type admissionRequest struct {
	Key *string `json:"key"`
}

type admissionResponse struct {
	Admitted bool   `json:"admitted"`
	Usage    int    `json:"usage"`
	Limit    int    `json:"limit"`
	Reason   string `json:"reason,omitempty"`
}

func (h *Handler) admission(w http.ResponseWriter, r *http.Request) {
	secret, ok := h.presentedCredential(w, r)
	if !ok {
		return
	}

	result := h.meter.CheckAndConsume(r.Context(), secret)
	if result.Limit > 0 {
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
		remaining := result.Limit - result.Usage
		if remaining < 0 || !result.Admitted {
			remaining = 0
		}
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	}
	if result.Kind.Retryable() {
		if after, ok := retryAfter(result, h.now()); ok {
			w.Header().Set("Retry-After", after)
		}
	}
	h.writeJSON(w, admissionStatus(result.Kind), admissionResponse{
		Admitted: result.Admitted,
		Usage:    result.Usage,
		Limit:    result.Limit,
		Reason:   result.Reason,
	})
}

// presentedCredential reads the key from the JSON body, then X-API-Key, then
// a bearer token. An empty body is allowed.
func (h *Handler) presentedCredential(w http.ResponseWriter, r *http.Request) (string, bool) {
	if r.Body != nil && r.ContentLength != 0 {
		r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodySize)
		decoder := json.NewDecoder(r.Body)
		decoder.DisallowUnknownFields()

		var req admissionRequest
		if err := decoder.Decode(&req); err != nil {
			if !errors.Is(err, io.EOF) {
				h.writeError(w, http.StatusBadRequest, "invalid json body")
				return "", false
			}
		} else if err := ensureEOF(decoder); err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid json body")
			return "", false
		}
		if req.Key != nil {
			return *req.Key, true
		}
	}
	if key := r.Header.Get("X-API-Key"); strings.TrimSpace(key) != "" {
		return key, true
	}
	return bearerToken(r), true
}

func admissionStatus(kind domain.DenialKind) int {
	switch kind {
	case domain.DenialNone:
		return http.StatusOK
	case domain.DenialInvalidCredential:
		return http.StatusUnauthorized
	case domain.DenialQuotaExceeded:
		return http.StatusTooManyRequests
	default:
		return http.StatusServiceUnavailable
	}
}

// retryAfter is the delay in whole seconds. A quota denial waits for the
// next usage month and has no header when the reset time is unknown.
func retryAfter(result domain.Admission, now time.Time) (string, bool) {
	if result.Kind != domain.DenialQuotaExceeded {
		return "1", true
	}
	if result.ResetAt.IsZero() {
		return "", false
	}
	wait := result.ResetAt.Sub(now)
	secs := int64(wait / time.Second)
	if wait%time.Second != 0 {
		secs++
	}
	if secs < 1 {
		secs = 1
	}
	return strconv.FormatInt(secs, 10), true
}
