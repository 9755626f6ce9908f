package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/atvirokodosprendimai/keygate/internal/cache"
	"github.com/atvirokodosprendimai/keygate/internal/core/domain"
	"github.com/atvirokodosprendimai/keygate/internal/metrics"
)

const testAdminToken = "test-admin-token"

var testNow = time.Date(2025, 12, 31, 23, 0, 0, 0, time.UTC)

type stubMeter struct {
	result  domain.Admission
	secrets []string
}

func (s *stubMeter) CheckAndConsume(_ context.Context, secret string) domain.Admission {
	s.secrets = append(s.secrets, secret)
	return s.result
}

type stubTiers struct {
	tiers       []domain.Tier
	purchasable int
	invalidated int
}

func (s *stubTiers) ResolveTiers(context.Context) []domain.Tier { return s.tiers }

func (s *stubTiers) ResolveTierByID(_ context.Context, id string) (domain.Tier, bool) {
	return domain.FindTier(s.tiers, id)
}

func (s *stubTiers) PurchasableTiers(context.Context) []domain.Tier {
	s.purchasable++
	out := []domain.Tier{}
	for _, t := range s.tiers {
		if t.HasBillingLink() {
			out = append(out, t)
		}
	}
	return out
}

func (s *stubTiers) Invalidate() { s.invalidated++ }

type stubKeys struct {
	issueFn  func(ownerID string, in domain.NewKey) (domain.APIKey, error)
	listFn   func(ownerID string) ([]domain.APIKey, error)
	getFn    func(ownerID, id string) (domain.APIKey, error)
	updateFn func(ownerID, id string, patch domain.KeyPatch) (domain.APIKey, error)
	revokeFn func(ownerID, id string) error
}

func (s *stubKeys) Issue(_ context.Context, ownerID string, in domain.NewKey) (domain.APIKey, error) {
	if s.issueFn != nil {
		return s.issueFn(ownerID, in)
	}
	return domain.APIKey{}, nil
}

func (s *stubKeys) List(_ context.Context, ownerID string) ([]domain.APIKey, error) {
	if s.listFn != nil {
		return s.listFn(ownerID)
	}
	return nil, nil
}

func (s *stubKeys) Get(_ context.Context, ownerID, id string) (domain.APIKey, error) {
	if s.getFn != nil {
		return s.getFn(ownerID, id)
	}
	return domain.APIKey{}, domain.ErrNotFound
}

func (s *stubKeys) Update(_ context.Context, ownerID, id string, patch domain.KeyPatch) (domain.APIKey, error) {
	if s.updateFn != nil {
		return s.updateFn(ownerID, id, patch)
	}
	return domain.APIKey{}, nil
}

func (s *stubKeys) Revoke(_ context.Context, ownerID, id string) error {
	if s.revokeFn != nil {
		return s.revokeFn(ownerID, id)
	}
	return nil
}

type stubEvents struct {
	events []domain.OutboxEvent
	limit  int
}

func (s *stubEvents) ListByOwner(_ context.Context, _ string, limit int) ([]domain.OutboxEvent, error) {
	s.limit = limit
	return s.events, nil
}

type testDeps struct {
	meter  *stubMeter
	tiers  *stubTiers
	keys   *stubKeys
	events *stubEvents
}

func linkedTiers() []domain.Tier {
	tiers := domain.StaticTiers()
	for i := range tiers {
		if tiers[i].ID == domain.TierPro {
			tiers[i].BillingProductID = "prod_pro"
			tiers[i].BillingPriceID = "price_pro_month"
		}
	}
	return tiers
}

func testRouter(t *testing.T) (http.Handler, *testDeps) {
	t.Helper()
	deps := &testDeps{
		meter:  &stubMeter{result: domain.Admit(1, 5)},
		tiers:  &stubTiers{tiers: linkedTiers()},
		keys:   &stubKeys{},
		events: &stubEvents{},
	}
	responses := cache.NewResponseCache(cache.NewStore(time.Now), nil, nil, nil)
	h := NewHandler(deps.meter, deps.tiers, deps.keys, deps.events, responses, Options{
		AdminToken:  testAdminToken,
		ResponseTTL: time.Minute,
		Metrics:     metrics.New(),
	})
	h.now = func() time.Time { return testNow }
	return h.Router(), deps
}

func withAdmin(req *http.Request) *http.Request {
	req.Header.Set("Authorization", "Bearer "+testAdminToken)
	return req
}

func serve(router http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestAdmissionStatusByDenialKind(t *testing.T) {
	tests := []struct {
		name   string
		result domain.Admission
		want   int
	}{
		{name: "admitted", result: domain.Admit(3, 10), want: http.StatusOK},
		{name: "unknown key", result: domain.Deny(domain.DenialInvalidCredential, domain.ReasonUnknownCredential), want: http.StatusUnauthorized},
		{name: "quota", result: domain.Deny(domain.DenialQuotaExceeded, domain.QuotaExceededReason(5, 5)), want: http.StatusTooManyRequests},
		{name: "lookup", result: domain.Deny(domain.DenialUpstreamUnavailable, domain.ReasonLookupFailed), want: http.StatusServiceUnavailable},
		{name: "write", result: domain.Deny(domain.DenialPersistenceWriteFailed, domain.ReasonUsageWriteFailed), want: http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, deps := testRouter(t)
			deps.meter.result = tt.result

			req := httptest.NewRequest(http.MethodPost, "/v1/admission", strings.NewReader(`{"key":"sk_abc"}`))
			rr := serve(router, req)
			if rr.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, rr.Code, rr.Body.String())
			}

			var body admissionResponse
			if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Admitted != tt.result.Admitted || body.Reason != tt.result.Reason {
				t.Fatalf("unexpected body: %+v", body)
			}
		})
	}
}

func TestAdmissionRateLimitHeaders(t *testing.T) {
	router, deps := testRouter(t)
	deps.meter.result = domain.Admit(3, 10)

	rr := serve(router, httptest.NewRequest(http.MethodPost, "/v1/admission", strings.NewReader(`{"key":"sk_abc"}`)))
	if got := rr.Header().Get("X-RateLimit-Limit"); got != "10" {
		t.Fatalf("expected limit header 10, got %q", got)
	}
	if got := rr.Header().Get("X-RateLimit-Remaining"); got != "7" {
		t.Fatalf("expected remaining header 7, got %q", got)
	}
}

func TestAdmissionQuotaDenialReportsUsageAndReset(t *testing.T) {
	router, deps := testRouter(t)
	deps.meter.result = domain.DenyQuota(5, 5, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	rr := serve(router, httptest.NewRequest(http.MethodPost, "/v1/admission", strings.NewReader(`{"key":"sk_abc"}`)))
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	var body admissionResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Admitted || body.Usage != 5 || body.Limit != 5 {
		t.Fatalf("unexpected body: %+v", body)
	}
	if got := rr.Header().Get("X-RateLimit-Limit"); got != "5" {
		t.Fatalf("expected limit header 5, got %q", got)
	}
	if got := rr.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Fatalf("expected remaining header 0, got %q", got)
	}
	if got := rr.Header().Get("Retry-After"); got != "3600" {
		t.Fatalf("expected retry after until month start, got %q", got)
	}
}

func TestRetryAfter(t *testing.T) {
	tests := []struct {
		name   string
		result domain.Admission
		want   string
		ok     bool
	}{
		{name: "quota far", result: domain.DenyQuota(5, 5, testNow.Add(26*time.Hour)), want: "93600", ok: true},
		{name: "quota rounds up", result: domain.DenyQuota(5, 5, testNow.Add(1500*time.Millisecond)), want: "2", ok: true},
		{name: "quota passed", result: domain.DenyQuota(5, 5, testNow.Add(-time.Minute)), want: "1", ok: true},
		{name: "quota without reset", result: domain.Deny(domain.DenialQuotaExceeded, "x"), ok: false},
		{name: "upstream", result: domain.Deny(domain.DenialUpstreamUnavailable, domain.ReasonLookupFailed), want: "1", ok: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := retryAfter(tt.result, testNow)
			if got != tt.want || ok != tt.ok {
				t.Fatalf("expected %q/%v, got %q/%v", tt.want, tt.ok, got, ok)
			}
		})
	}
}

func TestAdmissionCredentialSources(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		setup func(r *http.Request)
		want  string
	}{
		{name: "body", body: `{"key":"sk_body"}`, want: "sk_body"},
		{name: "api key header", setup: func(r *http.Request) { r.Header.Set("X-API-Key", "sk_header") }, want: "sk_header"},
		{name: "bearer", setup: func(r *http.Request) { r.Header.Set("Authorization", "Bearer sk_bearer") }, want: "sk_bearer"},
		{
			name:  "body wins",
			body:  `{"key":"sk_body"}`,
			setup: func(r *http.Request) { r.Header.Set("X-API-Key", "sk_header") },
			want:  "sk_body",
		},
		{name: "none", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, deps := testRouter(t)
			req := httptest.NewRequest(http.MethodPost, "/v1/admission", strings.NewReader(tt.body))
			if tt.setup != nil {
				tt.setup(req)
			}
			serve(router, req)
			if len(deps.meter.secrets) != 1 || deps.meter.secrets[0] != tt.want {
				t.Fatalf("expected secret %q, got %v", tt.want, deps.meter.secrets)
			}
		})
	}
}

func TestAdmissionRejectsMalformedBody(t *testing.T) {
	for _, body := range []string{`{"key":"a","extra":1}`, `{"key":"a"}{"key":"b"}`, `not json`} {
		router, deps := testRouter(t)
		rr := serve(router, httptest.NewRequest(http.MethodPost, "/v1/admission", strings.NewReader(body)))
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("body %q: expected 400, got %d", body, rr.Code)
		}
		if len(deps.meter.secrets) != 0 {
			t.Fatalf("body %q: meter should not be called", body)
		}
	}
}

func TestTiersEndpoints(t *testing.T) {
	router, _ := testRouter(t)

	rr := serve(router, httptest.NewRequest(http.MethodGet, "/v1/tiers", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var list struct {
		Tiers []tierResponse `json:"tiers"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list.Tiers) != 4 || list.Tiers[0].ID != domain.TierFree {
		t.Fatalf("unexpected tiers: %+v", list.Tiers)
	}

	rr = serve(router, httptest.NewRequest(http.MethodGet, "/v1/tiers/pro", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var pro tierResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &pro); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if pro.Billing == nil || pro.Billing.ProductID != "prod_pro" {
		t.Fatalf("expected billing linkage, got %+v", pro.Billing)
	}

	rr = serve(router, httptest.NewRequest(http.MethodGet, "/v1/tiers/enterprise", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestProductsAreServedFromResponseCache(t *testing.T) {
	router, deps := testRouter(t)

	first := serve(router, httptest.NewRequest(http.MethodGet, "/v1/products", nil))
	if first.Header().Get("X-Cache") != "MISS" {
		t.Fatalf("expected first read to miss, got %q", first.Header().Get("X-Cache"))
	}
	second := serve(router, httptest.NewRequest(http.MethodGet, "/v1/products", nil))
	if second.Header().Get("X-Cache") != "HIT" {
		t.Fatalf("expected second read to hit, got %q", second.Header().Get("X-Cache"))
	}
	if deps.tiers.purchasable != 1 {
		t.Fatalf("expected one catalog read, got %d", deps.tiers.purchasable)
	}
	if first.Body.String() != second.Body.String() {
		t.Fatalf("cached body differs: %s vs %s", first.Body.String(), second.Body.String())
	}

	var body productsResponse
	if err := json.Unmarshal(second.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Products) != 1 || body.Products[0].ID != domain.TierPro {
		t.Fatalf("unexpected products: %+v", body.Products)
	}
}

func TestCatalogRefreshClearsCaches(t *testing.T) {
	router, deps := testRouter(t)
	serve(router, httptest.NewRequest(http.MethodGet, "/v1/products", nil))

	rr := serve(router, withAdmin(httptest.NewRequest(http.MethodPost, "/v1/admin/catalog:refresh", nil)))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if deps.tiers.invalidated != 1 {
		t.Fatalf("expected tier cache invalidation")
	}

	after := serve(router, httptest.NewRequest(http.MethodGet, "/v1/products", nil))
	if after.Header().Get("X-Cache") != "MISS" {
		t.Fatalf("expected miss after refresh, got %q", after.Header().Get("X-Cache"))
	}
}

func TestAdminRoutesRequireToken(t *testing.T) {
	router, _ := testRouter(t)

	rr := serve(router, httptest.NewRequest(http.MethodGet, "/v1/owners/acme/keys", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/owners/acme/keys", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	if rr := serve(router, req); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong token, got %d", rr.Code)
	}
}

func TestAdminRoutesDisabledWithoutToken(t *testing.T) {
	h := NewHandler(&stubMeter{}, &stubTiers{}, &stubKeys{}, nil, nil, Options{})
	rr := serve(h.Router(), withAdmin(httptest.NewRequest(http.MethodGet, "/v1/owners/acme/keys", nil)))
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}

func TestIssueKeyRevealsSecretOnce(t *testing.T) {
	router, deps := testRouter(t)
	now := time.Date(2025, 11, 5, 10, 0, 0, 0, time.UTC)
	var got domain.NewKey
	deps.keys.issueFn = func(ownerID string, in domain.NewKey) (domain.APIKey, error) {
		got = in
		return domain.APIKey{ID: "k1", Key: "sk_0123456789abcdef", OwnerID: ownerID, Name: in.Name, LimitEnabled: in.LimitEnabled, MonthlyLimit: in.MonthlyLimit, CreatedAt: now, UpdatedAt: now}, nil
	}
	deps.keys.listFn = func(ownerID string) ([]domain.APIKey, error) {
		return []domain.APIKey{{ID: "k1", Key: "sk_0123456789abcdef", OwnerID: ownerID}}, nil
	}

	body := `{"name":"ci","limit_usage":true,"monthly_limit":5}`
	rr := serve(router, withAdmin(httptest.NewRequest(http.MethodPost, "/v1/owners/acme/keys", strings.NewReader(body))))
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if got.Name != "ci" || !got.LimitEnabled || got.MonthlyLimit != 5 {
		t.Fatalf("unexpected input: %+v", got)
	}
	var issued keyResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &issued); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if issued.Key != "sk_0123456789abcdef" {
		t.Fatalf("expected full secret on issue, got %q", issued.Key)
	}

	rr = serve(router, withAdmin(httptest.NewRequest(http.MethodGet, "/v1/owners/acme/keys", nil)))
	if strings.Contains(rr.Body.String(), "sk_0123456789abcdef") {
		t.Fatalf("list leaked secret: %s", rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), "sk_0123...cdef") {
		t.Fatalf("expected masked secret: %s", rr.Body.String())
	}
}

func TestIssueKeySchemaViolation(t *testing.T) {
	router, deps := testRouter(t)
	called := false
	deps.keys.issueFn = func(string, domain.NewKey) (domain.APIKey, error) {
		called = true
		return domain.APIKey{}, nil
	}

	tests := []string{
		`{"description":"no name"}`,
		`{"name":"x","monthly_limit":-1}`,
		`{"name":"x","unknown":true}`,
		`{"name":"x"} {"name":"y"}`,
	}
	for _, body := range tests {
		rr := serve(router, withAdmin(httptest.NewRequest(http.MethodPost, "/v1/owners/acme/keys", strings.NewReader(body))))
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("body %s: expected 400, got %d", body, rr.Code)
		}
	}
	if called {
		t.Fatalf("issue should not be called for invalid bodies")
	}

	rr := serve(router, withAdmin(httptest.NewRequest(http.MethodPost, "/v1/owners/acme/keys", strings.NewReader(`{"name":""}`))))
	var resp struct {
		Error   string   `json:"error"`
		Details []string `json:"details"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Details) == 0 || !strings.HasPrefix(resp.Details[0], "/name") {
		t.Fatalf("expected detail for /name, got %+v", resp)
	}
}

func TestUpdateKeyPassesOnlyPresentFields(t *testing.T) {
	router, deps := testRouter(t)
	var got domain.KeyPatch
	deps.keys.updateFn = func(ownerID, id string, patch domain.KeyPatch) (domain.APIKey, error) {
		got = patch
		return domain.APIKey{ID: id, OwnerID: ownerID, MonthlyLimit: *patch.MonthlyLimit}, nil
	}

	rr := serve(router, withAdmin(httptest.NewRequest(http.MethodPatch, "/v1/owners/acme/keys/k1", strings.NewReader(`{"monthly_limit":7}`))))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if got.MonthlyLimit == nil || *got.MonthlyLimit != 7 || got.Name != nil || got.LimitEnabled != nil {
		t.Fatalf("unexpected patch: %+v", got)
	}

	rr = serve(router, withAdmin(httptest.NewRequest(http.MethodPatch, "/v1/owners/acme/keys/k1", strings.NewReader(`{}`))))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty patch, got %d", rr.Code)
	}
}

func TestKeyRoutesMapDomainErrors(t *testing.T) {
	router, deps := testRouter(t)
	deps.keys.revokeFn = func(string, string) error { return domain.ErrNotFound }
	deps.keys.getFn = func(string, string) (domain.APIKey, error) { return domain.APIKey{}, errors.New("disk on fire") }

	if rr := serve(router, withAdmin(httptest.NewRequest(http.MethodDelete, "/v1/owners/acme/keys/k1", nil))); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	rr := serve(router, withAdmin(httptest.NewRequest(http.MethodGet, "/v1/owners/acme/keys/k1", nil)))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	if strings.Contains(rr.Body.String(), "disk on fire") {
		t.Fatalf("internal error leaked: %s", rr.Body.String())
	}

	deps.keys.revokeFn = nil
	if rr := serve(router, withAdmin(httptest.NewRequest(http.MethodDelete, "/v1/owners/acme/keys/k1", nil))); rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
}

func TestListEvents(t *testing.T) {
	router, deps := testRouter(t)
	dispatched := time.Date(2025, 11, 5, 10, 0, 1, 0, time.UTC)
	deps.events.events = []domain.OutboxEvent{{
		EventID:      "e1",
		Topic:        "events.acme.key.issued",
		Status:       "dispatched",
		CreatedAt:    dispatched.Add(-time.Second),
		DispatchedAt: &dispatched,
		PayloadJSON:  json.RawMessage(`{"event_type":"key.issued"}`),
	}}

	rr := serve(router, withAdmin(httptest.NewRequest(http.MethodGet, "/v1/owners/acme/events?limit=10", nil)))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if deps.events.limit != 10 {
		t.Fatalf("expected limit 10, got %d", deps.events.limit)
	}
	if !strings.Contains(rr.Body.String(), `"event_type":"key.issued"`) {
		t.Fatalf("payload missing: %s", rr.Body.String())
	}

	if rr := serve(router, withAdmin(httptest.NewRequest(http.MethodGet, "/v1/owners/acme/events?limit=0", nil))); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", rr.Code)
	}
}

func TestHealthzMetricsAndOpenAPI(t *testing.T) {
	router, _ := testRouter(t)

	if rr := serve(router, httptest.NewRequest(http.MethodGet, "/healthz", nil)); rr.Code != http.StatusOK {
		t.Fatalf("healthz: expected 200, got %d", rr.Code)
	}

	serve(router, httptest.NewRequest(http.MethodPost, "/v1/admission", strings.NewReader(`{"key":"sk_abc"}`)))
	rr := serve(router, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("metrics: expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "go_goroutines") {
		t.Fatalf("expected go collector output")
	}

	rr = serve(router, httptest.NewRequest(http.MethodGet, "/openapi.json", nil))
	var spec map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &spec); err != nil {
		t.Fatalf("decode openapi: %v", err)
	}
	paths, _ := spec["paths"].(map[string]any)
	if _, ok := paths["/v1/admission"]; !ok {
		t.Fatalf("openapi missing admission path")
	}
}

func TestHandleDomainError(t *testing.T) {
	h := NewHandler(&stubMeter{}, &stubTiers{}, &stubKeys{}, nil, nil, Options{})
	tests := []struct {
		err  error
		want int
	}{
		{err: domain.ErrInvalidInput, want: http.StatusBadRequest},
		{err: domain.ErrNotFound, want: http.StatusNotFound},
		{err: domain.ErrForbidden, want: http.StatusForbidden},
		{err: errors.New("boom"), want: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		rr := httptest.NewRecorder()
		h.handleDomainError(rr, tt.err)
		if rr.Code != tt.want {
			t.Fatalf("%v: expected %d, got %d", tt.err, tt.want, rr.Code)
		}
	}
}

func TestWriteJSONEncodeError(t *testing.T) {
	h := NewHandler(&stubMeter{}, &stubTiers{}, &stubKeys{}, nil, nil, Options{})
	rr := httptest.NewRecorder()
	h.writeJSON(rr, http.StatusOK, map[string]any{"bad": func() {}})
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
}

func TestMaskSecret(t *testing.T) {
	if got := maskSecret("sk_0123456789abcdef"); got != "sk_0123...cdef" {
		t.Fatalf("unexpected mask %q", got)
	}
	if got := maskSecret("short"); got != "****" {
		t.Fatalf("unexpected mask %q", got)
	}
}

func TestHealthzReportsFailingDependency(t *testing.T) {
	h := NewHandler(&stubMeter{}, &stubTiers{}, &stubKeys{}, nil, nil, Options{
		HealthCheck: func(context.Context) error { return errors.New("db closed") },
	})
	rr := serve(h.Router(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}
