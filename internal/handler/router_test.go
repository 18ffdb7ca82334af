package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/boddenberg/recurring-income-bfa/internal/domain"
	"github.com/boddenberg/recurring-income-bfa/internal/handler"
	"github.com/boddenberg/recurring-income-bfa/internal/infra/cache"
	"github.com/boddenberg/recurring-income-bfa/internal/infra/client"
	"github.com/boddenberg/recurring-income-bfa/internal/infra/observability"
	"github.com/boddenberg/recurring-income-bfa/internal/infra/resilience"
	"github.com/boddenberg/recurring-income-bfa/internal/recurrence"
	"github.com/boddenberg/recurring-income-bfa/internal/service"

	"go.uber.org/zap"
)

type fakeBackend struct {
	users    []domain.User
	txs      map[string][]domain.Transaction
	pingErr  error
	fetchErr error
}

func (f *fakeBackend) GetTransactions(_ context.Context, email string) ([]domain.Transaction, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	txs, ok := f.txs[email]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "transactions", ID: email}
	}
	return txs, nil
}

func (f *fakeBackend) ListUsers(_ context.Context) ([]domain.User, error) {
	return f.users, nil
}

func (f *fakeBackend) GetUser(_ context.Context, email string) (*domain.User, error) {
	for _, u := range f.users {
		if u.Email == email {
			u := u
			return &u, nil
		}
	}
	return nil, &domain.ErrNotFound{Resource: "user", ID: email}
}

func (f *fakeBackend) Ping(_ context.Context) error { return f.pingErr }

func newBackend() *fakeBackend {
	return &fakeBackend{
		users: []domain.User{{Email: "jane@example.com", FirstName: "Jane", LastName: "Doe"}},
		txs: map[string][]domain.Transaction{
			"jane@example.com": {
				{Name: "Acme Corp", Date: "2024-01-01", Amount: 1000},
				{Name: "Acme Corp", Date: "2024-02-01", Amount: 1000},
				{Name: "Acme Corp", Date: "2024-03-02", Amount: 1000},
				{Name: "Grocer", Date: "2024-01-05", Amount: -80},
			},
		},
	}
}

func newRouter(b *fakeBackend, metrics *observability.Metrics) http.Handler {
	svc := service.NewPredictions(b, b, cache.New[[]domain.RecurringSource](time.Minute), metrics, zap.NewNop(), service.Options{
		Detector: recurrence.DefaultConfig(),
	})
	return handler.NewRouter(svc, handler.Options{
		Backend:        "fake",
		Pinger:         b,
		AllowedOrigins: []string{"http://localhost:3000"},
	}, metrics, zap.NewNop())
}

func serve(router http.Handler, method, target string, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	router := newRouter(newBackend(), observability.NewMetrics())

	rec := serve(router, http.MethodGet, "/healthz", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var health domain.HealthStatus
	if err := json.NewDecoder(rec.Body).Decode(&health); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if health.Status != "healthy" || len(health.Services) != 2 {
		t.Errorf("unexpected health: %+v", health)
	}
}

func TestHealthz_DegradedBackend(t *testing.T) {
	b := newBackend()
	b.pingErr = errors.New("db locked")
	router := newRouter(b, observability.NewMetrics())

	rec := serve(router, http.MethodGet, "/healthz", "")

	var health domain.HealthStatus
	if err := json.NewDecoder(rec.Body).Decode(&health); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if health.Status != "degraded" {
		t.Errorf("expected degraded, got %q", health.Status)
	}
}

func TestReadyz(t *testing.T) {
	router := newRouter(newBackend(), observability.NewMetrics())

	rec := serve(router, http.MethodGet, "/readyz", "")

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestReadyz_BackendDown(t *testing.T) {
	b := newBackend()
	b.pingErr = errors.New("connection refused")
	router := newRouter(b, observability.NewMetrics())

	rec := serve(router, http.MethodGet, "/readyz", "")

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
}

func TestMetrics(t *testing.T) {
	router := newRouter(newBackend(), observability.NewMetrics())

	serve(router, http.MethodGet, "/users", "")
	rec := serve(router, http.MethodGet, "/metrics", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "income_http_requests_total") {
		t.Error("expected http request counter in /metrics output")
	}
}

func TestPing(t *testing.T) {
	router := newRouter(newBackend(), observability.NewMetrics())

	rec := serve(router, http.MethodGet, "/ping", "")

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestListUsers(t *testing.T) {
	router := newRouter(newBackend(), observability.NewMetrics())

	for _, path := range []string{"/users", "/v1/users"} {
		rec := serve(router, http.MethodGet, path, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rec.Code)
		}
		var users []domain.User
		if err := json.NewDecoder(rec.Body).Decode(&users); err != nil {
			t.Fatalf("%s: decode: %v", path, err)
		}
		if len(users) != 1 || users[0].FirstName != "Jane" {
			t.Errorf("%s: unexpected users %+v", path, users)
		}
	}
}

func TestPredictions(t *testing.T) {
	router := newRouter(newBackend(), observability.NewMetrics())

	for _, path := range []string{"/predictions/jane@example.com", "/v1/users/jane@example.com/predictions", "/predictions/jane%40example.com"} {
		rec := serve(router, http.MethodGet, path, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d: %s", path, rec.Code, rec.Body.String())
		}
		var got []map[string]any
		if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
			t.Fatalf("%s: decode: %v", path, err)
		}
		if len(got) != 1 {
			t.Fatalf("%s: expected 1 prediction, got %d", path, len(got))
		}
		if got[0]["source"] != "acme corp" || got[0]["estimatedPayDate"] != "4/2/2024" {
			t.Errorf("%s: unexpected prediction %v", path, got[0])
		}
		if got[0]["averagePayment"] != "1000.00" || got[0]["transactions"] != float64(3) {
			t.Errorf("%s: unexpected wire fields %v", path, got[0])
		}
	}
}

func TestPredictions_UnknownUser(t *testing.T) {
	router := newRouter(newBackend(), observability.NewMetrics())

	rec := serve(router, http.MethodGet, "/predictions/ghost@example.com", "")

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestPredictions_BadTolerance(t *testing.T) {
	router := newRouter(newBackend(), observability.NewMetrics())

	for _, q := range []string{"abc", "-1"} {
		rec := serve(router, http.MethodGet, "/v1/users/jane@example.com/predictions?toleranceDays="+q, "")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("toleranceDays=%s: expected 400, got %d", q, rec.Code)
		}
	}
}

func TestPredictions_ZeroToleranceRejectsDrift(t *testing.T) {
	router := newRouter(newBackend(), observability.NewMetrics())

	rec := serve(router, http.MethodGet, "/v1/users/jane@example.com/predictions?toleranceDays=0", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if body := strings.TrimSpace(rec.Body.String()); body != "[]" {
		t.Errorf("expected empty list, got %s", body)
	}
}

func TestPredictions_MalformedData(t *testing.T) {
	b := newBackend()
	b.txs["jane@example.com"] = []domain.Transaction{{Name: "Acme", Date: "not a date", Amount: 1}}
	router := newRouter(b, observability.NewMetrics())

	rec := serve(router, http.MethodGet, "/predictions/jane@example.com", "")

	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422, got %d", rec.Code)
	}
}

func TestPredictions_UpstreamFailure(t *testing.T) {
	b := newBackend()
	b.fetchErr = &domain.ErrExternalService{Service: "transactions", Err: errors.New("boom")}
	router := newRouter(b, observability.NewMetrics())

	rec := serve(router, http.MethodGet, "/predictions/jane@example.com", "")

	if rec.Code != http.StatusBadGateway {
		t.Errorf("expected 502, got %d", rec.Code)
	}
}

func TestPredictions_CircuitOpen(t *testing.T) {
	b := newBackend()
	b.fetchErr = &domain.ErrCircuitOpen{Service: "supabase"}
	router := newRouter(b, observability.NewMetrics())

	rec := serve(router, http.MethodGet, "/predictions/jane@example.com", "")

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
}

func TestPredictions_UpstreamTimeout(t *testing.T) {
	b := newBackend()
	b.fetchErr = &domain.ErrTimeout{Operation: "transactions"}
	router := newRouter(b, observability.NewMetrics())

	rec := serve(router, http.MethodGet, "/predictions/jane@example.com", "")

	if rec.Code != http.StatusGatewayTimeout {
		t.Errorf("expected 504, got %d", rec.Code)
	}
}

func TestPredictions_SlowUpstreamReturns504(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer slow.Close()

	b := newBackend()
	httpClient := &http.Client{Timeout: 20 * time.Millisecond}
	txClient := client.NewTransactionsClient(httpClient, slow.URL, resilience.NewCircuitBreaker("slow-tx"), resilience.Config{})
	metrics := observability.NewMetrics()
	svc := service.NewPredictions(txClient, b, cache.New[[]domain.RecurringSource](time.Minute), metrics, zap.NewNop(), service.Options{
		Detector: recurrence.DefaultConfig(),
	})
	router := handler.NewRouter(svc, handler.Options{Backend: "http"}, metrics, zap.NewNop())

	rec := serve(router, http.MethodGet, "/v1/users/jane@example.com/predictions", "")

	if rec.Code != http.StatusGatewayTimeout {
		t.Errorf("expected 504, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestReport(t *testing.T) {
	router := newRouter(newBackend(), observability.NewMetrics())

	rec := serve(router, http.MethodGet, "/v1/users/jane@example.com/report?toleranceDays=2", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var report domain.PredictionReport
	if err := json.NewDecoder(rec.Body).Decode(&report); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if report.ID == "" || report.User == nil || report.User.Email != "jane@example.com" {
		t.Errorf("unexpected report header: %+v", report)
	}
	if report.ToleranceDays != 2 || len(report.Predictions) != 1 {
		t.Errorf("unexpected report body: %+v", report)
	}
}

func TestDetect(t *testing.T) {
	router := newRouter(newBackend(), observability.NewMetrics())
	body := `{"transactions":[
		{"name":"Payroll","date":"2024-01-05","amount":500},
		{"name":"payroll","date":"2024-01-19","amount":500},
		{"name":"PAYROLL","date":"2024-02-02","amount":500}
	]}`

	rec := serve(router, http.MethodPost, "/v1/predictions/detect", body)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var got []domain.RecurringSource
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 1 || got[0].Source != "payroll" || got[0].EstimatedPayDate != "2/16/2024" {
		t.Errorf("unexpected predictions %+v", got)
	}
}

func TestDetect_BodyToleranceWins(t *testing.T) {
	router := newRouter(newBackend(), observability.NewMetrics())
	body := `{"toleranceDays":0,"transactions":[
		{"name":"Gig","date":"2024-01-01","amount":50},
		{"name":"Gig","date":"2024-01-15","amount":50},
		{"name":"Gig","date":"2024-01-30","amount":50}
	]}`

	rec := serve(router, http.MethodPost, "/v1/predictions/detect?toleranceDays=5", body)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("expected no predictions, got %s", rec.Body.String())
	}
}

func TestDetect_InvalidBody(t *testing.T) {
	router := newRouter(newBackend(), observability.NewMetrics())

	rec := serve(router, http.MethodPost, "/v1/predictions/detect", "{not json")

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestDetect_NonNumericAmount(t *testing.T) {
	router := newRouter(newBackend(), observability.NewMetrics())
	body := `{"transactions":[
		{"name":"Payroll","date":"2024-01-05","amount":500},
		{"name":"Payroll","date":"2024-01-19","amount":"lots"}
	]}`

	rec := serve(router, http.MethodPost, "/v1/predictions/detect", body)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", rec.Code, rec.Body.String())
	}
	var e map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&e); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.Contains(e["error"], "#1") || !strings.Contains(e["error"], "amount") {
		t.Errorf("expected error to name transaction 1 and its amount, got %q", e["error"])
	}
}

func TestDetect_NumericStringAndMissingAmount(t *testing.T) {
	router := newRouter(newBackend(), observability.NewMetrics())
	body := `{"transactions":[
		{"name":"Payroll","date":"2024-01-05","amount":"500"},
		{"name":"Payroll","date":"2024-01-19","amount":500},
		{"name":"Payroll","date":"2024-02-02","amount":500.00},
		{"name":"Note","date":"2024-02-03"}
	]}`

	rec := serve(router, http.MethodPost, "/v1/predictions/detect", body)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var got []domain.RecurringSource
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 1 || got[0].AveragePayment != "500.00" {
		t.Errorf("unexpected predictions %+v", got)
	}
}

func TestDetect_NegativeBodyTolerance(t *testing.T) {
	router := newRouter(newBackend(), observability.NewMetrics())

	rec := serve(router, http.MethodPost, "/v1/predictions/detect", `{"toleranceDays":-3,"transactions":[]}`)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestDetectorMetrics(t *testing.T) {
	metrics := observability.NewMetrics()
	router := newRouter(newBackend(), metrics)

	serve(router, http.MethodGet, "/predictions/jane@example.com", "")
	serve(router, http.MethodGet, "/predictions/jane@example.com", "")
	rec := serve(router, http.MethodGet, "/v1/metrics/detector", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var snap domain.DetectorMetrics
	if err := json.NewDecoder(rec.Body).Decode(&snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.Detections != 1 || snap.Predictions != 1 {
		t.Errorf("unexpected counters %+v", snap)
	}
	if snap.CacheHitRate != 0.5 {
		t.Errorf("expected hit rate 0.5, got %v", snap.CacheHitRate)
	}
}

func TestCORSPreflight(t *testing.T) {
	router := newRouter(newBackend(), observability.NewMetrics())

	req := httptest.NewRequest(http.MethodOptions, "/users", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("expected allowed origin header, got %q", got)
	}
}
