package main

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/labcore/lims/internal/config"
	"github.com/labcore/lims/internal/platform/metrics"
)

// ---------------------------------------------------------------------------
// resolveSigningKey
// ---------------------------------------------------------------------------

func TestResolveSigningKey_FromSecret(t *testing.T) {
	key, random, err := resolveSigningKey("a-long-enough-secret-for-testing-only", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if random {
		t.Error("expected random=false when a secret is set")
	}
	if string(key) != "a-long-enough-secret-for-testing-only" {
		t.Errorf("unexpected key %q", key)
	}
}

func TestResolveSigningKey_RandomInDev(t *testing.T) {
	key, random, err := resolveSigningKey("", true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !random || len(key) != 32 {
		t.Fatalf("expected random 32-byte key, got random=%v len=%d", random, len(key))
	}
	key2, _, _ := resolveSigningKey("", true)
	if string(key) == string(key2) {
		t.Error("two random keys should not be identical")
	}
}

func TestResolveSigningKey_RequiredOutsideDev(t *testing.T) {
	if _, _, err := resolveSigningKey("", false); err == nil {
		t.Fatal("expected error without a secret in production")
	}
}

// ---------------------------------------------------------------------------
// newServer
// ---------------------------------------------------------------------------

func testConfig(env string) *config.Config {
	return &config.Config{
		Env:             env,
		JWTIssuer:       "lims",
		JWTTTL:          time.Hour,
		DevUsername:     "admin",
		CORSOrigins:     []string{"http://localhost:3000"},
		RateLimitRPS:    100,
		RateLimitBurst:  200,
		ConflictRetries: 1,
		LabCodePrefix:   "LAB",
	}
}

func TestNewServer_RegistersRoutes(t *testing.T) {
	e := newServer(testConfig("production"), nil, []byte("k"), metrics.New(), zerolog.Nop())

	registered := make(map[string]bool)
	for _, r := range e.Routes() {
		registered[r.Method+" "+r.Path] = true
	}
	for _, want := range []string{
		"GET /health",
		"GET /health/db",
		"GET /metrics",
		"POST /api/v1/auth/login",
		"POST /api/v1/visits",
		"GET /api/v1/visits/:id/report",
		"POST /api/v1/visits/:id/payments",
		"GET /api/v1/queues/:queue",
		"POST /api/v1/visit-tests/:id/collect",
		"PUT /api/v1/visit-tests/:id/results",
		"POST /api/v1/visit-tests/:id/approve",
		"PUT /api/v1/visit-tests/:id/approved-results",
		"GET /api/v1/audit-logs",
	} {
		if !registered[want] {
			t.Errorf("route %s is not registered", want)
		}
	}
}

func TestNewServer_Health(t *testing.T) {
	e := newServer(testConfig("production"), nil, []byte("k"), metrics.New(), zerolog.Nop())
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("expected security headers on every response")
	}
}

func TestNewServer_RequiresToken(t *testing.T) {
	e := newServer(testConfig("production"), nil, []byte("k"), metrics.New(), zerolog.Nop())
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/visits", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}
