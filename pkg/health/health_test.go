package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dd0wney/cluso-dbpool/pkg/driver/mem"
	"github.com/dd0wney/cluso-dbpool/pkg/pool"
	"github.com/dd0wney/cluso-dbpool/pkg/session"
)

func newTestPool(t *testing.T, maxSize int) *pool.Pool {
	t.Helper()

	store := mem.NewStore()
	factory := func(ctx context.Context) (session.Driver, error) {
		return store.Open(), nil
	}
	p, err := pool.New(factory, pool.Config{MaxSize: maxSize, CheckoutTimeout: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("Failed to create pool: %v", err)
	}
	t.Cleanup(func() { p.Close(context.Background()) })
	return p
}

func TestWorstStatusWins(t *testing.T) {
	hc := NewChecker()
	hc.RegisterCheck("ok", func() Check { return Check{Status: StatusHealthy} })
	hc.RegisterCheck("slow", func() Check { return Check{Status: StatusDegraded} })

	if resp := hc.Check(); resp.Status != StatusDegraded {
		t.Errorf("Expected degraded, got %s", resp.Status)
	}

	hc.RegisterCheck("down", func() Check { return Check{Status: StatusUnhealthy} })
	if resp := hc.Check(); resp.Status != StatusUnhealthy {
		t.Errorf("Expected unhealthy, got %s", resp.Status)
	}
}

func TestPoolCheckStates(t *testing.T) {
	p := newTestPool(t, 1)
	ctx := context.Background()

	check := PoolCheck(p)

	if c := check(); c.Status != StatusHealthy {
		t.Errorf("Expected healthy for fresh pool, got %s", c.Status)
	}

	s, err := p.Checkout(ctx)
	if err != nil {
		t.Fatalf("Failed to checkout: %v", err)
	}
	if c := check(); c.Status != StatusDegraded {
		t.Errorf("Expected degraded for saturated pool, got %s: %s", c.Status, c.Message)
	}
	p.Checkin(ctx, s)

	if c := check(); c.Status != StatusHealthy {
		t.Errorf("Expected healthy after checkin, got %s", c.Status)
	}

	p.Close(ctx)
	if c := check(); c.Status != StatusUnhealthy {
		t.Errorf("Expected unhealthy for closed pool, got %s", c.Status)
	}
}

func TestPoolCheckDetails(t *testing.T) {
	p := newTestPool(t, 2)

	c := PoolCheck(p)()
	if c.Details["max_size"] != 2 {
		t.Errorf("Expected max_size detail 2, got %v", c.Details["max_size"])
	}
	if c.Details["open"] != 0 {
		t.Errorf("Expected open detail 0, got %v", c.Details["open"])
	}
}

func TestBackendCheck(t *testing.T) {
	ok := BackendCheck(func() error { return nil })()
	if ok.Status != StatusHealthy {
		t.Errorf("Expected healthy, got %s", ok.Status)
	}

	transient := BackendCheck(func() error { return errors.New("connection refused") })()
	if transient.Status != StatusDegraded {
		t.Errorf("Expected degraded for transient failure, got %s", transient.Status)
	}

	fatal := BackendCheck(func() error { return errors.New("password authentication failed") })()
	if fatal.Status != StatusUnhealthy {
		t.Errorf("Expected unhealthy for non-transient failure, got %s", fatal.Status)
	}
}

func TestHTTPHandlerStatusCodes(t *testing.T) {
	hc := NewChecker()
	hc.RegisterCheck("ok", func() Check { return Check{Status: StatusHealthy} })

	rec := httptest.NewRecorder()
	hc.HTTPHandler()(rec, httptest.NewRequest("GET", "/health", nil))
	if rec.Code != 200 {
		t.Errorf("Expected 200 for healthy, got %d", rec.Code)
	}

	var resp Response
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Status != StatusHealthy {
		t.Errorf("Expected healthy in body, got %s", resp.Status)
	}

	hc.RegisterCheck("down", func() Check { return Check{Status: StatusUnhealthy} })
	rec = httptest.NewRecorder()
	hc.HTTPHandler()(rec, httptest.NewRequest("GET", "/health", nil))
	if rec.Code != 503 {
		t.Errorf("Expected 503 for unhealthy, got %d", rec.Code)
	}
}

func TestReadinessIsBinary(t *testing.T) {
	hc := NewChecker()
	hc.RegisterReadinessCheck("pool", func() Check { return Check{Status: StatusDegraded} })

	rec := httptest.NewRecorder()
	hc.ReadinessHandler()(rec, httptest.NewRequest("GET", "/health/ready", nil))
	if rec.Code != 503 {
		t.Errorf("Degraded must not be ready, got %d", rec.Code)
	}
}

func TestLivenessIndependentOfReadiness(t *testing.T) {
	hc := NewChecker()
	hc.RegisterReadinessCheck("pool", func() Check { return Check{Status: StatusUnhealthy} })
	hc.RegisterLivenessCheck("process", func() Check { return Check{Status: StatusHealthy} })

	rec := httptest.NewRecorder()
	hc.LivenessHandler()(rec, httptest.NewRequest("GET", "/health/live", nil))
	if rec.Code != 200 {
		t.Errorf("Liveness should pass while readiness fails, got %d", rec.Code)
	}
}
