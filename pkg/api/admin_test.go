package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/holeshot/tilecache/internal/batch"
	"github.com/holeshot/tilecache/internal/cache"
	"github.com/holeshot/tilecache/pkg/errors"
	"github.com/holeshot/tilecache/pkg/recovery"
	"github.com/holeshot/tilecache/pkg/types"
)

// blockingWarmer runs until its context ends
type blockingWarmer struct{ started chan struct{} }

func (b *blockingWarmer) Run(ctx context.Context, _ types.PyramidKey, _ []int, _ func(batch.Stats)) (batch.Stats, error) {
	close(b.started)
	<-ctx.Done()
	return batch.Stats{}, ctx.Err()
}

func (e *testEnv) withWarmer(w WarmRunner) {
	deps := e.deps
	deps.Warmer = w
	e.server = NewServer(DefaultServerConfig(), deps)
}

func startWarm(t *testing.T, env *testEnv, path string) string {
	t.Helper()
	w := env.do(http.MethodPost, path, nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("POST %s = %d: %s", path, w.Code, w.Body.String())
	}
	id, _ := decode(t, w)["id"].(string)
	if id == "" {
		t.Fatal("no operation id in response")
	}
	return id
}

// waitForStatus polls the operation until it reports want
func waitForStatus(t *testing.T, env *testEnv, id, want string) map[string]interface{} {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		w := env.do(http.MethodGet, "/admin/operations/"+id, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("GET operation = %d", w.Code)
		}
		body := decode(t, w)
		if body["status"] == want {
			return body
		}
		if time.Now().After(deadline) {
			t.Fatalf("operation status = %v, want %s", body["status"], want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWarmOperation(t *testing.T) {
	env := newTestEnv(t, DefaultServerConfig())
	id := startWarm(t, env, "/admin/warm/modis/2024-06-01")

	body := waitForStatus(t, env, id, "completed")
	result, _ := body["result"].(map[string]interface{})
	if result["fetched"] != float64(2) {
		t.Errorf("result = %v, want 2 fetched", result)
	}
	progress, _ := body["progress"].(map[string]interface{})
	if progress["current"] != float64(2) || progress["total"] != float64(2) {
		t.Errorf("progress = %v", progress)
	}

	w := env.do(http.MethodGet, "/tiles/modis/2024-06-01/0/0/1/0", nil)
	if w.Header().Get("X-Cache") != "HIT" {
		t.Errorf("warmed tile X-Cache = %q", w.Header().Get("X-Cache"))
	}
}

func TestWarmRejectsBadRequests(t *testing.T) {
	env := newTestEnv(t, DefaultServerConfig())
	tests := []struct {
		path string
		want int
	}{
		{"/admin/warm/unknown/2024-06-01", http.StatusNotFound},
		{"/admin/warm/modis/2024-06-01?levels=x", http.StatusBadRequest},
		{"/admin/warm/modis/2024-06-01?levels=0,-1", http.StatusBadRequest},
		{"/admin/warm/modis/2024-06-01?levels=3", http.StatusBadRequest},
	}
	for _, tt := range tests {
		if w := env.do(http.MethodPost, tt.path, nil); w.Code != tt.want {
			t.Errorf("POST %s = %d, want %d", tt.path, w.Code, tt.want)
		}
	}
	if n := len(env.operations.GetAllOperations()) + len(env.operations.GetHistory(0)); n != 0 {
		t.Errorf("rejected requests created %d operations", n)
	}
}

func TestListOperations(t *testing.T) {
	env := newTestEnv(t, DefaultServerConfig())
	id := startWarm(t, env, "/admin/warm/modis/2024-06-01?levels=0")
	waitForStatus(t, env, id, "completed")

	w := env.do(http.MethodGet, "/admin/operations", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := decode(t, w)
	history, _ := body["history"].([]interface{})
	if len(history) != 1 {
		t.Fatalf("history = %v", body["history"])
	}
	if op := history[0].(map[string]interface{}); op["id"] != id || op["type"] != OperationWarm {
		t.Errorf("history[0] = %v", op)
	}

	if w := env.do(http.MethodGet, "/admin/operations?limit=-1", nil); w.Code != http.StatusBadRequest {
		t.Errorf("negative limit = %d", w.Code)
	}
}

func TestCancelOperation(t *testing.T) {
	env := newTestEnv(t, DefaultServerConfig())
	warmer := &blockingWarmer{started: make(chan struct{})}
	env.withWarmer(warmer)

	id := startWarm(t, env, "/admin/warm/modis/2024-06-01")
	<-warmer.started

	w := env.do(http.MethodDelete, "/admin/operations/"+id, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("DELETE = %d", w.Code)
	}
	if body := decode(t, w); body["status"] != "canceled" {
		t.Errorf("status = %v", body["status"])
	}
	if w := env.do(http.MethodDelete, "/admin/operations/"+id, nil); w.Code != http.StatusNotFound {
		t.Errorf("second DELETE = %d, want 404", w.Code)
	}
}

func TestOperationNotFound(t *testing.T) {
	env := newTestEnv(t, DefaultServerConfig())
	w := env.do(http.MethodGet, "/admin/operations/nope", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("GET = %d", w.Code)
	}
	if body := decode(t, w); body["code"] != "OBJECT_NOT_FOUND" {
		t.Errorf("code = %v", body["code"])
	}
}

func TestShutdownCancelsOperations(t *testing.T) {
	env := newTestEnv(t, DefaultServerConfig())
	warmer := &blockingWarmer{started: make(chan struct{})}
	env.withWarmer(warmer)

	id := startWarm(t, env, "/admin/warm/modis/2024-06-01")
	<-warmer.started

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := env.server.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	op, err := env.operations.GetOperation(id)
	if err != nil {
		t.Fatal(err)
	}
	if op.Status.String() != "canceled" {
		t.Errorf("status = %v, want canceled", op.Status)
	}
}

func TestAdminDisabledWithoutWarmer(t *testing.T) {
	env := newTestEnv(t, DefaultServerConfig())
	env.withWarmer(nil)
	if w := env.do(http.MethodGet, "/admin/operations", nil); w.Code != http.StatusNotFound {
		t.Errorf("GET /admin/operations = %d, want 404", w.Code)
	}
}

// withControls serves the tier and component routes over tiers and a manager
// whose objectstore component has already failed once
func (e *testEnv) withControls(t *testing.T, tiers *cache.TieredCache) *recovery.Manager {
	t.Helper()
	cfg := recovery.DefaultConfig()
	cfg.Retry.MaxAttempts = 1
	m := recovery.NewManager(cfg, nil, nil)
	_ = m.Execute(context.Background(), recovery.ObjectStoreComponent, "FetchRange", func(context.Context) error {
		return errors.NewError(errors.ErrCodeConnectionFailed, "connection refused")
	})
	if !m.IsDegraded(recovery.ObjectStoreComponent) {
		t.Fatal("objectstore should be degraded")
	}

	e.deps.Tiers = tiers
	e.deps.Recovery = m
	e.server = NewServer(DefaultServerConfig(), e.deps)
	return m
}

func TestTierSwitch(t *testing.T) {
	env := newTestEnv(t, DefaultServerConfig())
	tiers := cache.NewTieredCache([]types.TierCache{
		cache.NewMemoryTier("memory", 1<<20, 0.9, nil),
		cache.NewMemoryTier("spare", 1<<20, 0.9, nil),
	})
	env.withControls(t, tiers)

	w := env.do(http.MethodPost, "/admin/tiers/spare/disable", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("POST disable = %d: %s", w.Code, w.Body.String())
	}
	states, _ := decode(t, w)["tiers"].([]interface{})
	if len(states) != 2 {
		t.Fatalf("tiers = %v", states)
	}
	if spare := states[1].(map[string]interface{}); spare["name"] != "spare" || spare["enabled"] != false {
		t.Errorf("spare = %v", spare)
	}
	if got := tiers.Stats().LevelStats; len(got) != 1 {
		t.Errorf("enabled tiers = %v, want memory only", got)
	}

	if w := env.do(http.MethodPost, "/admin/tiers/spare/enable", nil); w.Code != http.StatusOK {
		t.Errorf("POST enable = %d", w.Code)
	}
	w = env.do(http.MethodGet, "/admin/tiers", nil)
	states, _ = decode(t, w)["tiers"].([]interface{})
	for _, st := range states {
		if st.(map[string]interface{})["enabled"] != true {
			t.Errorf("tier %v still disabled", st)
		}
	}

	w = env.do(http.MethodPost, "/admin/tiers/tape/disable", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown tier = %d, want 404", w.Code)
	}
}

func TestRecoverComponent(t *testing.T) {
	env := newTestEnv(t, DefaultServerConfig())
	m := env.withControls(t, cache.NewTieredCache(nil))

	w := env.do(http.MethodGet, "/admin/components", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET components = %d", w.Code)
	}
	degraded, _ := decode(t, w)["degraded"].(map[string]interface{})
	state, _ := degraded[recovery.ObjectStoreComponent].(map[string]interface{})
	if state["code"] != string(errors.ErrCodeConnectionFailed) {
		t.Errorf("degraded = %v", degraded)
	}

	w = env.do(http.MethodPost, "/admin/components/objectstore/recover", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("POST recover = %d: %s", w.Code, w.Body.String())
	}
	if m.IsDegraded(recovery.ObjectStoreComponent) {
		t.Error("objectstore still degraded")
	}
	if w := env.do(http.MethodPost, "/admin/components/objectstore/recover", nil); w.Code != http.StatusBadRequest {
		t.Errorf("second recover = %d, want 400", w.Code)
	}
}

func TestAdminInfoListsControls(t *testing.T) {
	env := newTestEnv(t, DefaultServerConfig())
	env.withControls(t, cache.NewTieredCache(nil))
	env.withWarmer(nil)

	w := env.do(http.MethodGet, "/info", nil)
	endpoints, _ := decode(t, w)["endpoints"].([]interface{})
	listed := make(map[string]bool)
	for _, e := range endpoints {
		listed[e.(string)] = true
	}
	if listed["/admin/operations"] {
		t.Error("operations listed without a warmer")
	}
	if !listed["/admin/tiers"] || !listed["/admin/components/{component}/recover"] {
		t.Errorf("endpoints = %v", endpoints)
	}
	if w := env.do(http.MethodGet, "/admin/operations", nil); w.Code != http.StatusNotFound {
		t.Errorf("GET /admin/operations = %d, want 404", w.Code)
	}
}

func TestParseLevels(t *testing.T) {
	levels, err := parseLevels(" 0, 2 ")
	if err != nil || len(levels) != 2 || levels[0] != 0 || levels[1] != 2 {
		t.Errorf("parseLevels = %v, %v", levels, err)
	}
	if levels, err := parseLevels(""); err != nil || levels != nil {
		t.Errorf("empty = %v, %v", levels, err)
	}
}
