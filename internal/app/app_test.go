package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dokzlo13/sunddc/internal/config"
	"github.com/dokzlo13/sunddc/internal/db"
	"github.com/dokzlo13/sunddc/internal/ddc"
	"github.com/dokzlo13/sunddc/internal/ledger"
	"github.com/dokzlo13/sunddc/internal/settings"
)

type fakeDaemon struct {
	running, active bool
}

func (f fakeDaemon) Running() bool { return f.running }
func (f fakeDaemon) Active() bool  { return f.active }

func TestRouter_Endpoints(t *testing.T) {
	tests := []struct {
		name   string
		daemon fakeDaemon
		path   string
		status int
		body   string
	}{
		{name: "health", path: "/health", status: http.StatusOK, body: `"healthy"`},
		{name: "ready", daemon: fakeDaemon{running: true, active: true}, path: "/ready", status: http.StatusOK, body: `"transition":true`},
		{name: "not ready", path: "/ready", status: http.StatusServiceUnavailable, body: `"not ready"`},
		{name: "metrics", path: "/metrics", status: http.StatusOK, body: "sunddc_"},
		{name: "unknown", path: "/nope", status: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			newRouter(tt.daemon).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))

			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
			if tt.body != "" && !strings.Contains(rec.Body.String(), tt.body) {
				t.Errorf("body %q does not contain %q", rec.Body.String(), tt.body)
			}
		})
	}
}

func TestRouter_ReadyIsJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	newRouter(fakeDaemon{running: true}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if body["status"] != "ready" || body["transition"] != false {
		t.Errorf("body = %v", body)
	}
}

// stubRunner pretends no monitor is attached.
type stubRunner struct{}

func (stubRunner) Run(ctx context.Context, path string, args []string) (string, error) {
	return "No displays found.", nil
}

func newTestDaemonService(t *testing.T, mutate func(*config.Config)) (*DaemonService, *settings.Store) {
	t.Helper()
	cfg := config.Default()
	startup := false
	cfg.Refresh.OnStartup = &startup
	if mutate != nil {
		mutate(cfg)
	}

	database, err := db.Open(filepath.Join(t.TempDir(), "app.sqlite"))
	if err != nil {
		t.Fatalf("db.Open: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	store := settings.NewStore(database.DB)
	if err := store.Seed(cfg.Defaults); err != nil {
		t.Fatalf("Seed: %v", err)
	}

	control := ddc.NewWithPath("/usr/bin/ddcutil", cfg.DDC.MaxTries, stubRunner{})
	svc, err := NewDaemonService(cfg, store, control, ledger.Nop{}, nil)
	if err != nil {
		t.Fatalf("NewDaemonService: %v", err)
	}
	return svc, store
}

func TestDaemonService_ReloadOnPreferenceChange(t *testing.T) {
	svc, store := newTestDaemonService(t, nil)
	ctx := context.Background()

	svc.mu.Lock()
	if err := svc.startLocked(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	first := svc.handle
	svc.mu.Unlock()
	defer svc.Stop()

	if !svc.Running() {
		t.Fatal("daemon not running after start")
	}

	// Internal keys only update the running handle
	if err := store.Set(settings.KeyCachedSunrise, "06:10"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	svc.onChange(ctx, []string{settings.KeyCachedSunrise})
	if svc.handle != first || svc.reloads != 0 {
		t.Fatal("internal key change reinitialized the daemon")
	}

	if err := store.Set(settings.KeyMaxBrightness, 80); err != nil {
		t.Fatalf("Set: %v", err)
	}
	svc.onChange(ctx, []string{settings.KeyMaxBrightness})

	if svc.handle == first || svc.reloads != 1 {
		t.Fatal("preference change did not reinitialize the daemon")
	}
	select {
	case <-first.Done():
	default:
		t.Error("previous handle still running after reload")
	}
	if !svc.Running() {
		t.Error("daemon not running after reload")
	}
}

func TestDaemonService_WatcherTriggersReload(t *testing.T) {
	svc, store := newTestDaemonService(t, func(c *config.Config) {
		c.Changes.PollInterval = config.Duration(10 * time.Millisecond)
	})

	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := store.Set(settings.KeyEnabled, false); err != nil {
		t.Fatalf("Set: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		svc.mu.Lock()
		n := svc.reloads
		svc.mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	svc.Stop()
	if svc.reloads == 0 {
		t.Error("watcher did not reload the daemon")
	}
	if svc.Running() {
		t.Error("daemon still running after Stop")
	}

	// Stop is idempotent and reload after stop is a no-op
	svc.Stop()
	if err := svc.Reload(context.Background()); err != nil || svc.Running() {
		t.Errorf("Reload after Stop: err=%v running=%v", err, svc.Running())
	}
}

func TestNewDaemonService_InvalidCron(t *testing.T) {
	cfg := config.Default()
	cfg.Refresh.Cron = "every day at three"
	if _, err := NewDaemonService(cfg, nil, nil, nil, nil); err == nil {
		t.Error("expected error for invalid cron expression")
	}
}
