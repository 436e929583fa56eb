package daemon

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nestmate/chatsync/internal/config"
	"github.com/nestmate/chatsync/internal/lock"
	"github.com/nestmate/chatsync/internal/session"
	"go.uber.org/fx"
	"nhooyr.io/websocket"
)

// fakeBackend serves the minimal REST surface plus the push endpoint.
func fakeBackend(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/realtime", func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		for {
			if _, _, err := conn.Read(r.Context()); err != nil {
				return
			}
		}
	})
	mux.HandleFunc("/api/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if strings.HasSuffix(r.URL.Path, "/unread") {
			_ = json.NewEncoder(w).Encode(map[string]int{})
			return
		}
		_ = json.NewEncoder(w).Encode([]any{})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestDaemonLifecycle(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)

	backend := fakeBackend(t)
	cfgPath := filepath.Join(tmpDir, "config.toml")
	if err := config.Save(cfgPath, &config.Config{
		ServerURL:            backend.URL,
		AuthToken:            "token",
		ReconnectBaseDelayMS: 10,
		ReconnectMaxAttempts: 2,
	}); err != nil {
		t.Fatal(err)
	}

	app := fx.New(
		Module(Params{UserID: "testuser", ConfigPath: cfgPath}),
		fx.NopLogger,
	)

	startCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		t.Fatalf("app start: %v", err)
	}

	// The started daemon must hold the user lock.
	if _, err := lock.Acquire(session.Dir("testuser"), "testuser"); err == nil {
		t.Fatal("expected user lock to be held while daemon runs")
	}

	stopCtx, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel2()
	if err := app.Stop(stopCtx); err != nil {
		t.Fatalf("app stop: %v", err)
	}

	// After stop the lock must be free again.
	l, err := lock.Acquire(session.Dir("testuser"), "testuser")
	if err != nil {
		t.Fatalf("lock still held after stop: %v", err)
	}
	_ = l.Release()
}

func TestModuleFailsOnMissingConfig(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)

	app := fx.New(
		Module(Params{UserID: "testuser", ConfigPath: filepath.Join(tmpDir, "nope.toml")}),
		fx.NopLogger,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := app.Start(ctx); err == nil {
		_ = app.Stop(context.Background())
		t.Fatal("expected start to fail without config")
	}
}
