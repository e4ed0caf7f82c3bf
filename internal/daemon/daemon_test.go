package daemon

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/99designs/keyring"
	"github.com/matheus3301/smsinbox/internal/api"
	"github.com/matheus3301/smsinbox/internal/client"
	"github.com/matheus3301/smsinbox/internal/config"
	"github.com/matheus3301/smsinbox/internal/lock"
	"github.com/matheus3301/smsinbox/internal/profile"
	"github.com/matheus3301/smsinbox/internal/status"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	testAccount = "+15551230000"
	testFriend  = "+15559998888"
)

// fakeBackend answers the REST calls a full refresh makes.
func fakeBackend(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	reply := func(w http.ResponseWriter, v any) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(v)
	}
	authed := func(h http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer tok-1" {
				w.WriteHeader(http.StatusUnauthorized)
				reply(w, map[string]any{"success": false, "message": "Unauthorized"})
				return
			}
			h(w, r)
		}
	}
	mux.HandleFunc("POST /api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		reply(w, map[string]any{
			"success": true,
			"token":   "tok-1",
			"user":    map[string]any{"_id": "u-1", "name": "Ana"},
		})
	})
	mux.HandleFunc("GET /api/numbers/my", authed(func(w http.ResponseWriter, r *http.Request) {
		reply(w, map[string]any{"numbers": []string{testAccount}})
	}))
	mux.HandleFunc("GET /api/contacts", authed(func(w http.ResponseWriter, r *http.Request) {
		reply(w, map[string]any{"contacts": []map[string]string{{"name": "Bob", "number": testFriend}}})
	}))
	mux.HandleFunc("GET /api/messages/unread-count", authed(func(w http.ResponseWriter, r *http.Request) {
		reply(w, map[string]any{"count": 2})
	}))
	mux.HandleFunc("GET /api/messages/{account}", authed(func(w http.ResponseWriter, r *http.Request) {
		reply(w, map[string]any{"messages": []map[string]string{
			{"_id": "m1", "from": testFriend, "to": testAccount, "text": "hello", "createdAt": "2024-06-01T10:00:00.000Z"},
		}})
	}))
	mux.HandleFunc("POST /api/messages/markAsRead", authed(func(w http.ResponseWriter, r *http.Request) {
		reply(w, map[string]any{"success": true})
	}))
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func startDaemon(t *testing.T, backendURL string) *fx.App {
	t.Helper()
	// Use a short path to avoid macOS 104-char Unix socket limit.
	home, err := os.MkdirTemp("/tmp", "inbox-test-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(home) })
	t.Setenv("SMSINBOX_HOME", home)

	cfg := config.Default()
	cfg.BackendURL = backendURL + "/api"
	cfg.RealtimeURL = "ws://127.0.0.1:1/ws"
	cfg.PollInterval = config.Duration{Duration: time.Hour}

	app := fx.New(
		Module(Params{
			Profile: "test",
			Config:  cfg,
			Keyring: keyring.NewArrayKeyring(nil),
			Logger:  zap.NewNop(),
		}),
		fx.NopLogger,
	)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := app.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = app.Stop(ctx)
	})
	return app
}

func dial(t *testing.T) *client.Client {
	t.Helper()
	c, err := client.New(profile.SocketPath("test"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// waitFor polls method until check accepts the response.
func waitFor(t *testing.T, c *client.Client, method string, req map[string]any, check func(map[string]any) bool) map[string]any {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	var last map[string]any
	for time.Now().Before(deadline) {
		resp, err := c.Call(context.Background(), method, req)
		if err == nil {
			last = resp.AsMap()
			if check(last) {
				return last
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("%s never matched, last response %v", method, last)
	return nil
}

func TestDaemonLifecycle(t *testing.T) {
	be := fakeBackend(t)
	startDaemon(t, be.URL)
	c := dial(t)

	// Nothing stored for the profile, so the first refresh asks for a login.
	waitFor(t, c, api.MethodStatus, nil, func(m map[string]any) bool {
		return m["state"] == string(status.AuthRequired)
	})

	resp, err := c.Call(context.Background(), api.MethodLogin, map[string]any{"email": "a@b.c", "password": "pw"})
	if err != nil {
		t.Fatalf("Login error = %v", err)
	}
	if resp.AsMap()["user_id"] != "u-1" {
		t.Errorf("user_id = %v", resp.AsMap()["user_id"])
	}

	st := waitFor(t, c, api.MethodStatus, nil, func(m map[string]any) bool {
		return m["state"] == string(status.Ready)
	})
	if st["active_account"] != testAccount {
		t.Errorf("active_account = %v, want %s", st["active_account"], testAccount)
	}
	if st["logged_in"] != true {
		t.Error("expected logged_in = true")
	}

	contacts, err := c.Call(context.Background(), api.MethodListContacts, nil)
	if err != nil {
		t.Fatalf("ListContacts error = %v", err)
	}
	list := contacts.AsMap()["contacts"].([]any)
	if len(list) != 1 || list[0].(map[string]any)["name"] != "Bob" {
		t.Fatalf("contacts = %v", list)
	}

	thread, err := c.Call(context.Background(), api.MethodThread, map[string]any{"contact": testFriend})
	if err != nil {
		t.Fatalf("Thread error = %v", err)
	}
	if msgs := thread.AsMap()["messages"].([]any); len(msgs) != 1 {
		t.Errorf("expected 1 message, got %d", len(msgs))
	}
}

func TestDaemonHoldsProfileLock(t *testing.T) {
	be := fakeBackend(t)
	startDaemon(t, be.URL)

	_, err := lock.Acquire(profile.LockPath("test"), "test")
	if _, ok := err.(*lock.LockHeldError); !ok {
		t.Fatalf("Acquire() error = %v, want *LockHeldError", err)
	}
}
