package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/matheus3301/smsinbox/internal/backend"
	"github.com/matheus3301/smsinbox/internal/bus"
	"github.com/matheus3301/smsinbox/internal/inbox"
	"github.com/matheus3301/smsinbox/internal/metrics"
	"github.com/matheus3301/smsinbox/internal/store"
)

const (
	acct   = "+15551230000"
	friend = "+15559998888"
)

func testEngine(t *testing.T, b *bus.Bus) *inbox.Engine {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	e := inbox.NewEngine(db, nil, b, nil, nil, nil)
	if err := e.SetAccounts(context.Background(), []string{acct}); err != nil {
		t.Fatal(err)
	}
	return e
}

func push(id, from, to, text string) backend.WireMessage {
	return backend.WireMessage{MongoID: id, From: from, To: to, Text: text, CreatedAt: time.Now()}
}

func TestOnMessageDropsNotAddressed(t *testing.T) {
	b := bus.New()
	m := metrics.New()
	br := NewBridge(testEngine(t, b), nil, b, m, nil)

	if _, applied := br.OnMessage(push("x", friend, "+19990000000", "hi")); applied {
		t.Error("message for a foreign number was applied")
	}
	thread, err := br.engine.Conversations.ThreadWith("+19990000000", friend)
	if err != nil {
		t.Fatal(err)
	}
	if len(thread) != 0 {
		t.Errorf("got %d messages, want 0", len(thread))
	}
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "smsinbox_realtime_not_addressed_total 1") {
		t.Error("not-addressed drop was not counted")
	}
}

func TestOnMessageCountsUnread(t *testing.T) {
	b := bus.New()
	br := NewBridge(testEngine(t, b), nil, b, nil, nil)

	r, applied := br.OnMessage(push("m1", friend, acct, "hi"))
	if !applied || r.Unread != 1 {
		t.Fatalf("receipt = %+v, applied = %v", r, applied)
	}
	if len(r.Discovered) != 1 || r.Discovered[0] != friend {
		t.Errorf("discovered = %v", r.Discovered)
	}

	// Same message again, e.g. after a reconnect.
	if _, applied := br.OnMessage(push("m1", friend, acct, "hi")); applied {
		t.Error("duplicate applied")
	}
	n, err := br.engine.Unread.Get(acct, friend)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("unread = %d, want 1", n)
	}
}

func TestOnMessageOpenThreadNotifies(t *testing.T) {
	b := bus.New()
	e := testEngine(t, b)
	br := NewBridge(e, nil, b, nil, nil)
	if err := e.SelectContact(context.Background(), acct, friend); err != nil {
		t.Fatal(err)
	}
	ch, unsub := b.Subscribe(bus.KindNotification, 4)
	defer unsub()

	if _, applied := br.OnMessage(push("m1", friend, acct, "hello there")); !applied {
		t.Fatal("not applied")
	}

	select {
	case evt := <-ch:
		n, ok := evt.Payload.(Notification)
		if !ok || n.Text != "hello there" || n.From != friend {
			t.Errorf("payload = %#v", evt.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for notification")
	}
	if n, _ := e.Unread.Get(acct, friend); n != 0 {
		t.Errorf("unread = %d, want 0 on the open thread", n)
	}
}

func TestOnMessageWithoutID(t *testing.T) {
	b := bus.New()
	br := NewBridge(testEngine(t, b), nil, b, nil, nil)
	if _, applied := br.OnMessage(backend.WireMessage{From: friend, To: acct, Text: "?"}); applied {
		t.Error("message without id applied")
	}
}

// pushServer accepts one websocket, records the frames the client sends and
// pushes msg once the client has joined.
func pushServer(t *testing.T, msg backend.WireMessage, frames chan<- Frame) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Error(err)
			return
		}
		defer func() { _ = c.CloseNow() }()
		ctx := r.Context()

		for range 2 {
			var f Frame
			if err := wsjson.Read(ctx, c, &f); err != nil {
				return
			}
			frames <- f
		}
		data, _ := json.Marshal(msg)
		if err := wsjson.Write(ctx, c, Frame{Event: "new_message", Data: data}); err != nil {
			return
		}
		for {
			var f Frame
			if err := wsjson.Read(ctx, c, &f); err != nil {
				return
			}
			frames <- f
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestBridgeEndToEnd(t *testing.T) {
	b := bus.New()
	e := testEngine(t, b)
	frames := make(chan Frame, 8)
	url := pushServer(t, push("m1", friend, acct, "over the wire"), frames)

	appended, unsub := b.Subscribe(bus.KindMessageAppended, 4)
	defer unsub()

	client := NewClient(url, func() string { return "user-1" }, b, nil)
	br := NewBridge(e, client, b, nil, nil)
	br.Start(context.Background())
	defer br.Stop()

	want := []Frame{
		{Event: "register", Data: json.RawMessage(`"user-1"`)},
		{Event: "join", Data: json.RawMessage(`"` + acct + `"`)},
	}
	for _, w := range want {
		select {
		case f := <-frames:
			if f.Event != w.Event || string(f.Data) != string(w.Data) {
				t.Errorf("frame = %s %s, want %s %s", f.Event, f.Data, w.Event, w.Data)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timeout waiting for %s", w.Event)
		}
	}

	select {
	case <-appended:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for message.appended")
	}
	thread, err := e.Conversations.ThreadWith(acct, friend)
	if err != nil {
		t.Fatal(err)
	}
	if len(thread) != 1 || thread[0].Text != "over the wire" {
		t.Errorf("thread = %+v", thread)
	}
}

// recordServer accepts websockets and records every frame clients send. The
// first connection is closed after dropAfter frames; zero keeps it open.
func recordServer(t *testing.T, dropAfter int, frames chan<- Frame) string {
	t.Helper()
	var conns atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Error(err)
			return
		}
		defer func() { _ = c.CloseNow() }()
		first := conns.Add(1) == 1

		for n := 1; ; n++ {
			var f Frame
			if err := wsjson.Read(r.Context(), c, &f); err != nil {
				return
			}
			frames <- f
			if first && n == dropAfter {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func expectFrames(t *testing.T, frames <-chan Frame, want ...Frame) {
	t.Helper()
	for _, w := range want {
		select {
		case f := <-frames:
			if f.Event != w.Event || string(f.Data) != string(w.Data) {
				t.Fatalf("frame = %s %s, want %s %s", f.Event, f.Data, w.Event, w.Data)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timeout waiting for %s %s", w.Event, w.Data)
		}
	}
}

func frame(event, data string) Frame {
	return Frame{Event: event, Data: json.RawMessage(`"` + data + `"`)}
}

func fastClient(url string, b *bus.Bus) *Client {
	c := NewClient(url, func() string { return "user-1" }, b, nil)
	c.newBackOff = func() backoff.BackOff { return backoff.NewConstantBackOff(10 * time.Millisecond) }
	return c
}

func TestBridgeJoinsAddedAccount(t *testing.T) {
	const second = "+15554440000"
	b := bus.New()
	e := testEngine(t, b)
	frames := make(chan Frame, 16)
	client := fastClient(recordServer(t, 0, frames), b)
	br := NewBridge(e, client, b, nil, nil)
	br.Start(context.Background())
	defer br.Stop()

	expectFrames(t, frames, frame("register", "user-1"), frame("join", acct))

	if err := e.SetAccounts(context.Background(), []string{acct, second}); err != nil {
		t.Fatal(err)
	}
	// Every owned account is joined again, the existing one included.
	expectFrames(t, frames, frame("join", acct), frame("join", second))
	if !client.Connected() {
		t.Error("client dropped the connection while rejoining")
	}
}

func TestClientRejoinsAfterReconnect(t *testing.T) {
	const second = "+15554440000"
	b := bus.New()
	e := testEngine(t, b)
	if err := e.SetAccounts(context.Background(), []string{acct, second}); err != nil {
		t.Fatal(err)
	}
	connected, unsub := b.Subscribe(bus.KindRealtimeConnected, 4)
	defer unsub()

	frames := make(chan Frame, 16)
	client := fastClient(recordServer(t, 3, frames), b)
	br := NewBridge(e, client, b, nil, nil)
	br.Start(context.Background())
	defer br.Stop()

	handshake := []Frame{frame("register", "user-1"), frame("join", acct), frame("join", second)}
	expectFrames(t, frames, handshake...)
	// The server hangs up after the handshake; the client must redo all of it.
	expectFrames(t, frames, handshake...)

	for i := range 2 {
		select {
		case <-connected:
		case <-time.After(2 * time.Second):
			t.Fatalf("connection %d not announced", i+1)
		}
	}
}
