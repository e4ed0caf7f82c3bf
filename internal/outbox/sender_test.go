package outbox

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/smsinbox/internal/bus"
	"github.com/matheus3301/smsinbox/internal/store"
	"go.uber.org/zap"
)

// mockSender records calls and returns configurable results.
type mockSender struct {
	mu    sync.Mutex
	calls []sendCall
	err   error
}

type sendCall struct {
	From string
	To   string
	Text string
}

func (m *mockSender) SendMessage(_ context.Context, from, to, text string) (*store.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, sendCall{From: from, To: to, Text: text})
	if m.err != nil {
		return nil, m.err
	}
	return &store.Message{ID: fmt.Sprintf("srv-%d", len(m.calls)), From: from, To: to, Text: text}, nil
}

func TestSenderPublishesAck(t *testing.T) {
	b := bus.New()
	mock := &mockSender{}
	logger, _ := zap.NewDevelopment()
	s := NewSender(mock, 0, 1, b, nil, logger)

	ch, unsub := b.Subscribe(bus.KindSendAck, 10)
	defer unsub()

	msg, err := s.Send(context.Background(), "+1", "+2", "hello")
	if err != nil {
		t.Fatal(err)
	}
	if msg.ID != "srv-1" {
		t.Errorf("msg id = %q, want srv-1", msg.ID)
	}
	if len(mock.calls) != 1 || mock.calls[0] != (sendCall{From: "+1", To: "+2", Text: "hello"}) {
		t.Errorf("calls = %+v", mock.calls)
	}

	select {
	case evt := <-ch:
		ack, ok := evt.Payload.(Ack)
		if !ok || ack.MsgID != "srv-1" || ack.RequestID == "" {
			t.Errorf("payload = %#v", evt.Payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for send_ack event")
	}
}

func TestSenderHandlesFailure(t *testing.T) {
	b := bus.New()
	mock := &mockSender{err: fmt.Errorf("Invalid destination number")}
	s := NewSender(mock, 0, 1, b, nil, nil)

	ch, unsub := b.Subscribe(bus.KindSendFailed, 10)
	defer unsub()

	_, err := s.Send(context.Background(), "+1", "+2", "hello")
	if err == nil || err.Error() != "Invalid destination number" {
		t.Fatalf("err = %v, want the backend message unchanged", err)
	}

	select {
	case evt := <-ch:
		f, ok := evt.Payload.(Failure)
		if !ok || f.Error != "Invalid destination number" {
			t.Errorf("payload = %#v", evt.Payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for send_failed event")
	}
}

func TestSenderPacesBursts(t *testing.T) {
	mock := &mockSender{}
	s := NewSender(mock, 20, 1, bus.New(), nil, nil)

	start := time.Now()
	for i := range 3 {
		if _, err := s.Send(context.Background(), "+1", "+2", fmt.Sprint(i)); err != nil {
			t.Fatal(err)
		}
	}
	// One token up front, then one every 50ms.
	if elapsed := time.Since(start); elapsed < 90*time.Millisecond {
		t.Errorf("3 sends took %v, want them paced", elapsed)
	}
}

func TestSenderCancelledWhileWaiting(t *testing.T) {
	mock := &mockSender{}
	s := NewSender(mock, 0.001, 1, bus.New(), nil, nil)

	if _, err := s.Send(context.Background(), "+1", "+2", "first"); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := s.Send(ctx, "+1", "+2", "second"); err == nil {
		t.Fatal("expected error while waiting for a slot")
	}
	if len(mock.calls) != 1 {
		t.Errorf("got %d backend calls, want 1", len(mock.calls))
	}
}
