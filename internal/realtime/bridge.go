package realtime

import (
	"context"
	"sync"

	"github.com/matheus3301/smsinbox/internal/backend"
	"github.com/matheus3301/smsinbox/internal/bus"
	"github.com/matheus3301/smsinbox/internal/inbox"
	"github.com/matheus3301/smsinbox/internal/metrics"
	"go.uber.org/zap"
)

// Notification is raised for a new message on the thread the user is reading.
type Notification struct {
	Account string
	From    string
	Text    string
}

// Bridge applies pushed messages to the engine. Calls to OnMessage never
// interleave.
type Bridge struct {
	engine  *inbox.Engine
	client  *Client
	bus     *bus.Bus
	metrics *metrics.Metrics
	logger  *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewBridge(engine *inbox.Engine, client *Client, b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{engine: engine, client: client, bus: b, metrics: m, logger: logger}
}

// OnMessage applies one pushed message. Messages for numbers the user does
// not own are dropped. Duplicates have no side effects.
func (br *Bridge) OnMessage(m backend.WireMessage) (inbox.Receipt, bool) {
	br.mu.Lock()
	defer br.mu.Unlock()

	if m.To == "" || !br.engine.Owns(m.To) {
		br.metrics.NotAddressed()
		br.logger.Debug("push message not addressed to us", zap.String("to", m.To))
		return inbox.Receipt{}, false
	}
	if m.Key() == "" {
		br.logger.Warn("push message without id", zap.String("to", m.To))
		return inbox.Receipt{}, false
	}

	r, err := br.engine.Receive(m.To, m.Message())
	if err != nil {
		br.logger.Error("apply push message failed", zap.Error(err), zap.String("msg_id", m.Key()))
		return r, false
	}
	if !r.Inserted {
		return r, false
	}
	if r.Open {
		br.metrics.Notified()
		br.bus.Emit(bus.KindNotification, Notification{Account: m.To, From: m.From, Text: m.Text})
	}
	return r, true
}

// Subscribe makes the push channel follow accounts.
func (br *Bridge) Subscribe(ctx context.Context, accounts []string) {
	if br.client != nil {
		br.client.SetAccounts(ctx, accounts)
	}
}

// Start runs the push connection and keeps its joined accounts in step with
// the owned accounts.
func (br *Bridge) Start(ctx context.Context) {
	ctx, br.cancel = context.WithCancel(ctx)
	br.done = make(chan struct{})
	changes, unsub := br.bus.Subscribe(bus.KindAccountsChanged, 16)
	br.Subscribe(ctx, br.engine.Accounts())

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer unsub()
		for {
			select {
			case evt := <-changes:
				if accounts, ok := evt.Payload.([]string); ok {
					br.Subscribe(ctx, accounts)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	go func() {
		defer wg.Done()
		if br.client == nil {
			return
		}
		br.client.Run(ctx, func(_ context.Context, m backend.WireMessage) {
			br.OnMessage(m)
		})
	}()
	go func() {
		wg.Wait()
		close(br.done)
	}()
}

// Stop closes the push connection and waits for the goroutines to exit.
func (br *Bridge) Stop() {
	if br.cancel != nil {
		br.cancel()
		<-br.done
	}
}
