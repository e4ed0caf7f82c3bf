package outbox

import (
	"context"

	"github.com/google/uuid"
	"github.com/matheus3301/smsinbox/internal/bus"
	"github.com/matheus3301/smsinbox/internal/metrics"
	"github.com/matheus3301/smsinbox/internal/store"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// TextSender is the backend call that delivers a message.
type TextSender interface {
	SendMessage(ctx context.Context, from, to, text string) (*store.Message, error)
}

// Ack is published once the backend has accepted a message.
type Ack struct {
	RequestID string
	Account   string
	To        string
	MsgID     string
}

// Failure is published when the backend refused or could not be reached.
type Failure struct {
	RequestID string
	Account   string
	To        string
	Error     string
}

// Sender paces outbound messages and reports their outcome on the bus.
// It never touches the conversation store; the caller appends on success.
type Sender struct {
	backend TextSender
	limiter *rate.Limiter
	bus     *bus.Bus
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewSender creates a sender allowing perSecond messages with the given burst.
func NewSender(be TextSender, perSecond float64, burst int, b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) *Sender {
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	if burst < 1 {
		burst = 1
	}
	return &Sender{
		backend: be,
		limiter: rate.NewLimiter(limit, burst),
		bus:     b,
		metrics: m,
		logger:  logger,
	}
}

// Send waits for a slot, then sends text from account to to. Errors are
// returned unchanged so the backend's message reaches the user verbatim.
func (s *Sender) Send(ctx context.Context, from, to, text string) (*store.Message, error) {
	reqID := uuid.NewString()
	if err := s.limiter.Wait(ctx); err != nil {
		s.fail(reqID, from, to, err)
		return nil, err
	}

	msg, err := s.backend.SendMessage(ctx, from, to, text)
	if err != nil {
		s.fail(reqID, from, to, err)
		return nil, err
	}

	s.metrics.Sent("ok")
	s.logger.Info("message sent",
		zap.String("request_id", reqID),
		zap.String("account", from),
		zap.String("to", to),
		zap.String("msg_id", msg.ID),
	)
	s.bus.Emit(bus.KindSendAck, Ack{RequestID: reqID, Account: from, To: to, MsgID: msg.ID})
	return msg, nil
}

func (s *Sender) fail(reqID, from, to string, err error) {
	s.metrics.Sent("failed")
	s.logger.Error("failed to send message",
		zap.Error(err),
		zap.String("request_id", reqID),
		zap.String("account", from),
		zap.String("to", to),
	)
	s.bus.Emit(bus.KindSendFailed, Failure{RequestID: reqID, Account: from, To: to, Error: err.Error()})
}
