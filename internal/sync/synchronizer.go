package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/matheus3301/smsinbox/internal/backend"
	"github.com/matheus3301/smsinbox/internal/bus"
	"github.com/matheus3301/smsinbox/internal/inbox"
	"github.com/matheus3301/smsinbox/internal/metrics"
	"github.com/matheus3301/smsinbox/internal/status"
	"github.com/matheus3301/smsinbox/internal/store"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Backend is the read side of the REST API.
type Backend interface {
	Token() string
	MyNumbers(ctx context.Context) ([]string, error)
	Contacts(ctx context.Context) ([]store.Contact, error)
	Messages(ctx context.Context, account string) ([]store.Message, error)
	UnreadCount(ctx context.Context, account, contact string) (int, error)
}

// Options tunes the synchronizer.
type Options struct {
	PollInterval      time.Duration
	UnreadConcurrency int
}

// Synchronizer pulls baseline state from the backend and reconciles it into
// the engine. Every load takes a ticket before its request goes out, so a
// response that lost a race against newer local state is not applied.
type Synchronizer struct {
	engine      *inbox.Engine
	backend     Backend
	checkpoints *Checkpoints
	bus         *bus.Bus
	machine     *status.Machine
	metrics     *metrics.Metrics
	logger      *zap.Logger
	opts        Options

	trigger chan string
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSynchronizer creates a synchronizer. Call Start to run the poll loop.
func NewSynchronizer(engine *inbox.Engine, be Backend, cp *Checkpoints, b *bus.Bus, machine *status.Machine, m *metrics.Metrics, logger *zap.Logger, opts Options) *Synchronizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Minute
	}
	if opts.UnreadConcurrency <= 0 {
		opts.UnreadConcurrency = 8
	}
	return &Synchronizer{
		engine:      engine,
		backend:     be,
		checkpoints: cp,
		bus:         b,
		machine:     machine,
		metrics:     m,
		logger:      logger,
		opts:        opts,
		trigger:     make(chan string, 8),
	}
}

// LoadAccounts replaces the owned accounts with the server's list. On
// failure the list is emptied.
func (s *Synchronizer) LoadAccounts(ctx context.Context) ([]string, error) {
	numbers, err := s.backend.MyNumbers(ctx)
	if err != nil {
		s.failed("accounts", "", err, "Could not load your numbers.")
		numbers = nil
	}
	if setErr := s.engine.SetAccounts(ctx, numbers); setErr != nil {
		return nil, setErr
	}
	return s.engine.Accounts(), err
}

// LoadContacts fetches the server's contact list for account.
func (s *Synchronizer) LoadContacts(ctx context.Context, account string) error {
	t := s.engine.Begin(account)
	contacts, err := s.backend.Contacts(ctx)
	if err != nil {
		s.failed("contacts", account, err, "Could not load contacts.")
		if _, clearErr := s.engine.ClearContacts(t); clearErr != nil {
			return clearErr
		}
		return err
	}
	if _, err := s.engine.ApplyContacts(ctx, t, contacts); err != nil {
		return fmt.Errorf("apply contacts: %w", err)
	}
	return nil
}

// LoadMessages fetches the full history of account and appends what is new.
// Discovery runs over the new messages only.
func (s *Synchronizer) LoadMessages(ctx context.Context, account string) error {
	t := s.engine.Begin(account)
	msgs, err := s.backend.Messages(ctx, account)
	if err != nil {
		s.failed("messages", account, err, "Could not load messages.")
		if _, clearErr := s.engine.ClearMessages(t); clearErr != nil {
			return clearErr
		}
		return err
	}
	inserted, err := s.engine.ApplyMessages(account, msgs, "snapshot")
	if err != nil {
		return fmt.Errorf("apply messages: %w", err)
	}
	s.logger.Debug("messages loaded",
		zap.String("account", account),
		zap.Int("fetched", len(msgs)),
		zap.Int("new", len(inserted)),
	)
	return nil
}

// LoadUnreadCounts queries the unread count of every known contact
// concurrently and merges the complete batch at once. A failed query counts
// as zero.
func (s *Synchronizer) LoadUnreadCounts(ctx context.Context, account string) error {
	t := s.engine.Begin(account)
	contacts, err := s.engine.Directory.List(account)
	if err != nil {
		return err
	}

	results := make([]int, len(contacts))
	var g errgroup.Group
	g.SetLimit(s.opts.UnreadConcurrency)
	for i, c := range contacts {
		g.Go(func() error {
			n, err := s.backend.UnreadCount(ctx, account, c.Number)
			if err != nil {
				return fmt.Errorf("unread count %s: %w", c.Number, err)
			}
			results[i] = n
			return nil
		})
	}
	fetchErr := g.Wait()
	if fetchErr != nil {
		s.failed("unread", account, fetchErr, "Could not load unread counts.")
	}

	counts := make(map[string]int, len(contacts))
	for i, c := range contacts {
		counts[c.Number] = results[i]
	}
	if _, err := s.engine.ApplyUnread(t, counts); err != nil {
		return fmt.Errorf("apply unread: %w", err)
	}
	return fetchErr
}

// RefreshAccount reloads contacts and messages of account, then its unread
// counts, which depend on the contact list.
func (s *Synchronizer) RefreshAccount(ctx context.Context, account string) error {
	var g errgroup.Group
	g.Go(func() error { return s.LoadContacts(ctx, account) })
	g.Go(func() error { return s.LoadMessages(ctx, account) })
	err := g.Wait()
	if uerr := s.LoadUnreadCounts(ctx, account); err == nil {
		err = uerr
	}
	if err == nil && s.checkpoints != nil {
		if cerr := s.checkpoints.Mark(account, time.Now()); cerr != nil {
			s.logger.Warn("checkpoint failed", zap.Error(cerr), zap.String("account", account))
		}
	}
	return err
}

// RefreshAll reloads the account list and every account.
func (s *Synchronizer) RefreshAll(ctx context.Context) error {
	if s.backend.Token() == "" {
		s.transition(status.AuthRequired)
		return backend.ErrUnauthenticated
	}
	if cur := s.machine.Current(); cur == status.Booting || cur == status.AuthRequired {
		s.transition(status.Connecting)
	}
	s.transition(status.Syncing)

	start := time.Now()
	accounts, err := s.LoadAccounts(ctx)
	if err == nil {
		var g errgroup.Group
		g.SetLimit(4)
		for _, a := range accounts {
			g.Go(func() error { return s.RefreshAccount(ctx, a) })
		}
		err = g.Wait()
	}

	switch {
	case backend.IsUnauthorized(err):
		s.transition(status.AuthRequired)
	case err != nil:
		s.transition(status.Degraded)
	default:
		s.transition(status.Ready)
		s.machine.SetNotice("")
	}
	s.logger.Info("refresh finished",
		zap.Int("accounts", len(accounts)),
		zap.Duration("elapsed", time.Since(start)),
		zap.Bool("ok", err == nil),
	)
	s.bus.Emit(bus.KindSyncCompleted, SyncResult{Accounts: accounts, Err: errString(err)})
	return err
}

// SyncResult is the payload of sync.completed events.
type SyncResult struct {
	Accounts []string
	Err      string
}

// Refresh runs a refresh now. An empty account refreshes everything.
func (s *Synchronizer) Refresh(ctx context.Context, account string) error {
	if account == "" {
		return s.RefreshAll(ctx)
	}
	if !s.engine.Owns(account) {
		return inbox.ErrUnknownAccount
	}
	return s.RefreshAccount(ctx, account)
}

// Trigger schedules a refresh of account on the poll loop without waiting.
func (s *Synchronizer) Trigger(account string) {
	select {
	case s.trigger <- account:
	default:
	}
}

// Start runs an initial refresh, then refreshes every poll interval and
// whenever an account becomes active.
func (s *Synchronizer) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	selected, unsub := s.bus.Subscribe(bus.KindAccountSelected, 16)

	go func() {
		defer close(s.done)
		defer unsub()

		_ = s.RefreshAll(ctx)
		ticker := time.NewTicker(s.opts.PollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				_ = s.RefreshAll(ctx)
			case evt := <-selected:
				if account, ok := evt.Payload.(string); ok && account != "" {
					s.refreshOne(ctx, account)
				}
			case account := <-s.trigger:
				if account == "" {
					_ = s.RefreshAll(ctx)
				} else {
					s.refreshOne(ctx, account)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop cancels the loop and waits for it to exit.
func (s *Synchronizer) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}

func (s *Synchronizer) refreshOne(ctx context.Context, account string) {
	if err := s.RefreshAccount(ctx, account); err != nil {
		s.logger.Warn("account refresh failed", zap.Error(err), zap.String("account", account))
	}
}

func (s *Synchronizer) failed(scope, account string, err error, notice string) {
	s.metrics.FetchFailed(scope)
	s.logger.Warn("fetch failed",
		zap.String("scope", scope),
		zap.String("account", account),
		zap.Error(err),
	)
	s.machine.SetNotice(notice)
}

func (s *Synchronizer) transition(to status.State) {
	if err := s.machine.Transition(to); err != nil {
		s.logger.Debug("status transition skipped", zap.Error(err))
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
