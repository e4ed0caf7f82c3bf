package inbox

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/matheus3301/smsinbox/internal/bus"
	"github.com/matheus3301/smsinbox/internal/metrics"
	"github.com/matheus3301/smsinbox/internal/status"
	"github.com/matheus3301/smsinbox/internal/store"
	"go.uber.org/zap"
)

const (
	stateActiveAccount = "selection.active_account"
	stateContactPrefix = "selection.contact."
)

// ReadMarker mirrors a local mark-as-read to the backend so other sessions see it.
type ReadMarker interface {
	MarkAsRead(ctx context.Context, account, contact string) error
}

// Ticket is taken when a snapshot fetch starts. Results are applied only if
// nothing newer touched the same scope in the meantime.
type Ticket struct {
	Account string
	Seq     uint64
}

// Receipt describes what a realtime message did to the stores.
type Receipt struct {
	Message    store.Message
	Inserted   bool
	Open       bool // arrived on the thread the user is looking at
	Unread     int
	Discovered []string
}

// accountState serializes mutations of one account and carries its
// monotonic sequence. Every mutation takes the next sequence number.
type accountState struct {
	mu          sync.Mutex
	seq         uint64
	contactsSeq uint64
	messagesSeq uint64
	unreadSeq   map[string]uint64
}

func (st *accountState) next() uint64 {
	st.seq++
	return st.seq
}

// Engine coordinates the per-account stores. It is the only writer of
// contacts, messages and unread counters, and it owns the selection state.
type Engine struct {
	db            *store.DB
	Overrides     *OverrideStore
	Conversations *ConversationStore
	Directory     *ContactDirectory
	Unread        *UnreadTracker

	marker  ReadMarker
	bus     *bus.Bus
	machine *status.Machine
	metrics *metrics.Metrics
	logger  *zap.Logger

	mu            sync.Mutex
	states        map[string]*accountState
	owned         []string
	activeAccount string
	activeContact map[string]string
}

// NewEngine wires the stores over db. marker, machine and m may be nil.
func NewEngine(db *store.DB, marker ReadMarker, b *bus.Bus, machine *status.Machine, m *metrics.Metrics, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	overrides := NewOverrideStore(db)
	return &Engine{
		db:            db,
		Overrides:     overrides,
		Conversations: NewConversationStore(db),
		Directory:     NewContactDirectory(db, overrides),
		Unread:        NewUnreadTracker(db, overrides),
		marker:        marker,
		bus:           b,
		machine:       machine,
		metrics:       m,
		logger:        logger,
		states:        make(map[string]*accountState),
		activeContact: make(map[string]string),
	}
}

// Restore loads owned accounts and the persisted selection from the database.
func (e *Engine) Restore() error {
	accounts, err := e.db.ListAccounts()
	if err != nil {
		return fmt.Errorf("load accounts: %w", err)
	}
	active, _, err := e.db.GetState(stateActiveAccount)
	if err != nil {
		return fmt.Errorf("load selection: %w", err)
	}
	contacts := make(map[string]string, len(accounts))
	for _, a := range accounts {
		c, ok, err := e.db.GetState(stateContactPrefix + a)
		if err != nil {
			return fmt.Errorf("load selection: %w", err)
		}
		if ok && c != "" {
			contacts[a] = c
		}
	}

	e.mu.Lock()
	e.owned = accounts
	e.activeContact = contacts
	if slices.Contains(accounts, active) {
		e.activeAccount = active
	} else if len(accounts) > 0 {
		e.activeAccount = accounts[0]
	}
	e.mu.Unlock()

	e.logger.Info("engine restored", zap.Int("accounts", len(accounts)), zap.String("active", e.ActiveAccount()))
	return nil
}

func (e *Engine) state(account string) *accountState {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.states[account]
	if !ok {
		st = &accountState{unreadSeq: make(map[string]uint64)}
		e.states[account] = st
	}
	return st
}

// Begin issues a ticket for a snapshot fetch of account.
func (e *Engine) Begin(account string) Ticket {
	st := e.state(account)
	st.mu.Lock()
	defer st.mu.Unlock()
	return Ticket{Account: account, Seq: st.next()}
}

// SetAccounts replaces the owned accounts wholesale. If the active account is
// no longer owned, the first account becomes active.
func (e *Engine) SetAccounts(ctx context.Context, accounts []string) error {
	clean := make([]string, 0, len(accounts))
	for _, a := range accounts {
		a = strings.TrimSpace(a)
		if a != "" && !slices.Contains(clean, a) {
			clean = append(clean, a)
		}
	}
	if err := e.db.ReplaceAccounts(clean); err != nil {
		return fmt.Errorf("replace accounts: %w", err)
	}

	e.mu.Lock()
	e.owned = clean
	prev := e.activeAccount
	switch {
	case slices.Contains(clean, e.activeAccount):
	case len(clean) > 0:
		e.activeAccount = clean[0]
	default:
		// Nothing owned, so nothing can stay selected.
		e.activeAccount = ""
	}
	active := e.activeAccount
	e.mu.Unlock()

	e.bus.Emit(bus.KindAccountsChanged, slices.Clone(clean))
	if active != prev {
		e.persist(stateActiveAccount, active)
		e.bus.Emit(bus.KindAccountSelected, active)
		if active == "" {
			return nil
		}
		if c := e.ActiveContact(active); c != "" {
			e.markRead(ctx, active, c)
		}
	}
	return nil
}

// Accounts returns the owned accounts in server order.
func (e *Engine) Accounts() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.owned)
}

// Owns reports whether number is one of the user's accounts.
func (e *Engine) Owns(number string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Contains(e.owned, number)
}

func (e *Engine) ActiveAccount() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.activeAccount
}

// ActiveContact returns the remembered contact of account, empty if none.
func (e *Engine) ActiveContact(account string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.activeContact[account]
}

// IsOpenThread reports whether contact's thread is on screen: its account is
// active and it is that account's selected contact.
func (e *Engine) IsOpenThread(account, contact string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return contact != "" && e.activeAccount == account && e.activeContact[account] == contact
}

// SelectAccount makes account active and reopens its remembered thread.
func (e *Engine) SelectAccount(ctx context.Context, account string) error {
	if !e.Owns(account) {
		return ErrUnknownAccount
	}
	e.mu.Lock()
	changed := e.activeAccount != account
	e.activeAccount = account
	contact := e.activeContact[account]
	e.mu.Unlock()

	if changed {
		e.persist(stateActiveAccount, account)
		e.bus.Emit(bus.KindAccountSelected, account)
	}
	if contact != "" {
		e.markRead(ctx, account, contact)
	}
	return nil
}

// SelectContact remembers contact as account's active contact. An empty
// contact clears the selection. Opening a thread marks it read.
func (e *Engine) SelectContact(ctx context.Context, account, contact string) error {
	if !e.Owns(account) {
		return ErrUnknownAccount
	}
	e.mu.Lock()
	if contact == "" {
		delete(e.activeContact, account)
	} else {
		e.activeContact[account] = contact
	}
	active := e.activeAccount == account
	e.mu.Unlock()

	e.persist(stateContactPrefix+account, contact)
	if active && contact != "" {
		e.markRead(ctx, account, contact)
	}
	return nil
}

// markRead zeroes the counter locally, then mirrors it to the backend. The
// local reset stands even if the backend call fails.
func (e *Engine) markRead(ctx context.Context, account, contact string) {
	st := e.state(account)
	st.mu.Lock()
	err := e.Unread.Reset(account, contact)
	st.unreadSeq[contact] = st.next()
	st.mu.Unlock()
	if err != nil {
		e.logger.Error("reset unread failed", zap.Error(err), zap.String("account", account), zap.String("contact", contact))
		return
	}
	e.bus.Emit(bus.KindUnreadChanged, UnreadChange{Account: account, Contact: contact, Count: 0})

	if e.marker == nil {
		return
	}
	if err := e.marker.MarkAsRead(ctx, account, contact); err != nil {
		e.logger.Warn("mark as read not mirrored", zap.Error(err), zap.String("account", account), zap.String("contact", contact))
		e.machine.SetNotice("Could not sync read state with the server.")
	}
}

// UnreadChange is the payload of unread.changed events.
type UnreadChange struct {
	Account string
	Contact string
	Count   int
}

// ApplyContacts installs a contacts snapshot taken under t. It is dropped if a
// newer snapshot or a local contact mutation landed after t was issued.
func (e *Engine) ApplyContacts(ctx context.Context, t Ticket, contacts []store.Contact) (bool, error) {
	st := e.state(t.Account)
	st.mu.Lock()
	if st.contactsSeq > t.Seq {
		st.mu.Unlock()
		e.metrics.StaleSnapshot("contacts")
		e.logger.Info("stale contacts snapshot dropped", zap.String("account", t.Account), zap.Uint64("ticket", t.Seq), zap.Uint64("current", st.contactsSeq))
		return false, nil
	}
	err := e.Directory.SetExplicit(t.Account, contacts)
	if err == nil {
		st.contactsSeq = t.Seq
	}
	st.mu.Unlock()
	if err != nil {
		return false, err
	}

	e.bus.Emit(bus.KindContactsChanged, t.Account)
	e.autoSelect(ctx, t.Account)
	return true, nil
}

// ClearContacts empties the server list after a failed fetch, unless newer data arrived.
func (e *Engine) ClearContacts(t Ticket) (bool, error) {
	st := e.state(t.Account)
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.contactsSeq > t.Seq {
		return false, nil
	}
	if err := e.db.ClearContacts(t.Account); err != nil {
		return false, err
	}
	st.contactsSeq = t.Seq
	e.bus.Emit(bus.KindContactsChanged, t.Account)
	return true, nil
}

// AdoptContacts installs a contact list returned by a user action; it
// supersedes every snapshot already in flight.
func (e *Engine) AdoptContacts(account string, contacts []store.Contact) error {
	st := e.state(account)
	st.mu.Lock()
	err := e.Directory.SetExplicit(account, contacts)
	st.contactsSeq = st.next()
	st.mu.Unlock()
	if err != nil {
		return err
	}
	e.bus.Emit(bus.KindContactsChanged, account)
	return nil
}

// AddContact appends a validated contact to the account's list.
func (e *Engine) AddContact(account string, c store.Contact) (store.Contact, error) {
	st := e.state(account)
	st.mu.Lock()
	added, err := e.Directory.AddExplicit(account, c)
	if err == nil {
		st.contactsSeq = st.next()
	}
	st.mu.Unlock()
	if err != nil {
		return store.Contact{}, err
	}
	e.bus.Emit(bus.KindContactsChanged, account)
	return added, nil
}

// RemoveContact deletes number and moves the selection off it if needed.
func (e *Engine) RemoveContact(ctx context.Context, account, number string) error {
	st := e.state(account)
	st.mu.Lock()
	err := e.Directory.Remove(account, number)
	if err == nil {
		st.contactsSeq = st.next()
	}
	st.mu.Unlock()
	if err != nil {
		return err
	}
	e.bus.Emit(bus.KindContactsChanged, account)

	if e.ActiveContact(account) != number {
		return nil
	}
	next := ""
	remaining, err := e.Directory.List(account)
	if err != nil {
		return err
	}
	if len(remaining) > 0 {
		next = remaining[0].Number
	}
	return e.SelectContact(ctx, account, next)
}

// SetFolder applies a folder action. Archiving the selected contact clears the selection.
func (e *Engine) SetFolder(ctx context.Context, account, number string, action FolderAction) error {
	st := e.state(account)
	st.mu.Lock()
	var err error
	switch action {
	case ActionArchive:
		err = e.Overrides.Archive(account, number)
	case ActionUnarchive:
		err = e.Overrides.Unarchive(account, number)
	case ActionFavorite:
		err = e.Overrides.Favorite(account, number)
	case ActionUnfavorite:
		err = e.Overrides.Unfavorite(account, number)
	default:
		err = fmt.Errorf("unknown folder action %q", action)
	}
	st.next()
	st.mu.Unlock()
	if err != nil {
		return err
	}
	e.bus.Emit(bus.KindContactsChanged, account)

	if action == ActionArchive && e.ActiveContact(account) == number {
		return e.SelectContact(ctx, account, "")
	}
	return nil
}

// FolderAction names a user folder operation.
type FolderAction string

const (
	ActionArchive    FolderAction = "archive"
	ActionUnarchive  FolderAction = "unarchive"
	ActionFavorite   FolderAction = "favorite"
	ActionUnfavorite FolderAction = "unfavorite"
)

// autoSelect picks the first contact when the account has none selected yet.
func (e *Engine) autoSelect(ctx context.Context, account string) {
	if e.ActiveContact(account) != "" {
		return
	}
	contacts, err := e.Directory.List(account)
	if err != nil || len(contacts) == 0 {
		return
	}
	if err := e.SelectContact(ctx, account, contacts[0].Number); err != nil {
		e.logger.Warn("auto-select failed", zap.Error(err), zap.String("account", account))
	}
}

// ApplyMessages appends a batch idempotently and runs discovery over the
// messages that were actually new. Returns the inserted messages.
func (e *Engine) ApplyMessages(account string, msgs []store.Message, source string) ([]store.Message, error) {
	st := e.state(account)
	st.mu.Lock()
	var inserted []store.Message
	var discovered []string
	for i := range msgs {
		m := msgs[i]
		ok, err := e.Conversations.Append(account, &m)
		if err != nil {
			st.mu.Unlock()
			return inserted, err
		}
		if !ok {
			e.metrics.MessageDuplicate(source)
			continue
		}
		st.messagesSeq = st.next()
		e.metrics.MessageAppended(source)
		inserted = append(inserted, m)
	}
	for i := range inserted {
		found, err := e.Directory.DiscoverFromMessage(account, &inserted[i])
		if err != nil {
			st.mu.Unlock()
			return inserted, err
		}
		discovered = append(discovered, found...)
	}
	st.mu.Unlock()

	for _, m := range inserted {
		e.bus.Emit(bus.KindMessageAppended, m)
	}
	e.announceDiscovered(account, discovered)
	return inserted, nil
}

// ClearMessages empties the account's messages after a failed fetch, unless a
// message was appended after t was issued.
func (e *Engine) ClearMessages(t Ticket) (bool, error) {
	st := e.state(t.Account)
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.messagesSeq > t.Seq {
		return false, nil
	}
	if err := e.Conversations.Clear(t.Account); err != nil {
		return false, err
	}
	return true, nil
}

// Receive applies one realtime message addressed to account. Duplicates have
// no side effects. A new message on the open thread is not counted as unread.
func (e *Engine) Receive(account string, m store.Message) (Receipt, error) {
	st := e.state(account)
	st.mu.Lock()
	ok, err := e.Conversations.Append(account, &m)
	if err != nil || !ok {
		st.mu.Unlock()
		if err == nil {
			e.metrics.MessageDuplicate("realtime")
		}
		return Receipt{Message: m}, err
	}
	st.messagesSeq = st.next()
	e.metrics.MessageAppended("realtime")

	r := Receipt{Message: m, Inserted: true}
	r.Discovered, err = e.Directory.DiscoverFromMessage(account, &m)
	if err != nil {
		st.mu.Unlock()
		return r, err
	}
	r.Open = e.IsOpenThread(account, m.From)
	if !r.Open {
		r.Unread, err = e.Unread.Increment(account, m.From)
		st.unreadSeq[m.From] = st.next()
	}
	st.mu.Unlock()
	if err != nil {
		return r, err
	}

	e.bus.Emit(bus.KindMessageAppended, m)
	e.announceDiscovered(account, r.Discovered)
	if !r.Open {
		e.bus.Emit(bus.KindUnreadChanged, UnreadChange{Account: account, Contact: m.From, Count: r.Unread})
	}
	return r, nil
}

// ApplyUnread merges a complete unread snapshot taken under t. Counters
// touched after t are kept; the open thread always stays at zero.
func (e *Engine) ApplyUnread(t Ticket, counts map[string]int) (map[string]int, error) {
	st := e.state(t.Account)
	st.mu.Lock()
	merged := make(map[string]int, len(counts))
	for contact, n := range counts {
		if st.unreadSeq[contact] > t.Seq {
			e.metrics.StaleSnapshot("unread")
			continue
		}
		if e.IsOpenThread(t.Account, contact) {
			n = 0
		}
		merged[contact] = n
		st.unreadSeq[contact] = t.Seq
	}
	err := e.Unread.RefreshFromBackend(t.Account, merged)
	st.mu.Unlock()
	if err != nil {
		return nil, err
	}
	for contact, n := range merged {
		e.bus.Emit(bus.KindUnreadChanged, UnreadChange{Account: t.Account, Contact: contact, Count: n})
	}
	return merged, nil
}

func (e *Engine) announceDiscovered(account string, numbers []string) {
	for _, n := range numbers {
		e.metrics.ContactDiscovered()
		e.bus.Emit(bus.KindContactDiscovered, store.Contact{Account: account, Number: n, Name: n, Discovered: true})
	}
}

func (e *Engine) persist(key, value string) {
	if err := e.db.PutState(key, value); err != nil {
		e.logger.Warn("persist selection failed", zap.Error(err), zap.String("key", key))
	}
}
