package inbox

import (
	"context"
	"errors"
	"slices"
	"strings"

	"github.com/matheus3301/smsinbox/internal/status"
	"github.com/matheus3301/smsinbox/internal/store"
	"go.uber.org/zap"
)

// ContactBackend is the server side of the contact list.
type ContactBackend interface {
	AddContact(ctx context.Context, name, number string) ([]store.Contact, error)
	DeleteContact(ctx context.Context, number string) error
}

// MessageSender hands a message to the backend and returns what it stored.
type MessageSender interface {
	Send(ctx context.Context, from, to, text string) (*store.Message, error)
}

// Controller serves user actions on top of the engine.
type Controller struct {
	engine   *Engine
	contacts ContactBackend
	sender   MessageSender
	machine  *status.Machine
	logger   *zap.Logger
}

func NewController(engine *Engine, contacts ContactBackend, sender MessageSender, machine *status.Machine, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		engine:   engine,
		contacts: contacts,
		sender:   sender,
		machine:  machine,
		logger:   logger,
	}
}

func (c *Controller) Engine() *Engine { return c.engine }

// SelectAccount switches the active account. The account's remembered
// contact becomes the open thread again.
func (c *Controller) SelectAccount(ctx context.Context, account string) error {
	return c.engine.SelectAccount(ctx, account)
}

func (c *Controller) SelectContact(ctx context.Context, account, contact string) error {
	return c.engine.SelectContact(ctx, account, contact)
}

// VisibleContacts returns the contacts of account in folder whose name or
// number contains search, annotated with their unread counts.
func (c *Controller) VisibleContacts(account string, folder store.Folder, search string) ([]Entry, error) {
	contacts, err := c.engine.Directory.List(account)
	if err != nil {
		return nil, err
	}
	fs, err := c.engine.Overrides.State(account)
	if err != nil {
		return nil, err
	}
	unread, err := c.engine.Unread.Counts(account)
	if err != nil {
		return nil, err
	}
	return FilterContacts(contacts, fs, unread, folder, search), nil
}

// Thread returns the conversation between account and contact.
func (c *Controller) Thread(account, contact string) ([]store.Message, error) {
	return c.engine.Conversations.ThreadWith(account, contact)
}

// SendMessage sends text from account to contact. The stored message is
// appended only once the backend has accepted it; a failure leaves local
// state untouched and is returned as-is.
func (c *Controller) SendMessage(ctx context.Context, account, contact, text string) (*store.Message, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &ValidationError{Field: "text", Err: ErrEmptyText}
	}
	if !c.engine.Owns(account) {
		return nil, ErrUnknownAccount
	}
	contact = strings.TrimSpace(contact)
	if contact == "" {
		return nil, &ValidationError{Field: "to", Err: ErrInvalidNumber}
	}

	msg, err := c.sender.Send(ctx, account, contact, text)
	if err != nil {
		c.machine.SetNotice(err.Error())
		return nil, err
	}
	if msg.From == "" {
		msg.From = account
	}
	if msg.To == "" {
		msg.To = contact
	}
	if _, err := c.engine.ApplyMessages(account, []store.Message{*msg}, "send"); err != nil {
		c.logger.Error("store sent message failed", zap.Error(err), zap.String("msg_id", msg.ID))
		return msg, err
	}
	return msg, nil
}

// AddContact validates the contact locally, creates it on the server and
// opens its thread.
func (c *Controller) AddContact(ctx context.Context, account, name, number string) (store.Contact, error) {
	if !c.engine.Owns(account) {
		return store.Contact{}, ErrUnknownAccount
	}
	contact, err := c.engine.Directory.Prepare(account, name, number)
	if err != nil {
		return store.Contact{}, err
	}

	if c.contacts != nil {
		list, err := c.contacts.AddContact(ctx, contact.Name, contact.Number)
		if err != nil {
			c.machine.SetNotice(err.Error())
			return store.Contact{}, err
		}
		if err := c.engine.AdoptContacts(account, list); err != nil {
			return store.Contact{}, err
		}
	}

	known, err := c.engine.Directory.List(account)
	if err != nil {
		return store.Contact{}, err
	}
	if !slices.ContainsFunc(known, func(k store.Contact) bool { return k.Number == contact.Number }) {
		if contact, err = c.engine.AddContact(account, contact); err != nil {
			return store.Contact{}, err
		}
	}

	if err := c.engine.SelectContact(ctx, account, contact.Number); err != nil {
		return contact, err
	}
	return contact, nil
}

// RemoveContact deletes number from account for good, then asks the server to
// forget it. A server failure is reported but the local delete stands.
func (c *Controller) RemoveContact(ctx context.Context, account, number string) error {
	if !c.engine.Owns(account) {
		return ErrUnknownAccount
	}
	if err := c.engine.RemoveContact(ctx, account, number); err != nil {
		return err
	}
	if c.contacts == nil {
		return nil
	}
	if err := c.contacts.DeleteContact(ctx, number); err != nil {
		c.logger.Warn("server delete failed", zap.Error(err), zap.String("account", account), zap.String("number", number))
		c.machine.SetNotice("Contact removed here but the server delete failed.")
	}
	return nil
}

func (c *Controller) Archive(ctx context.Context, account, number string) error {
	return c.folder(ctx, account, number, ActionArchive)
}

func (c *Controller) Unarchive(ctx context.Context, account, number string) error {
	return c.folder(ctx, account, number, ActionUnarchive)
}

func (c *Controller) Favorite(ctx context.Context, account, number string) error {
	return c.folder(ctx, account, number, ActionFavorite)
}

func (c *Controller) Unfavorite(ctx context.Context, account, number string) error {
	return c.folder(ctx, account, number, ActionUnfavorite)
}

func (c *Controller) folder(ctx context.Context, account, number string, action FolderAction) error {
	if !c.engine.Owns(account) {
		return ErrUnknownAccount
	}
	number = strings.TrimSpace(number)
	if number == "" {
		return &ValidationError{Field: "number", Err: ErrInvalidNumber}
	}
	return c.engine.SetFolder(ctx, account, number, action)
}

// IsValidation reports whether err was raised by local input checks.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
