package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/matheus3301/smsinbox/internal/store"
)

// WireMessage is a message as the backend serializes it, both over REST and
// on the realtime channel.
type WireMessage struct {
	MongoID   string    `json:"_id"`
	ID        string    `json:"id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

// Key returns the message identity, preferring the database id.
func (w *WireMessage) Key() string {
	if w.MongoID != "" {
		return w.MongoID
	}
	return w.ID
}

// Message converts w to the stored form.
func (w *WireMessage) Message() store.Message {
	return store.Message{
		ID:        w.Key(),
		From:      w.From,
		To:        w.To,
		Text:      w.Text,
		CreatedAt: w.CreatedAt,
	}
}

type wireContact struct {
	Name   string `json:"name"`
	Number string `json:"number"`
}

func contactsFromWire(in []wireContact) []store.Contact {
	out := make([]store.Contact, 0, len(in))
	for _, c := range in {
		out = append(out, store.Contact{Name: c.Name, Number: c.Number})
	}
	return out
}

// LoginResult carries the credentials returned by a successful login.
type LoginResult struct {
	Token  string
	UserID string
	Name   string
}

// Login exchanges email and password for a bearer token.
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	var resp struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
		Token   string `json:"token"`
		User    struct {
			ID    string `json:"id"`
			OID   string `json:"_id"`
			Name  string `json:"name"`
			Email string `json:"email"`
		} `json:"user"`
	}
	body := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "/auth/login", body, false, &resp); err != nil {
		return nil, err
	}
	if !resp.Success || resp.Token == "" {
		msg := resp.Message
		if msg == "" {
			msg = "Login failed"
		}
		return nil, &RejectedError{Message: msg}
	}
	id := resp.User.ID
	if id == "" {
		id = resp.User.OID
	}
	return &LoginResult{Token: resp.Token, UserID: id, Name: resp.User.Name}, nil
}

// MyNumbers lists the phone numbers owned by the user.
func (c *Client) MyNumbers(ctx context.Context) ([]string, error) {
	var resp struct {
		Numbers []string `json:"numbers"`
	}
	if err := c.get(ctx, "/numbers/my", &resp); err != nil {
		return nil, err
	}
	return resp.Numbers, nil
}

// Contacts returns the user's server-side contact list.
func (c *Client) Contacts(ctx context.Context) ([]store.Contact, error) {
	var resp struct {
		Contacts []wireContact `json:"contacts"`
	}
	if err := c.get(ctx, "/contacts", &resp); err != nil {
		return nil, err
	}
	return contactsFromWire(resp.Contacts), nil
}

// AddContact creates a contact and returns the updated list.
func (c *Client) AddContact(ctx context.Context, name, number string) ([]store.Contact, error) {
	var resp struct {
		Success  bool          `json:"success"`
		Message  string        `json:"message"`
		Contacts []wireContact `json:"contacts"`
	}
	if err := c.post(ctx, "/contacts/add", wireContact{Name: name, Number: number}, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		msg := resp.Message
		if msg == "" {
			msg = "Failed to add contact."
		}
		return nil, &RejectedError{Message: msg}
	}
	return contactsFromWire(resp.Contacts), nil
}

// DeleteContact removes a contact server-side.
func (c *Client) DeleteContact(ctx context.Context, number string) error {
	return c.post(ctx, "/contacts/delete", map[string]string{"number": number}, nil)
}

// Messages returns the full history of account.
func (c *Client) Messages(ctx context.Context, account string) ([]store.Message, error) {
	var resp struct {
		Messages []WireMessage `json:"messages"`
	}
	if err := c.get(ctx, "/messages/"+url.PathEscape(account), &resp); err != nil {
		return nil, err
	}
	out := make([]store.Message, 0, len(resp.Messages))
	for i := range resp.Messages {
		if resp.Messages[i].Key() == "" {
			continue
		}
		out = append(out, resp.Messages[i].Message())
	}
	return out, nil
}

// UnreadCount returns how many messages from contact to account are unread.
func (c *Client) UnreadCount(ctx context.Context, account, contact string) (int, error) {
	q := url.Values{}
	q.Set("number", account)
	q.Set("from", contact)
	var resp struct {
		Count int `json:"count"`
	}
	if err := c.get(ctx, "/messages/unread-count?"+q.Encode(), &resp); err != nil {
		return 0, err
	}
	return max(resp.Count, 0), nil
}

// MarkAsRead zeroes the unread count of contact on account.
func (c *Client) MarkAsRead(ctx context.Context, account, contact string) error {
	return c.post(ctx, "/messages/markAsRead", map[string]string{"from": contact, "to": account}, nil)
}

// SendMessage sends text and returns the stored message. The token travels
// in the body, not in the Authorization header.
func (c *Client) SendMessage(ctx context.Context, from, to, text string) (*store.Message, error) {
	token := c.Token()
	if token == "" {
		return nil, ErrUnauthenticated
	}
	var resp struct {
		Success bool            `json:"success"`
		Message json.RawMessage `json:"message"`
	}
	body := map[string]string{"from": from, "to": to, "text": text, "token": token}
	if err := c.do(ctx, http.MethodPost, "/messages/send", body, false, &resp); err != nil {
		return nil, err
	}

	if !resp.Success {
		var reason string
		if json.Unmarshal(resp.Message, &reason) != nil || reason == "" {
			reason = "Failed to send"
		}
		return nil, &RejectedError{Message: reason}
	}
	var wm WireMessage
	if err := json.Unmarshal(resp.Message, &wm); err != nil || wm.Key() == "" {
		return nil, &NetworkError{Op: "POST /messages/send", Err: fmt.Errorf("response carries no message")}
	}
	m := wm.Message()
	return &m, nil
}
