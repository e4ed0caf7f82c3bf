package api

import (
	"context"
	"time"

	"github.com/matheus3301/smsinbox/internal/inbox"
	"github.com/matheus3301/smsinbox/internal/store"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

func (s *Service) ListAccounts(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	return newStruct(map[string]any{
		"accounts": anyList(s.engine.Accounts()),
		"active":   s.engine.ActiveAccount(),
	})
}

func (s *Service) SelectAccount(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	account := str(req, "account")
	if account == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "account is required")
	}
	if err := s.Controller.SelectAccount(ctx, account); err != nil {
		return nil, toStatus(err)
	}
	return newStruct(map[string]any{
		"active":  account,
		"contact": s.engine.ActiveContact(account),
	})
}

// ListContacts returns the visible contact list of one folder.
func (s *Service) ListContacts(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	account, err := s.account(req)
	if err != nil {
		return nil, err
	}
	folder, valid := store.ParseFolder(str(req, "folder"))
	if !valid {
		return nil, grpcstatus.Errorf(codes.InvalidArgument, "unknown folder %q", str(req, "folder"))
	}
	entries, err := s.Controller.VisibleContacts(account, folder, str(req, "search"))
	if err != nil {
		return nil, toStatus(err)
	}

	active := s.engine.ActiveContact(account)
	list := make([]any, 0, len(entries))
	for _, e := range entries {
		list = append(list, map[string]any{
			"number":     e.Number,
			"name":       e.Name,
			"folder":     string(e.Folder),
			"unread":     float64(e.Unread),
			"discovered": e.Discovered,
			"active":     e.Number == active,
		})
	}
	return newStruct(map[string]any{
		"account":  account,
		"folder":   string(folder),
		"contacts": list,
	})
}

// SelectContact opens the thread with contact. An empty contact closes it.
func (s *Service) SelectContact(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	account, err := s.account(req)
	if err != nil {
		return nil, err
	}
	contact := str(req, "contact")
	if err := s.Controller.SelectContact(ctx, account, contact); err != nil {
		return nil, toStatus(err)
	}
	return newStruct(map[string]any{"account": account, "contact": contact})
}

// Thread returns the conversation with contact, or with the open thread
// when no contact is given.
func (s *Service) Thread(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	account, err := s.account(req)
	if err != nil {
		return nil, err
	}
	contact := str(req, "contact")
	if contact == "" {
		contact = s.engine.ActiveContact(account)
	}
	if contact == "" {
		return nil, grpcstatus.Error(codes.FailedPrecondition, "no contact selected")
	}
	msgs, err := s.Controller.Thread(account, contact)
	if err != nil {
		return nil, toStatus(err)
	}
	list := make([]any, 0, len(msgs))
	for i := range msgs {
		list = append(list, messageMap(&msgs[i]))
	}
	return newStruct(map[string]any{
		"account":  account,
		"contact":  contact,
		"messages": list,
	})
}

func (s *Service) SendMessage(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	account, err := s.account(req)
	if err != nil {
		return nil, err
	}
	to := str(req, "contact")
	if to == "" {
		to = s.engine.ActiveContact(account)
	}
	msg, err := s.Controller.SendMessage(ctx, account, to, str(req, "text"))
	if err != nil {
		return nil, toStatus(err)
	}
	return newStruct(map[string]any{"success": true, "message": messageMap(msg)})
}

func (s *Service) AddContact(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	account, err := s.account(req)
	if err != nil {
		return nil, err
	}
	c, err := s.Controller.AddContact(ctx, account, str(req, "name"), str(req, "number"))
	if err != nil {
		return nil, toStatus(err)
	}
	return newStruct(map[string]any{
		"success": true,
		"contact": map[string]any{"number": c.Number, "name": c.Name},
	})
}

func (s *Service) RemoveContact(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	account, err := s.account(req)
	if err != nil {
		return nil, err
	}
	if err := s.Controller.RemoveContact(ctx, account, str(req, "number")); err != nil {
		return nil, toStatus(err)
	}
	notice, _ := s.Machine.Notice()
	return newStruct(map[string]any{
		"success": true,
		"active":  s.engine.ActiveContact(account),
		"notice":  notice,
	})
}

// SetFolder applies one of archive, unarchive, favorite or unfavorite.
func (s *Service) SetFolder(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	account, err := s.account(req)
	if err != nil {
		return nil, err
	}
	number := str(req, "number")
	switch inbox.FolderAction(str(req, "action")) {
	case inbox.ActionArchive:
		err = s.Controller.Archive(ctx, account, number)
	case inbox.ActionUnarchive:
		err = s.Controller.Unarchive(ctx, account, number)
	case inbox.ActionFavorite:
		err = s.Controller.Favorite(ctx, account, number)
	case inbox.ActionUnfavorite:
		err = s.Controller.Unfavorite(ctx, account, number)
	default:
		return nil, grpcstatus.Errorf(codes.InvalidArgument, "unknown action %q", str(req, "action"))
	}
	if err != nil {
		return nil, toStatus(err)
	}
	return ok()
}

// Refresh reloads one account, or everything when no account is given.
func (s *Service) Refresh(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.Sync == nil {
		return nil, grpcstatus.Error(codes.Unavailable, "sync is not running")
	}
	if err := s.Sync.Refresh(ctx, str(req, "account")); err != nil {
		return nil, toStatus(err)
	}
	return ok()
}

func messageMap(m *store.Message) map[string]any {
	out := map[string]any{
		"id":   m.ID,
		"from": m.From,
		"to":   m.To,
		"text": m.Text,
	}
	if !m.CreatedAt.IsZero() {
		out["created_at"] = m.CreatedAt.UTC().Format(time.RFC3339)
	}
	return out
}
