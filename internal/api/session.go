package api

import (
	"context"
	"time"

	"github.com/matheus3301/smsinbox/internal/credential"
	"github.com/matheus3301/smsinbox/internal/status"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// Status reports daemon state, the current status line and store totals.
func (s *Service) Status(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	notice, noticeAt := s.Machine.Notice()
	resp := map[string]any{
		"profile":        s.Profile,
		"state":          string(s.Machine.Current()),
		"notice":         notice,
		"accounts":       anyList(s.engine.Accounts()),
		"active_account": s.engine.ActiveAccount(),
		"uptime_seconds": float64(time.Since(s.startedAt) / time.Second),
		"logged_in":      s.loggedIn(),
		"events_dropped": float64(s.Bus.Dropped()),
	}
	if !noticeAt.IsZero() {
		resp["notice_at"] = noticeAt.UTC().Format(time.RFC3339)
	}
	if s.Realtime != nil {
		resp["realtime_connected"] = s.Realtime.Connected()
	}
	if s.DB != nil {
		if n, err := s.DB.MessageCount(); err == nil {
			resp["message_count"] = float64(n)
		}
		if n, err := s.DB.ContactCount(); err == nil {
			resp["contact_count"] = float64(n)
		}
	}
	if s.Checkpoints != nil {
		synced := map[string]any{}
		for _, a := range s.engine.Accounts() {
			at, err := s.Checkpoints.Last(a)
			if err != nil || at.IsZero() {
				continue
			}
			synced[a] = at.UTC().Format(time.RFC3339)
		}
		resp["last_sync"] = synced
	}
	return newStruct(resp)
}

func (s *Service) loggedIn() bool {
	if s.Credentials == nil {
		return false
	}
	_, err := s.Credentials.Load()
	return err == nil
}

// Login exchanges email and password for a token, stores it for the
// profile and starts a full refresh.
func (s *Service) Login(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.Auth == nil || s.Credentials == nil {
		return nil, grpcstatus.Error(codes.Unimplemented, "login is not available")
	}
	email, password := str(req, "email"), str(req, "password")
	if email == "" || password == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "email and password are required")
	}

	res, err := s.Auth.Login(ctx, email, password)
	if err != nil {
		s.Logger.Warn("login failed", zap.Error(err))
		return nil, toStatus(err)
	}
	if err := s.Credentials.Save(credential.Credentials{Token: res.Token, UserID: res.UserID}); err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "store credentials: %v", err)
	}
	s.Auth.SetToken(res.Token)
	s.Logger.Info("logged in", zap.String("user_id", res.UserID))
	if s.Sync != nil {
		s.Sync.Trigger("")
	}
	return newStruct(map[string]any{
		"success": true,
		"user_id": res.UserID,
		"name":    res.Name,
	})
}

// Logout forgets the stored token. Local conversation data is kept.
func (s *Service) Logout(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if s.Credentials != nil {
		if err := s.Credentials.Clear(); err != nil {
			return nil, grpcstatus.Errorf(codes.Internal, "clear credentials: %v", err)
		}
	}
	if s.Auth != nil {
		s.Auth.SetToken("")
	}
	if err := s.Machine.Transition(status.AuthRequired); err != nil {
		s.Logger.Debug("status transition skipped", zap.Error(err))
	}
	s.Logger.Info("logged out")
	return ok()
}
