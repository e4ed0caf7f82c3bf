package api

import (
	"context"
	"errors"
	"time"

	"github.com/matheus3301/smsinbox/internal/backend"
	"github.com/matheus3301/smsinbox/internal/bus"
	"github.com/matheus3301/smsinbox/internal/credential"
	"github.com/matheus3301/smsinbox/internal/inbox"
	"github.com/matheus3301/smsinbox/internal/realtime"
	"github.com/matheus3301/smsinbox/internal/status"
	"github.com/matheus3301/smsinbox/internal/store"
	intsync "github.com/matheus3301/smsinbox/internal/sync"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "inbox.v1.Inbox"

// Method names, as they appear after the service name in the full method path.
const (
	MethodStatus        = "Status"
	MethodLogin         = "Login"
	MethodLogout        = "Logout"
	MethodListAccounts  = "ListAccounts"
	MethodSelectAccount = "SelectAccount"
	MethodListContacts  = "ListContacts"
	MethodSelectContact = "SelectContact"
	MethodThread        = "Thread"
	MethodSendMessage   = "SendMessage"
	MethodAddContact    = "AddContact"
	MethodRemoveContact = "RemoveContact"
	MethodSetFolder     = "SetFolder"
	MethodRefresh       = "Refresh"
	MethodWatchEvents   = "WatchEvents"
)

// FullMethod returns the path used to invoke method.
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// InboxServer is implemented by Service. Requests and responses are
// google.protobuf.Struct messages.
type InboxServer interface {
	Status(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// Authenticator exchanges user credentials for a bearer token.
type Authenticator interface {
	Login(ctx context.Context, email, password string) (*backend.LoginResult, error)
	SetToken(token string)
}

// Deps are the collaborators of the service. Credentials, Auth, Sync and
// Realtime may be nil in tests.
type Deps struct {
	Profile     string
	DB          *store.DB
	Bus         *bus.Bus
	Machine     *status.Machine
	Controller  *inbox.Controller
	Sync        *intsync.Synchronizer
	Checkpoints *intsync.Checkpoints
	Credentials *credential.Store
	Auth        Authenticator
	Realtime    *realtime.Client
	Logger      *zap.Logger
}

// Service implements the daemon control plane.
type Service struct {
	Deps
	engine    *inbox.Engine
	startedAt time.Time
}

// NewService creates the control-plane service.
func NewService(d Deps) *Service {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return &Service{Deps: d, engine: d.Controller.Engine(), startedAt: time.Now()}
}

// Register attaches s to srv.
func Register(srv *grpc.Server, s *Service) {
	srv.RegisterService(&serviceDesc, s)
}

type unaryFunc func(s *Service, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)

func unary(name string, fn unaryFunc) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			s := srv.(*Service)
			if interceptor == nil {
				return fn(s, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return fn(s, ctx, req.(*structpb.Struct))
			})
		},
	}
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*InboxServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(MethodStatus, (*Service).Status),
		unary(MethodLogin, (*Service).Login),
		unary(MethodLogout, (*Service).Logout),
		unary(MethodListAccounts, (*Service).ListAccounts),
		unary(MethodSelectAccount, (*Service).SelectAccount),
		unary(MethodListContacts, (*Service).ListContacts),
		unary(MethodSelectContact, (*Service).SelectContact),
		unary(MethodThread, (*Service).Thread),
		unary(MethodSendMessage, (*Service).SendMessage),
		unary(MethodAddContact, (*Service).AddContact),
		unary(MethodRemoveContact, (*Service).RemoveContact),
		unary(MethodSetFolder, (*Service).SetFolder),
		unary(MethodRefresh, (*Service).Refresh),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    MethodWatchEvents,
			ServerStreams: true,
			Handler: func(srv any, stream grpc.ServerStream) error {
				in := new(structpb.Struct)
				if err := stream.RecvMsg(in); err != nil {
					return err
				}
				return srv.(*Service).WatchEvents(in, stream)
			},
		},
	},
	Metadata: "inbox/v1/inbox.proto",
}

// toStatus maps domain errors to gRPC codes. Server-provided messages are
// passed through unchanged.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case inbox.IsValidation(err):
		return grpcstatus.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, inbox.ErrAlreadyExists):
		return grpcstatus.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, inbox.ErrContactDeleted), errors.Is(err, inbox.ErrUnknownAccount):
		return grpcstatus.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, backend.ErrUnauthenticated):
		return grpcstatus.Error(codes.Unauthenticated, err.Error())
	case backend.IsUnauthorized(err):
		return grpcstatus.Error(codes.Unauthenticated, backend.Message(err))
	case backend.IsRejected(err):
		return grpcstatus.Error(codes.FailedPrecondition, backend.Message(err))
	case backend.IsNetwork(err), errors.Is(err, context.DeadlineExceeded):
		return grpcstatus.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.Canceled):
		return grpcstatus.Error(codes.Canceled, err.Error())
	}
	return grpcstatus.Error(codes.Internal, err.Error())
}

func str(req *structpb.Struct, key string) string {
	if v, ok := req.GetFields()[key]; ok {
		return v.GetStringValue()
	}
	return ""
}

// account returns the account named in req, or the active one.
func (s *Service) account(req *structpb.Struct) (string, error) {
	a := str(req, "account")
	if a == "" {
		a = s.engine.ActiveAccount()
	}
	if a == "" {
		return "", grpcstatus.Error(codes.FailedPrecondition, "no account selected")
	}
	return a, nil
}

func newStruct(m map[string]any) (*structpb.Struct, error) {
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

func ok() (*structpb.Struct, error) {
	return newStruct(map[string]any{"success": true})
}

func anyList(in []string) []any {
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}
