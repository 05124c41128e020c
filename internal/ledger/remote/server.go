package remote

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"certledger.org/internal/auth"
	"certledger.org/internal/ledger"
)

// Server exposes a Registry as certledger.v1.Registry.
type Server struct {
	reg ledger.Registry
}

var _ RegistryServer = (*Server)(nil)

func NewServer(reg ledger.Registry) *Server { return &Server{reg: reg} }

// NewGRPCServer builds a grpc.Server carrying the registry and the standard health service.
// Mutating calls take their caller from a verified bearer token, see UnaryAuth.
func NewGRPCServer(reg ledger.Registry, log logrus.FieldLogger, opts ...grpc.ServerOption) (*grpc.Server, *health.Server) {
	opts = append(opts, grpc.ChainUnaryInterceptor(UnaryLogger(log), UnaryAuth()))
	s := grpc.NewServer(opts...)
	RegisterRegistryServer(s, NewServer(reg))

	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(s, hs)
	return s, hs
}

func (s *Server) Owner(ctx context.Context, _ *OwnerRequest) (*OwnerResponse, error) {
	owner, err := s.reg.Owner(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return &OwnerResponse{Owner: owner}, nil
}

func (s *Server) Authorize(ctx context.Context, in *IdentityRequest) (*EventResponse, error) {
	caller, err := callerFromIncoming(ctx)
	if err != nil {
		return nil, err
	}
	evt, err := s.reg.Authorize(ctx, caller, in.Identity)
	if err != nil {
		return nil, toStatus(err)
	}
	return &EventResponse{Event: evt}, nil
}

func (s *Server) Revoke(ctx context.Context, in *IdentityRequest) (*EventResponse, error) {
	caller, err := callerFromIncoming(ctx)
	if err != nil {
		return nil, err
	}
	evt, err := s.reg.Revoke(ctx, caller, in.Identity)
	if err != nil {
		return nil, toStatus(err)
	}
	return &EventResponse{Event: evt}, nil
}

func (s *Server) Issue(ctx context.Context, in *IssueRequest) (*IssueResponse, error) {
	caller, err := callerFromIncoming(ctx)
	if err != nil {
		return nil, err
	}
	rcpt, err := s.reg.Issue(ctx, caller, in.Hash, in.BlobRef)
	if err != nil {
		return nil, toStatus(err)
	}
	return &IssueResponse{Receipt: rcpt}, nil
}

func (s *Server) Lookup(ctx context.Context, in *LookupRequest) (*LookupResponse, error) {
	rec, ok, err := s.reg.Lookup(ctx, in.Hash)
	if err != nil {
		return nil, toStatus(err)
	}
	if !ok {
		return &LookupResponse{}, nil
	}
	return &LookupResponse{Found: true, Record: &rec}, nil
}

func (s *Server) IsTrusted(ctx context.Context, in *IdentityRequest) (*TrustedResponse, error) {
	ok, err := s.reg.IsTrusted(ctx, in.Identity)
	if err != nil {
		return nil, toStatus(err)
	}
	return &TrustedResponse{Trusted: ok}, nil
}

func (s *Server) Events(ctx context.Context, in *EventsRequest) (*EventsResponse, error) {
	events, next, err := s.reg.Events(ctx, in.After, in.Limit)
	if err != nil {
		return nil, toStatus(err)
	}
	return &EventsResponse{Events: events, Next: next}, nil
}

// UnaryAuth verifies the bearer token, when present, and attaches its subject
// as the caller. Calls without a token pass through anonymously; mutating
// handlers reject them in callerFromIncoming.
func UnaryAuth() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		md, _ := metadata.FromIncomingContext(ctx)
		vals := md.Get(AuthHeader)
		if len(vals) == 0 {
			return handler(ctx, req)
		}
		token, ok := bearerToken(vals[0])
		if !ok {
			return nil, status.Error(codes.Unauthenticated, "malformed "+AuthHeader)
		}
		claims, err := auth.ParseAndValidate(token)
		if err != nil {
			if errors.Is(err, auth.ErrMissingSecret) {
				return nil, status.Error(codes.Unavailable, "caller authentication not configured")
			}
			return nil, status.Error(codes.Unauthenticated, "invalid caller token")
		}
		caller, err := claims.Caller()
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, "invalid caller token")
		}
		return handler(auth.ContextWithCaller(ctx, caller), req)
	}
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func callerFromIncoming(ctx context.Context) (ledger.Address, error) {
	caller, ok := auth.CallerFromContext(ctx)
	if !ok {
		return ledger.Address{}, status.Error(codes.Unauthenticated, "missing caller token")
	}
	return caller, nil
}

// toStatus maps registry errors onto gRPC codes. The message of a classified
// error is kept verbatim so the client can recover the exact sentinel.
func toStatus(err error) error {
	switch {
	case errors.Is(err, ledger.ErrAuthorization):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.Is(err, ledger.ErrValidation):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, ledger.ErrNotTrusted):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, ledger.ErrConflict):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, ledger.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, ledger.ErrUnavailable):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// UnaryLogger logs one line per call.
func UnaryLogger(log logrus.FieldLogger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		entry := log.WithFields(logrus.Fields{
			"method":      info.FullMethod,
			"code":        status.Code(err).String(),
			"duration_ms": time.Since(start).Milliseconds(),
		})
		if status.Code(err) == codes.Internal {
			entry.WithError(err).Error("rpc_complete")
		} else {
			entry.Info("rpc_complete")
		}
		return resp, err
	}
}
