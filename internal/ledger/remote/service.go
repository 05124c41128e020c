// Package remote serves a ledger.Registry over gRPC and adapts a gRPC
// connection back into a ledger.Registry.
package remote

import (
	"context"

	"google.golang.org/grpc"

	"certledger.org/internal/fingerprint"
	"certledger.org/internal/ledger"
)

const (
	ServiceName = "certledger.v1.Registry"

	// AuthHeader carries a bearer token whose subject is the caller's ledger
	// address. Both ends sign and verify it with the shared auth secret.
	AuthHeader = "authorization"
)

type (
	OwnerRequest  struct{}
	OwnerResponse struct {
		Owner ledger.Address `json:"owner"`
	}

	IdentityRequest struct {
		Identity ledger.Address `json:"identity"`
	}
	EventResponse struct {
		Event ledger.Event `json:"event"`
	}

	IssueRequest struct {
		Hash    fingerprint.Fingerprint `json:"hash"`
		BlobRef string                  `json:"blob_ref"`
	}
	IssueResponse struct {
		Receipt ledger.Receipt `json:"receipt"`
	}

	LookupRequest struct {
		Hash fingerprint.Fingerprint `json:"hash"`
	}
	LookupResponse struct {
		Found  bool           `json:"found"`
		Record *ledger.Record `json:"record,omitempty"`
	}

	TrustedResponse struct {
		Trusted bool `json:"trusted"`
	}

	EventsRequest struct {
		After uint64 `json:"after"`
		Limit int    `json:"limit"`
	}
	EventsResponse struct {
		Events []ledger.Event `json:"events"`
		Next   uint64         `json:"next"`
	}
)

// RegistryServer is the server API of certledger.v1.Registry.
type RegistryServer interface {
	Owner(context.Context, *OwnerRequest) (*OwnerResponse, error)
	Authorize(context.Context, *IdentityRequest) (*EventResponse, error)
	Revoke(context.Context, *IdentityRequest) (*EventResponse, error)
	Issue(context.Context, *IssueRequest) (*IssueResponse, error)
	Lookup(context.Context, *LookupRequest) (*LookupResponse, error)
	IsTrusted(context.Context, *IdentityRequest) (*TrustedResponse, error)
	Events(context.Context, *EventsRequest) (*EventsResponse, error)
}

// ServiceDesc describes certledger.v1.Registry for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RegistryServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Owner", RegistryServer.Owner),
		unary("Authorize", RegistryServer.Authorize),
		unary("Revoke", RegistryServer.Revoke),
		unary("Issue", RegistryServer.Issue),
		unary("Lookup", RegistryServer.Lookup),
		unary("IsTrusted", RegistryServer.IsTrusted),
		unary("Events", RegistryServer.Events),
	},
	Metadata: "certledger/v1/registry",
}

// RegisterRegistryServer registers srv on s.
func RegisterRegistryServer(s grpc.ServiceRegistrar, srv RegistryServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func fullMethod(name string) string { return "/" + ServiceName + "/" + name }

func unary[Req, Resp any](name string, call func(RegistryServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(RegistryServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(RegistryServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}
