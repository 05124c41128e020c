package remote

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"certledger.org/internal/auth"
	"certledger.org/internal/fingerprint"
	"certledger.org/internal/ledger"
)

// DefaultTimeout bounds each registry call when no timeout is configured.
const DefaultTimeout = 10 * time.Second

// minTokenTTL is the lifetime of the per-call caller token unless the call
// timeout is longer.
const minTokenTTL = time.Minute

// Client wraps the gRPC registry connection.
type Client struct {
	conn    *grpc.ClientConn
	timeout time.Duration
}

// Dial creates a new client with sensible defaults (insecure transport).
func Dial(target string, timeout time.Duration, opts ...grpc.DialOption) (*Client, error) {
	if len(opts) == 0 {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	opts = append(opts, grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)))
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{conn: conn, timeout: timeout}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// Conn exposes the connection, e.g. for health checks.
func (c *Client) Conn() *grpc.ClientConn { return c.conn }

// Registry adapts the client to ledger.Registry.
func (c *Client) Registry() *Registry { return &Registry{client: c} }

// Registry is a ledger.Registry backed by a remote ledgerd node.
type Registry struct {
	client *Client
}

var _ ledger.Registry = (*Registry)(nil)

func (r *Registry) invoke(ctx context.Context, method string, caller *ledger.Address, in, out any) error {
	ctx, cancel := WithTimeout(ctx, r.client.timeout)
	defer cancel()
	if caller != nil {
		token, err := callerToken(*caller, r.client.timeout)
		if err != nil {
			return err
		}
		ctx = metadata.AppendToOutgoingContext(ctx, AuthHeader, "Bearer "+token)
	}
	if err := r.client.conn.Invoke(ctx, fullMethod(method), in, out); err != nil {
		return mapLedgerError(err)
	}
	return nil
}

func (r *Registry) Owner(ctx context.Context) (ledger.Address, error) {
	var out OwnerResponse
	if err := r.invoke(ctx, "Owner", nil, &OwnerRequest{}, &out); err != nil {
		return ledger.Address{}, err
	}
	return out.Owner, nil
}

func (r *Registry) Authorize(ctx context.Context, caller, identity ledger.Address) (ledger.Event, error) {
	var out EventResponse
	if err := r.invoke(ctx, "Authorize", &caller, &IdentityRequest{Identity: identity}, &out); err != nil {
		return ledger.Event{}, err
	}
	return out.Event, nil
}

func (r *Registry) Revoke(ctx context.Context, caller, identity ledger.Address) (ledger.Event, error) {
	var out EventResponse
	if err := r.invoke(ctx, "Revoke", &caller, &IdentityRequest{Identity: identity}, &out); err != nil {
		return ledger.Event{}, err
	}
	return out.Event, nil
}

func (r *Registry) Issue(ctx context.Context, caller ledger.Address, hash fingerprint.Fingerprint, blobRef string) (ledger.Receipt, error) {
	var out IssueResponse
	if err := r.invoke(ctx, "Issue", &caller, &IssueRequest{Hash: hash, BlobRef: blobRef}, &out); err != nil {
		return ledger.Receipt{}, err
	}
	return out.Receipt, nil
}

func (r *Registry) Lookup(ctx context.Context, hash fingerprint.Fingerprint) (ledger.Record, bool, error) {
	var out LookupResponse
	if err := r.invoke(ctx, "Lookup", nil, &LookupRequest{Hash: hash}, &out); err != nil {
		return ledger.Record{}, false, err
	}
	if !out.Found || out.Record == nil {
		return ledger.Record{}, false, nil
	}
	return *out.Record, true, nil
}

func (r *Registry) IsTrusted(ctx context.Context, identity ledger.Address) (bool, error) {
	var out TrustedResponse
	if err := r.invoke(ctx, "IsTrusted", nil, &IdentityRequest{Identity: identity}, &out); err != nil {
		return false, err
	}
	return out.Trusted, nil
}

func (r *Registry) Events(ctx context.Context, afterSeq uint64, limit int) ([]ledger.Event, uint64, error) {
	var out EventsResponse
	if err := r.invoke(ctx, "Events", nil, &EventsRequest{After: afterSeq, Limit: limit}, &out); err != nil {
		return nil, 0, err
	}
	return out.Events, out.Next, nil
}

func callerToken(caller ledger.Address, timeout time.Duration) (string, error) {
	ttl := minTokenTTL
	if timeout > ttl {
		ttl = timeout
	}
	token, _, err := auth.GenerateToken(caller, ttl)
	if err != nil {
		return "", fmt.Errorf("remote: sign caller token: %w", err)
	}
	return token, nil
}

var knownErrors = []error{
	ledger.ErrUnauthorized,
	ledger.ErrInvalidIdentity,
	ledger.ErrInvalidHash,
	ledger.ErrInvalidRef,
	ledger.ErrAlreadyTrusted,
	ledger.ErrNotTrusted,
	ledger.ErrAlreadyExists,
}

// mapLedgerError turns a gRPC status back into the registry's sentinel errors.
func mapLedgerError(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	msg := st.Message()
	for _, known := range knownErrors {
		if msg == known.Error() {
			return known
		}
	}
	switch st.Code() {
	case codes.Unauthenticated, codes.PermissionDenied:
		return fmt.Errorf("%w: %s", ledger.ErrUnauthorized, msg)
	case codes.InvalidArgument:
		return fmt.Errorf("%w: %s", ledger.ErrValidation, msg)
	case codes.AlreadyExists:
		return fmt.Errorf("%w: %s", ledger.ErrConflict, msg)
	case codes.NotFound:
		return fmt.Errorf("%w: %s", ledger.ErrNotFound, msg)
	case codes.Unavailable, codes.DeadlineExceeded:
		return fmt.Errorf("%w: %s", ledger.ErrUnavailable, msg)
	default:
		return err
	}
}

// WithTimeout returns a context with default timeout useful for CLI tools.
func WithTimeout(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = DefaultTimeout
	}
	return context.WithTimeout(parent, d)
}
