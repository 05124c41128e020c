package blob

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"certledger.org/internal/obs"
)

// Fallback writes to Primary and diverts to Secondary only when Primary is
// unavailable. Blobs are never migrated between the two.
type Fallback struct {
	Primary   Store
	Secondary Store
	// PrimaryScheme is the reference scheme Primary produces; Get uses it to pick
	// which backend to ask first.
	PrimaryScheme string
	Logger        logrus.FieldLogger
}

func (f *Fallback) Put(ctx context.Context, data []byte) (string, error) {
	ref, err := f.Primary.Put(ctx, data)
	if err == nil {
		return ref, nil
	}
	if !errors.Is(err, ErrUnavailable) {
		return "", err
	}
	obs.BlobFallbackTotal.Inc()
	f.logger().WithError(err).Warn("primary blob store unavailable, writing to fallback")
	return f.Secondary.Put(ctx, data)
}

func (f *Fallback) Get(ctx context.Context, ref string) ([]byte, error) {
	first, second := f.Primary, f.Secondary
	if Scheme(ref) != f.PrimaryScheme {
		first, second = second, first
	}
	data, err := first.Get(ctx, ref)
	if err == nil {
		return data, nil
	}
	data, err2 := second.Get(ctx, ref)
	if err2 == nil {
		return data, nil
	}
	if errors.Is(err, ErrNotFound) && errors.Is(err2, ErrNotFound) {
		return nil, err
	}
	// prefer the failure of the backend that owns the reference
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return nil, err2
}

func (f *Fallback) logger() logrus.FieldLogger {
	if f.Logger == nil {
		return obs.Logger()
	}
	return f.Logger
}
