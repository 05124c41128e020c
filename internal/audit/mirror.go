package audit

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"certledger.org/internal/fingerprint"
	"certledger.org/internal/ledger"
	"certledger.org/internal/obs"
)

// Mirror records confirmed ledger writes on a best-effort basis. Failures are
// logged, counted and returned, and a panicking store is recovered into an error.
type Mirror struct {
	store Store
	log   logrus.FieldLogger
}

func NewMirror(store Store, log logrus.FieldLogger) *Mirror {
	if log == nil {
		log = obs.Logger()
	}
	return &Mirror{store: store, log: log}
}

// Store exposes the wrapped store for reads.
func (m *Mirror) Store() Store { return m.store }

func (m *Mirror) Record(ctx context.Context, rcpt ledger.Receipt, hash fingerprint.Fingerprint, blobRef string, writer ledger.Address) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("audit: mirror panic: %v", r)
		}
		if err != nil {
			obs.AuditMirrorFailures.Inc()
			m.log.WithFields(logrus.Fields{
				"tx_ref": rcpt.TxRef,
				"hash":   hash.String(),
				"writer": writer.String(),
			}).WithError(err).Warn("audit mirror write failed")
		}
	}()
	if m.store == nil {
		return fmt.Errorf("audit: no store configured")
	}
	return m.store.Record(ctx, NewEntry(rcpt, hash, blobRef, writer))
}
