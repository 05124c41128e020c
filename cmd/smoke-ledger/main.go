package main

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"time"

	"certledger.org/internal/auth"
	"certledger.org/internal/fingerprint"
	"certledger.org/internal/ledger"
	"certledger.org/internal/ledger/remote"
	"certledger.org/internal/obs"
)

// smoke-ledger exercises a running ledgerd: authorize a fresh writer, issue
// a random fingerprint, look it up and confirm a duplicate is rejected.
func main() {
	log := obs.Logger()

	addr := os.Getenv("CERTLEDGER_GRPC_ADDR")
	if addr == "" {
		addr = "localhost:9090"
	}
	owner, err := ledger.ParseAddress(os.Getenv("CERTLEDGER_LEDGER_OWNER"))
	if err != nil {
		log.WithError(err).Fatal("CERTLEDGER_LEDGER_OWNER must hold the node owner address")
	}

	if err := auth.SetSecret(os.Getenv("CERTLEDGER_AUTH_SECRET")); err != nil {
		log.WithError(err).Fatal("CERTLEDGER_AUTH_SECRET must match the node's auth secret")
	}

	client, err := remote.Dial(addr, 5*time.Second)
	if err != nil {
		log.WithError(err).Fatalf("dial ledgerd at %s", addr)
	}
	defer client.Close()
	reg := client.Registry()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var writer ledger.Address
	var hash fingerprint.Fingerprint
	_, _ = rand.Read(writer[:])
	_, _ = rand.Read(hash[:])

	if _, err := reg.Authorize(ctx, owner, writer); err != nil {
		log.WithError(err).Fatal("authorize writer")
	}
	rcpt, err := reg.Issue(ctx, writer, hash, "local://smoke")
	if err != nil {
		log.WithError(err).Fatal("issue")
	}
	rec, ok, err := reg.Lookup(ctx, hash)
	if err != nil || !ok {
		log.WithError(err).Fatalf("lookup after issue: found=%v", ok)
	}
	if rec.Issuer != writer || rec.TxRef != rcpt.TxRef {
		log.Fatalf("record mismatch: issuer=%s tx=%s", rec.Issuer, rec.TxRef)
	}
	if _, err := reg.Issue(ctx, writer, hash, "local://smoke-2"); !errors.Is(err, ledger.ErrAlreadyExists) {
		log.WithError(err).Fatal("duplicate issue was not rejected")
	}
	if _, err := reg.Revoke(ctx, owner, writer); err != nil {
		log.WithError(err).Fatal("revoke writer")
	}
	if _, err := reg.Issue(ctx, writer, fingerprint.Fingerprint{1}, "local://smoke-3"); !errors.Is(err, ledger.ErrAuthorization) {
		log.WithError(err).Fatal("revoked writer could still issue")
	}

	fmt.Printf("✅ ledgerd smoke test passed: writer=%s tx=%s block=%d\n", writer, rcpt.TxRef, rcpt.Block)
}
