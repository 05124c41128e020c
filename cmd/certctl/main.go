// Command certctl is a client for the certledger service: it fingerprints
// files, mints development tokens and drives issuance and verification.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"golang.org/x/term"

	"certledger.org/internal/auth"
	"certledger.org/internal/certs"
	"certledger.org/internal/fingerprint"
	"certledger.org/internal/ledger"
)

const usage = `usage: certctl <command> [flags] [args]

commands:
  hash    [-alg sha256|keccak256] <file>
  token   [-secret s] [-ttl 1h] <address>
  issue   [-server url] [-token t] -metadata <file.json> <file>
  verify  [-server url] <file>
  lookup  [-server url] <hash>
`

var (
	okColor   = color.New(color.FgGreen, color.Bold)
	failColor = color.New(color.FgRed, color.Bold)
	warnColor = color.New(color.FgYellow)
	keyColor  = color.New(color.FgCyan)
)

func main() {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		color.NoColor = true
	}
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}
	var err error
	switch args[0] {
	case "hash":
		err = cmdHash(args[1:], stdout)
	case "token":
		err = cmdToken(args[1:], stdout)
	case "issue":
		err = cmdIssue(args[1:], stdout)
	case "verify":
		err = cmdVerify(args[1:], stdout)
	case "lookup":
		err = cmdLookup(args[1:], stdout)
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usage)
		return 0
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", args[0], usage)
		return 2
	}
	if err != nil {
		failColor.Fprint(stderr, "error: ")
		fmt.Fprintln(stderr, err)
		if errors.Is(err, errUsage) {
			return 2
		}
		return 1
	}
	return 0
}

var errUsage = errors.New("invalid usage")

func newFlags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func serverFlag(fs *flag.FlagSet) *string {
	def := os.Getenv("CERTLEDGER_SERVER")
	if def == "" {
		def = "http://localhost:8080"
	}
	return fs.String("server", def, "certd base URL")
}

func oneArg(fs *flag.FlagSet, args []string, what string) (string, error) {
	if err := fs.Parse(args); err != nil {
		return "", fmt.Errorf("%w: %v", errUsage, err)
	}
	if fs.NArg() != 1 {
		return "", fmt.Errorf("%w: expected exactly one %s", errUsage, what)
	}
	return fs.Arg(0), nil
}

func cmdHash(args []string, out io.Writer) error {
	fs := newFlags("hash")
	alg := fs.String("alg", string(fingerprint.SHA256), "digest algorithm")
	path, err := oneArg(fs, args, "file")
	if err != nil {
		return err
	}
	h, err := fingerprint.NewHasher(fingerprint.Algorithm(*alg))
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sum, err := h.SumReader(f)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s  %s\n", sum, path)
	return nil
}

func cmdToken(args []string, out io.Writer) error {
	fs := newFlags("token")
	secret := fs.String("secret", os.Getenv("CERTLEDGER_AUTH_SECRET"), "signing secret")
	ttl := fs.Duration("ttl", time.Hour, "token lifetime")
	raw, err := oneArg(fs, args, "address")
	if err != nil {
		return err
	}
	addr, err := ledger.ParseAddress(raw)
	if err != nil {
		return err
	}
	if *secret == "" {
		if *secret, err = promptSecret(); err != nil {
			return err
		}
	}
	if err := auth.SetSecret(*secret); err != nil {
		return err
	}
	token, exp, err := auth.GenerateToken(addr, *ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, token)
	warnColor.Fprintf(os.Stderr, "expires %s\n", exp.Format(time.RFC3339))
	return nil
}

func promptSecret() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("no secret: set -secret or CERTLEDGER_AUTH_SECRET")
	}
	fmt.Fprint(os.Stderr, "signing secret: ")
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

func cmdIssue(args []string, out io.Writer) error {
	fs := newFlags("issue")
	server := serverFlag(fs)
	token := fs.String("token", os.Getenv("CERTLEDGER_TOKEN"), "bearer token")
	mdPath := fs.String("metadata", "", "metadata JSON file")
	path, err := oneArg(fs, args, "file")
	if err != nil {
		return err
	}
	if *mdPath == "" {
		return fmt.Errorf("%w: -metadata is required", errUsage)
	}
	rawMD, err := os.ReadFile(*mdPath)
	if err != nil {
		return err
	}
	var md certs.Metadata
	if err := json.Unmarshal(rawMD, &md); err != nil {
		return fmt.Errorf("metadata: %w", err)
	}
	if err := md.Validate(); err != nil {
		return err
	}
	file, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	var rcpt certs.Receipt
	if err := newClient(*server, *token).upload(ctx, "/v1/certificates", file, rawMD, &rcpt); err != nil {
		return err
	}
	okColor.Fprintln(out, "issued")
	printField(out, "hash", rcpt.Hash.String())
	printField(out, "tx", rcpt.TxRef)
	printField(out, "block", fmt.Sprint(rcpt.Block))
	printField(out, "cost", fmt.Sprint(rcpt.Cost))
	printField(out, "blob", rcpt.BlobRef)
	return nil
}

func cmdVerify(args []string, out io.Writer) error {
	fs := newFlags("verify")
	server := serverFlag(fs)
	path, err := oneArg(fs, args, "file")
	if err != nil {
		return err
	}
	file, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	var v certs.Verification
	if err := newClient(*server, "").upload(ctx, "/v1/certificates/verify", file, nil, &v); err != nil {
		return err
	}
	printVerification(out, v)
	if !v.Valid {
		return errors.New("certificate not found on the ledger")
	}
	return nil
}

func cmdLookup(args []string, out io.Writer) error {
	fs := newFlags("lookup")
	server := serverFlag(fs)
	raw, err := oneArg(fs, args, "hash")
	if err != nil {
		return err
	}
	h, err := fingerprint.Parse(raw)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	var rec ledger.Record
	if err := newClient(*server, "").get(ctx, "/v1/certificates/"+h.String(), &rec); err != nil {
		return err
	}
	printRecord(out, rec)
	return nil
}

func printVerification(out io.Writer, v certs.Verification) {
	if !v.Valid {
		failColor.Fprintln(out, "NOT VALID")
		printField(out, "hash", v.Hash.String())
		return
	}
	okColor.Fprintln(out, "VALID")
	if v.Record != nil {
		printRecord(out, *v.Record)
	}
	if v.Metadata != nil {
		printField(out, "recipient", v.Metadata.RecipientName)
		printField(out, "course", v.Metadata.CourseName)
		printField(out, "institution", v.Metadata.Institution)
		printField(out, "issued on", v.Metadata.IssueDate)
		if v.Metadata.Grade != "" {
			printField(out, "grade", v.Metadata.Grade)
		}
	}
	if v.Warning != "" {
		warnColor.Fprintf(out, "warning: %s\n", v.Warning)
	}
}

func printRecord(out io.Writer, rec ledger.Record) {
	printField(out, "hash", rec.Hash.String())
	printField(out, "issuer", rec.Issuer.String())
	printField(out, "issued at", rec.IssuedAt.Format(time.RFC3339))
	printField(out, "tx", rec.TxRef)
}

func printField(out io.Writer, k, v string) {
	keyColor.Fprintf(out, "  %-12s", k)
	fmt.Fprintln(out, v)
}
