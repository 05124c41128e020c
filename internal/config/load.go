package config

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	envPrefix     = "CERTLEDGER_"
	envConfigPath = envPrefix + "CONFIG"
)

// Load builds a Config from defaults, the YAML file, the environment and args
// (without the program name). The result is not validated.
func Load(args []string) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()

	path := configPath(args)
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.parseFlags(args); err != nil {
		return nil, err
	}
	return cfg, nil
}

// configPath finds -config/--config in args, falling back to CERTLEDGER_CONFIG.
func configPath(args []string) string {
	for i, a := range args {
		name, value, hasValue := strings.Cut(strings.TrimLeft(a, "-"), "=")
		if !strings.HasPrefix(a, "-") || name != "config" {
			continue
		}
		if hasValue {
			return value
		}
		if i+1 < len(args) {
			return args[i+1]
		}
	}
	return os.Getenv(envConfigPath)
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"HTTP_ADDR":           &c.HTTP.Addr,
		"LEDGER_MODE":         &c.Ledger.Mode,
		"LEDGER_PATH":         &c.Ledger.Path,
		"LEDGER_OWNER":        &c.Ledger.Owner,
		"LEDGER_REMOTE_ADDR":  &c.Ledger.RemoteAddr,
		"GRPC_ADDR":           &c.Ledger.GRPCAddr,
		"REDIS_ADDR":          &c.Cache.RedisAddr,
		"BLOB_BACKEND":        &c.Blob.Backend,
		"BLOB_DIR":            &c.Blob.LocalDir,
		"S3_BUCKET":           &c.Blob.S3.Bucket,
		"S3_REGION":           &c.Blob.S3.Region,
		"S3_ENDPOINT":         &c.Blob.S3.Endpoint,
		"S3_ACCESS_KEY":       &c.Blob.S3.AccessKey,
		"S3_SECRET_KEY":       &c.Blob.S3.SecretKey,
		"DATABASE_DSN":        &c.Audit.DatabaseDSN,
		"METADATA_KEY":        &c.Crypto.KeyHex,
		"METADATA_PASSPHRASE": &c.Crypto.Passphrase,
		"METADATA_SALT":       &c.Crypto.Salt,
		"HASH_ALGORITHM":      &c.Crypto.HashAlgorithm,
		"AUTH_SECRET":         &c.Auth.Secret,
		"LOG_LEVEL":           &c.Log.Level,
	}
	for key, dst := range strs {
		if v, ok := lookup(envPrefix + key); ok {
			*dst = strings.TrimSpace(v)
		}
	}

	bools := map[string]*bool{
		"AUTO_MIGRATE":      &c.Audit.AutoMigrate,
		"ALLOW_TOKEN_ISSUE": &c.Auth.AllowTokenIssue,
		"S3_PATH_STYLE":     &c.Blob.S3.UsePathStyle,
	}
	for key, dst := range bools {
		v, ok := lookup(envPrefix + key)
		if !ok {
			continue
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("config: %s%s: %w", envPrefix, key, err)
		}
		*dst = b
	}

	if v, ok := lookup(envPrefix + "CORS_ORIGINS"); ok {
		c.HTTP.CORSOrigins = splitList(v)
	}
	return nil
}

func (c *Config) parseFlags(args []string) error {
	fs := flag.NewFlagSet("certledger", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.String("config", "", "path to YAML config file")
	fs.StringVar(&c.HTTP.Addr, "addr", c.HTTP.Addr, "HTTP listen address")
	fs.StringVar(&c.Ledger.Mode, "ledger-mode", c.Ledger.Mode, "ledger backend: local or remote")
	fs.StringVar(&c.Ledger.Path, "ledger-path", c.Ledger.Path, "badger directory for local ledger state (empty: memory)")
	fs.StringVar(&c.Ledger.Owner, "owner", c.Ledger.Owner, "ledger owner address used when the state is created")
	fs.StringVar(&c.Ledger.RemoteAddr, "ledger-remote", c.Ledger.RemoteAddr, "ledgerd gRPC address for remote mode")
	fs.StringVar(&c.Ledger.GRPCAddr, "grpc-addr", c.Ledger.GRPCAddr, "gRPC listen address (ledgerd)")
	fs.StringVar(&c.Cache.RedisAddr, "redis", c.Cache.RedisAddr, "redis address for the lookup cache")
	fs.StringVar(&c.Blob.Backend, "blob-backend", c.Blob.Backend, "blob backend: s3 or local")
	fs.StringVar(&c.Blob.LocalDir, "blob-dir", c.Blob.LocalDir, "local blob directory")
	fs.StringVar(&c.Audit.DatabaseDSN, "db", c.Audit.DatabaseDSN, "Postgres DSN for the audit log")
	fs.StringVar(&c.Log.Level, "log-level", c.Log.Level, "log level")

	return fs.Parse(args)
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
