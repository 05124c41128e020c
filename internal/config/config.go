// Package config loads runtime settings for the certledger binaries.
//
// Values are layered: built-in defaults, then an optional YAML file (path from
// the -config flag or CERTLEDGER_CONFIG), then CERTLEDGER_* environment
// variables, then command-line flags.
package config

import (
	"time"

	"certledger.org/internal/blob"
)

// Config holds every setting used by certd and ledgerd. Each binary reads the
// sections it needs.
type Config struct {
	HTTP   HTTPConfig   `yaml:"http"`
	Ledger LedgerConfig `yaml:"ledger"`
	Cache  CacheConfig  `yaml:"cache"`
	Blob   BlobConfig   `yaml:"blob"`
	Audit  AuditConfig  `yaml:"audit"`
	Crypto CryptoConfig `yaml:"crypto"`
	Auth   AuthConfig   `yaml:"auth"`
	Log    LogConfig    `yaml:"log"`
}

type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
	RateLimitRPS    float64       `yaml:"rate_limit_rps"`
	RateLimitBurst  int           `yaml:"rate_limit_burst"`
	CORSOrigins     []string      `yaml:"cors_origins"`
}

// LedgerConfig selects the registry backend. Mode "local" runs the contract
// in-process over badger (or memory when Path is empty); "remote" dials a ledgerd node.
type LedgerConfig struct {
	Mode        string        `yaml:"mode"`
	Path        string        `yaml:"path"`
	Owner       string        `yaml:"owner"`
	RemoteAddr  string        `yaml:"remote_addr"`
	GRPCAddr    string        `yaml:"grpc_addr"`
	CallTimeout time.Duration `yaml:"call_timeout"`
	PollEvery   time.Duration `yaml:"poll_every"`
}

// CacheConfig enables the redis lookup cache when RedisAddr is set.
type CacheConfig struct {
	RedisAddr string        `yaml:"redis_addr"`
	RedisDB   int           `yaml:"redis_db"`
	TTL       time.Duration `yaml:"ttl"`
}

type BlobConfig struct {
	Backend  string     `yaml:"backend"`
	LocalDir string     `yaml:"local_dir"`
	S3       S3Settings `yaml:"s3"`
}

type S3Settings struct {
	Bucket       string `yaml:"bucket"`
	Region       string `yaml:"region"`
	Endpoint     string `yaml:"endpoint"`
	AccessKey    string `yaml:"access_key"`
	SecretKey    string `yaml:"secret_key"`
	UsePathStyle bool   `yaml:"use_path_style"`
}

// S3Config converts the settings for blob.NewS3.
func (s S3Settings) S3Config() blob.S3Config {
	return blob.S3Config{
		Bucket:       s.Bucket,
		Region:       s.Region,
		Endpoint:     s.Endpoint,
		AccessKey:    s.AccessKey,
		SecretKey:    s.SecretKey,
		UsePathStyle: s.UsePathStyle,
	}
}

// AuditConfig uses Postgres when DatabaseDSN is set, memory otherwise.
type AuditConfig struct {
	DatabaseDSN string `yaml:"database_dsn"`
	AutoMigrate bool   `yaml:"auto_migrate"`
}

// CryptoConfig holds the metadata key, either as 64 hex characters or as a
// passphrase plus salt for argon2id derivation.
type CryptoConfig struct {
	KeyHex        string `yaml:"key_hex"`
	Passphrase    string `yaml:"passphrase"`
	Salt          string `yaml:"salt"`
	HashAlgorithm string `yaml:"hash_algorithm"`
}

type AuthConfig struct {
	Secret          string        `yaml:"secret"`
	TokenTTL        time.Duration `yaml:"token_ttl"`
	AllowTokenIssue bool          `yaml:"allow_token_issue"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// LoadDefaults populates Config with development defaults.
func (c *Config) LoadDefaults() {
	c.HTTP = HTTPConfig{
		Addr:            ":8080",
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		MaxBodyBytes:    10 << 20,
		RateLimitRPS:    20,
		RateLimitBurst:  40,
	}
	c.Ledger = LedgerConfig{
		Mode:        "local",
		GRPCAddr:    ":9090",
		CallTimeout: 10 * time.Second,
		PollEvery:   time.Second,
	}
	c.Cache = CacheConfig{TTL: time.Hour}
	c.Blob = BlobConfig{
		Backend:  blob.SchemeLocal,
		LocalDir: "data/blobs",
		S3:       S3Settings{Region: "us-east-1"},
	}
	c.Crypto = CryptoConfig{HashAlgorithm: "sha256"}
	c.Auth = AuthConfig{TokenTTL: time.Hour}
	c.Log = LogConfig{Level: "info"}
}
