package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the main configuration for a livepipe deployment: one
// or more ingress listeners feeding a pipeline runner, HLS egress, and the
// decentralized publication plane.
type Config struct {
	// Server configuration (metrics + gateway HTTP surface)
	Server ServerConfig `json:"server" yaml:"server"`

	// Ingest configuration (listeners, capability ladder)
	Ingest IngestConfig `json:"ingest" yaml:"ingest"`

	// Storage configuration
	Storage StorageConfig `json:"storage" yaml:"storage"`

	// HLS egress configuration
	HLS HLSConfig `json:"hls" yaml:"hls"`

	// Nostr relay / Blossom mirror configuration
	Nostr NostrConfig `json:"nostr" yaml:"nostr"`

	// Billing configuration (self-hosted overseer only)
	Billing BillingConfig `json:"billing" yaml:"billing"`

	// Redis configuration (cross-process viewer-count cache)
	Redis RedisConfig `json:"redis" yaml:"redis"`

	// Postgres configuration (self-hosted overseer's user/stream tables)
	Postgres PostgresConfig `json:"postgres" yaml:"postgres"`

	// Logging configuration
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// ServerConfig holds the gateway/metrics HTTP server configuration.
type ServerConfig struct {
	Host           string        `json:"host" yaml:"host"`
	Port           int           `json:"port" yaml:"port"`
	MetricsPort    int           `json:"metrics_port" yaml:"metrics_port"`
	ReadTimeout    time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout   time.Duration `json:"write_timeout" yaml:"write_timeout"`
	MaxConnections int           `json:"max_connections" yaml:"max_connections"`
	DevMode        bool          `json:"dev_mode" yaml:"dev_mode"`

	// TLSCertFile and TLSKeyFile, when both set, make the gateway serve
	// HTTPS instead of plain HTTP.
	TLSCertFile string `json:"tls_cert_file" yaml:"tls_cert_file"`
	TLSKeyFile  string `json:"tls_key_file" yaml:"tls_key_file"`
}

// IngestConfig holds ingress listener and variant-ladder configuration.
type IngestConfig struct {
	// Listen is a list of ingress listener URLs, e.g. "rtmp://0.0.0.0:1935",
	// "srt://0.0.0.0:6001", "test-pattern://".
	Listen []string `json:"listen" yaml:"listen"`

	// DataDir is not read by cmd/ingestserver; HLS output is written under
	// Storage.BasePath.
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// Capabilities is the ordered endpoint-capability ladder, e.g.
	// "variant:1080:6000000", "variant:source", "dvr:720".
	Capabilities []string `json:"capabilities" yaml:"capabilities"`

	// StallTimeout is not read; listeners drop an ingress connection after
	// the fixed ingest.StallTimeout (60 s) with no bytes.
	StallTimeout time.Duration `json:"stall_timeout" yaml:"stall_timeout"`

	// ShutdownWindow bounds cooperative pipeline drain on process shutdown.
	ShutdownWindow time.Duration `json:"shutdown_window" yaml:"shutdown_window"`
}

// StorageConfig holds storage-related configuration.
type StorageConfig struct {
	Type     string   `json:"type" yaml:"type"` // local, s3
	BasePath string   `json:"base_path" yaml:"base_path"`
	S3       S3Config `json:"s3" yaml:"s3"`
}

// S3Config holds S3-compatible storage configuration. The Blob Publisher
// does not use it; segments are mirrored only by Blossom HTTP upload.
type S3Config struct {
	Endpoint        string `json:"endpoint" yaml:"endpoint"`
	Region          string `json:"region" yaml:"region"`
	Bucket          string `json:"bucket" yaml:"bucket"`
	AccessKeyID     string `json:"access_key_id" yaml:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key" yaml:"secret_access_key"`
	UseSSL          bool   `json:"use_ssl" yaml:"use_ssl"`
}

// HLSConfig holds HLS egress configuration.
type HLSConfig struct {
	SegmentDuration   time.Duration `json:"segment_duration" yaml:"segment_duration"`
	PlaylistSize      int           `json:"playlist_size" yaml:"playlist_size"`
	DVRWindowSize     int           `json:"dvr_window_size" yaml:"dvr_window_size"`
	SegmentType       string        `json:"segment_type" yaml:"segment_type"` // mpegts, fmp4
	ThumbnailInterval time.Duration `json:"thumbnail_interval" yaml:"thumbnail_interval"`

	// RecordingDir, when set, enables original-recording for any variant
	// group an ingest tier's DVR capability marked; empty disables it.
	RecordingDir string `json:"recording_dir" yaml:"recording_dir"`
}

// NostrConfig holds the relay set, Blossom mirror set, and signer key used
// by the Event Publisher and Blob Publisher.
type NostrConfig struct {
	// Nsec is the broadcaster's signing key (bech32 nsec1... or hex).
	Nsec string `json:"nsec" yaml:"nsec"`

	// Relays is the list of relay WebSocket URLs events are published to.
	Relays []string `json:"relays" yaml:"relays"`

	// Blossom is the list of mirror base URLs segments are uploaded to.
	// cmd/ingestserver passes it to the Blob Publisher as is; an empty list
	// is not filled from the signer's kind-10063 event.
	Blossom []string `json:"blossom" yaml:"blossom"`

	// MaxBlossomServers caps concurrent mirror uploads per segment.
	MaxBlossomServers int `json:"max_blossom_servers" yaml:"max_blossom_servers"`

	// UploadTimeout bounds a single mirror PUT/DELETE.
	UploadTimeout time.Duration `json:"upload_timeout" yaml:"upload_timeout"`

	// RelayPublishTimeout bounds the total per-relay backoff window.
	RelayPublishTimeout time.Duration `json:"relay_publish_timeout" yaml:"relay_publish_timeout"`

	// N94Bridge is the edge aggregator base URL for the NIP-53 legacy
	// bridge event's streaming tag. cmd/ingestserver does not read it and
	// the self-hosted overseer publishes no bridge event; cmd/n94broadcast
	// takes the URL from its --n94-bridge flag instead.
	N94Bridge string `json:"n94_bridge" yaml:"n94_bridge"`
}

// BillingConfig holds the self-hosted overseer's billing rate table.
type BillingConfig struct {
	// DefaultRateMsatsPerMin is the msat/minute rate applied when an
	// endpoint capability does not specify its own rate.
	DefaultRateMsatsPerMin int64 `json:"default_rate_msats_per_min" yaml:"default_rate_msats_per_min"`

	// GracePeriod is handed to the self-hosted overseer, which stores it but
	// does not act on it: when billing is unreachable, OnSegments returns
	// the billing error, the runner logs it, and the pipeline keeps running.
	GracePeriod time.Duration `json:"grace_period" yaml:"grace_period"`
}

// RedisConfig holds Redis configuration for the viewer tracker's
// cross-process viewer-count cache in clustered deployments.
type RedisConfig struct {
	Enabled    bool          `json:"enabled" yaml:"enabled"`
	Address    string        `json:"address" yaml:"address"`
	Password   string        `json:"password" yaml:"password"`
	DB         int           `json:"db" yaml:"db"`
	PoolSize   int           `json:"pool_size" yaml:"pool_size"`
	MaxRetries int           `json:"max_retries" yaml:"max_retries"`
	TTL        time.Duration `json:"ttl" yaml:"ttl"`
}

// PostgresConfig holds the self-hosted Overseer's Postgres pool settings.
type PostgresConfig struct {
	DSN             string        `json:"dsn" yaml:"dsn"`
	MaxConns        int32         `json:"max_conns" yaml:"max_conns"`
	MinConns        int32         `json:"min_conns" yaml:"min_conns"`
	MaxConnLifetime time.Duration `json:"max_conn_lifetime" yaml:"max_conn_lifetime"`
}

// LoggingConfig holds logging-related configuration.
type LoggingConfig struct {
	Level      string `json:"level" yaml:"level"`
	Format     string `json:"format" yaml:"format"`
	OutputPath string `json:"output_path" yaml:"output_path"`
}

// DefaultConfig returns a default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8080,
			MetricsPort:    9090,
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   30 * time.Second,
			MaxConnections: 10000,
			DevMode:        false,
			TLSCertFile:    "",
			TLSKeyFile:     "",
		},
		Ingest: IngestConfig{
			Listen:         []string{"rtmp://0.0.0.0:1935"},
			DataDir:        "./out",
			Capabilities:   []string{"variant:1080:6000000", "variant:720:4000000", "variant:480:2000000", "variant:240:1000000"},
			StallTimeout:   60 * time.Second,
			ShutdownWindow: 30 * time.Second,
		},
		Storage: StorageConfig{
			Type:     "local",
			BasePath: "./out",
		},
		HLS: HLSConfig{
			SegmentDuration:   6 * time.Second,
			PlaylistSize:      5,
			DVRWindowSize:     60,
			SegmentType:       "mpegts",
			ThumbnailInterval: 10 * time.Second,
		},
		Nostr: NostrConfig{
			Relays:              []string{"wss://relay.damus.io", "wss://relay.primal.net", "wss://nos.lol"},
			MaxBlossomServers:   3,
			UploadTimeout:       30 * time.Second,
			RelayPublishTimeout: 30 * time.Second,
		},
		Billing: BillingConfig{
			DefaultRateMsatsPerMin: 21_000,
			GracePeriod:            30 * time.Second,
		},
		Redis: RedisConfig{
			Enabled:    false,
			Address:    "localhost:6379",
			DB:         0,
			PoolSize:   10,
			MaxRetries: 3,
			TTL:        24 * time.Hour,
		},
		Postgres: PostgresConfig{
			MaxConns:        10,
			MinConns:        2,
			MaxConnLifetime: time.Hour,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			OutputPath: "stdout",
		},
	}
}

// Load loads configuration from a YAML file, then overlays environment
// variable overrides.
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.loadFromEnv()

	return cfg, nil
}

// loadFromEnv overrides config from environment variables.
func (c *Config) loadFromEnv() {
	if host := os.Getenv("LIVEPIPE_HOST"); host != "" {
		c.Server.Host = host
	}
	if nsec := os.Getenv("LIVEPIPE_NSEC"); nsec != "" {
		c.Nostr.Nsec = nsec
	}
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		c.Postgres.DSN = dsn
	}
	if redisAddr := os.Getenv("REDIS_URL"); redisAddr != "" {
		c.Redis.Address = redisAddr
	}
	if redisPass := os.Getenv("REDIS_PASSWORD"); redisPass != "" {
		c.Redis.Password = redisPass
	}
}
