package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/dbchat/dbchat/internal/dialect"
)

type LookupFunc func(string) (string, bool)

type Profile string

const (
	ProfileDev  Profile = "dev"
	ProfileTest Profile = "test"
	ProfileProd Profile = "prod"
)

const (
	BackendMemory      = "memory"
	BackendKeyring     = "keyring"
	BackendS3          = "s3"
	BackendObjectStore = "objectstore"
	BackendPostgres    = "postgres"
)

type Config struct {
	Profile       Profile
	Service       ServiceConfig
	HTTP          HTTPConfig
	AI            AIConfig
	Prompt        PromptConfig
	Query         QueryConfig
	Connections   ConnectionsConfig
	History       HistoryConfig
	ObjectStore   ObjectStoreConfig
	Export        ExportConfig
	Observability ObservabilityConfig
	Auth          AuthConfig
}

type ServiceConfig struct {
	Name string
}

type HTTPConfig struct {
	Address         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// AIConfig selects the chat-completion backend. Model is the model name for OpenAI and the
// deployment name for Azure.
type AIConfig struct {
	Provider    string
	BaseURL     string
	APIKey      string
	Model       string
	APIVersion  string
	Temperature float64
	Timeout     time.Duration
}

type PromptConfig struct {
	Dialect  string
	RowLimit int
}

type QueryConfig struct {
	ReadOnly bool
}

type ConnectionsConfig struct {
	Backend         string
	File            string
	KeyringService  string
	KeyringBackend  string
	KeyringFileDir  string
	KeyringPassword string
}

type HistoryConfig struct {
	Backend         string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
}

// ExportConfig controls how long Parquet exports stay in the object store.
type ExportConfig struct {
	TTL           time.Duration
	SweepInterval time.Duration
	// PresignExpiry is the lifetime of download links handed out by the s3 backend. Zero disables them.
	PresignExpiry time.Duration
}

type ObjectStoreConfig struct {
	Backend          string
	Endpoint         string
	Region           string
	Bucket           string
	AccessKeyID      string
	SecretAccessKey  string
	UseSSL           bool
	Prefix           string
	AutoCreateBucket bool
}

type ObservabilityConfig struct {
	LogLevel slog.Level
	LogJSON  bool
}

type AuthConfig struct {
	Required   bool
	StaticKeys string
}

// LoadDotEnv reads .env style files into the process environment without overriding variables
// that are already set. Missing files are skipped.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", path, err)
		}
	}
	return nil
}

func LoadFromEnv(serviceName string) (Config, error) {
	return Load(serviceName, os.LookupEnv)
}

func Load(serviceName string, lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	profile := ProfileDev
	if raw, ok := lookup("DBCHAT_PROFILE"); ok {
		profile = Profile(strings.ToLower(strings.TrimSpace(raw)))
	}
	if !isValidProfile(profile) {
		return Config{}, fmt.Errorf("invalid DBCHAT_PROFILE: %q", profile)
	}

	cfg := defaultsForProfile(profile)
	if serviceName != "" {
		cfg.Service.Name = serviceName
	}

	steps := []error{
		applyString(lookup, "DBCHAT_SERVICE_NAME", &cfg.Service.Name),

		applyString(lookup, "DBCHAT_HTTP_ADDR", &cfg.HTTP.Address),
		applyDuration(lookup, "DBCHAT_HTTP_READ_TIMEOUT", &cfg.HTTP.ReadTimeout),
		applyDuration(lookup, "DBCHAT_HTTP_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout),
		applyDuration(lookup, "DBCHAT_HTTP_IDLE_TIMEOUT", &cfg.HTTP.IdleTimeout),
		applyDuration(lookup, "DBCHAT_HTTP_SHUTDOWN_TIMEOUT", &cfg.HTTP.ShutdownTimeout),

		applyLower(lookup, "DBCHAT_AI_PROVIDER", &cfg.AI.Provider),
		applyString(lookup, "DBCHAT_AI_BASE_URL", &cfg.AI.BaseURL),
		applyString(lookup, "DBCHAT_AI_API_KEY", &cfg.AI.APIKey),
		applyString(lookup, "DBCHAT_AI_MODEL", &cfg.AI.Model),
		applyString(lookup, "DBCHAT_AI_API_VERSION", &cfg.AI.APIVersion),
		applyFloat(lookup, "DBCHAT_AI_TEMPERATURE", &cfg.AI.Temperature),
		applyDuration(lookup, "DBCHAT_AI_TIMEOUT", &cfg.AI.Timeout),

		applyLower(lookup, "DBCHAT_PROMPT_DIALECT", &cfg.Prompt.Dialect),
		applyInt(lookup, "DBCHAT_PROMPT_ROW_LIMIT", &cfg.Prompt.RowLimit),

		applyBool(lookup, "DBCHAT_QUERY_READ_ONLY", &cfg.Query.ReadOnly),

		applyLower(lookup, "DBCHAT_CONNECTIONS_BACKEND", &cfg.Connections.Backend),
		applyString(lookup, "DBCHAT_CONNECTIONS_FILE", &cfg.Connections.File),
		applyString(lookup, "DBCHAT_CONNECTIONS_KEYRING_SERVICE", &cfg.Connections.KeyringService),
		applyLower(lookup, "DBCHAT_CONNECTIONS_KEYRING_BACKEND", &cfg.Connections.KeyringBackend),
		applyString(lookup, "DBCHAT_CONNECTIONS_KEYRING_FILE_DIR", &cfg.Connections.KeyringFileDir),
		applyString(lookup, "DBCHAT_CONNECTIONS_KEYRING_PASSWORD", &cfg.Connections.KeyringPassword),

		applyLower(lookup, "DBCHAT_HISTORY_BACKEND", &cfg.History.Backend),
		applyString(lookup, "DBCHAT_HISTORY_DSN", &cfg.History.DSN),
		applyInt(lookup, "DBCHAT_HISTORY_MAX_OPEN_CONNS", &cfg.History.MaxOpenConns),
		applyInt(lookup, "DBCHAT_HISTORY_MAX_IDLE_CONNS", &cfg.History.MaxIdleConns),
		applyDuration(lookup, "DBCHAT_HISTORY_CONN_MAX_IDLE_TIME", &cfg.History.ConnMaxIdleTime),
		applyDuration(lookup, "DBCHAT_HISTORY_CONN_MAX_LIFETIME", &cfg.History.ConnMaxLifetime),

		applyDuration(lookup, "DBCHAT_EXPORT_TTL", &cfg.Export.TTL),
		applyDuration(lookup, "DBCHAT_EXPORT_SWEEP_INTERVAL", &cfg.Export.SweepInterval),
		applyDuration(lookup, "DBCHAT_EXPORT_PRESIGN_EXPIRY", &cfg.Export.PresignExpiry),

		applyLower(lookup, "DBCHAT_OBJECTSTORE_BACKEND", &cfg.ObjectStore.Backend),
		applyString(lookup, "DBCHAT_OBJECTSTORE_ENDPOINT", &cfg.ObjectStore.Endpoint),
		applyString(lookup, "DBCHAT_OBJECTSTORE_REGION", &cfg.ObjectStore.Region),
		applyString(lookup, "DBCHAT_OBJECTSTORE_BUCKET", &cfg.ObjectStore.Bucket),
		applyString(lookup, "DBCHAT_OBJECTSTORE_ACCESS_KEY", &cfg.ObjectStore.AccessKeyID),
		applyString(lookup, "DBCHAT_OBJECTSTORE_SECRET_KEY", &cfg.ObjectStore.SecretAccessKey),
		applyBool(lookup, "DBCHAT_OBJECTSTORE_USE_SSL", &cfg.ObjectStore.UseSSL),
		applyString(lookup, "DBCHAT_OBJECTSTORE_PREFIX", &cfg.ObjectStore.Prefix),
		applyBool(lookup, "DBCHAT_OBJECTSTORE_AUTO_CREATE_BUCKET", &cfg.ObjectStore.AutoCreateBucket),

		applyBool(lookup, "DBCHAT_LOG_JSON", &cfg.Observability.LogJSON),
		applyLogLevel(lookup, "DBCHAT_LOG_LEVEL", &cfg.Observability.LogLevel),

		applyBool(lookup, "DBCHAT_AUTH_REQUIRED", &cfg.Auth.Required),
		applyString(lookup, "DBCHAT_AUTH_STATIC_KEYS", &cfg.Auth.StaticKeys),
	}
	if err := errors.Join(steps...); err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Service.Name == "" {
		return fmt.Errorf("service name is required")
	}
	if c.HTTP.Address == "" {
		return fmt.Errorf("http address is required")
	}
	switch c.AI.Provider {
	case "openai", "azure":
	default:
		return fmt.Errorf("invalid DBCHAT_AI_PROVIDER: %q", c.AI.Provider)
	}
	if c.AI.Provider == "azure" && c.AI.BaseURL == "" {
		return fmt.Errorf("DBCHAT_AI_BASE_URL is required for the azure provider")
	}
	if !dialect.IsSupported(c.Prompt.Dialect) {
		return fmt.Errorf("invalid DBCHAT_PROMPT_DIALECT: %q (supported: %s)", c.Prompt.Dialect, strings.Join(dialect.Names(), ", "))
	}
	if c.Prompt.RowLimit <= 0 {
		return fmt.Errorf("DBCHAT_PROMPT_ROW_LIMIT must be > 0")
	}
	switch c.Connections.Backend {
	case BackendMemory:
	case BackendKeyring:
		if c.Connections.KeyringService == "" {
			return fmt.Errorf("DBCHAT_CONNECTIONS_KEYRING_SERVICE is required for the keyring backend")
		}
	default:
		return fmt.Errorf("invalid DBCHAT_CONNECTIONS_BACKEND: %q", c.Connections.Backend)
	}
	switch c.History.Backend {
	case BackendMemory, BackendObjectStore:
	case BackendPostgres:
		if c.History.DSN == "" {
			return fmt.Errorf("DBCHAT_HISTORY_DSN is required for the postgres backend")
		}
	default:
		return fmt.Errorf("invalid DBCHAT_HISTORY_BACKEND: %q", c.History.Backend)
	}
	switch c.ObjectStore.Backend {
	case BackendMemory:
	case BackendS3:
		if c.ObjectStore.Endpoint == "" || c.ObjectStore.Bucket == "" {
			return fmt.Errorf("DBCHAT_OBJECTSTORE_ENDPOINT and DBCHAT_OBJECTSTORE_BUCKET are required for the s3 backend")
		}
	default:
		return fmt.Errorf("invalid DBCHAT_OBJECTSTORE_BACKEND: %q", c.ObjectStore.Backend)
	}
	if c.Export.TTL < 0 {
		return fmt.Errorf("DBCHAT_EXPORT_TTL must be >= 0")
	}
	if c.Export.TTL > 0 && c.Export.SweepInterval <= 0 {
		return fmt.Errorf("DBCHAT_EXPORT_SWEEP_INTERVAL must be > 0 when DBCHAT_EXPORT_TTL is set")
	}
	if c.Export.PresignExpiry < 0 || c.Export.PresignExpiry > 7*24*time.Hour {
		return fmt.Errorf("DBCHAT_EXPORT_PRESIGN_EXPIRY must be between 0 and 168h")
	}
	return nil
}

func defaultsForProfile(profile Profile) Config {
	cfg := Config{
		Profile: profile,
		Service: ServiceConfig{Name: "dbchat-api"},
		HTTP: HTTPConfig{
			Address:         ":8080",
			ReadTimeout:     5 * time.Second,
			WriteTimeout:    120 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		AI: AIConfig{
			Provider:    "openai",
			Model:       "gpt-4o",
			Temperature: 0,
			Timeout:     60 * time.Second,
		},
		Prompt: PromptConfig{
			Dialect:  dialect.Default,
			RowLimit: 100,
		},
		Query: QueryConfig{
			ReadOnly: false,
		},
		Connections: ConnectionsConfig{
			Backend:        BackendMemory,
			KeyringService: "dbchat",
		},
		History: HistoryConfig{
			Backend:         BackendMemory,
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxIdleTime: 5 * time.Minute,
			ConnMaxLifetime: 30 * time.Minute,
		},
		ObjectStore: ObjectStoreConfig{
			Backend:          BackendMemory,
			Endpoint:         "localhost:9000",
			Region:           "us-east-1",
			Bucket:           "dbchat",
			AccessKeyID:      "minio",
			SecretAccessKey:  "miniostorage",
			UseSSL:           false,
			AutoCreateBucket: true,
		},
		Export: ExportConfig{
			TTL:           24 * time.Hour,
			SweepInterval: 10 * time.Minute,
			PresignExpiry: 15 * time.Minute,
		},
		Observability: ObservabilityConfig{
			LogLevel: slog.LevelDebug,
			LogJSON:  true,
		},
		Auth: AuthConfig{
			Required: false,
		},
	}

	switch profile {
	case ProfileTest:
		cfg.HTTP.Address = ":18080"
		cfg.Observability.LogLevel = slog.LevelWarn
		cfg.Auth.Required = false
	case ProfileProd:
		cfg.Observability.LogLevel = slog.LevelInfo
		cfg.Auth.Required = true
		cfg.Connections.Backend = BackendKeyring
		cfg.History.Backend = BackendObjectStore
		cfg.ObjectStore.Backend = BackendS3
		cfg.ObjectStore.UseSSL = true
		cfg.ObjectStore.AutoCreateBucket = false
	}

	return cfg
}

func isValidProfile(profile Profile) bool {
	switch profile {
	case ProfileDev, ProfileTest, ProfileProd:
		return true
	default:
		return false
	}
}

func applyString(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	*dst = strings.TrimSpace(raw)
	return nil
}

func applyLower(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	*dst = strings.ToLower(strings.TrimSpace(raw))
	return nil
}

func applyDuration(lookup LookupFunc, key string, dst *time.Duration) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyBool(lookup LookupFunc, key string, dst *bool) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyFloat(lookup LookupFunc, key string, dst *float64) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyLogLevel(lookup LookupFunc, key string, dst *slog.Level) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	level := strings.ToLower(strings.TrimSpace(raw))
	switch level {
	case "debug":
		*dst = slog.LevelDebug
	case "info":
		*dst = slog.LevelInfo
	case "warn", "warning":
		*dst = slog.LevelWarn
	case "error":
		*dst = slog.LevelError
	default:
		return fmt.Errorf("invalid %s: %q", key, raw)
	}
	return nil
}
