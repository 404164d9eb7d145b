package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the main configuration for the axis service.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Gateway    GatewayConfig    `yaml:"gateway"`
	Executor   ExecutorConfig   `yaml:"executor"`
	Queue      QueueConfig      `yaml:"queue"`
	Tasks      TasksConfig      `yaml:"tasks"`
	Workflow   WorkflowConfig   `yaml:"workflow"`
	Governance GovernanceConfig `yaml:"governance"`
	Autonomy   AutonomyConfig   `yaml:"autonomy"`
	Webhooks   WebhooksConfig   `yaml:"webhooks"`
	Security   SecurityConfig   `yaml:"security"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Sweeper    SweeperConfig    `yaml:"sweeper"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig configures the HTTP server
type ServerConfig struct {
	HTTPPort     int           `yaml:"http_port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// DatabaseConfig configures the relational store
type DatabaseConfig struct {
	Type        string `yaml:"type"` // "sqlite", "postgres"
	Path        string `yaml:"path"` // For SQLite
	DSN         string `yaml:"dsn"`  // For Postgres
	AutoMigrate bool   `yaml:"auto_migrate"`
}

// Driver returns the database/sql driver name for the configured type.
func (d DatabaseConfig) Driver() string {
	if d.Type == "postgres" {
		return "postgres"
	}
	return "sqlite3"
}

// DataSource returns the DSN passed to the driver.
func (d DatabaseConfig) DataSource() string {
	if d.Type == "postgres" {
		return d.DSN
	}
	return "file:" + d.Path + "?_foreign_keys=on&_busy_timeout=5000"
}

// GatewayConfig configures the OpenAI-compatible inference gateway
type GatewayConfig struct {
	Endpoint    string        `yaml:"endpoint"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	Temperature float64       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`
}

// ExecutorConfig configures the external task-execution backend
type ExecutorConfig struct {
	Endpoint string        `yaml:"endpoint"`
	APIKey   string        `yaml:"api_key"`
	Timeout  time.Duration `yaml:"timeout"`
}

// QueueConfig configures the work queue carrying retries, loop ticks and webhook dispatch
type QueueConfig struct {
	Backend    string        `yaml:"backend"` // "memory" or "nats"
	NATSURL    string        `yaml:"nats_url"`
	StreamName string        `yaml:"stream_name"`
	Durable    string        `yaml:"durable"`
	AckWait    time.Duration `yaml:"ack_wait"`
	MaxDeliver int           `yaml:"max_deliver"`
	Workers    int           `yaml:"workers"`
}

// TasksConfig configures the task state machine
type TasksConfig struct {
	DefaultMaxAttempts int           `yaml:"default_max_attempts"`
	RetryDelay         time.Duration `yaml:"retry_delay"`
}

// WorkflowConfig configures the approval gate
type WorkflowConfig struct {
	// AutoApprove lists request types approved on submission
	AutoApprove       []string `yaml:"auto_approve"`
	RefineMemosWithAI bool     `yaml:"refine_memos_with_ai"`
	ExternalRouting   bool     `yaml:"external_routing"`
}

// GovernanceConfig describes which roles govern a company and how they rank.
// Name matches are case-insensitive substrings, earlier entries rank higher.
type GovernanceConfig struct {
	NameRanking        []string `yaml:"name_ranking"`
	AuthorityRanking   []string `yaml:"authority_ranking"`
	CoordinatorName    string   `yaml:"coordinator_name"`
	ProductRoleKeyword string   `yaml:"product_role_keyword"`
}

// AutonomyConfig configures the autonomous loop trigger
type AutonomyConfig struct {
	MemoryLimit  int `yaml:"memory_limit"`
	MessageLimit int `yaml:"message_limit"`
}

// WebhooksConfig configures outbound dispatch of external work
type WebhooksConfig struct {
	Timeout     time.Duration `yaml:"timeout"`
	CallbackURL string        `yaml:"callback_url"` // advertised to receivers
}

// SecurityConfig configures authentication and authorization
type SecurityConfig struct {
	EnableAuth     bool     `yaml:"enable_auth"`
	JWTSecret      string   `yaml:"jwt_secret"`
	AllowedOrigins []string `yaml:"allowed_origins"` // CORS
}

// TelemetryConfig configures OpenTelemetry tracing
type TelemetryConfig struct {
	Enabled      bool   `yaml:"enabled"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	ServiceName  string `yaml:"service_name"`
}

// SweeperConfig configures periodic maintenance jobs
type SweeperConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Schedule     string        `yaml:"schedule"`
	StaleAfter   time.Duration `yaml:"stale_after"`
	LoopSchedule string        `yaml:"loop_schedule"` // empty disables scheduled loop ticks
}

// LoggingConfig configures the zap logger
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:     8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 5 * time.Minute,
			IdleTimeout:  120 * time.Second,
		},
		Database: DatabaseConfig{
			Type:        "sqlite",
			Path:        "./axis.db",
			AutoMigrate: true,
		},
		Gateway: GatewayConfig{
			Endpoint:    "http://localhost:8000/v1",
			Model:       "gpt-4o-mini",
			Temperature: 0.4,
			MaxTokens:   1200,
			Timeout:     60 * time.Second,
		},
		Executor: ExecutorConfig{
			Endpoint: "http://localhost:8100/execute",
			Timeout:  4 * time.Minute,
		},
		Queue: QueueConfig{
			Backend:    "memory",
			NATSURL:    "nats://localhost:4222",
			StreamName: "AXIS_JOBS",
			Durable:    "axis-worker",
			AckWait:    5 * time.Minute,
			MaxDeliver: 5,
			Workers:    4,
		},
		Tasks: TasksConfig{
			DefaultMaxAttempts: 3,
			RetryDelay:         3 * time.Second,
		},
		Workflow: WorkflowConfig{
			RefineMemosWithAI: true,
			ExternalRouting:   true,
		},
		Governance: GovernanceConfig{
			NameRanking:        []string{"ceo", "chief executive officer", "chief of staff"},
			AuthorityRanking:   []string{"executive", "orchestrator"},
			CoordinatorName:    "chief of staff",
			ProductRoleKeyword: "product",
		},
		Autonomy: AutonomyConfig{
			MemoryLimit:  10,
			MessageLimit: 20,
		},
		Webhooks: WebhooksConfig{
			Timeout:     10 * time.Second,
			CallbackURL: "http://localhost:8080/api/v1/webhooks/callback",
		},
		Security: SecurityConfig{
			EnableAuth:     true,
			AllowedOrigins: []string{"*"},
		},
		Telemetry: TelemetryConfig{
			ServiceName: "axis",
		},
		Sweeper: SweeperConfig{
			Enabled:    true,
			Schedule:   "@every 1m",
			StaleAfter: 15 * time.Minute,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfigFromFile loads configuration from a YAML file at the specified path.
// Fields absent from the file keep their defaults.
func LoadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables (e.g. ${AXIS_JWT_SECRET}) before parsing YAML
	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	return cfg, nil
}

// Load reads path (if non-empty), applies AXIS_* environment overrides and validates.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		var err error
		if cfg, err = LoadConfigFromFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides endpoints and secrets from AXIS_* environment variables.
func (c *Config) ApplyEnv() error {
	setString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}

	setString("AXIS_DATABASE_TYPE", &c.Database.Type)
	setString("AXIS_DATABASE_PATH", &c.Database.Path)
	setString("AXIS_DATABASE_DSN", &c.Database.DSN)
	setString("AXIS_GATEWAY_ENDPOINT", &c.Gateway.Endpoint)
	setString("AXIS_GATEWAY_API_KEY", &c.Gateway.APIKey)
	setString("AXIS_GATEWAY_MODEL", &c.Gateway.Model)
	setString("AXIS_EXECUTOR_ENDPOINT", &c.Executor.Endpoint)
	setString("AXIS_EXECUTOR_API_KEY", &c.Executor.APIKey)
	setString("AXIS_QUEUE_BACKEND", &c.Queue.Backend)
	setString("AXIS_NATS_URL", &c.Queue.NATSURL)
	setString("AXIS_WEBHOOK_CALLBACK_URL", &c.Webhooks.CallbackURL)
	setString("AXIS_JWT_SECRET", &c.Security.JWTSecret)
	setString("AXIS_OTLP_ENDPOINT", &c.Telemetry.OTLPEndpoint)
	setString("AXIS_LOG_LEVEL", &c.Logging.Level)

	if v := os.Getenv("AXIS_HTTP_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid AXIS_HTTP_PORT %q: %w", v, err)
		}
		c.Server.HTTPPort = port
	}
	if v := os.Getenv("AXIS_AUTO_APPROVE"); v != "" {
		c.Workflow.AutoApprove = splitList(v)
	}
	return nil
}

// Validate checks the configuration for values the service cannot run with.
func (c *Config) Validate() error {
	switch c.Database.Type {
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for sqlite")
		}
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("unsupported database.type %q", c.Database.Type)
	}

	switch c.Queue.Backend {
	case "memory", "nats":
	default:
		return fmt.Errorf("unsupported queue.backend %q", c.Queue.Backend)
	}

	if c.Tasks.DefaultMaxAttempts < 1 || c.Tasks.DefaultMaxAttempts > 10 {
		return fmt.Errorf("tasks.default_max_attempts must be between 1 and 10, got %d", c.Tasks.DefaultMaxAttempts)
	}
	if c.Tasks.RetryDelay < 0 {
		return fmt.Errorf("tasks.retry_delay must not be negative")
	}
	if c.Security.EnableAuth && c.Security.JWTSecret == "" {
		return fmt.Errorf("security.jwt_secret is required when auth is enabled")
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
