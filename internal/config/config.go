// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	RepositoryPostgres = "postgres"
	RepositorySQLite   = "sqlite"
	RepositoryInMemory = "inmemory"

	SinkLog = "log"
	SinkSNS = "sns"

	DirectoryStore   = "store"
	DirectoryCognito = "cognito"
)

type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Logging       LoggingConfig       `yaml:"logging"`
	Repository    RepositoryConfig    `yaml:"repository"`
	Auth          AuthConfig          `yaml:"auth"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Directory     DirectoryConfig     `yaml:"directory"`
	Engine        EngineConfig        `yaml:"engine"`
	Reconciler    ReconcilerConfig    `yaml:"reconciler"`
}

type ServerConfig struct {
	Port            string        `yaml:"port"`
	Host            string        `yaml:"host"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	RateLimit       int           `yaml:"rate_limit"` // requests per minute per client
	AllowedOrigins  []string      `yaml:"allowed_origins"`
}

type DatabaseConfig struct {
	URL            string        `yaml:"url"`
	MaxConnections int32         `yaml:"max_connections"`
	MinConnections int32         `yaml:"min_connections"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	Migrate        bool          `yaml:"migrate"`
}

type LoggingConfig struct {
	Development bool `yaml:"development"`
}

type RepositoryConfig struct {
	Type       string `yaml:"type"` // "postgres", "sqlite" or "inmemory"
	SQLitePath string `yaml:"sqlite_path"`
}

type AuthConfig struct {
	JWTSecret  string `yaml:"jwt_secret"`
	Issuer     string `yaml:"issuer"`
	AdminGroup string `yaml:"admin_group"`
}

type NotificationsConfig struct {
	Sink      string `yaml:"sink"` // "log" or "sns"
	TopicARN  string `yaml:"topic_arn"`
	Region    string `yaml:"region"`
	QueueSize int    `yaml:"queue_size"`
	Workers   int    `yaml:"workers"`
}

type DirectoryConfig struct {
	Type       string     `yaml:"type"` // "store" or "cognito"
	UserPoolID string     `yaml:"user_pool_id"`
	Region     string     `yaml:"region"`
	Users      []SeedUser `yaml:"users"` // written to the store directory at startup
}

type SeedUser struct {
	Subject  string   `yaml:"subject"`
	Email    string   `yaml:"email"`
	Name     string   `yaml:"name"`
	Disabled bool     `yaml:"disabled"`
	Groups   []string `yaml:"groups"`
}

type EngineConfig struct {
	MaxRetries *int `yaml:"max_retries"` // version-conflict retries; 0 disables, absent means 3
}

type ReconcilerConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Interval  time.Duration `yaml:"interval"`
	BatchSize int           `yaml:"batch_size"`
}

// Load reads the YAML file at path, overlays .env and process environment, then validates.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	var cfg Config
	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	// .env is optional
	_ = godotenv.Load()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	if v, ok := os.LookupEnv("TASKFLOW_DATABASE_URL"); ok {
		c.Database.URL = v
	}
	if v, ok := os.LookupEnv("TASKFLOW_JWT_SECRET"); ok {
		c.Auth.JWTSecret = v
	}
	if v, ok := os.LookupEnv("TASKFLOW_REPOSITORY_TYPE"); ok {
		c.Repository.Type = v
	}
	if v, ok := os.LookupEnv("TASKFLOW_SNS_TOPIC_ARN"); ok {
		c.Notifications.TopicARN = v
	}
	if v, ok := os.LookupEnv("TASKFLOW_USER_POOL_ID"); ok {
		c.Directory.UserPoolID = v
	}
	if v, ok := os.LookupEnv("TASKFLOW_PORT"); ok {
		if _, err := strconv.Atoi(v); err != nil {
			return fmt.Errorf("TASKFLOW_PORT: %w", err)
		}
		c.Server.Port = v
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Server.RequestTimeout == 0 {
		c.Server.RequestTimeout = 30 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Server.RateLimit == 0 {
		c.Server.RateLimit = 100
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{"*"}
	}
	if c.Database.MaxConnections == 0 {
		c.Database.MaxConnections = 10
	}
	if c.Database.MinConnections == 0 {
		c.Database.MinConnections = 2
	}
	if c.Database.IdleTimeout == 0 {
		c.Database.IdleTimeout = 5 * time.Minute
	}
	if c.Repository.Type == "" {
		c.Repository.Type = RepositoryInMemory
	}
	if c.Repository.SQLitePath == "" {
		c.Repository.SQLitePath = "./taskflow.db"
	}
	if c.Auth.AdminGroup == "" {
		c.Auth.AdminGroup = "Admins"
	}
	if c.Notifications.Sink == "" {
		c.Notifications.Sink = SinkLog
	}
	if c.Notifications.QueueSize == 0 {
		c.Notifications.QueueSize = 256
	}
	if c.Notifications.Workers == 0 {
		c.Notifications.Workers = 2
	}
	if c.Directory.Type == "" {
		c.Directory.Type = DirectoryStore
	}
	if c.Engine.MaxRetries == nil {
		retries := 3
		c.Engine.MaxRetries = &retries
	}
	if c.Reconciler.Interval == 0 {
		c.Reconciler.Interval = 5 * time.Minute
	}
	if c.Reconciler.BatchSize == 0 {
		c.Reconciler.BatchSize = 100
	}
}

func (c *Config) Validate() error {
	var errs []error

	switch c.Repository.Type {
	case RepositoryPostgres:
		if c.Database.URL == "" {
			errs = append(errs, errors.New("database.url is required for the postgres repository"))
		}
	case RepositorySQLite, RepositoryInMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown repository.type %q", c.Repository.Type))
	}

	switch c.Notifications.Sink {
	case SinkSNS:
		if c.Notifications.TopicARN == "" {
			errs = append(errs, errors.New("notifications.topic_arn is required for the sns sink"))
		}
	case SinkLog:
	default:
		errs = append(errs, fmt.Errorf("unknown notifications.sink %q", c.Notifications.Sink))
	}

	switch c.Directory.Type {
	case DirectoryCognito:
		if c.Directory.UserPoolID == "" {
			errs = append(errs, errors.New("directory.user_pool_id is required for the cognito directory"))
		}
	case DirectoryStore:
		emails := make(map[string]int, len(c.Directory.Users))
		subjects := make(map[string]int, len(c.Directory.Users))
		for i, u := range c.Directory.Users {
			if u.Subject == "" || u.Email == "" {
				errs = append(errs, fmt.Errorf("directory.users[%d]: subject and email are required", i))
				continue
			}
			email := strings.ToLower(strings.TrimSpace(u.Email))
			if prev, ok := emails[email]; ok {
				errs = append(errs, fmt.Errorf("directory.users[%d]: email %s already used by directory.users[%d]", i, email, prev))
			}
			if prev, ok := subjects[u.Subject]; ok {
				errs = append(errs, fmt.Errorf("directory.users[%d]: subject %s already used by directory.users[%d]", i, u.Subject, prev))
			}
			emails[email] = i
			subjects[u.Subject] = i
		}
	default:
		errs = append(errs, fmt.Errorf("unknown directory.type %q", c.Directory.Type))
	}

	if c.Engine.MaxRetries != nil && *c.Engine.MaxRetries < 0 {
		errs = append(errs, errors.New("engine.max_retries must not be negative"))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required"))
	}

	return errors.Join(errs...)
}

func (c *Config) GetServerAddr() string {
	return fmt.Sprintf("%s:%s", c.Server.Host, c.Server.Port)
}
