package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Logger       LoggerConfig       `mapstructure:"logger"`
	Security     SecurityConfig     `mapstructure:"security"`
	Features     FeaturesConfig     `mapstructure:"features"`
	Auth         AuthConfig         `mapstructure:"auth"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Events       EventsConfig       `mapstructure:"events"`
	SkipFlag     SkipFlagConfig     `mapstructure:"skipflag"`
	Cloud        CloudConfig        `mapstructure:"cloud"`
	Backup       BackupConfig       `mapstructure:"backup"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
}

type SecurityConfig struct {
	EncryptionKey string `mapstructure:"encryption_key"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
	)
}

type LoggerConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

type FeaturesConfig struct {
	RequestIDHeader      string `mapstructure:"request_id_header"`
	EnableRequestLogging bool   `mapstructure:"enable_request_logging"`
}

type AuthConfig struct {
	AdminAPIKey    string   `mapstructure:"admin_api_key"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// OrchestratorConfig holds every tunable interval of the job and
// reconciliation machinery.
type OrchestratorConfig struct {
	ReconcileInterval  time.Duration `mapstructure:"reconcile_interval"`
	SkipFlagTTL        time.Duration `mapstructure:"skip_flag_ttl"`
	PollInterval       time.Duration `mapstructure:"poll_interval"`
	PollMaxAttempts    int           `mapstructure:"poll_max_attempts"`
	ProbeTimeout       time.Duration `mapstructure:"probe_timeout"`
	ConnectTimeout     time.Duration `mapstructure:"connect_timeout"`
	CommandTimeout     time.Duration `mapstructure:"command_timeout"`
	LongCommandTimeout time.Duration `mapstructure:"long_command_timeout"`
	JobRetention       time.Duration `mapstructure:"job_retention"`
	ConfirmAttempts    int           `mapstructure:"confirm_attempts"`
	ConfirmDelay       time.Duration `mapstructure:"confirm_delay"`
	CollectHostFacts   bool          `mapstructure:"collect_host_facts"`
}

type EventsConfig struct {
	Backend          string `mapstructure:"backend"`
	NATSURL          string `mapstructure:"nats_url"`
	SubjectPrefix    string `mapstructure:"subject_prefix"`
	SubscriberBuffer int    `mapstructure:"subscriber_buffer"`
}

type SkipFlagConfig struct {
	Backend    string `mapstructure:"backend"`
	BadgerPath string `mapstructure:"badger_path"`
	NATSURL    string `mapstructure:"nats_url"`
	Bucket     string `mapstructure:"bucket"`
}

type CloudConfig struct {
	Provider   string `mapstructure:"provider"`
	Token      string `mapstructure:"token"`
	BaseURL    string `mapstructure:"base_url"`
	ServerType string `mapstructure:"server_type"`
	Image      string `mapstructure:"image"`
	Location   string `mapstructure:"location"`
}

type BackupConfig struct {
	Endpoint   string `mapstructure:"endpoint"`
	Region     string `mapstructure:"region"`
	Bucket     string `mapstructure:"bucket"`
	AccessKey  string `mapstructure:"access_key"`
	SecretKey  string `mapstructure:"secret_key"`
	StagingDir string `mapstructure:"staging_dir"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.conn_max_lifetime", time.Hour)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.encoding", "console")
	v.SetDefault("logger.output_paths", []string{"stdout"})
	v.SetDefault("logger.error_output_paths", []string{"stderr"})

	v.SetDefault("features.request_id_header", "X-Request-ID")
	v.SetDefault("features.enable_request_logging", true)

	v.SetDefault("orchestrator.reconcile_interval", 5*time.Minute)
	v.SetDefault("orchestrator.skip_flag_ttl", 2*time.Minute)
	v.SetDefault("orchestrator.poll_interval", 15*time.Second)
	v.SetDefault("orchestrator.poll_max_attempts", 40)
	v.SetDefault("orchestrator.probe_timeout", 5*time.Second)
	v.SetDefault("orchestrator.connect_timeout", 15*time.Second)
	v.SetDefault("orchestrator.command_timeout", 2*time.Minute)
	v.SetDefault("orchestrator.long_command_timeout", 20*time.Minute)
	v.SetDefault("orchestrator.job_retention", 10*time.Minute)
	v.SetDefault("orchestrator.confirm_attempts", 5)
	v.SetDefault("orchestrator.confirm_delay", 10*time.Second)
	v.SetDefault("orchestrator.collect_host_facts", true)

	v.SetDefault("events.backend", "local")
	v.SetDefault("events.subject_prefix", "dflow.events")
	v.SetDefault("events.subscriber_buffer", 64)

	v.SetDefault("skipflag.backend", "memory")
	v.SetDefault("skipflag.badger_path", "data/skipflags")
	v.SetDefault("skipflag.bucket", "dflow_skip_flags")

	v.SetDefault("cloud.provider", "hetzner")
	v.SetDefault("cloud.server_type", "cx22")
	v.SetDefault("cloud.image", "ubuntu-24.04")
	v.SetDefault("cloud.location", "nbg1")

	v.SetDefault("backup.region", "us-east-1")
	v.SetDefault("backup.staging_dir", "/tmp")

	v.SetDefault("metrics.enabled", true)
}

func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetEnvPrefix("DFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}
