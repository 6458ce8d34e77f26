package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/pflag"
	"go.uber.org/zap/zapcore"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"sigs.k8s.io/yaml"
)

const (
	// EnvPrefix prefixes every environment variable read by the comparator
	EnvPrefix = "COMPARATOR"
	// DefaultConfigFile is the default path to the configuration file
	DefaultConfigFile = "/etc/comparator/config.yaml"
	// LogFilename is the name of the log file written into the log directory
	LogFilename = "comparator.log"

	DefaultLogLevel               = "info"
	DefaultMaxFailures            = 10
	DefaultSleepInterval          = 10    // seconds
	DefaultStartupAttemptInterval = 12000 // milliseconds
	DefaultStartupMaxAttempts     = 10
	DefaultRequestTimeout         = 30 * time.Second
)

// Config is the validated, read-only configuration of the comparator. It is
// built once at startup and passed by value.
type Config struct {
	// APIURL is the URL of the platform API
	APIURL string `json:"api-url" envconfig:"API_URL" validate:"required,url"`
	// ProjectDir is the full path to the project root directory
	ProjectDir string `json:"project-dir" envconfig:"PROJECT_DIR" validate:"required"`
	// StorageDir is the path, relative to ProjectDir, of the result files
	StorageDir string `json:"storage-dir" envconfig:"STORAGE_DIR" validate:"required"`
	// LogDir is the path, relative to ProjectDir, to write log files into.
	// Logs only go to stdout when empty.
	LogDir string `json:"log-dir,omitempty" envconfig:"LOG_DIR"`
	// LogLevel is the level of details to use for logging
	LogLevel string `json:"log-level" envconfig:"LOG_LEVEL" validate:"oneof=debug info warn error dpanic panic fatal"`
	// MaxFailures is the number of allowed consecutive job failures within a cycle
	MaxFailures uint `json:"max-failures" envconfig:"MAX_FAILURES"`
	// SleepInterval is the time, in seconds, to wait before polling again when no job is pending
	SleepInterval uint `json:"sleep-interval" envconfig:"SLEEP_INTERVAL"`
	// StartupAttemptInterval is the time, in milliseconds, between two handshake attempts
	StartupAttemptInterval uint `json:"startup-attempt-interval" envconfig:"STARTUP_ATTEMPT_INTERVAL"`
	// StartupMaxAttempts is the maximum number of handshake attempts
	StartupMaxAttempts uint `json:"startup-max-attempts" envconfig:"STARTUP_MAX_ATTEMPTS" validate:"gte=1"`
	// RequestTimeout bounds every call made to the platform
	RequestTimeout Duration `json:"request-timeout" envconfig:"REQUEST_TIMEOUT"`
	// StatusAddress is the listen address of the status server. Disabled when empty.
	StatusAddress string `json:"status-address,omitempty" envconfig:"STATUS_ADDRESS" validate:"omitempty,hostname_port"`
	// ObjectStore reads result files from a bucket instead of the local disk when set
	ObjectStore ObjectStore `json:"object-store,omitempty" envconfig:"OBJECT_STORE"`
}

type ObjectStore struct {
	Endpoint  string `json:"endpoint,omitempty" envconfig:"ENDPOINT"`
	Bucket    string `json:"bucket,omitempty" envconfig:"BUCKET" validate:"required_with=Endpoint"`
	AccessKey string `json:"access-key,omitempty" envconfig:"ACCESS_KEY"`
	SecretKey string `json:"secret-key,omitempty" envconfig:"SECRET_KEY"`
	UseSSL    bool   `json:"use-ssl,omitempty" envconfig:"USE_SSL"`
}

func (o ObjectStore) Enabled() bool {
	return o.Endpoint != ""
}

// MissingConfigurationError lists every required key that has no value.
type MissingConfigurationError struct {
	Keys []string
}

func (e *MissingConfigurationError) Error() string {
	return fmt.Sprintf("cannot continue when required keys are missing: missing required option(s): %s", strings.Join(e.Keys, ", "))
}

func NewDefault() Config {
	return Config{
		LogLevel:               DefaultLogLevel,
		MaxFailures:            DefaultMaxFailures,
		SleepInterval:          DefaultSleepInterval,
		StartupAttemptInterval: DefaultStartupAttemptInterval,
		StartupMaxAttempts:     DefaultStartupMaxAttempts,
		RequestTimeout:         Duration{Duration: DefaultRequestTimeout},
	}
}

// Load builds the configuration from, in increasing order of precedence:
// defaults, the config file (skipped when cfgFile is empty), COMPARATOR_*
// environment variables and the flags explicitly set on fs.
// The returned configuration is not validated.
func Load(cfgFile string, fs *pflag.FlagSet) (Config, error) {
	cfg := NewDefault()

	if cfgFile != "" {
		if err := cfg.parseConfigFile(cfgFile); err != nil {
			return Config{}, err
		}
	}

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to read environment: %w", err)
	}

	if fs != nil {
		if err := cfg.applyFlags(fs); err != nil {
			return Config{}, err
		}
	}

	return cfg, nil
}

func (cfg *Config) parseConfigFile(cfgFile string) error {
	contents, err := os.ReadFile(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(contents, cfg); err != nil {
		return fmt.Errorf("failed to unmarshal config file: %w", err)
	}
	return nil
}

// Validate checks that the required fields are set and that the values are usable.
// Missing required fields are all reported at once in a MissingConfigurationError.
func (cfg Config) Validate() error {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	err := v.Struct(cfg)
	if err == nil {
		return nil
	}

	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) {
		return err
	}

	missing := []string{}
	invalid := []error{}
	for _, fe := range fieldErrors {
		key := strings.TrimPrefix(fe.Namespace(), "Config.")
		if strings.HasPrefix(fe.Tag(), "required") {
			missing = append(missing, key)
			continue
		}
		invalid = append(invalid, fmt.Errorf("%s: invalid value %q (%s)", key, fmt.Sprint(fe.Value()), fe.Tag()))
	}

	if len(missing) > 0 {
		return &MissingConfigurationError{Keys: missing}
	}
	return fmt.Errorf("invalid configuration: %w", utilerrors.NewAggregate(invalid))
}

// StorageRoot is the directory, or object prefix, holding the result files.
func (cfg Config) StorageRoot() string {
	if cfg.ObjectStore.Enabled() {
		return cfg.StorageDir
	}
	return filepath.Join(cfg.ProjectDir, cfg.StorageDir)
}

// LogFile returns the path of the log file or an empty string when file logging is disabled.
func (cfg Config) LogFile() string {
	if cfg.LogDir == "" {
		return ""
	}
	dir := cfg.LogDir
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(cfg.ProjectDir, dir)
	}
	return filepath.Join(dir, LogFilename)
}

func (cfg Config) SleepIntervalDuration() time.Duration {
	return time.Duration(cfg.SleepInterval) * time.Second
}

func (cfg Config) StartupAttemptIntervalDuration() time.Duration {
	return time.Duration(cfg.StartupAttemptInterval) * time.Millisecond
}

// Level returns the zap level matching LogLevel, info when it cannot be parsed.
func (cfg Config) Level() zapcore.Level {
	lvl, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}

func (cfg Config) String() string {
	redacted := cfg
	if redacted.ObjectStore.SecretKey != "" {
		redacted.ObjectStore.SecretKey = "<redacted>"
	}
	contents, err := json.Marshal(redacted)
	if err != nil {
		return "<error>"
	}
	return string(contents)
}
