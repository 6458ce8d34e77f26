package config

import (
	"fmt"

	"github.com/spf13/pflag"
)

const (
	FlagAPIURL                 = "api-url"
	FlagProjectDir             = "project-dir"
	FlagStorageDir             = "storage-dir"
	FlagLogDir                 = "log-dir"
	FlagLogLevel               = "log-level"
	FlagMaxFailures            = "max-failures"
	FlagSleepInterval          = "sleep-interval"
	FlagStartupAttemptInterval = "startup-attempt-interval"
	FlagStartupMaxAttempts     = "startup-max-attempts"
	FlagRequestTimeout         = "request-timeout"
	FlagStatusAddress          = "status-address"
)

// BindFlags registers one flag per configuration key. Flags only override
// the other sources when they are explicitly set.
func BindFlags(fs *pflag.FlagSet) {
	d := NewDefault()
	fs.String(FlagAPIURL, "", "URL to the platform API")
	fs.String(FlagProjectDir, "", "full path to project root directory")
	fs.String(FlagStorageDir, "", "path, relative to project directory, to the directory to store result files into")
	fs.String(FlagLogDir, "", "path, relative to project directory, to the directory to write log files into")
	fs.String(FlagLogLevel, d.LogLevel, "level of details to use for logging")
	fs.Uint(FlagMaxFailures, d.MaxFailures, "number of allowable consecutive failures before we conclude that comparator has encountered a fatal issue")
	fs.Uint(FlagSleepInterval, d.SleepInterval, "minimum time (s) before re-polling the platform for unprocessed comparison jobs")
	fs.Uint(FlagStartupAttemptInterval, d.StartupAttemptInterval, "minimum time (ms) to wait before attempting to rerun startup stage")
	fs.Uint(FlagStartupMaxAttempts, d.StartupMaxAttempts, "maximum number of attempts to run startup stage")
	fs.Duration(FlagRequestTimeout, d.RequestTimeout.Duration, "maximum duration of a single call to the platform")
	fs.String(FlagStatusAddress, "", "listen address of the status server, disabled when empty")
}

func (cfg *Config) applyFlags(fs *pflag.FlagSet) error {
	var err error
	fs.Visit(func(f *pflag.Flag) {
		if err != nil {
			return
		}
		switch f.Name {
		case FlagAPIURL:
			cfg.APIURL, err = fs.GetString(f.Name)
		case FlagProjectDir:
			cfg.ProjectDir, err = fs.GetString(f.Name)
		case FlagStorageDir:
			cfg.StorageDir, err = fs.GetString(f.Name)
		case FlagLogDir:
			cfg.LogDir, err = fs.GetString(f.Name)
		case FlagLogLevel:
			cfg.LogLevel, err = fs.GetString(f.Name)
		case FlagMaxFailures:
			cfg.MaxFailures, err = fs.GetUint(f.Name)
		case FlagSleepInterval:
			cfg.SleepInterval, err = fs.GetUint(f.Name)
		case FlagStartupAttemptInterval:
			cfg.StartupAttemptInterval, err = fs.GetUint(f.Name)
		case FlagStartupMaxAttempts:
			cfg.StartupMaxAttempts, err = fs.GetUint(f.Name)
		case FlagRequestTimeout:
			cfg.RequestTimeout.Duration, err = fs.GetDuration(f.Name)
		case FlagStatusAddress:
			cfg.StatusAddress, err = fs.GetString(f.Name)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to read flags: %w", err)
	}
	return nil
}
