// Package config loads the process-wide configuration for the
// workflowengine binary: storage backend selection and engine tuning
// knobs. Adapted from the teacher's internal/profile.Profile, trimmed
// to the fields this engine actually uses (no LLM/embedding/OCR
// surface in this domain).
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/tanjeetsarkar/workflowengine/engine"
)

// Config is the configuration needed to start the workflow engine
// server.
type Config struct {
	Driver string
	DSN    string
	Data   string
	Mode   string

	Addr     string
	Port     int
	UNIXSock string

	MaxConcurrentExecutions       int
	PerExecutionWorkers           int
	DefaultNodeTimeoutSeconds     int
	StateStoreTTLSeconds          int
	CancellationCheckIntervalTicks int
	MaxRunnerRetries              int
	RunnerRetryBackoff            time.Duration
	SubmissionBurst               int
	SubmissionRatePerSecond       float64
}

func (c *Config) IsDev() bool {
	return c.Mode != "prod"
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// FromEnv loads configuration from environment variables, applying the
// same defaults as engine.DefaultConfig() when unset.
func (c *Config) FromEnv() {
	c.Driver = getEnvOrDefault("WORKFLOWENGINE_DRIVER", "sqlite")
	c.DSN = getEnvOrDefault("WORKFLOWENGINE_DSN", "")
	c.Data = getEnvOrDefault("WORKFLOWENGINE_DATA", "")
	c.Mode = getEnvOrDefault("WORKFLOWENGINE_MODE", "demo")
	c.Addr = getEnvOrDefault("WORKFLOWENGINE_ADDR", "")
	c.Port = getEnvOrDefaultInt("WORKFLOWENGINE_PORT", 8090)
	c.UNIXSock = getEnvOrDefault("WORKFLOWENGINE_UNIX_SOCK", "")

	defaults := engine.DefaultConfig()
	c.MaxConcurrentExecutions = getEnvOrDefaultInt("WORKFLOWENGINE_MAX_CONCURRENT_EXECUTIONS", defaults.MaxConcurrentExecutions)
	c.PerExecutionWorkers = getEnvOrDefaultInt("WORKFLOWENGINE_PER_EXECUTION_WORKERS", defaults.PerExecutionWorkers)
	c.DefaultNodeTimeoutSeconds = getEnvOrDefaultInt("WORKFLOWENGINE_DEFAULT_NODE_TIMEOUT_SECONDS", defaults.DefaultNodeTimeoutSeconds)
	c.StateStoreTTLSeconds = getEnvOrDefaultInt("WORKFLOWENGINE_STATE_STORE_TTL_SECONDS", defaults.StateStoreTTLSeconds)
	c.CancellationCheckIntervalTicks = getEnvOrDefaultInt("WORKFLOWENGINE_CANCELLATION_CHECK_INTERVAL_TICKS", defaults.CancellationCheckIntervalTicks)
	c.MaxRunnerRetries = getEnvOrDefaultInt("WORKFLOWENGINE_MAX_RUNNER_RETRIES", defaults.MaxRunnerRetries)
	backoffMillis := getEnvOrDefaultInt("WORKFLOWENGINE_RUNNER_RETRY_BACKOFF_MS", int(defaults.RunnerRetryBackoff/time.Millisecond))
	c.RunnerRetryBackoff = time.Duration(backoffMillis) * time.Millisecond
	c.SubmissionBurst = getEnvOrDefaultInt("WORKFLOWENGINE_SUBMISSION_BURST", defaults.SubmissionBurst)
	c.SubmissionRatePerSecond = float64(getEnvOrDefaultInt("WORKFLOWENGINE_SUBMISSION_RATE_PER_SECOND", int(defaults.SubmissionRatePerSecond)))
}

// EngineConfig projects the ambient Config down to the engine.Config
// subset the scheduler/front-door actually consume.
func (c *Config) EngineConfig() engine.Config {
	return engine.Config{
		MaxConcurrentExecutions:       c.MaxConcurrentExecutions,
		PerExecutionWorkers:           c.PerExecutionWorkers,
		DefaultNodeTimeoutSeconds:     c.DefaultNodeTimeoutSeconds,
		StateStoreTTLSeconds:          c.StateStoreTTLSeconds,
		CancellationCheckIntervalTicks: c.CancellationCheckIntervalTicks,
		MaxRunnerRetries:              c.MaxRunnerRetries,
		RunnerRetryBackoff:            c.RunnerRetryBackoff,
		SubmissionBurst:               c.SubmissionBurst,
		SubmissionRatePerSecond:       c.SubmissionRatePerSecond,
	}
}

func checkDataDir(dataDir string) (string, error) {
	if !filepath.IsAbs(dataDir) {
		relativeDir := filepath.Join(filepath.Dir(os.Args[0]), dataDir)
		absDir, err := filepath.Abs(relativeDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

// Validate normalizes Mode, resolves Data to an absolute, existing
// directory, and derives a default DSN for the sqlite driver when none
// was supplied.
func (c *Config) Validate() error {
	if c.Mode != "demo" && c.Mode != "dev" && c.Mode != "prod" {
		c.Mode = "demo"
	}

	if c.Driver != "sqlite" && c.Driver != "postgres" {
		return errors.Errorf("unsupported driver %q", c.Driver)
	}

	if c.Mode == "prod" && c.Data == "" {
		if runtime.GOOS == "windows" {
			c.Data = filepath.Join(os.Getenv("ProgramData"), "workflowengine")
		} else {
			c.Data = "/var/opt/workflowengine"
		}
		if _, err := os.Stat(c.Data); os.IsNotExist(err) {
			if err := os.MkdirAll(c.Data, 0770); err != nil {
				slog.Error("failed to create data directory", slog.String("data", c.Data), slog.String("error", err.Error()))
				return err
			}
		}
	}

	if c.Driver == "sqlite" {
		if c.Data == "" {
			c.Data = "."
		}
		dataDir, err := checkDataDir(c.Data)
		if err != nil {
			slog.Error("failed to check data directory", slog.String("data", c.Data), slog.String("error", err.Error()))
			return err
		}
		c.Data = dataDir

		if c.DSN == "" {
			dbFile := fmt.Sprintf("workflowengine_%s.db", c.Mode)
			c.DSN = filepath.Join(dataDir, dbFile)
		}
	}

	if c.Driver == "postgres" && c.DSN == "" {
		return errors.New("postgres driver requires a DSN")
	}

	return nil
}
