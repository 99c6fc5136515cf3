package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hellomypastor/OpenSandbox/internal/security"
)

// Config holds the daemon configuration. Everything is loaded from the
// environment the orchestration layer injects when it starts the sandbox.
type Config struct {
	// Port is the port the daemon listens on.
	Port string
	// SandboxID is the identity of the sandbox this daemon serves.
	SandboxID string
	// SandboxRoot confines all file operations; paths may not escape it.
	SandboxRoot string
	// SandboxImage and SandboxEntrypoint are reported on the metadata endpoint.
	SandboxImage      string
	SandboxEntrypoint string
	// SandboxExpiresAt is the absolute expiry deadline, if the orchestrator
	// declared one.
	SandboxExpiresAt *time.Time
	// AccessTokenHash is the SHA-256 of the bearer credential every request
	// must present. The plaintext token is never retained.
	AccessTokenHash string

	// DefaultCommandTimeout applies when a run request carries no timeout.
	DefaultCommandTimeout time.Duration
	// KillGracePeriod is the wait between SIGTERM and SIGKILL.
	KillGracePeriod time.Duration
	// ContextIdleTimeout reclaims interpreter contexts with no submissions.
	ContextIdleTimeout time.Duration
	// ExecutionRetention bounds how long terminal executions stay in memory.
	ExecutionRetention time.Duration
	// ExecutionRetentionMax bounds how many terminal executions stay in memory.
	ExecutionRetentionMax int
	// ExecutionHistoryRetention bounds how long terminal executions stay in
	// the history database after in-memory eviction.
	ExecutionHistoryRetention time.Duration
	// ShutdownTimeout is the graceful-shutdown budget.
	ShutdownTimeout time.Duration

	// DataDir holds the execution-history database.
	DataDir string
	// Kernels maps language names to kernel launch commands.
	Kernels map[string]KernelSpec
}

// KernelSpec declares how to launch one language kernel. The argv must start
// a process speaking the NDJSON kernel protocol on stdin/stdout.
type KernelSpec struct {
	Argv []string `yaml:"argv"`
}

type kernelsFile struct {
	Kernels map[string]KernelSpec `yaml:"kernels"`
}

const (
	envPort               = "PORT"
	envSandboxID          = "SANDBOX_ID"
	envSandboxRoot        = "SANDBOX_ROOT"
	envSandboxImage       = "SANDBOX_IMAGE"
	envSandboxEntrypoint  = "SANDBOX_ENTRYPOINT"
	envSandboxExpiresAt   = "SANDBOX_EXPIRES_AT"
	envAccessToken        = "SANDBOX_ACCESS_TOKEN"
	envDefaultCmdTimeout  = "DEFAULT_COMMAND_TIMEOUT"
	envKillGracePeriod    = "KILL_GRACE_PERIOD"
	envContextIdleTimeout = "CONTEXT_IDLE_TIMEOUT"
	envExecRetention      = "EXECUTION_RETENTION"
	envExecRetentionMax   = "EXECUTION_RETENTION_MAX"
	envExecHistory        = "EXECUTION_HISTORY_RETENTION"
	envShutdownTimeout    = "SHUTDOWN_TIMEOUT"
	envDataDir            = "DATA_DIR"
	envKernelsConfig      = "KERNELS_CONFIG"
)

// Load reads configuration from environment variables with defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Port:                      getenv(envPort, "8090"),
		SandboxID:                 strings.TrimSpace(os.Getenv(envSandboxID)),
		SandboxRoot:               getenv(envSandboxRoot, "/"),
		SandboxImage:              os.Getenv(envSandboxImage),
		SandboxEntrypoint:         os.Getenv(envSandboxEntrypoint),
		DefaultCommandTimeout:     getenvDuration(envDefaultCmdTimeout, 5*time.Minute),
		KillGracePeriod:           getenvDuration(envKillGracePeriod, 5*time.Second),
		ContextIdleTimeout:        getenvDuration(envContextIdleTimeout, 30*time.Minute),
		ExecutionRetention:        getenvDuration(envExecRetention, 30*time.Minute),
		ExecutionRetentionMax:     getenvInt(envExecRetentionMax, 2048),
		ExecutionHistoryRetention: getenvDuration(envExecHistory, 24*time.Hour),
		ShutdownTimeout:           getenvDuration(envShutdownTimeout, 30*time.Second),
		DataDir:                   getenv(envDataDir, "./data"),
		Kernels:                   DefaultKernels(),
	}

	if cfg.SandboxID == "" {
		return nil, fmt.Errorf("%s is required", envSandboxID)
	}

	token := os.Getenv(envAccessToken)
	if token == "" {
		return nil, fmt.Errorf("%s is required", envAccessToken)
	}
	cfg.AccessTokenHash = security.HashToken(token)

	if v := os.Getenv(envSandboxExpiresAt); v != "" {
		expires, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return nil, fmt.Errorf("invalid %s, expected RFC3339: %w", envSandboxExpiresAt, err)
		}
		cfg.SandboxExpiresAt = &expires
	}

	if path := os.Getenv(envKernelsConfig); path != "" {
		if err := cfg.loadKernelsFile(path); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// DefaultKernels returns the built-in language kernels.
func DefaultKernels() map[string]KernelSpec {
	return map[string]KernelSpec{
		"python":     {Argv: []string{"python3", "-u", "-c", PythonDriver}},
		"javascript": {Argv: []string{"node", "-e", JavaScriptDriver}},
	}
}

// loadKernelsFile overlays language kernels from a YAML file. Entries with
// the same language replace the built-in spec.
func (c *Config) loadKernelsFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read kernels config: %w", err)
	}
	var file kernelsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse kernels config: %w", err)
	}
	for language, spec := range file.Kernels {
		if len(spec.Argv) == 0 {
			return fmt.Errorf("kernel %q has empty argv", language)
		}
		c.Kernels[strings.ToLower(language)] = spec
	}
	return nil
}

func getenv(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func getenvInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(v)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(v)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}
