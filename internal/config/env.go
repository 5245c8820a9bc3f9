package config

import (
	"os"
	"strconv"
	"strings"
)

// Environment variable names.
const (
	EnvHome          = "KEYMASTER_HOME"
	EnvGatekeeperURL = "KEYMASTER_GATEKEEPER_URL"
	EnvRegistry      = "KEYMASTER_REGISTRY"
	EnvTimeout       = "KEYMASTER_TIMEOUT_SECONDS"
	EnvOutputFormat  = "KEYMASTER_OUTPUT_FORMAT"
	EnvVerbose       = "KEYMASTER_VERBOSE"
	EnvLogLevel      = "KEYMASTER_LOG_LEVEL"
)

// validRegistries lists the registries accepted from the environment.
var validRegistries = map[string]bool{
	"local":   true,
	"peerbit": true,
	"BTC":     true,
	"tBTC":    true,
}

// ApplyEnv applies environment variable overrides to the configuration.
func ApplyEnv(cfg *Config) {
	if v := os.Getenv(EnvHome); v != "" {
		cfg.Home = v
	}

	if v := os.Getenv(EnvGatekeeperURL); v != "" {
		cfg.Gatekeeper.URL = strings.TrimSpace(v)
	}

	// Invalid registry names are silently ignored.
	if v := strings.TrimSpace(os.Getenv(EnvRegistry)); v != "" && validRegistries[v] {
		cfg.Gatekeeper.Registry = v
	}

	if v := os.Getenv(EnvTimeout); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Gatekeeper.TimeoutSeconds = n
		}
	}

	if v := strings.ToLower(strings.TrimSpace(os.Getenv(EnvOutputFormat))); v != "" {
		if v == "text" || v == "json" || v == "auto" {
			cfg.Output.DefaultFormat = v
		}
	}

	if v := os.Getenv(EnvVerbose); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Output.Verbose = b
		}
	}

	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Logging.Level = v
	}
}
