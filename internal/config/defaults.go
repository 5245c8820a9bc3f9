package config

// Default configuration values.
const (
	// DefaultRegistry is the registry recorded in new operations.
	DefaultRegistry = "local"

	// DefaultTimeoutSeconds bounds each gatekeeper call.
	DefaultTimeoutSeconds = 30

	// DefaultRatePerSecond and DefaultBurst bound request rates.
	DefaultRatePerSecond = 5
	DefaultBurst         = 10
)

// Defaults returns the default configuration.
func Defaults() *Config {
	return &Config{
		Version: 1,
		Gatekeeper: GatekeeperConfig{
			Registry:       DefaultRegistry,
			TimeoutSeconds: DefaultTimeoutSeconds,
			RatePerSecond:  DefaultRatePerSecond,
			Burst:          DefaultBurst,
		},
		Output: OutputConfig{
			DefaultFormat: "auto",
		},
		Logging: LoggingConfig{
			Level: "error",
			File:  "keymaster.log",
		},
	}
}
