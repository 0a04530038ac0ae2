package rotation

import "time"

// DefaultInterval leaves two months of margin on a 90-day certificate.
const DefaultInterval = 28 * 24 * time.Hour

// Config holds the rotation schedule configuration.
type Config struct {
	Interval        time.Duration `env:"ROTATION_INTERVAL" envDefault:"672h"`
	ShutdownTimeout time.Duration `env:"ROTATION_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	// ReuseStored installs an archived certificate at startup when it
	// outlives one interval, instead of provisioning a new one.
	ReuseStored bool `env:"ROTATION_REUSE_STORED" envDefault:"false"`
	// BootstrapAttempts bounds the initial provisioning attempts.
	BootstrapAttempts int           `env:"ROTATION_BOOTSTRAP_ATTEMPTS" envDefault:"1"`
	BootstrapBackoff  time.Duration `env:"ROTATION_BOOTSTRAP_BACKOFF" envDefault:"30s"`
}

// DefaultConfig returns the reference schedule.
func DefaultConfig() Config {
	return Config{
		Interval:          DefaultInterval,
		ShutdownTimeout:   30 * time.Second,
		BootstrapAttempts: 1,
		BootstrapBackoff:  30 * time.Second,
	}
}
