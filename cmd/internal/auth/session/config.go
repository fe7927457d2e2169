package session

import (
	"fmt"
	"time"

	"bestiary/cmd/security/token"
)

// Config tunes the session subsystem.
type Config struct {
	// Timeout is the sliding session lifetime. Every authenticated
	// command that extends the session pushes expiry to now+Timeout.
	Timeout time.Duration

	// TokenDigits is the decimal width of session tokens.
	TokenDigits int

	// ReapInterval is the sweep period of the Reaper.
	ReapInterval time.Duration

	// LoginRetries bounds token regeneration on collision.
	LoginRetries int
}

// DefaultConfig returns the baseline tuning.
func DefaultConfig() Config {
	return Config{
		Timeout:      10 * time.Minute,
		TokenDigits:  token.DefaultDigits,
		ReapInterval: 2500 * time.Millisecond,
		LoginRetries: 16,
	}
}

// Validate checks the configuration for nonsensical values.
func (c Config) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("%w: timeout %v", ErrConfig, c.Timeout)
	}
	if c.TokenDigits < token.MinDigits || c.TokenDigits > token.MaxDigits {
		return fmt.Errorf("%w: token digits %d outside [%d..%d]",
			ErrConfig, c.TokenDigits, token.MinDigits, token.MaxDigits)
	}
	if c.ReapInterval <= 0 {
		return fmt.Errorf("%w: reap interval %v", ErrConfig, c.ReapInterval)
	}
	if c.LoginRetries < 1 {
		return fmt.Errorf("%w: login retries %d", ErrConfig, c.LoginRetries)
	}
	return nil
}
