package client

import (
	"errors"
	"fmt"
	"time"

	"github.com/MoldoAndr/EL8S-Shop/internal/retry"
	"github.com/go-playground/validator/v10"
)

const (
	DefaultMaxRetries    = 5
	DefaultBackoffBase   = time.Second
	DefaultBackoffFactor = 1.5
	DefaultBackoffCap    = 10 * time.Second
	DefaultPendingWindow = 30 * time.Second
	DefaultDialTimeout   = 10 * time.Second
	DefaultBufferSize    = 256
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Config describes how a Manager reaches the hub.
type Config struct {
	// Endpoints are tried in order; the cursor advances every second failure.
	Endpoints []string `validate:"required,min=1,dive,url"`
	// Username is announced in the connect frame after every (re)connection.
	Username  string   `validate:"required,printascii"`

	MaxRetries    int           `validate:"gte=0"`
	BackoffBase   time.Duration `validate:"gt=0"`
	BackoffFactor float64       `validate:"gte=1"`
	BackoffCap    time.Duration `validate:"gtefield=BackoffBase"`

	// PendingWindow is how long a sent id suppresses its own echo.
	PendingWindow time.Duration `validate:"gt=0"`
	DialTimeout   time.Duration `validate:"gt=0"`
	BufferSize    int           `validate:"gt=0"`
}

// withDefaults fills every zero tuning field.
func (c Config) withDefaults() Config {
	if c.BackoffBase == 0 {
		c.BackoffBase = DefaultBackoffBase
	}
	if c.BackoffFactor == 0 {
		c.BackoffFactor = DefaultBackoffFactor
	}
	if c.BackoffCap == 0 {
		c.BackoffCap = max(DefaultBackoffCap, c.BackoffBase)
	}
	if c.PendingWindow == 0 {
		c.PendingWindow = DefaultPendingWindow
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.BufferSize == 0 {
		c.BufferSize = DefaultBufferSize
	}
	return c
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	errs := make([]error, 0, len(verrs))
	for _, fe := range verrs {
		errs = append(errs, fmt.Errorf("client config: %s fails %q", fe.Namespace(), fe.Tag()))
	}
	return errors.Join(errs...)
}

// backoff builds the retry schedule: min(base*factor^attempt, cap).
func (c Config) backoff() *retry.Retryer {
	return retry.New(c.MaxRetries, c.BackoffBase, c.BackoffCap,
		retry.WithMultiplier(c.BackoffFactor), retry.WithName("chat_connect"))
}
