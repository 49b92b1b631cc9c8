package client

import (
	"fmt"
	"net/url"
	"time"

	"github.com/zjrosen/textflow/internal/instances/domain"
)

// Defaults for Config.
const (
	DefaultEndpoint      = "http://localhost:3000"
	DefaultPollInterval  = 500 * time.Millisecond
	DefaultStartTimeout  = 10 * time.Second
	DefaultCancelTimeout = 5 * time.Second
	DefaultAwaitTimeout  = time.Minute
)

// Config is injected into clients and remote backends.
type Config struct {
	// Endpoint is the daemon's base URL; used by remote backends only.
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`
	// Namespace scopes every call.
	Namespace string `mapstructure:"namespace" yaml:"namespace"`
	// Credentials is sent as a bearer token when set.
	Credentials string `mapstructure:"credentials" yaml:"credentials,omitempty"`
	// PollInterval is how often a remote backend polls for completion.
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	// StartTimeout bounds the asynchronous start signal sent by Start.
	StartTimeout time.Duration `mapstructure:"start_timeout" yaml:"start_timeout"`
	// CancelTimeout bounds the best-effort cancel sent when AwaitResult times out.
	CancelTimeout time.Duration `mapstructure:"cancel_timeout" yaml:"cancel_timeout"`
}

// DefaultConfig returns a Config with every default applied.
func DefaultConfig() Config {
	return Config{}.WithDefaults()
}

// WithDefaults fills unset fields.
func (c Config) WithDefaults() Config {
	if c.Endpoint == "" {
		c.Endpoint = DefaultEndpoint
	}
	if c.Namespace == "" {
		c.Namespace = domain.DefaultNamespace
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.StartTimeout <= 0 {
		c.StartTimeout = DefaultStartTimeout
	}
	if c.CancelTimeout <= 0 {
		c.CancelTimeout = DefaultCancelTimeout
	}
	return c
}

// Validate checks the endpoint is an absolute http(s) URL.
func (c Config) Validate() error {
	u, err := url.Parse(c.Endpoint)
	if err != nil {
		return fmt.Errorf("client.endpoint: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("client.endpoint must use http or https, got %q", c.Endpoint)
	}
	if u.Host == "" {
		return fmt.Errorf("client.endpoint has no host: %q", c.Endpoint)
	}
	return nil
}
