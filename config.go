package authflow

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/MrEthical07/authflow/internal/idle"
	"github.com/MrEthical07/authflow/internal/refresher"
)

// Config holds every tunable of the controller. Obtain one from
// [DefaultConfig] or [LoadConfigFromEnv] and adjust before building.
type Config struct {
	Session   SessionConfig   `envPrefix:"SESSION_"`
	Idle      IdleConfig      `envPrefix:"IDLE_"`
	Refresh   RefreshConfig   `envPrefix:"REFRESH_"`
	Network   NetworkConfig   `envPrefix:"NETWORK_"`
	Agreement AgreementConfig `envPrefix:"AGREEMENT_"`
	Routes    RoutesConfig    `envPrefix:"ROUTE_"`
	Audit     AuditConfig     `envPrefix:"AUDIT_"`
	Metrics   MetricsConfig   `envPrefix:"METRICS_"`
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls durable session metadata.
type SessionConfig struct {
	// KeyPrefix namespaces every durable key.
	KeyPrefix string `env:"KEY_PREFIX"`
	// StorageTimeout bounds each durable read or write.
	StorageTimeout time.Duration `env:"STORAGE_TIMEOUT"`
	// RememberRoute stores the last visited route for restore after sign-in.
	RememberRoute bool `env:"REMEMBER_ROUTE"`
}

/*
====================================
IDLE CONFIG
====================================
*/

// IdleConfig controls the inactivity watchdog. A zero Timeout disables it.
type IdleConfig struct {
	Timeout       time.Duration `env:"TIMEOUT"`
	WarningBefore time.Duration `env:"WARNING_BEFORE"`
	Debounce      time.Duration `env:"DEBOUNCE"`
}

func (c IdleConfig) watchdog() idle.Config {
	return idle.Config{Timeout: c.Timeout, WarningBefore: c.WarningBefore, Debounce: c.Debounce}
}

/*
====================================
REFRESH CONFIG
====================================
*/

// RefreshConfig controls background credential renewal.
type RefreshConfig struct {
	Enabled        bool          `env:"ENABLED"`
	Lead           time.Duration `env:"LEAD"`
	PollInterval   time.Duration `env:"POLL_INTERVAL"`
	MaxRetries     int           `env:"MAX_RETRIES"`
	InitialBackoff time.Duration `env:"INITIAL_BACKOFF"`
	MaxBackoff     time.Duration `env:"MAX_BACKOFF"`
}

/*
====================================
NETWORK CONFIG
====================================
*/

// NetworkConfig sets the timeout of every external call.
type NetworkConfig struct {
	SignInTimeout    time.Duration `env:"SIGN_IN_TIMEOUT"`
	SignOutTimeout   time.Duration `env:"SIGN_OUT_TIMEOUT"`
	SessionTimeout   time.Duration `env:"SESSION_TIMEOUT"`
	ProfileTimeout   time.Duration `env:"PROFILE_TIMEOUT"`
	AgreementTimeout time.Duration `env:"AGREEMENT_TIMEOUT"`
	RefreshTimeout   time.Duration `env:"REFRESH_TIMEOUT"`
	// FetchRetryDelay is the pause before the single automatic retry of a
	// profile or agreement fetch.
	FetchRetryDelay time.Duration `env:"FETCH_RETRY_DELAY"`
}

/*
====================================
AGREEMENT CONFIG
====================================
*/

// AgreementConfig controls the agreement gate.
type AgreementConfig struct {
	// BypassRoles may use EmergencyBypass.
	BypassRoles []string `env:"BYPASS_ROLES" envSeparator:","`
	// DeclineRecordTimeout bounds the background call recording a decline.
	DeclineRecordTimeout time.Duration `env:"DECLINE_RECORD_TIMEOUT"`
}

/*
====================================
ROUTES CONFIG
====================================
*/

// RoutesConfig names the redirect targets.
type RoutesConfig struct {
	Login           string `env:"LOGIN"`
	Onboarding      string `env:"ONBOARDING"`
	AgreementReview string `env:"AGREEMENT_REVIEW"`
	Dashboard       string `env:"DASHBOARD"`
}

/*
====================================
AUDIT & METRICS CONFIG
====================================
*/

// AuditConfig controls asynchronous audit delivery.
type AuditConfig struct {
	Enabled    bool `env:"ENABLED"`
	BufferSize int  `env:"BUFFER_SIZE"`
	DropIfFull bool `env:"DROP_IF_FULL"`
}

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled                 bool `env:"ENABLED"`
	EnableLatencyHistograms bool `env:"LATENCY_HISTOGRAMS"`
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Session: SessionConfig{
			KeyPrefix:      "authflow",
			StorageTimeout: 2 * time.Second,
			RememberRoute:  true,
		},
		Idle: IdleConfig{
			Timeout:       30 * time.Minute,
			WarningBefore: time.Minute,
			Debounce:      idle.DefaultDebounce,
		},
		Refresh: RefreshConfig{
			Enabled:        true,
			Lead:           time.Minute,
			PollInterval:   5 * time.Minute,
			MaxRetries:     3,
			InitialBackoff: 500 * time.Millisecond,
			MaxBackoff:     10 * time.Second,
		},
		Network: NetworkConfig{
			SignInTimeout:    15 * time.Second,
			SignOutTimeout:   5 * time.Second,
			SessionTimeout:   10 * time.Second,
			ProfileTimeout:   10 * time.Second,
			AgreementTimeout: 10 * time.Second,
			RefreshTimeout:   10 * time.Second,
			FetchRetryDelay:  time.Second,
		},
		Agreement: AgreementConfig{
			BypassRoles:          []string{"admin"},
			DeclineRecordTimeout: 10 * time.Second,
		},
		Routes: RoutesConfig{
			Login:           "/login",
			Onboarding:      "/onboarding",
			AgreementReview: "/agreement-review",
			Dashboard:       "/dashboard",
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// LoadConfigFromEnv overlays environment variables named
// <prefix><SECTION>_<FIELD> (for example AUTHFLOW_IDLE_TIMEOUT=15m) onto
// [DefaultConfig]. Unset variables keep their defaults.
func LoadConfigFromEnv(prefix string) (Config, error) {
	cfg := DefaultConfig()
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: prefix}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Agreement.BypassRoles = append([]string(nil), cfg.Agreement.BypassRoles...)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Session.KeyPrefix) == "" {
		return errors.New("Session KeyPrefix must not be empty")
	}
	if strings.Contains(c.Session.KeyPrefix, ":") {
		return errors.New("Session KeyPrefix must not contain ':'")
	}
	if c.Session.StorageTimeout <= 0 {
		return errors.New("Session StorageTimeout must be > 0")
	}

	if err := c.Idle.watchdog().Validate(); err != nil {
		return fmt.Errorf("Idle: %w", err)
	}

	if c.Refresh.Enabled {
		if err := c.refresher().Validate(); err != nil {
			return fmt.Errorf("Refresh: %w", err)
		}
	}

	n := c.Network
	for _, t := range []struct {
		name string
		d    time.Duration
	}{
		{"SignInTimeout", n.SignInTimeout},
		{"SignOutTimeout", n.SignOutTimeout},
		{"SessionTimeout", n.SessionTimeout},
		{"ProfileTimeout", n.ProfileTimeout},
		{"AgreementTimeout", n.AgreementTimeout},
		{"RefreshTimeout", n.RefreshTimeout},
	} {
		if t.d <= 0 {
			return fmt.Errorf("Network %s must be > 0", t.name)
		}
	}
	if n.FetchRetryDelay < 0 {
		return errors.New("Network FetchRetryDelay must be >= 0")
	}

	if c.Agreement.DeclineRecordTimeout <= 0 {
		return errors.New("Agreement DeclineRecordTimeout must be > 0")
	}
	for _, r := range c.Agreement.BypassRoles {
		if strings.TrimSpace(r) == "" {
			return errors.New("Agreement BypassRoles must not contain empty roles")
		}
	}

	for _, r := range []struct{ name, path string }{
		{"Login", c.Routes.Login},
		{"Onboarding", c.Routes.Onboarding},
		{"AgreementReview", c.Routes.AgreementReview},
		{"Dashboard", c.Routes.Dashboard},
	} {
		if !strings.HasPrefix(r.path, "/") {
			return fmt.Errorf("Routes %s must be an absolute path", r.name)
		}
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}
	if c.Metrics.EnableLatencyHistograms && !c.Metrics.Enabled {
		return errors.New("Metrics EnableLatencyHistograms requires Enabled")
	}
	return nil
}

func (c *Config) refresher() refresher.Config {
	return refresher.Config{
		Lead:           c.Refresh.Lead,
		PollInterval:   c.Refresh.PollInterval,
		MaxRetries:     c.Refresh.MaxRetries,
		InitialBackoff: c.Refresh.InitialBackoff,
		MaxBackoff:     c.Refresh.MaxBackoff,
		Timeout:        c.Network.RefreshTimeout,
	}
}
