package authflow

import (
	"errors"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/MrEthical07/authflow/internal/clock"
	"github.com/MrEthical07/authflow/jwt"
	"github.com/MrEthical07/authflow/session"
)

// Clock is the time source used by timers and expiry checks.
type Clock = clock.Clock

// Timer is a pending callback returned by [Clock.AfterFunc].
type Timer = clock.Timer

// Builder assembles a [Controller]. A Builder can be used once.
type Builder struct {
	config Config

	provider   IdentityProvider
	profiles   ProfileService
	agreements AgreementService

	storage   session.Storage
	redis     redis.UniversalClient
	auditSink AuditSink
	logger    *slog.Logger
	tracer    trace.TracerProvider
	clock     Clock
	inspector *jwt.Manager

	built bool
}

// New returns a builder with [DefaultConfig].
func New() *Builder {
	return &Builder{config: DefaultConfig()}
}

// WithConfig replaces the configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithIdentityProvider sets the identity provider. Required.
func (b *Builder) WithIdentityProvider(p IdentityProvider) *Builder {
	b.provider = p
	return b
}

// WithProfileService sets the profile service. Required.
func (b *Builder) WithProfileService(p ProfileService) *Builder {
	b.profiles = p
	return b
}

// WithAgreementService sets the agreement service. Required.
func (b *Builder) WithAgreementService(a AgreementService) *Builder {
	b.agreements = a
	return b
}

// WithStorage sets the durable metadata backend. Defaults to in-memory.
func (b *Builder) WithStorage(s session.Storage) *Builder {
	b.storage = s
	return b
}

// WithRedis stores durable metadata in Redis. It overrides WithStorage.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithAuditSink routes audit events to sink and enables auditing.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	if sink != nil {
		b.config.Audit.Enabled = true
	}
	return b
}

// WithLogger sets the structured logger. Defaults to discarding output.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithTracerProvider enables spans around external calls.
func (b *Builder) WithTracerProvider(tp trace.TracerProvider) *Builder {
	b.tracer = tp
	return b
}

// WithClock overrides the time source.
func (b *Builder) WithClock(c Clock) *Builder {
	b.clock = c
	return b
}

// WithCredentialInspector sets the manager used to read iat/exp from
// credentials when the provider omits them. Defaults to an unverified
// inspector.
func (b *Builder) WithCredentialInspector(m *jwt.Manager) *Builder {
	b.inspector = m
	return b
}

// WithMetricsEnabled toggles counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles latency histograms.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and returns a controller in
// StateInitializing. Call [Controller.Initialize] next.
func (b *Builder) Build() (*Controller, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.provider == nil {
		return nil, errors.New("identity provider required")
	}
	if b.profiles == nil {
		return nil, errors.New("profile service required")
	}
	if b.agreements == nil {
		return nil, errors.New("agreement service required")
	}

	deps := controllerDeps{
		provider:   b.provider,
		profiles:   b.profiles,
		agreements: b.agreements,
		storage:    b.storage,
		auditSink:  b.auditSink,
		logger:     b.logger,
		clock:      b.clock,
		inspector:  b.inspector,
	}
	if b.redis != nil {
		deps.storage = session.NewRedisStorage(b.redis)
	}
	if deps.logger == nil {
		deps.logger = slog.New(slog.DiscardHandler)
	}
	if deps.clock == nil {
		deps.clock = clock.Real()
	}
	if deps.inspector == nil {
		m, err := jwt.NewManager(jwt.Config{})
		if err != nil {
			return nil, err
		}
		deps.inspector = m
	}
	tp := b.tracer
	if tp == nil {
		tp = noop.NewTracerProvider()
	}
	deps.tracer = tp.Tracer("github.com/MrEthical07/authflow")

	b.built = true
	return newController(cfg, deps), nil
}
