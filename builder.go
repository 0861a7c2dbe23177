package stepauth

import (
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lsasec/stepauth/geo"
	"github.com/lsasec/stepauth/internal/rate"
	"github.com/lsasec/stepauth/password"
	"github.com/lsasec/stepauth/store"
	"github.com/lsasec/stepauth/totp"
	"github.com/lsasec/stepauth/trust"
)

// Builder assembles an Engine. A Builder is single-use: Build succeeds at
// most once.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	repo      store.Repository
	delivery  Delivery
	resolver  geo.Resolver
	auditSink AuditSink

	built bool
}

// New returns a Builder preloaded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithRedis sets the Redis client backing the abuse guard. Required.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithRepository sets the entity storage backend. Defaults to the
// in-memory implementation.
func (b *Builder) WithRepository(repo store.Repository) *Builder {
	b.repo = repo
	return b
}

// WithDelivery sets the outbound code channel. Defaults to NoOpDelivery.
func (b *Builder) WithDelivery(d Delivery) *Builder {
	b.delivery = d
	return b
}

// WithGeoResolver sets the IP geolocation source. Without one, every
// request resolves to an unknown location and risk assessment follows
// the configured fail-open policy.
func (b *Builder) WithGeoResolver(r geo.Resolver) *Builder {
	b.resolver = r
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// Build validates the configuration, wires the collaborators, and starts
// the background session sweeper. The caller owns the returned Engine
// and must Close it.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}

	cfg := b.config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	repo := b.repo
	if repo == nil {
		repo = store.NewMemory()
	}

	delivery := b.delivery
	if delivery == nil {
		delivery = NoOpDelivery{}
	}

	hasher, err := password.NewHasher(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}

	engine := &Engine{
		config:   cfg,
		repo:     repo,
		delivery: delivery,
		resolver: b.resolver,
		guard: rate.New(b.redis, rate.Config{
			MaxAttempts:              cfg.AbuseGuard.MaxAttempts,
			Window:                   cfg.AbuseGuard.Window,
			EnableIdentifierThrottle: cfg.AbuseGuard.EnableIdentifierThrottle,
		}),
		passwordHash: hasher,
		totp: totp.NewVerifier(totp.Config{
			Issuer: cfg.TOTP.Issuer,
			Period: cfg.TOTP.Period,
			Skew:   cfg.TOTP.Skew,
		}),
		audit:     newAuditDispatcher(cfg.Audit, b.auditSink),
		metrics:   NewMetrics(cfg.Metrics),
		now:       time.Now,
		sweepDone: make(chan struct{}),
	}

	if cfg.Trust.Enabled {
		tm, err := trust.NewManager(trust.Config{
			TTL:           cfg.Trust.TTL,
			SigningMethod: trust.SigningMethod(cfg.Trust.SigningMethod),
			PrivateKey:    cloneBytes(cfg.Trust.PrivateKey),
			PublicKey:     cloneBytes(cfg.Trust.PublicKey),
			Issuer:        cfg.Trust.Issuer,
		})
		if err != nil {
			engine.audit.Close()
			return nil, err
		}
		engine.trustManager = tm
	}

	engine.startSweeper()

	b.built = true

	return engine, nil
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
