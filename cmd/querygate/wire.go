package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/pario-ai/querygate/pkg/audit"
	"github.com/pario-ai/querygate/pkg/backend"
	"github.com/pario-ai/querygate/pkg/cache/durable"
	"github.com/pario-ai/querygate/pkg/cache/memory"
	"github.com/pario-ai/querygate/pkg/cache/postgres"
	rediscache "github.com/pario-ai/querygate/pkg/cache/redis"
	"github.com/pario-ai/querygate/pkg/cache/sqlite"
	"github.com/pario-ai/querygate/pkg/classify"
	"github.com/pario-ai/querygate/pkg/config"
	"github.com/pario-ai/querygate/pkg/gateway"
	"github.com/pario-ai/querygate/pkg/metrics"
	"github.com/pario-ai/querygate/pkg/models"
	"github.com/pario-ai/querygate/pkg/ratelimit"
	"github.com/pario-ai/querygate/pkg/recovery"
)

// openStore connects to the configured durable store driver.
func openStore(ctx context.Context, d config.DurableConfig) (durable.Store, error) {
	switch d.Driver {
	case config.DriverSQLite:
		return sqlite.New(d.DSN)
	case config.DriverPostgres:
		return postgres.New(ctx, postgres.Config{DSN: d.DSN, MaxConns: d.MaxConns})
	case config.DriverRedis:
		return rediscache.New(ctx, rediscache.Config{
			URL:      d.DSN,
			Password: d.Redis.Password,
			Prefix:   d.Redis.Prefix,
			Grace:    d.Redis.Grace,
		})
	}
	return nil, fmt.Errorf("unknown durable driver %q", d.Driver)
}

func (a *app) advisor() (*recovery.Advisor, error) {
	if a.cfg.Recovery.CatalogPath == "" {
		return recovery.New(nil), nil
	}
	cat, err := recovery.LoadCatalog(a.cfg.Recovery.CatalogPath)
	if err != nil {
		return nil, err
	}
	return recovery.New(cat), nil
}

// stack is every service a gateway-backed command needs.
type stack struct {
	gw        *gateway.Gateway
	ephemeral *memory.Cache[models.Response]
	durable   *durable.Cache
	history   *audit.Logger
	advisor   *recovery.Advisor
	metrics   *metrics.Metrics
	closers   []func() error
}

func (s *stack) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	return errors.Join(errs...)
}

// buildStack constructs the gateway and its dependencies from config. A
// durable store that cannot be reached at startup starts disabled and is
// reconnected in the background; until then only the in-process tier serves.
func (a *app) buildStack(ctx context.Context) (*stack, error) {
	cfg := a.cfg
	s := &stack{}

	be, err := backend.New(cfg.Backend)
	if err != nil {
		return nil, err
	}

	s.advisor, err = a.advisor()
	if err != nil {
		return nil, err
	}

	if cfg.Metrics.Enabled {
		s.metrics = metrics.New()
	}

	s.ephemeral = memory.New[models.Response](cfg.Ephemeral)

	if cfg.Durable.Enabled {
		opts := durable.Options{
			TTL:           cfg.Durable.TTL,
			SweepInterval: cfg.Durable.SweepInterval,
			Logger:        a.log,
		}
		store, err := openStore(ctx, cfg.Durable)
		if err != nil {
			a.log.Warn("durable cache unavailable, retrying in the background",
				"driver", cfg.Durable.Driver, "error", err)
			s.durable = durable.NewDeferred(func(ctx context.Context) (durable.Store, error) {
				return openStore(ctx, cfg.Durable)
			}, opts)
		} else {
			s.durable = durable.New(store, opts)
		}
		s.closers = append(s.closers, s.durable.Close)
	}

	deps := gateway.Deps{
		Backend:    be,
		Limiter:    ratelimit.New(cfg.RateLimit),
		Ephemeral:  s.ephemeral,
		Durable:    s.durable,
		Classifier: classify.New(),
		Advisor:    s.advisor,
		Metrics:    s.metrics,
		Logger:     a.log,
	}

	if cfg.Audit.Enabled {
		s.history, err = audit.New(cfg.Audit, a.log)
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("open history db: %w", err)
		}
		s.closers = append(s.closers, s.history.Close)
		deps.Recorder = s.history
	}

	s.gw = gateway.New(deps, gateway.Options{RequiredKey: cfg.Gateway.RequiredKey})
	return s, nil
}

func (a *app) openHistory() (*audit.Logger, error) {
	if !a.cfg.Audit.Enabled {
		return nil, errors.New("query history is disabled (audit.enabled: false)")
	}
	l, err := audit.New(a.cfg.Audit, a.log)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	return l, nil
}
