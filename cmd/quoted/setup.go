package main

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/newthinker/quoted/internal/app"
	"github.com/newthinker/quoted/internal/collector"
	"github.com/newthinker/quoted/internal/collector/eastmoney"
	"github.com/newthinker/quoted/internal/collector/lixinger"
	"github.com/newthinker/quoted/internal/collector/mock"
	"github.com/newthinker/quoted/internal/collector/yahoo"
	"github.com/newthinker/quoted/internal/config"
	"github.com/newthinker/quoted/internal/logger"
	"github.com/newthinker/quoted/internal/metrics"
	"github.com/newthinker/quoted/internal/notifier"
	"github.com/newthinker/quoted/internal/notifier/telegram"
	"github.com/newthinker/quoted/internal/notifier/webhook"
	"github.com/newthinker/quoted/internal/storage/archive"
)

// env is what every command runs against.
type env struct {
	cfg     *config.Config
	log     *zap.Logger
	app     *app.App
	metrics *metrics.Registry
}

func (e *env) close() {
	e.app.Close()
	e.log.Sync()
}

func loadConfig() (*config.Config, bool, error) {
	if cfgFile == "" {
		return config.Defaults(), false, nil
	}
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, false, fmt.Errorf("loading config: %w", err)
	}
	return cfg, true, nil
}

// collectors lists every provider the binary knows.
func collectors() []collector.Collector {
	return []collector.Collector{
		yahoo.New(),
		eastmoney.New(),
		lixinger.New(),
		mock.NewSynthetic(),
	}
}

// optIn providers are registered only when their config section enables
// them.
var optIn = map[string]bool{"lixinger": true}

func setup() (*env, error) {
	cfg, fromFile, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if provider != "" {
		cfg.Engine.Provider = provider
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	opts := logger.Options{Development: debug || cfg.Log.Development, Level: cfg.Log.Level}
	if debug {
		opts.Level = "debug"
	}
	log, err := logger.New(opts)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	if !fromFile {
		log.Warn("no config file specified, using defaults")
	}

	storage, err := archive.New(cfg.Storage.Archive())
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	reg := metrics.NewRegistry()
	a := app.New(cfg, storage, log)
	a.SetMetrics(reg)

	for _, c := range collectors() {
		p, ok := cfg.Providers[c.Name()]
		if (ok && !p.Enabled) || (!ok && optIn[c.Name()]) {
			log.Debug("provider disabled", zap.String("provider", c.Name()))
			continue
		}
		if err := a.RegisterCollector(c); err != nil {
			a.Close()
			return nil, err
		}
	}

	if len(cfg.Notify.Notifiers) > 0 {
		reg, err := notifiers(cfg.Notify.Notifiers)
		if err == nil {
			err = a.SetNotifiers(reg, cfg.Notify.Events)
		}
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("setting up notifiers: %w", err)
		}
	}

	log.Debug("setup complete",
		zap.String("provider", cfg.Engine.Provider),
		zap.String("storage", cfg.Storage.Type),
		zap.Strings("providers", a.Providers()),
	)
	return &env{cfg: cfg, log: log, app: a, metrics: reg}, nil
}

func notifiers(configs []notifier.Config) (*notifier.Registry, error) {
	reg := notifier.NewRegistry()
	for _, nc := range configs {
		var n notifier.Notifier
		switch nc.Type {
		case "webhook":
			n = webhook.New("", nil)
		case "telegram":
			n = telegram.New("", "")
		default:
			return nil, fmt.Errorf("unknown notifier type %q", nc.Type)
		}
		if err := n.Init(nc); err != nil {
			return nil, err
		}
		if err := reg.Register(n); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
