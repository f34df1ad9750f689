package core

import (
	"chatd/config"
	"chatd/internal/metrics"
	"chatd/util"
)

// Build validates cfg and constructs the Mode that serves it.
func Build(cfg *config.Config, logger *util.Logger) (Mode, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return buildServe(cfg, logger), nil
}

func buildServe(cfg *config.Config, logger *util.Logger) *ServeMode {
	m := &ServeMode{
		Address:       util.FormatAddr(cfg.Host, cfg.Port),
		BindAttempts:  cfg.BindAttempts,
		MaxLineLength: cfg.MaxLineLength,
		WriteTimeout:  cfg.WriteTimeout,
		StatsInterval: cfg.StatsInterval,
		Logger:        logger,
		Metrics:       metrics.New(),
	}
	if cfg.WSPort != 0 {
		m.WSAddress = util.FormatAddr(cfg.Host, cfg.WSPort)
		m.WSPath = cfg.WSPath
	}
	return m
}
