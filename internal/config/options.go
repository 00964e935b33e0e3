package config

import "github.com/JonMunkholm/bibcards/internal/core"

// ServiceOptions maps the configuration onto core.Options. The card
// renderer factory is left to the caller.
func (c *Config) ServiceOptions(newRenderer core.RendererFactory) core.Options {
	return core.Options{
		MaxSessions:          c.Session.Max,
		MaxConcurrentBatches: c.Batch.MaxConcurrent,
		MaxBatchWait:         c.Batch.MaxWaitTime,
		BatchTimeout:         c.Batch.Timeout,
		Generate: core.GenerateConfig{
			YieldEvery: c.Generate.YieldEvery,
		},
		Export: core.ExportConfig{
			Scale:            c.Export.Scale,
			YieldDelay:       c.Export.YieldDelay,
			CompressionLevel: c.Export.CompressionLevel,
			ArchivePrefix:    c.Export.ArchivePrefix,
			NewRenderer:      newRenderer,
		},
	}
}

// SweepConfig returns the session sweeper settings.
func (c *Config) SweepConfig() core.SweepConfig {
	return core.SweepConfig{TTL: c.Session.TTL, Interval: c.Session.SweepInterval}
}
