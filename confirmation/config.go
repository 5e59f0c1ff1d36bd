package confirmation

import "time"

const (
	DefaultRate         = 1 * time.Second
	DefaultFetchTimeout = 30 * time.Second
)

type Config struct {
	// Rate is the quiescent interval during which a polled height is reused
	// instead of querying the node again.
	Rate time.Duration

	// FetchTimeout bounds each height query and each header fetch done on
	// behalf of a queued request.
	FetchTimeout time.Duration
}

func (cfg *Config) withDefaults() Config {
	out := Config{Rate: DefaultRate, FetchTimeout: DefaultFetchTimeout}
	if cfg == nil {
		return out
	}
	if cfg.Rate > 0 {
		out.Rate = cfg.Rate
	}
	if cfg.FetchTimeout > 0 {
		out.FetchTimeout = cfg.FetchTimeout
	}
	return out
}
