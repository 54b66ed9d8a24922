package orchestrator

import "time"

// Config holds the runtime settings of a Session.
type Config struct {
	// DebounceDelay is the quiet period after the last edit before an
	// automatic remote write.
	DebounceDelay time.Duration

	// AutoSave enables the debounced write. When false edits are written
	// only on explicit save or teardown.
	AutoSave bool

	// HistoryLimit bounds the conversation history sent with a chat turn.
	HistoryLimit int

	// TeardownTimeout bounds the best-effort flush started by Close.
	TeardownTimeout time.Duration
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		DebounceDelay:   time.Second,
		AutoSave:        true,
		HistoryLimit:    20,
		TeardownTimeout: 5 * time.Second,
	}
}

// withDefaults fills zero durations and limits from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.DebounceDelay <= 0 {
		c.DebounceDelay = d.DebounceDelay
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = d.HistoryLimit
	}
	if c.TeardownTimeout <= 0 {
		c.TeardownTimeout = d.TeardownTimeout
	}
	return c
}
