package reader

import (
	"log/slog"
	"time"

	"github.com/hazyhaar/liseuse/chunker"
)

// Config configures reading sessions.
type Config struct {
	Chunk chunker.Policy `yaml:"chunk" json:"chunk"`

	// SettleDelay is the wait after initialisation before the saved scroll
	// position is restored (default: 200ms).
	SettleDelay time.Duration `yaml:"settle_delay" json:"settle_delay"`

	// RestoreDelay is the wait after the last chunk lands before the full
	// restoration pass (default: 100ms).
	RestoreDelay time.Duration `yaml:"restore_delay" json:"restore_delay"`

	// MaxSessions bounds the number of open sessions (default: 256).
	MaxSessions int `yaml:"max_sessions" json:"max_sessions"`

	Logger *slog.Logger `yaml:"-" json:"-"`
}

func (c *Config) defaults() {
	c.Chunk.Defaults()
	if c.SettleDelay <= 0 {
		c.SettleDelay = 200 * time.Millisecond
	}
	if c.RestoreDelay <= 0 {
		c.RestoreDelay = 100 * time.Millisecond
	}
	if c.MaxSessions <= 0 {
		c.MaxSessions = 256
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Scheduler runs f after d. The returned func cancels it and reports
// whether the call was stopped before running.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) (cancel func() bool)
}

type timerScheduler struct{}

func (timerScheduler) AfterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}
