package reader

import (
	"time"

	"github.com/hazyhaar/liseuse/events"
	"github.com/hazyhaar/liseuse/idgen"
	"github.com/hazyhaar/liseuse/observability"
)

type deps struct {
	sched   Scheduler
	now     func() time.Time
	bus     *events.Bus
	metrics *observability.MetricsManager
	evlog   *observability.EventLogger
	newID   idgen.Generator
	noteIDs idgen.Generator
}

func defaultDeps() deps {
	return deps{
		sched: timerScheduler{},
		now:   time.Now,
		newID: idgen.Prefixed("ses_", idgen.UUIDv7()),
	}
}

// Option configures a Manager and the sessions it opens.
type Option func(*deps)

// WithScheduler replaces time.AfterFunc for the settle and restore delays.
func WithScheduler(s Scheduler) Option { return func(d *deps) { d.sched = s } }

// WithClock sets the clock used by the scroll throttle and timestamps.
func WithClock(now func() time.Time) Option { return func(d *deps) { d.now = now } }

// WithBus publishes session events on b.
func WithBus(b *events.Bus) Option { return func(d *deps) { d.bus = b } }

// WithMetrics records restoration outcomes and chunk loads.
func WithMetrics(m *observability.MetricsManager) Option { return func(d *deps) { d.metrics = m } }

// WithEventLogger records annotation lifecycle events.
func WithEventLogger(l *observability.EventLogger) Option { return func(d *deps) { d.evlog = l } }

// WithSessionIDs sets the session id generator.
func WithSessionIDs(gen idgen.Generator) Option { return func(d *deps) { d.newID = gen } }

// WithNoteIDs sets the annotation id generator.
func WithNoteIDs(gen idgen.Generator) Option { return func(d *deps) { d.noteIDs = gen } }
