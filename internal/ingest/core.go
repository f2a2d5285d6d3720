package ingest

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/PauloHMoreti/PI-Unimax-2-Semestre/internal/gps"
	"github.com/PauloHMoreti/PI-Unimax-2-Semestre/internal/metrics"
	"github.com/PauloHMoreti/PI-Unimax-2-Semestre/internal/telemetry"
)

var ErrClosed = errors.New("ingest: core closed")

// ProducerFactory builds a producer that reports through sink.
type ProducerFactory func(sink telemetry.Sink) telemetry.Producer

// Recorder receives ingestion counters. *metrics.Metrics implements it.
type Recorder interface {
	Message(result string)
	Status(st telemetry.Status)
	ModeSwitch(mode string)
	Position(result string)
}

// Options configures a Core.
type Options struct {
	Mode Mode
	Live ProducerFactory
	Mock ProducerFactory

	Logger  *zap.Logger
	Metrics Recorder
	// OnDiagnostic is called, outside the core lock, for every dropped
	// message and producer failure.
	OnDiagnostic func(error)
}

// Stats are running totals since construction.
type Stats struct {
	Applied uint64
	Dropped uint64
	Stale   uint64
}

// currentGen marks a mutation coming from outside any producer; it always
// applies. Producer generations start at 1.
const currentGen = 0

// Core is the single authority over connection status and the merged sensor
// snapshot, and arbitrates which producer is active.
//
// Every mutation runs under mu, so handlers never interleave. Producers get a
// sink bound to the generation they were started in; SetMode bumps the
// generation before tearing the old producer down, so late events from it are
// discarded. modeMu serializes arbitration and is never held by a producer
// callback, so a producer may block in Stop while its callbacks drain.
type Core struct {
	live   ProducerFactory
	mock   ProducerFactory
	log    *zap.Logger
	rec    Recorder
	onDiag func(error)

	modeMu sync.Mutex
	active telemetry.Producer

	mu      sync.Mutex
	mode    Mode
	status  telemetry.Status
	snap    Snapshot
	gen     uint64
	seq     uint64
	stats   Stats
	subs    map[int]chan State
	nextSub int
	closed  bool
}

// New creates a core in status Connecting with every field unset. No producer
// runs until Start.
func New(opts Options) *Core {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	var rec Recorder = (*metrics.Metrics)(nil)
	if opts.Metrics != nil {
		rec = opts.Metrics
	}
	c := &Core{
		live:   opts.Live,
		mock:   opts.Mock,
		log:    log,
		rec:    rec,
		onDiag: opts.OnDiagnostic,
		mode:   opts.Mode,
		status: telemetry.Connecting,
		subs:   make(map[int]chan State),
	}
	c.rec.Status(c.status)
	return c
}

// Start activates the producer for the configured mode. Calling it again is a
// no-op.
func (c *Core) Start() error {
	c.modeMu.Lock()
	defer c.modeMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.active != nil {
		c.mu.Unlock()
		return nil
	}
	gen, mode := c.beginLocked(c.mode)
	c.mu.Unlock()

	c.activate(mode, gen)
	return nil
}

// SetMode switches producers. Setting the current mode is a no-op. Otherwise
// the old producer is detached and stopped and the new one started in one
// step; afterwards exactly one producer is active.
func (c *Core) SetMode(m Mode) error {
	c.modeMu.Lock()
	defer c.modeMu.Unlock()
	return c.switchTo(func(Mode) Mode { return m })
}

// Toggle flips between Live and Mock and returns the new mode.
func (c *Core) Toggle() (Mode, error) {
	c.modeMu.Lock()
	defer c.modeMu.Unlock()
	var next Mode
	err := c.switchTo(func(cur Mode) Mode {
		next = cur.Toggled()
		return next
	})
	return next, err
}

// switchTo performs the arbitration step. pick maps the current mode to the
// target. Caller holds modeMu.
func (c *Core) switchTo(pick func(Mode) Mode) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	prev := c.mode
	m := pick(prev)
	if m == prev && c.active != nil {
		c.mu.Unlock()
		return nil
	}
	gen, mode := c.beginLocked(m)
	old := c.active
	c.active = nil
	c.mu.Unlock()

	if old != nil {
		c.log.Info("stopping producer", zap.String("producer", old.Name()), zap.Stringer("from", prev))
		if err := old.Stop(); err != nil {
			c.log.Warn("producer stop failed", zap.String("producer", old.Name()), zap.Error(err))
		}
	}
	c.rec.ModeSwitch(mode.String())
	c.activate(mode, gen)
	return nil
}

// beginLocked opens a new generation for mode m and sets the status the mode
// starts in. Mock is Mocked at once, whatever the channel last reported.
func (c *Core) beginLocked(m Mode) (uint64, Mode) {
	c.gen++
	c.mode = m
	st := telemetry.Connecting
	if m == Mock {
		st = telemetry.Mocked
	}
	c.setStatusLocked(st)
	c.publishLocked()
	return c.gen, m
}

// activate builds and starts the producer for mode. Caller holds modeMu.
func (c *Core) activate(mode Mode, gen uint64) {
	factory := c.live
	if mode == Mock {
		factory = c.mock
	}
	if factory == nil {
		c.log.Error("no producer configured", zap.Stringer("mode", mode))
		c.applyStatus(gen, telemetry.ConnectionError)
		return
	}

	p := factory(producerSink{c: c, gen: gen})
	c.active = p
	c.log.Info("starting producer", zap.String("producer", p.Name()), zap.Stringer("mode", mode))
	if err := p.Start(); err != nil {
		c.applyStatus(gen, telemetry.ConnectionError)
		c.drop(gen, err)
	}
}

// OnTelemetry merges distance and concentration. Position fields are never
// touched.
func (c *Core) OnTelemetry(msg telemetry.Message) { c.applyTelemetry(currentGen, msg) }

// OnStatusChange replaces the status. In Mock mode the status is Mocked
// regardless of what is reported.
func (c *Core) OnStatusChange(st telemetry.Status) { c.applyStatus(currentGen, st) }

// OnPosition merges latitude and longitude. Telemetry fields are never
// touched.
func (c *Core) OnPosition(pos gps.Position) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	lat, lng := pos.Latitude, pos.Longitude
	c.snap.Latitude = &lat
	c.snap.Longitude = &lng
	c.publishLocked()
}

// AcquirePosition runs one acquisition through p. On failure the position
// fields stay unset for the session; there is no automatic retry.
func (c *Core) AcquirePosition(ctx context.Context, p gps.Provider) error {
	pos, err := gps.Acquire(ctx, p)
	if err != nil {
		result := metrics.ResultError
		if errors.Is(err, gps.ErrPermissionDenied) {
			result = metrics.ResultDenied
		}
		c.rec.Position(result)
		c.log.Warn("position unavailable", zap.Error(err))
		c.diagnose(err)
		return err
	}
	c.rec.Position(metrics.ResultSuccess)
	c.log.Info("position acquired",
		zap.Float64("latitude", pos.Latitude),
		zap.Float64("longitude", pos.Longitude))
	c.OnPosition(pos)
	return nil
}

func (c *Core) applyTelemetry(gen uint64, msg telemetry.Message) {
	c.mu.Lock()
	if !c.liveLocked(gen) {
		c.stats.Stale++
		c.mu.Unlock()
		c.rec.Message(metrics.ResultStale)
		return
	}
	d, ppm := msg.Distance, msg.Concentration
	c.snap.Distance = &d
	c.snap.Concentration = &ppm
	c.stats.Applied++
	c.publishLocked()
	c.mu.Unlock()
	c.rec.Message(metrics.ResultApplied)
}

func (c *Core) applyStatus(gen uint64, st telemetry.Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.liveLocked(gen) {
		return
	}
	if c.mode == Mock {
		st = telemetry.Mocked
	}
	if st == c.status {
		return
	}
	c.setStatusLocked(st)
	c.publishLocked()
}

func (c *Core) setStatusLocked(st telemetry.Status) {
	if st == c.status {
		return
	}
	c.log.Info("status", zap.Stringer("from", c.status), zap.Stringer("to", st))
	c.status = st
	c.rec.Status(st)
}

func (c *Core) drop(gen uint64, err error) {
	c.mu.Lock()
	if !c.liveLocked(gen) {
		c.mu.Unlock()
		return
	}
	malformed := errors.Is(err, telemetry.ErrMalformedPayload)
	if malformed {
		c.stats.Dropped++
	}
	c.mu.Unlock()

	if malformed {
		c.rec.Message(metrics.ResultDropped)
	}
	c.log.Warn("diagnostic", zap.Error(err))
	c.diagnose(err)
}

func (c *Core) diagnose(err error) {
	if c.onDiag != nil {
		c.onDiag(err)
	}
}

func (c *Core) liveLocked(gen uint64) bool {
	return !c.closed && (gen == currentGen || gen == c.gen)
}

// publishLocked pushes the new state to every subscriber. Each subscriber
// channel holds one state; an unread older state is replaced, so a slow
// reader skips intermediate states but always ends on the latest.
func (c *Core) publishLocked() {
	c.seq++
	st := c.stateLocked()
	for _, ch := range c.subs {
		select {
		case ch <- st:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- st
		}
	}
}

func (c *Core) stateLocked() State {
	return State{
		Mode:     c.mode,
		Status:   c.status,
		Snapshot: c.snap.clone(),
		Seq:      c.seq,
	}
}

// Subscribe returns a channel that receives the current state immediately and
// then after every mutation. cancel releases the subscription and closes the
// channel.
func (c *Core) Subscribe() (<-chan State, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan State, 1)
	if c.closed {
		close(ch)
		return ch, func() {}
	}
	ch <- c.stateLocked()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if sub, ok := c.subs[id]; ok {
				delete(c.subs, id)
				close(sub)
			}
		})
	}
}

// Snapshot returns a copy of the merged reading.
func (c *Core) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap.clone()
}

func (c *Core) Status() telemetry.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Core) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

func (c *Core) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

func (c *Core) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Active returns the running producer, or nil.
func (c *Core) Active() telemetry.Producer {
	c.modeMu.Lock()
	defer c.modeMu.Unlock()
	return c.active
}

// Close stops the active producer and closes every subscription. Further
// events are ignored.
func (c *Core) Close() error {
	c.modeMu.Lock()
	defer c.modeMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.gen++
	for id, ch := range c.subs {
		delete(c.subs, id)
		close(ch)
	}
	old := c.active
	c.active = nil
	c.mu.Unlock()

	if old == nil {
		return nil
	}
	c.log.Info("stopping producer", zap.String("producer", old.Name()))
	return old.Stop()
}

// producerSink ties producer events to the generation the producer was
// started in.
type producerSink struct {
	c   *Core
	gen uint64
}

func (s producerSink) Telemetry(msg telemetry.Message) { s.c.applyTelemetry(s.gen, msg) }
func (s producerSink) Status(st telemetry.Status)      { s.c.applyStatus(s.gen, st) }
func (s producerSink) Drop(err error)                  { s.c.drop(s.gen, err) }
