package telemetry

import (
	"math/rand"
	"sync"
	"time"
)

const (
	DefaultMockInterval = 5 * time.Second

	// Mock readings are drawn uniformly from [0, mockMax).
	mockMaxDistance      = 1000.0 // cm
	mockMaxConcentration = 1000.0 // ppm
)

// Generator produces synthetic distance and air-quality readings for
// development and demos. Every tick is drawn independently: there is no
// smoothing between samples, unlike a real sensor.
type Generator struct {
	sink     Sink
	interval time.Duration

	mu      sync.Mutex
	rng     *rand.Rand
	running bool
	stop    chan struct{}
}

// NewGenerator creates a mock generator. A zero interval uses
// DefaultMockInterval; a nil rng is seeded from the clock.
func NewGenerator(sink Sink, interval time.Duration, rng *rand.Rand) *Generator {
	if interval <= 0 {
		interval = DefaultMockInterval
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Generator{sink: sink, interval: interval, rng: rng}
}

func (g *Generator) Name() string { return "Mock (Simulated)" }

// Start reports Mocked, emits one sample right away and then one per interval.
// Starting a running generator is a no-op.
func (g *Generator) Start() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.running {
		return nil
	}
	g.running = true
	g.stop = make(chan struct{})

	g.sink.Status(Mocked)
	g.emitLocked()

	go g.loop(g.stop)
	return nil
}

// Stop cancels the interval. Emission happens under the same lock, so once
// Stop returns no tick can reach the sink.
func (g *Generator) Stop() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.running {
		return nil
	}
	g.running = false
	close(g.stop)
	return nil
}

func (g *Generator) loop(stop <-chan struct{}) {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			g.tick()
		}
	}
}

func (g *Generator) tick() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.running {
		return
	}
	g.emitLocked()
}

func (g *Generator) emitLocked() {
	g.sink.Telemetry(Message{
		Distance:      g.rng.Float64() * mockMaxDistance,
		Concentration: g.rng.Float64() * mockMaxConcentration,
	})
}
