// Package round provides the current-round lookup the submission pipeline
// depends on, plus a standalone fixed-length-round ticker for deployments
// without an external game scheduler.
package round

import (
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// Source supplies the latest known round id. The batch processor reads it
// once per batch; implementations must be safe for concurrent use.
type Source interface {
	Current() uint32
}

// StaticSource is a fixed round id, useful in tests and for engines that
// push round updates via Set.
type StaticSource struct {
	round atomic.Uint32
}

// NewStaticSource returns a StaticSource pinned at the given round.
func NewStaticSource(r uint32) *StaticSource {
	s := &StaticSource{}
	s.round.Store(r)
	return s
}

// Current returns the stored round id.
func (s *StaticSource) Current() uint32 { return s.round.Load() }

// Set replaces the stored round id.
func (s *StaticSource) Set(r uint32) { s.round.Store(r) }

// Ticker advances the round id at a fixed wall-clock interval.
// It starts at startRound and increments once per roundLength.
type Ticker struct {
	round       atomic.Uint32
	roundLength time.Duration

	stopCh   chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewTicker creates a ticker starting at startRound. Start must be called
// before rounds advance.
func NewTicker(startRound uint32, roundLength time.Duration) *Ticker {
	t := &Ticker{
		roundLength: roundLength,
		stopCh:      make(chan struct{}),
	}
	t.round.Store(startRound)
	return t
}

// Current returns the round in progress.
func (t *Ticker) Current() uint32 { return t.round.Load() }

// Start launches the background round advancement goroutine.
func (t *Ticker) Start() {
	t.wg.Add(1)
	go t.run()
}

// Stop halts round advancement. Blocks until the goroutine exits.
func (t *Ticker) Stop() {
	t.stopOnce.Do(func() { close(t.stopCh) })
	t.wg.Wait()
}

func (t *Ticker) run() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.roundLength)
	defer ticker.Stop()

	for {
		select {
		case <-t.stopCh:
			return
		case <-ticker.C:
			r := t.round.Add(1)
			log.Printf("[round] round %d started", r)
		}
	}
}
