// Package stats aggregates submission telemetry into hot-path atomic
// counters and logs a periodic summary.
package stats

import (
	"log"
	"sync/atomic"
	"time"

	"github.com/flagsink/flagsink/internal/submit"
	"github.com/robfig/cron/v3"
)

// Collector implements submit.StatsSink with lock-free counters. A single
// instance is shared by every listener and the batch processor.
type Collector struct {
	outcomes [submit.OutcomeSpam + 1]atomic.Int64

	batches        atomic.Int64
	batchedTotal   atomic.Int64 // requests that went through batches
	batchElapsedNs atomic.Int64

	connsOpened atomic.Int64
	connsActive atomic.Int64

	startedAt time.Time

	cron *cron.Cron
}

// Snapshot is a point-in-time copy of the counters for reading.
type Snapshot struct {
	Outcomes map[string]int64 `json:"outcomes"`

	Batches          int64   `json:"batches"`
	BatchedRequests  int64   `json:"batchedRequests"`
	AvgBatchMillis   float64 `json:"avgBatchMillis"`
	ConnectionsTotal int64   `json:"connectionsTotal"`
	ConnectionsOpen  int64   `json:"connectionsOpen"`
	UptimeSeconds    int64   `json:"uptimeSeconds"`
}

// NewCollector creates a collector that logs a summary on the given cron
// schedule. An empty or invalid schedule disables the summary.
func NewCollector(summarySchedule string) *Collector {
	c := &Collector{
		startedAt: time.Now(),
		cron:      cron.New(),
	}
	if summarySchedule != "" {
		if _, err := c.cron.AddFunc(summarySchedule, c.logSummary); err != nil {
			log.Printf("[stats] invalid summary schedule %q: %v", summarySchedule, err)
		}
	}
	return c
}

// Start begins the periodic summary.
func (c *Collector) Start() {
	c.cron.Start()
}

// Stop halts the periodic summary.
func (c *Collector) Stop() {
	c.cron.Stop()
}

// OnSubmissionBatch records one completed processor batch.
func (c *Collector) OnSubmissionBatch(b submit.BatchStats) {
	c.batches.Add(1)
	c.batchedTotal.Add(int64(b.Size))
	c.batchElapsedNs.Add(int64(b.Elapsed))
	c.outcomes[submit.OutcomeOk].Add(int64(b.Ok))
	c.outcomes[submit.OutcomeDuplicate].Add(int64(b.Duplicate))
	c.outcomes[submit.OutcomeOld].Add(int64(b.Old))
	c.outcomes[submit.OutcomeError].Add(int64(b.Errors))
}

// OnSubmissionOutcome records an outcome resolved outside a batch.
func (c *Collector) OnSubmissionOutcome(o submit.Outcome) {
	if int(o) < len(c.outcomes) {
		c.outcomes[o].Add(1)
	}
}

// OnConnectionLifecycle records a submission connection opening or closing.
func (c *Collector) OnConnectionLifecycle(open bool) {
	if open {
		c.connsOpened.Add(1)
		c.connsActive.Add(1)
	} else {
		c.connsActive.Add(-1)
	}
}

// Snapshot returns a copy of the current counters.
func (c *Collector) Snapshot() Snapshot {
	outcomes := make(map[string]int64, len(c.outcomes))
	for o := submit.OutcomeOk; o <= submit.OutcomeSpam; o++ {
		outcomes[o.String()] = c.outcomes[o].Load()
	}

	batches := c.batches.Load()
	var avgMs float64
	if batches > 0 {
		avgMs = float64(c.batchElapsedNs.Load()) / float64(batches) / float64(time.Millisecond)
	}
	return Snapshot{
		Outcomes:         outcomes,
		Batches:          batches,
		BatchedRequests:  c.batchedTotal.Load(),
		AvgBatchMillis:   avgMs,
		ConnectionsTotal: c.connsOpened.Load(),
		ConnectionsOpen:  c.connsActive.Load(),
		UptimeSeconds:    int64(time.Since(c.startedAt).Seconds()),
	}
}

func (c *Collector) logSummary() {
	s := c.Snapshot()
	log.Printf("[stats] ok=%d duplicate=%d own=%d old=%d invalid=%d error=%d illegal=%d spam=%d batches=%d conns=%d/%d",
		s.Outcomes[submit.OutcomeOk.String()],
		s.Outcomes[submit.OutcomeDuplicate.String()],
		s.Outcomes[submit.OutcomeOwn.String()],
		s.Outcomes[submit.OutcomeOld.String()],
		s.Outcomes[submit.OutcomeInvalid.String()],
		s.Outcomes[submit.OutcomeError.String()],
		s.Outcomes[submit.OutcomeIllegal.String()],
		s.Outcomes[submit.OutcomeSpam.String()],
		s.Batches, s.ConnectionsOpen, s.ConnectionsTotal)
}
