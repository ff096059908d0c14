package submit

import "time"

// BatchStats summarizes one processed batch.
type BatchStats struct {
	Size      int // requests drained into the batch
	Ok        int
	Duplicate int
	Old       int
	Errors    int
	Elapsed   time.Duration
}

// StatsSink receives submission telemetry. Implemented by stats.Collector
// (wired in main); recording is fire-and-forget and must never block the
// pipeline. The interface lives here to avoid an import cycle between
// submit and stats.
type StatsSink interface {
	// OnSubmissionBatch reports one completed processor batch.
	OnSubmissionBatch(BatchStats)
	// OnSubmissionOutcome reports a single outcome resolved outside a batch
	// (invalid, own, illegal, spam).
	OnSubmissionOutcome(Outcome)
	// OnConnectionLifecycle reports a submission connection opening or closing.
	OnConnectionLifecycle(open bool)
}

// NopSink discards all events. Used in tests.
type NopSink struct{}

func (NopSink) OnSubmissionBatch(BatchStats) {}
func (NopSink) OnSubmissionOutcome(Outcome)  {}
func (NopSink) OnConnectionLifecycle(bool)   {}
