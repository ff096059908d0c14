package submit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/flagsink/flagsink/internal/flagcodec"
	"github.com/flagsink/flagsink/internal/model"
	"github.com/flagsink/flagsink/internal/round"
)

type fakeStore struct {
	mu      sync.Mutex
	seen    map[model.CaptureKey]int
	batches int
	err     error
}

func newFakeStore() *fakeStore {
	return &fakeStore{seen: make(map[model.CaptureKey]int)}
}

func (s *fakeStore) InsertBatch(keys []model.CaptureKey, nowNs int64) ([]model.CaptureKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.batches++
	var inserted []model.CaptureKey
	for _, k := range keys {
		s.seen[k]++
		if s.seen[k] == 1 {
			inserted = append(inserted, k)
		}
	}
	return inserted, nil
}

func (s *fakeStore) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *fakeStore) batchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.batches
}

type recordingSink struct {
	NopSink
	mu      sync.Mutex
	batches []BatchStats
}

func (r *recordingSink) OnSubmissionBatch(b BatchStats) {
	r.mu.Lock()
	r.batches = append(r.batches, b)
	r.mu.Unlock()
}

func flagRequest(owner, attacker, roundID uint32) *Request {
	return NewRequest(flagcodec.Identity{ServiceID: 7, VariantIdx: 0, OwnerID: owner, RoundID: roundID}, attacker)
}

func newTestProcessor(store CaptureStore, rounds round.Source, known *KnownCache, sink StatsSink) (*Processor, *QueueSet) {
	set := NewQueueSet([]uint32{1, 2}, 64)
	cfg := ProcessorConfig{Workers: 2, ValidityRounds: 2, IdleSleep: time.Millisecond}
	return NewProcessor(cfg, set, store, rounds, known, sink), set
}

func TestProcessorCreditsEachCaptureOnce(t *testing.T) {
	store := newFakeStore()
	sink := &recordingSink{}
	p, _ := newTestProcessor(store, round.NewStaticSource(5), nil, sink)

	first := flagRequest(2, 1, 5)
	repeatA := flagRequest(2, 1, 5)
	repeatB := flagRequest(2, 1, 5)
	other := flagRequest(2, 1, 4) // different round, distinct capture
	p.process([]*Request{first, repeatA, repeatB, other})

	if got := awaitOutcome(t, first.Result()); got != OutcomeOk {
		t.Fatalf("first = %v, want Ok", got)
	}
	for _, req := range []*Request{repeatA, repeatB} {
		if got := awaitOutcome(t, req.Result()); got != OutcomeDuplicate {
			t.Fatalf("repeat = %v, want Duplicate", got)
		}
	}
	if got := awaitOutcome(t, other.Result()); got != OutcomeOk {
		t.Fatalf("other = %v, want Ok", got)
	}

	// A later batch with the same key must also come back Duplicate.
	again := flagRequest(2, 1, 5)
	p.process([]*Request{again})
	if got := awaitOutcome(t, again.Result()); got != OutcomeDuplicate {
		t.Fatalf("resubmission = %v, want Duplicate", got)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.batches) != 2 {
		t.Fatalf("sink saw %d batches, want 2", len(sink.batches))
	}
	b := sink.batches[0]
	if b.Size != 4 || b.Ok != 2 || b.Duplicate != 2 {
		t.Fatalf("batch stats = %+v", b)
	}
}

func TestProcessorValidityBoundary(t *testing.T) {
	store := newFakeStore()
	p, _ := newTestProcessor(store, round.NewStaticSource(10), nil, NopSink{})

	edge := flagRequest(2, 1, 8)  // exactly validity rounds old, still good
	stale := flagRequest(2, 1, 7) // one past the window
	p.process([]*Request{edge, stale})

	if got := awaitOutcome(t, edge.Result()); got != OutcomeOk {
		t.Fatalf("edge = %v, want Ok", got)
	}
	if got := awaitOutcome(t, stale.Result()); got != OutcomeOld {
		t.Fatalf("stale = %v, want Old", got)
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	if _, ok := store.seen[stale.Key()]; ok {
		t.Fatal("stale flag reached the store")
	}
}

func TestProcessorStorageFailureFailsBatchNotWorker(t *testing.T) {
	store := newFakeStore()
	store.setErr(errors.New("disk on fire"))
	p, set := newTestProcessor(store, round.NewStaticSource(5), nil, NopSink{})
	p.Start()
	defer p.Stop()

	q, _ := set.Queue(1)
	failing := flagRequest(2, 1, 5)
	if err := q.Enqueue(context.Background(), failing); err != nil {
		t.Fatal(err)
	}
	if got := awaitOutcome(t, failing.Result()); got != OutcomeError {
		t.Fatalf("outcome during outage = %v, want Error", got)
	}

	store.setErr(nil)
	recovered := flagRequest(3, 1, 5)
	if err := q.Enqueue(context.Background(), recovered); err != nil {
		t.Fatal(err)
	}
	if got := awaitOutcome(t, recovered.Result()); got != OutcomeOk {
		t.Fatalf("outcome after recovery = %v, want Ok", got)
	}
}

func TestProcessorKnownCacheShortCircuits(t *testing.T) {
	store := newFakeStore()
	known := NewKnownCache(128)
	defer known.Close()
	p, _ := newTestProcessor(store, round.NewStaticSource(5), known, NopSink{})

	req := flagRequest(2, 1, 5)
	known.Add(req.Key())
	p.process([]*Request{req})

	if got := awaitOutcome(t, req.Result()); got != OutcomeDuplicate {
		t.Fatalf("outcome = %v, want Duplicate", got)
	}
	if store.batchCount() != 0 {
		t.Fatal("cache hit still reached the store")
	}
}

func TestProcessorStopSweepsQueuedRequests(t *testing.T) {
	store := newFakeStore()
	p, set := newTestProcessor(store, round.NewStaticSource(5), nil, NopSink{})

	q, _ := set.Queue(2)
	reqs := []*Request{flagRequest(1, 2, 5), flagRequest(1, 2, 4)}
	for _, req := range reqs {
		if err := q.Enqueue(context.Background(), req); err != nil {
			t.Fatal(err)
		}
	}

	set.Close()
	p.Stop() // never started; the sweep alone must resolve everything

	for _, req := range reqs {
		if got := awaitOutcome(t, req.Result()); got != OutcomeError {
			t.Fatalf("swept outcome = %v, want Error", got)
		}
	}
}
