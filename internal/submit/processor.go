package submit

import (
	"log"
	"sync"
	"time"

	"github.com/flagsink/flagsink/internal/model"
	"github.com/flagsink/flagsink/internal/round"
)

// CaptureStore persists capture batches. Implemented by state.CaptureRepo.
type CaptureStore interface {
	// InsertBatch upserts the given keys and returns the subset that was
	// newly inserted (first capture by that attacker).
	InsertBatch(keys []model.CaptureKey, nowNs int64) ([]model.CaptureKey, error)
}

// ProcessorConfig tunes the batch workers.
type ProcessorConfig struct {
	Workers        int           // 0 means 4
	TeamDrainCap   int           // max requests taken per team per batch; 0 means 100
	BatchCap       int           // max requests per batch; 0 means 500
	IdleSleep      time.Duration // pause when all queues are empty; 0 means 5ms
	ValidityRounds uint32        // flags older than this many rounds resolve Old
}

func (c ProcessorConfig) workers() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return 4
}

func (c ProcessorConfig) teamDrainCap() int {
	if c.TeamDrainCap > 0 {
		return c.TeamDrainCap
	}
	return 100
}

func (c ProcessorConfig) batchCap() int {
	if c.BatchCap > 0 {
		return c.BatchCap
	}
	return 500
}

func (c ProcessorConfig) idleSleep() time.Duration {
	if c.IdleSleep > 0 {
		return c.IdleSleep
	}
	return 5 * time.Millisecond
}

// Processor drains the team queues with a pool of workers, persists
// captures in batches, and resolves every drained request with a terminal
// outcome. A storage failure fails one batch, never a worker.
type Processor struct {
	cfg    ProcessorConfig
	queues *QueueSet
	store  CaptureStore
	rounds round.Source
	known  *KnownCache // optional
	sink   StatsSink

	// next indexes the queue ring so consecutive batches start at rotating
	// teams and no team is systematically drained last.
	mu   sync.Mutex
	next int

	stopCh   chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewProcessor wires a processor; known may be nil to disable the cache.
func NewProcessor(cfg ProcessorConfig, queues *QueueSet, store CaptureStore, rounds round.Source, known *KnownCache, sink StatsSink) *Processor {
	if sink == nil {
		sink = NopSink{}
	}
	return &Processor{
		cfg:    cfg,
		queues: queues,
		store:  store,
		rounds: rounds,
		known:  known,
		sink:   sink,
		stopCh: make(chan struct{}),
	}
}

// Start launches the worker pool.
func (p *Processor) Start() {
	n := p.cfg.workers()
	log.Printf("[submit] starting %d batch workers", n)
	for i := 0; i < n; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Stop finishes in-flight batches, then sweeps the queues and resolves
// everything still buffered as Error. Callers must close the queue set
// first so the sweep cannot race new arrivals.
func (p *Processor) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
	})
	p.wg.Wait()

	swept := 0
	for _, q := range p.queues.Queues() {
		for {
			reqs := q.TryDrain(p.cfg.batchCap())
			if len(reqs) == 0 {
				break
			}
			for _, req := range reqs {
				req.Resolve(OutcomeError)
				swept++
			}
		}
	}
	if swept > 0 {
		log.Printf("[submit] shutdown sweep resolved %d unprocessed requests", swept)
	}
}

func (p *Processor) worker(id int) {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopCh:
			return
		default:
		}
		batch := p.collect()
		if len(batch) == 0 {
			select {
			case <-p.stopCh:
				return
			case <-time.After(p.cfg.idleSleep()):
			}
			continue
		}
		p.process(batch)
	}
}

// collect drains up to batchCap requests round-robin across the queue ring,
// at most teamDrainCap per team, starting at a rotating offset.
func (p *Processor) collect() []*Request {
	ring := p.queues.Queues()
	if len(ring) == 0 {
		return nil
	}

	p.mu.Lock()
	start := p.next
	p.next = (p.next + 1) % len(ring)
	p.mu.Unlock()

	batchCap := p.cfg.batchCap()
	perTeam := p.cfg.teamDrainCap()
	var batch []*Request
	for i := 0; i < len(ring) && len(batch) < batchCap; i++ {
		q := ring[(start+i)%len(ring)]
		take := perTeam
		if rest := batchCap - len(batch); rest < take {
			take = rest
		}
		batch = append(batch, q.TryDrain(take)...)
	}
	return batch
}

// process resolves one batch: stale flags first, then duplicates within the
// batch and against the known-capture cache, then a single store round trip
// for the rest. The store decides Ok versus Duplicate; a cache hit is only
// ever a shortcut to Duplicate.
func (p *Processor) process(batch []*Request) {
	started := time.Now()
	currentRound := p.rounds.Current()
	stats := BatchStats{Size: len(batch)}

	toStore := make([]*Request, 0, len(batch))
	inBatch := make(map[model.CaptureKey]bool, len(batch))
	for _, req := range batch {
		if int64(currentRound)-int64(req.Flag.RoundID) > int64(p.cfg.ValidityRounds) {
			req.Resolve(OutcomeOld)
			stats.Old++
			continue
		}
		key := req.Key()
		if inBatch[key] || p.known.Contains(key) {
			req.Resolve(OutcomeDuplicate)
			stats.Duplicate++
			continue
		}
		inBatch[key] = true
		toStore = append(toStore, req)
	}

	if len(toStore) > 0 {
		keys := make([]model.CaptureKey, len(toStore))
		for i, req := range toStore {
			keys[i] = req.Key()
		}
		inserted, err := p.store.InsertBatch(keys, started.UnixNano())
		if err != nil {
			log.Printf("[submit] batch of %d failed: %v", len(keys), err)
			for _, req := range toStore {
				req.Resolve(OutcomeError)
				stats.Errors++
			}
		} else {
			fresh := make(map[model.CaptureKey]bool, len(inserted))
			for _, k := range inserted {
				fresh[k] = true
			}
			for _, req := range toStore {
				key := req.Key()
				p.known.Add(key)
				if fresh[key] {
					req.Resolve(OutcomeOk)
					stats.Ok++
				} else {
					req.Resolve(OutcomeDuplicate)
					stats.Duplicate++
				}
			}
		}
	}

	stats.Elapsed = time.Since(started)
	p.sink.OnSubmissionBatch(stats)
}
