package submit

import (
	"context"
	"errors"
	"sort"
)

// ErrQueueClosed is returned by Enqueue after shutdown has begun.
var ErrQueueClosed = errors.New("submit: queue closed")

// TeamQueue is the bounded inbound FIFO of one team. A full queue blocks
// that team's own connection handlers (pure backpressure, no drops) and
// never anyone else's.
type TeamQueue struct {
	teamID   uint32
	ch       chan *Request
	closedCh chan struct{}
}

func newTeamQueue(teamID uint32, capacity int) *TeamQueue {
	return &TeamQueue{
		teamID:   teamID,
		ch:       make(chan *Request, capacity),
		closedCh: make(chan struct{}),
	}
}

// TeamID returns the owning team.
func (q *TeamQueue) TeamID() uint32 { return q.teamID }

// Len returns the number of queued requests.
func (q *TeamQueue) Len() int { return len(q.ch) }

// Enqueue appends a request, blocking while the queue is full. It aborts
// with an error when ctx is cancelled or the queue set has been closed;
// the caller must then resolve the request itself.
func (q *TeamQueue) Enqueue(ctx context.Context, req *Request) error {
	select {
	case <-q.closedCh:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	select {
	case q.ch <- req:
		return nil
	case <-q.closedCh:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryDrain pops up to max requests without blocking.
func (q *TeamQueue) TryDrain(max int) []*Request {
	var out []*Request
	for len(out) < max {
		select {
		case req := <-q.ch:
			out = append(out, req)
		default:
			return out
		}
	}
	return out
}

// QueueSet owns one TeamQueue per roster team. Created once at startup,
// never resized.
type QueueSet struct {
	byTeam map[uint32]*TeamQueue
	order  []*TeamQueue // fixed iteration order for round-robin draining
}

// NewQueueSet builds the per-team queues with the given capacity each.
func NewQueueSet(teamIDs []uint32, capacity int) *QueueSet {
	sorted := make([]uint32, len(teamIDs))
	copy(sorted, teamIDs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	s := &QueueSet{byTeam: make(map[uint32]*TeamQueue, len(sorted))}
	for _, id := range sorted {
		if _, dup := s.byTeam[id]; dup {
			continue
		}
		q := newTeamQueue(id, capacity)
		s.byTeam[id] = q
		s.order = append(s.order, q)
	}
	return s
}

// Queue returns the queue of one team.
func (s *QueueSet) Queue(teamID uint32) (*TeamQueue, bool) {
	q, ok := s.byTeam[teamID]
	return q, ok
}

// Queues returns the fixed-order queue slice for round-robin draining.
func (s *QueueSet) Queues() []*TeamQueue {
	return s.order
}

// Close rejects all future Enqueue calls. Requests already queued stay
// queued; the processor's shutdown sweep resolves them.
func (s *QueueSet) Close() {
	for _, q := range s.order {
		select {
		case <-q.closedCh:
		default:
			close(q.closedCh)
		}
	}
}
