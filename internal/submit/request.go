package submit

import (
	"sync/atomic"

	"github.com/flagsink/flagsink/internal/flagcodec"
	"github.com/flagsink/flagsink/internal/model"
)

// Request is one decoded, non-own flag submission waiting to be credited.
// Its result slot is written exactly once (Resolve) and read exactly once
// (the originating connection's writer goroutine); no other state is shared
// between the connection handler and the batch processor.
type Request struct {
	Flag       flagcodec.Identity
	AttackerID uint32

	result   chan Outcome
	resolved atomic.Bool
}

// NewRequest creates a request with an unresolved result slot.
func NewRequest(flag flagcodec.Identity, attackerID uint32) *Request {
	return &Request{
		Flag:       flag,
		AttackerID: attackerID,
		result:     make(chan Outcome, 1),
	}
}

// Key returns the capture key this request would create.
func (r *Request) Key() model.CaptureKey {
	return model.CaptureKey{
		ServiceID:  r.Flag.ServiceID,
		RoundID:    r.Flag.RoundID,
		OwnerID:    r.Flag.OwnerID,
		VariantIdx: r.Flag.VariantIdx,
		AttackerID: r.AttackerID,
	}
}

// Resolve delivers the terminal outcome. The first call wins; later calls
// are no-ops so shutdown sweeps can blanket-resolve without double-send.
func (r *Request) Resolve(o Outcome) {
	if r.resolved.CompareAndSwap(false, true) {
		r.result <- o
	}
}

// Result exposes the read side of the result slot.
func (r *Request) Result() <-chan Outcome {
	return r.result
}
