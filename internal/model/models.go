// Package model defines domain structs shared across the submission pipeline
// and the persistence layer.
package model

// CaptureKey identifies one unique capture: a specific flag
// (service, round, owner, variant) stolen by a specific attacker.
// It is the primary key of the captures table.
type CaptureKey struct {
	ServiceID  uint32 `json:"service_id"`
	RoundID    uint32 `json:"round_id"`
	OwnerID    uint32 `json:"owner_id"`
	VariantIdx uint32 `json:"variant_idx"`
	AttackerID uint32 `json:"attacker_id"`
}

// Less imposes the fixed total order used for batch persistence:
// descending by service, then round, then owner, then variant, then attacker.
// Every worker sorts its batch with this order before touching storage so
// that overlapping batches acquire row locks in the same relative order.
func (k CaptureKey) Less(other CaptureKey) bool {
	if k.ServiceID != other.ServiceID {
		return k.ServiceID > other.ServiceID
	}
	if k.RoundID != other.RoundID {
		return k.RoundID > other.RoundID
	}
	if k.OwnerID != other.OwnerID {
		return k.OwnerID > other.OwnerID
	}
	if k.VariantIdx != other.VariantIdx {
		return k.VariantIdx > other.VariantIdx
	}
	return k.AttackerID > other.AttackerID
}

// CaptureRecord is a durable row of the captures table.
// SubmissionCount is bookkeeping only (how often the same capture was
// resubmitted); the Ok/Duplicate decision is made from whether the upsert
// created the row, never from the count.
type CaptureRecord struct {
	CaptureKey
	SubmissionCount int64 `json:"submission_count"`
	FirstSeenNs     int64 `json:"first_seen_ns"`
}

// Team is one competing team from the roster.
type Team struct {
	ID     uint32 `json:"id" yaml:"id"`
	Name   string `json:"name" yaml:"name"`
	Subnet string `json:"subnet" yaml:"subnet"`
}

// Service is one scored service from the roster.
type Service struct {
	ID           uint32 `json:"id" yaml:"id"`
	Name         string `json:"name" yaml:"name"`
	FlagVariants uint32 `json:"flag_variants" yaml:"flag_variants"`
}
