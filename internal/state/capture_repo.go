package state

import (
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/flagsink/flagsink/internal/model"
)

// CaptureRepo persists capture records in captures.db.
// It is the dedup ledger of the submission pipeline and the input of the
// scoring engine; rows are never deleted during a competition run.
type CaptureRepo struct {
	db *sql.DB
}

// NewCaptureRepo wraps an opened captures database.
func NewCaptureRepo(db *sql.DB) *CaptureRepo {
	return &CaptureRepo{db: db}
}

// InsertBatch persists a batch of capture keys in one transaction and
// returns the keys that were newly inserted. A key that already has a row
// gets its submission_count bumped instead and is not returned.
//
// Keys are sorted into the fixed total order (model.CaptureKey.Less) before
// any row is touched, so concurrent batches acquire row locks in the same
// relative order and cannot deadlock each other.
func (r *CaptureRepo) InsertBatch(keys []model.CaptureKey, nowNs int64) ([]model.CaptureKey, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	sorted := make([]model.CaptureKey, len(keys))
	copy(sorted, keys)
	slices.SortFunc(sorted, func(a, b model.CaptureKey) int {
		if a == b {
			return 0
		}
		if a.Less(b) {
			return -1
		}
		return 1
	})

	tx, err := r.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("captures begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	upsert, err := tx.Prepare(`INSERT INTO captures (
		service_id, round_id, owner_id, variant_idx, attacker_id,
		submission_count, first_seen_ns
	) VALUES (?,?,?,?,?,1,?)
	ON CONFLICT (service_id, round_id, owner_id, variant_idx, attacker_id)
	DO UPDATE SET submission_count = submission_count + 1
	RETURNING submission_count`)
	if err != nil {
		return nil, fmt.Errorf("captures prepare upsert: %w", err)
	}
	defer upsert.Close()

	var inserted []model.CaptureKey
	for _, k := range sorted {
		var count int64
		err := upsert.QueryRow(
			k.ServiceID, k.RoundID, k.OwnerID, k.VariantIdx, k.AttackerID, nowNs,
		).Scan(&count)
		if err != nil {
			return nil, fmt.Errorf("captures upsert %+v: %w", k, err)
		}
		if count == 1 {
			inserted = append(inserted, k)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("captures commit: %w", err)
	}
	return inserted, nil
}

// Get loads one capture record by key.
func (r *CaptureRepo) Get(k model.CaptureKey) (*model.CaptureRecord, error) {
	row := r.db.QueryRow(`SELECT submission_count, first_seen_ns FROM captures
		WHERE service_id=? AND round_id=? AND owner_id=? AND variant_idx=? AND attacker_id=?`,
		k.ServiceID, k.RoundID, k.OwnerID, k.VariantIdx, k.AttackerID)

	rec := model.CaptureRecord{CaptureKey: k}
	if err := row.Scan(&rec.SubmissionCount, &rec.FirstSeenNs); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("captures get: %w", err)
	}
	return &rec, nil
}

// Count returns the total number of capture rows.
func (r *CaptureRepo) Count() (int64, error) {
	var n int64
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM captures`).Scan(&n); err != nil {
		return 0, fmt.Errorf("captures count: %w", err)
	}
	return n, nil
}

// ListFilter narrows List results. Nil fields match everything.
type ListFilter struct {
	AttackerID *uint32
	OwnerID    *uint32
	ServiceID  *uint32
	RoundID    *uint32
	Limit      int
	Offset     int
}

// List returns capture records ordered by first_seen_ns DESC (newest first),
// ties broken by the primary key order.
func (r *CaptureRepo) List(f ListFilter) ([]model.CaptureRecord, error) {
	var where []string
	var args []any

	if f.AttackerID != nil {
		where = append(where, "attacker_id = ?")
		args = append(args, *f.AttackerID)
	}
	if f.OwnerID != nil {
		where = append(where, "owner_id = ?")
		args = append(args, *f.OwnerID)
	}
	if f.ServiceID != nil {
		where = append(where, "service_id = ?")
		args = append(args, *f.ServiceID)
	}
	if f.RoundID != nil {
		where = append(where, "round_id = ?")
		args = append(args, *f.RoundID)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 10000 {
		limit = 10000
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	q := `SELECT service_id, round_id, owner_id, variant_idx, attacker_id,
		submission_count, first_seen_ns FROM captures`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += ` ORDER BY first_seen_ns DESC,
		service_id DESC, round_id DESC, owner_id DESC, variant_idx DESC, attacker_id DESC
		LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := r.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("captures list: %w", err)
	}
	defer rows.Close()

	var out []model.CaptureRecord
	for rows.Next() {
		var rec model.CaptureRecord
		if err := rows.Scan(
			&rec.ServiceID, &rec.RoundID, &rec.OwnerID, &rec.VariantIdx, &rec.AttackerID,
			&rec.SubmissionCount, &rec.FirstSeenNs,
		); err != nil {
			return nil, fmt.Errorf("captures scan: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// FirstBlood returns the earliest capture of one specific flag
// (service, round, owner, variant), or nil if nobody captured it yet.
func (r *CaptureRepo) FirstBlood(serviceID, roundID, ownerID, variantIdx uint32) (*model.CaptureRecord, error) {
	row := r.db.QueryRow(`SELECT service_id, round_id, owner_id, variant_idx, attacker_id,
		submission_count, first_seen_ns FROM captures
		WHERE service_id=? AND round_id=? AND owner_id=? AND variant_idx=?
		ORDER BY first_seen_ns ASC, attacker_id ASC LIMIT 1`,
		serviceID, roundID, ownerID, variantIdx)

	var rec model.CaptureRecord
	err := row.Scan(
		&rec.ServiceID, &rec.RoundID, &rec.OwnerID, &rec.VariantIdx, &rec.AttackerID,
		&rec.SubmissionCount, &rec.FirstSeenNs,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("captures first blood: %w", err)
	}
	return &rec, nil
}
