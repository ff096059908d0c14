package api

import (
	"log"
	"net/http"

	"github.com/flagsink/flagsink/internal/state"
)

// HandleListCaptures returns a page of capture records, newest first.
// Optional filters: attacker_id, owner_id, service_id, round_id.
func HandleListCaptures(repo *state.CaptureRepo) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pg, err := ParsePagination(r)
		if err != nil {
			writeInvalidArgument(w, err.Error())
			return
		}
		filter := state.ListFilter{Limit: pg.Limit, Offset: pg.Offset}
		for _, q := range []struct {
			key  string
			dest **uint32
		}{
			{"attacker_id", &filter.AttackerID},
			{"owner_id", &filter.OwnerID},
			{"service_id", &filter.ServiceID},
			{"round_id", &filter.RoundID},
		} {
			v, err := ParseUint32Query(r, q.key)
			if err != nil {
				writeInvalidArgument(w, err.Error())
				return
			}
			*q.dest = v
		}

		records, err := repo.List(filter)
		if err != nil {
			log.Printf("[api] list captures: %v", err)
			writeInternal(w)
			return
		}
		WriteJSON(w, http.StatusOK, PageResponse[captureView]{
			Items:  captureViews(records),
			Limit:  pg.Limit,
			Offset: pg.Offset,
		})
	}
}

// HandleCaptureCount returns the total number of distinct captures.
func HandleCaptureCount(repo *state.CaptureRepo) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := repo.Count()
		if err != nil {
			log.Printf("[api] capture count: %v", err)
			writeInternal(w)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]int64{"count": n})
	}
}

// HandleFirstBlood returns the earliest capture of one flag, identified by
// the mandatory service_id, round_id, owner_id, and variant_idx parameters.
func HandleFirstBlood(repo *state.CaptureRepo) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var ids [4]uint32
		for i, key := range []string{"service_id", "round_id", "owner_id", "variant_idx"} {
			v, err := RequireUint32Query(r, key)
			if err != nil {
				writeInvalidArgument(w, err.Error())
				return
			}
			ids[i] = v
		}

		rec, err := repo.FirstBlood(ids[0], ids[1], ids[2], ids[3])
		if err != nil {
			log.Printf("[api] first blood: %v", err)
			writeInternal(w)
			return
		}
		if rec == nil {
			WriteError(w, http.StatusNotFound, "NOT_FOUND", "flag not captured yet")
			return
		}
		WriteJSON(w, http.StatusOK, newCaptureView(*rec))
	}
}
