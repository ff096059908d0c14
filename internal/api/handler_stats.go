package api

import (
	"net/http"

	"github.com/flagsink/flagsink/internal/round"
	"github.com/flagsink/flagsink/internal/stats"
)

// HandleStats returns the submission counters.
func HandleStats(collector *stats.Collector) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, collector.Snapshot())
	}
}

// HandleRound returns the current round id.
func HandleRound(rounds round.Source) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]uint32{"round": rounds.Current()})
	}
}
