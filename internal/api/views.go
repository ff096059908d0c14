package api

import (
	"time"

	"github.com/flagsink/flagsink/internal/model"
)

// captureView is the wire shape of one capture record. first_seen is
// rendered as RFC 3339 so API consumers never deal in raw nanoseconds.
type captureView struct {
	model.CaptureKey
	SubmissionCount int64  `json:"submission_count"`
	FirstSeen       string `json:"first_seen"`
}

func newCaptureView(rec model.CaptureRecord) captureView {
	return captureView{
		CaptureKey:      rec.CaptureKey,
		SubmissionCount: rec.SubmissionCount,
		FirstSeen:       time.Unix(0, rec.FirstSeenNs).UTC().Format(time.RFC3339Nano),
	}
}

func captureViews(records []model.CaptureRecord) []captureView {
	views := make([]captureView, len(records))
	for i, rec := range records {
		views[i] = newCaptureView(rec)
	}
	return views
}
