// Package submit implements the flag submission pipeline: the line-oriented
// TCP endpoints, per-team inbound queues, and the batched idempotent
// processor that turns raw submissions into capture records.
package submit

// Outcome is the terminal result of one submitted line. Exactly one outcome
// is delivered per line, in submission order, on the same connection.
type Outcome int

const (
	// OutcomeOk: the flag was valid and this capture is credited.
	OutcomeOk Outcome = iota
	// OutcomeDuplicate: the same capture was already credited.
	OutcomeDuplicate
	// OutcomeOwn: the submitting team owns the flag.
	OutcomeOwn
	// OutcomeOld: the flag's round is outside the validity window.
	OutcomeOld
	// OutcomeInvalid: the line did not decode to an authentic flag.
	OutcomeInvalid
	// OutcomeError: a transient server-side failure; resubmitting may succeed.
	OutcomeError
	// OutcomeIllegal: the connection's source is not part of any team network.
	OutcomeIllegal
	// OutcomeSpam: the line exceeded the maximum length; connection closes.
	OutcomeSpam
)

// responseLines are the exact user-facing strings of the wire protocol.
// Submission clients match on the first word; do not reword the prefixes.
var responseLines = map[Outcome]string{
	OutcomeOk:        "VALID: Flag accepted!",
	OutcomeDuplicate: "RESUBMIT: You have already sent this flag",
	OutcomeOwn:       "OWNFLAG: This flag belongs to you",
	OutcomeOld:       "OLD: You have submitted an old flag",
	OutcomeInvalid:   "INVALID: You have submitted an invalid flag",
	OutcomeError:     "ERROR: Something went wrong with your submission, please try again",
	OutcomeIllegal:   "ILLEGAL: Your address does not belong to any team network",
	OutcomeSpam:      "SPAM: Line too long, closing connection",
}

// ResponseLine returns the protocol line for the outcome (without the
// trailing newline).
func (o Outcome) ResponseLine() string {
	if line, ok := responseLines[o]; ok {
		return line
	}
	return responseLines[OutcomeError]
}

// String returns a short name for logs and metrics.
func (o Outcome) String() string {
	switch o {
	case OutcomeOk:
		return "ok"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeOwn:
		return "own"
	case OutcomeOld:
		return "old"
	case OutcomeInvalid:
		return "invalid"
	case OutcomeError:
		return "error"
	case OutcomeIllegal:
		return "illegal"
	case OutcomeSpam:
		return "spam"
	default:
		return "unknown"
	}
}
