package resolve

import (
	"taxonmatch/internal/names"
	"taxonmatch/internal/taxa"
)

// Method names the strategy that produced a candidate.
type Method string

const (
	MethodDirectName       Method = "direct-name"
	MethodDirectNameAuthor Method = "direct-name+author"
	MethodKNMSSingle       Method = "knms-single"
	MethodKNMSMultiple     Method = "knms-multiple"
	MethodAutoresolve      Method = "autoresolve"
	MethodManual           Method = "manual"
)

// matched_by values for keys without a chosen record.
const (
	MatchedUnresolved   = "unresolved"
	MatchedPendingRetry = "pending_retry"
)

const uniqueSuffix = "_unique"

// State is the lifecycle position of a submission key.
type State int

const (
	StatePending State = iota
	StateResolved
	StateUnresolved
	StatePendingRetry
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateResolved:
		return "resolved"
	case StateUnresolved:
		return "unresolved"
	case StatePendingRetry:
		return "pending_retry"
	default:
		return "unknown"
	}
}

// Submission is one normalized input name.
type Submission struct {
	Raw    string
	Family string
	Keys   names.Keys
	// Key identifies the submission across duplicates.
	Key string
}

// Candidate is a record proposed for a submission key by one stage.
type Candidate struct {
	Key    string
	Record *taxa.Record
	Method Method
}

// Resolution is the outcome for one submission key.
type Resolution struct {
	Key       string
	State     State
	MatchedBy string
	// Record is the matched checklist record; nil unless resolved.
	Record *taxa.Record
}

// Resolved reports whether a record was chosen.
func (r Resolution) Resolved() bool {
	return r.State == StateResolved && r.Record != nil
}

func resolvedWith(key string, rec *taxa.Record, matchedBy string) Resolution {
	return Resolution{Key: key, State: StateResolved, MatchedBy: matchedBy, Record: rec}
}

func matchedBy(method Method, unique bool) string {
	if unique {
		return string(method) + uniqueSuffix
	}
	return string(method)
}
