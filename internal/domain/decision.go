package domain

import "time"

// Action enumerates Decision Engine outcomes.
type Action string

const (
	ActionPublishNew     Action = "publish_new"
	ActionUpdateExisting Action = "update_existing"
	ActionSkipDuplicate  Action = "skip_duplicate"
)

// MatchVia tells which lookup produced a decision.
type MatchVia string

const (
	MatchNone     MatchVia = ""
	MatchIdentity MatchVia = "identity"
	MatchBuffer   MatchVia = "buffer"

	// MatchBufferIdentity is a buffer entry under the candidate's own id with no
	// index row, left behind by a commit that stopped before its last write.
	MatchBufferIdentity MatchVia = "buffer_identity"
)

// Decision is the classification of a single candidate.
type Decision struct {
	Action         Action
	ArtifactID     string
	Via            MatchVia
	Fingerprint    string
	NormalizedText string
	Score          float64
	// Match is the buffer entry the decision was derived from when Via is MatchBuffer
	// or MatchBufferIdentity.
	Match *EditBufferEntry
}

// CycleState is a step of the per-source cycle state machine.
type CycleState string

const (
	StateIdle        CycleState = "idle"
	StateFetching    CycleState = "fetching"
	StateClassifying CycleState = "classifying"
	StateActing      CycleState = "acting"
	StateCommitting  CycleState = "committing"
	StateCycleDone   CycleState = "cycle_done"
	StateAborted     CycleState = "aborted"
)

// CycleStats counts per-candidate outcomes of a cycle.
type CycleStats struct {
	Processed int `json:"processed"`
	Published int `json:"published"`
	Updated   int `json:"updated"`
	Skipped   int `json:"skipped"`
	Errors    int `json:"errors"`
}

// CycleReport is what a caller learns about one cycle.
type CycleReport struct {
	RunID      string
	SourceID   string
	Stats      CycleStats
	State      CycleState
	Completed  bool
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

// Aborted reports whether the cycle stopped before processing every candidate.
func (r CycleReport) Aborted() bool {
	return r.State == StateAborted
}
