package models

import "time"

type SignalType string

const (
	SignalIntent        SignalType = "intent"
	SignalFunding       SignalType = "funding"
	SignalJobChange     SignalType = "job_change"
	SignalWebsiteChange SignalType = "website_change"
	SignalNews          SignalType = "news"
)

// Signal is an external event suggesting a dormant lead is worth contacting
type Signal struct {
	Type           SignalType `json:"type"`
	Source         string     `json:"source"`
	Title          string     `json:"title"`
	Summary        string     `json:"summary"`
	URL            string     `json:"url,omitempty"`
	RelevanceScore float64    `json:"relevance_score"`
	DetectedAt     time.Time  `json:"detected_at"`
}

type RunStatus string

const (
	RunStarted   RunStatus = "started"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// RunOutcome refines a completed run
type RunOutcome string

const (
	OutcomeNoSignal       RunOutcome = "no_signal"
	OutcomeNotReactivated RunOutcome = "not_reactivated"
	OutcomeRejected       RunOutcome = "rejected"
	OutcomeDrafted        RunOutcome = "drafted"
	OutcomeAutoSent       RunOutcome = "auto_sent"
)

// ReactivationRun is one invocation of the agent graph
type ReactivationRun struct {
	ID          string     `json:"id" db:"id"`
	TenantID    int64      `json:"tenant_id" db:"tenant_id"`
	LeadID      string     `json:"lead_id" db:"lead_id"`
	Status      RunStatus  `json:"status" db:"status"`
	Outcome     RunOutcome `json:"outcome,omitempty" db:"outcome"`
	LastNode    string     `json:"last_node,omitempty" db:"last_node"`
	FinalState  []byte     `json:"final_state,omitempty" db:"final_state"`
	Error       string     `json:"error,omitempty" db:"error"`
	StartedAt   time.Time  `json:"started_at" db:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// Checkpoint is the persisted state of a run after a node
type Checkpoint struct {
	RunID     string    `json:"run_id"`
	Node      string    `json:"node"`
	State     []byte    `json:"state"`
	CreatedAt time.Time `json:"created_at"`
}
