package domain

import "time"

// RunStatus is the lifecycle state of a pipeline run.
type RunStatus string

const (
	RunStatusSubmitted RunStatus = "submitted"
	RunStatusRunning   RunStatus = "running"
	RunStatusPaused    RunStatus = "paused"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// Terminal reports whether the status is final.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed || s == RunStatusCancelled
}

// AgentStatus is the terminal status of a single agent execution.
type AgentStatus string

const (
	AgentStatusSuccess  AgentStatus = "success"
	AgentStatusFailed   AgentStatus = "failed"
	AgentStatusTimedOut AgentStatus = "timed_out"
	AgentStatusSkipped  AgentStatus = "skipped"
)

// FailureMode controls how a phase reacts to agent failures.
type FailureMode string

const (
	// FailFast aborts the whole run on the first agent failure after
	// retries are exhausted.
	FailFast FailureMode = "fail_fast"
	// Continue marks the phase partially succeeded and proceeds with
	// whatever outputs succeeded.
	Continue FailureMode = "continue"
	// Quarantine routes failed inputs to the dead-letter store and
	// continues the run.
	Quarantine FailureMode = "quarantine"
)

// AgentResult is the outcome of one agent within a phase. Retries produce
// intermediate attempts internally; only the final attempt is recorded.
type AgentResult struct {
	AgentName string        `json:"agent_name"`
	Status    AgentStatus   `json:"status"`
	Output    []*Entity     `json:"output,omitempty"`
	Error     string        `json:"error,omitempty"`
	Attempt   int           `json:"attempt"`
	Duration  time.Duration `json:"duration"`
}

// PhaseStatus is the aggregated status of a phase.
type PhaseStatus string

const (
	PhaseStatusSucceeded PhaseStatus = "succeeded"
	PhaseStatusPartial   PhaseStatus = "partial"
	PhaseStatusFailed    PhaseStatus = "failed"
	PhaseStatusSkipped   PhaseStatus = "skipped"
)

// PhaseReport is the structured per-phase summary handed to logging and
// metrics collaborators.
type PhaseReport struct {
	Succeeded int                      `json:"succeeded"`
	Failed    int                      `json:"failed"`
	TimedOut  int                      `json:"timed_out"`
	Skipped   int                      `json:"skipped"`
	Durations map[string]time.Duration `json:"durations"`
}

// PhaseOutcome is the aggregated result of one phase, in agent declaration
// order regardless of completion order.
type PhaseOutcome struct {
	Phase   string        `json:"phase"`
	Status  PhaseStatus   `json:"status"`
	Results []AgentResult `json:"results"`
	Output  []*Entity     `json:"output,omitempty"`
	Report  PhaseReport   `json:"report"`
}

// StoreWriteStatus is the state of a single (entity, store) write.
// Committed and DeadLettered are terminal.
type StoreWriteStatus string

const (
	WritePending    StoreWriteStatus = "pending"
	WriteCommitted  StoreWriteStatus = "committed"
	WriteRetrying   StoreWriteStatus = "retrying"
	WriteFailed     StoreWriteStatus = "failed"
	WriteDeadLetter StoreWriteStatus = "dead_lettered"
)

// StoreWriteOutcome records the final state of one (entity, store) pair.
type StoreWriteOutcome struct {
	StoreName string           `json:"store_name"`
	EntityID  string           `json:"entity_id"`
	Status    StoreWriteStatus `json:"status"`
	Attempts  int              `json:"attempts"`
	LastError string           `json:"last_error,omitempty"`
	// BestEffort stores do not count toward durable publication.
	BestEffort bool `json:"best_effort,omitempty"`
}

// PublishReport summarizes a multi-store publish. Store failures surface
// here, never as a hard error: a single store being down must not abort an
// otherwise-successful run.
type PublishReport struct {
	Outcomes []StoreWriteOutcome `json:"outcomes"`
	// RequiredStores counts the adapters that are not best-effort.
	RequiredStores int `json:"required_stores"`
}

// EntityIDs returns the distinct entity IDs in the report, in first-seen
// order.
func (r *PublishReport) EntityIDs() []string {
	seen := make(map[string]bool)
	var ids []string
	for _, o := range r.Outcomes {
		if !seen[o.EntityID] {
			seen[o.EntityID] = true
			ids = append(ids, o.EntityID)
		}
	}
	return ids
}

// FullyCommitted returns entity IDs committed by every required store.
// With zero required stores every entity qualifies, so a publish target
// list should keep at least one store required.
func (r *PublishReport) FullyCommitted() []string {
	return r.partition(func(committed int) bool { return committed == r.RequiredStores })
}

// PartiallyCommitted returns entity IDs committed by at least one but not
// every required store.
func (r *PublishReport) PartiallyCommitted() []string {
	return r.partition(func(committed int) bool {
		return committed > 0 && committed < r.RequiredStores
	})
}

// DeadLettered returns entity IDs with at least one dead-lettered write.
func (r *PublishReport) DeadLettered() []string {
	seen := make(map[string]bool)
	var ids []string
	for _, o := range r.Outcomes {
		if o.Status == WriteDeadLetter && !seen[o.EntityID] {
			seen[o.EntityID] = true
			ids = append(ids, o.EntityID)
		}
	}
	return ids
}

// OutcomeFor returns the outcome for a specific (entity, store) pair.
func (r *PublishReport) OutcomeFor(entityID, store string) (StoreWriteOutcome, bool) {
	for _, o := range r.Outcomes {
		if o.EntityID == entityID && o.StoreName == store {
			return o, true
		}
	}
	return StoreWriteOutcome{}, false
}

func (r *PublishReport) partition(keep func(committed int) bool) []string {
	perEntity := make(map[string]int)
	var order []string
	for _, o := range r.Outcomes {
		if _, ok := perEntity[o.EntityID]; !ok {
			order = append(order, o.EntityID)
			perEntity[o.EntityID] = 0
		}
		if o.Status == WriteCommitted && !o.BestEffort {
			perEntity[o.EntityID]++
		}
	}
	var ids []string
	for _, id := range order {
		if keep(perEntity[id]) {
			ids = append(ids, id)
		}
	}
	return ids
}

// RunState is the persisted state of one orchestrator run. Each run owns
// its state exclusively; concurrent runs never share it.
type RunState struct {
	RunID        string          `json:"run_id"`
	Workflow     string          `json:"workflow"`
	Status       RunStatus       `json:"status"`
	CurrentPhase string          `json:"current_phase,omitempty"`
	Phases       []*PhaseOutcome `json:"phases"`
	Publish      *PublishReport  `json:"publish,omitempty"`
	Error        string          `json:"error,omitempty"`
	SubmittedAt  time.Time       `json:"submitted_at"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}

// DeadLetterKind distinguishes what was dead-lettered.
type DeadLetterKind string

const (
	// DeadLetterAgentInput is a quarantined agent input batch.
	DeadLetterAgentInput DeadLetterKind = "agent_input"
	// DeadLetterStoreWrite is a store write that exhausted retries.
	DeadLetterStoreWrite DeadLetterKind = "store_write"
)

// DeadLetter is an item recorded for manual or offline reprocessing.
type DeadLetter struct {
	ID        string         `json:"id"`
	RunID     string         `json:"run_id"`
	Kind      DeadLetterKind `json:"kind"`
	Phase     string         `json:"phase,omitempty"`
	Agent     string         `json:"agent,omitempty"`
	Store     string         `json:"store,omitempty"`
	// EntityID identifies the affected entity for store-write items.
	// Delete dead letters carry no entity payload, only the ID.
	EntityID  string         `json:"entity_id,omitempty"`
	Entities  []*Entity      `json:"entities,omitempty"`
	Reason    string         `json:"reason"`
	Timestamp time.Time      `json:"timestamp"`
}
