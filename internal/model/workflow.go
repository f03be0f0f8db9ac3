package model

import (
	"strings"
	"time"
)

// State is a certificate's review lifecycle stage.
type State string

const (
	StateDraft         State = "draft"
	StatePendingReview State = "pending_review"
	StateVerified      State = "verified"
	StateApproved      State = "approved"
	StateRejected      State = "rejected"
	StateArchived      State = "archived"
)

// States lists every workflow state in lifecycle order.
var States = []State{
	StateDraft,
	StatePendingReview,
	StateVerified,
	StateApproved,
	StateRejected,
	StateArchived,
}

// Valid reports whether s is a defined workflow state.
func (s State) Valid() bool {
	for _, st := range States {
		if st == s {
			return true
		}
	}
	return false
}

// ParseState converts user input into a State.
func ParseState(s string) (State, error) {
	st := State(strings.ToLower(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", newInvalidInput("unknown workflow state %q", s)
	}
	return st, nil
}

// ActorStamp records who performed a kind of transition and when.
type ActorStamp struct {
	By string    `json:"by"`
	At time.Time `json:"at"`
}

// WorkflowState is the single review record kept per certificate.
type WorkflowState struct {
	Key              CertificateKey `json:"key"`
	CurrentState     State          `json:"current_state"`
	DataQualityScore *int           `json:"data_quality_score,omitempty"`
	Verified         *ActorStamp    `json:"verified,omitempty"`
	Approved         *ActorStamp    `json:"approved,omitempty"`
	Rejected         *ActorStamp    `json:"rejected,omitempty"`
	RejectedReason   string         `json:"rejected_reason,omitempty"`
	Version          int64          `json:"version"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// NewWorkflowState returns the implicit draft record for a certificate that
// has never been through a transition.
func NewWorkflowState(key CertificateKey) WorkflowState {
	return WorkflowState{Key: key, CurrentState: StateDraft}
}

// TransitionRecord is an append-only audit row for an applied transition.
type TransitionRecord struct {
	ID        int64          `json:"id,omitempty"`
	Key       CertificateKey `json:"key"`
	FromState State          `json:"from_state"`
	ToState   State          `json:"to_state"`
	ActorID   string         `json:"actor_id"`
	Reason    string         `json:"reason,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// TransitionWrite is everything the store persists for one transition, in a
// single transaction. Exists is false when no workflow row has been stored
// yet; ExpectedVersion is the version the caller read.
type TransitionWrite struct {
	Exists          bool
	ExpectedVersion int64
	Next            WorkflowState
	Record          TransitionRecord
}

// AppliedTransition is the state row and audit record a transition wrote.
type AppliedTransition struct {
	State  WorkflowState
	Record TransitionRecord
}

// CertificateSummary is the certificate data joined onto workflow listings.
type CertificateSummary struct {
	RegistryNumber string `json:"registry_number"`
	DisplayName    string `json:"display_name"`
	Deleted        bool   `json:"deleted"`
}

// WorkflowRecord is a workflow state with its (possibly vanished) certificate.
type WorkflowRecord struct {
	WorkflowState
	Certificate *CertificateSummary `json:"certificate"`
}

// WorkflowFilter selects workflow records for listings. Zero values mean
// "any".
type WorkflowFilter struct {
	State State           `json:"state,omitempty"`
	Type  CertificateType `json:"certificate_type,omitempty"`
	Limit int             `json:"limit,omitempty"`
	// QueueOrder sorts by ascending quality score instead of recency.
	QueueOrder bool `json:"-"`
}

// QualityStats summarizes stored quality scores for one state.
type QualityStats struct {
	State   State   `json:"state"`
	Average float64 `json:"average"`
	Scored  int     `json:"scored"`
}
