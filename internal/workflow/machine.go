package workflow

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/civil-registry/internal/model"
)

// Store is the persistence the state machine needs.
type Store interface {
	GetCertificate(ctx context.Context, key model.CertificateKey) (*model.Certificate, error)
	// GetWorkflowState returns nil, nil when no workflow row exists yet.
	GetWorkflowState(ctx context.Context, key model.CertificateKey) (*model.WorkflowState, error)
	// ApplyTransition writes the new state and appends the audit record in
	// one transaction. It returns model.ErrConflict when the stored version
	// no longer matches w.ExpectedVersion. When w.Exists is false an
	// untouched version-0 draft row is taken over; any other row conflicts.
	ApplyTransition(ctx context.Context, w model.TransitionWrite) (*model.AppliedTransition, error)
	SaveQualityScore(ctx context.Context, key model.CertificateKey, score int, at time.Time) error
	ListTransitions(ctx context.Context, key model.CertificateKey) ([]model.TransitionRecord, error)
}

// TransitionRequest asks to move a certificate to a new state.
type TransitionRequest struct {
	Key     model.CertificateKey `json:"key"`
	To      model.State          `json:"to_state"`
	ActorID string               `json:"actor_id"`
	Reason  string               `json:"reason,omitempty"`
}

// TransitionResult is returned for an applied transition.
type TransitionResult struct {
	Success  bool                   `json:"success"`
	NewState model.State            `json:"new_state"`
	Workflow model.WorkflowState    `json:"workflow"`
	Record   model.TransitionRecord `json:"transition"`
}

// Machine validates and applies workflow transitions. It is the only writer
// of workflow states and transition records.
type Machine struct {
	store  Store
	policy ReopenPolicy
	now    func() time.Time
}

// NewMachine creates a Machine.
func NewMachine(st Store, policy ReopenPolicy) *Machine {
	if policy == "" {
		policy = ReopenAny
	}
	return &Machine{
		store:  st,
		policy: policy,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Policy returns the configured reopen policy.
func (m *Machine) Policy() ReopenPolicy { return m.policy }

// RequestTransition validates req against the current state and applies it.
//
// Checks run in this order: blank actor (INVALID_INPUT), unknown target
// (INVALID_TRANSITION), rejection without a reason (MISSING_REASON), missing
// certificate (NOT_FOUND), edge not in the table or excluded by the reopen
// policy (INVALID_TRANSITION). A certificate without a workflow row starts
// from draft and the row is created by the same write. Losing a concurrent
// race returns CONFLICT and nothing is written.
func (m *Machine) RequestTransition(ctx context.Context, req TransitionRequest) (*TransitionResult, error) {
	log := zap.L().With(
		zap.String("component", "workflow.machine"),
		zap.String("certificate_type", string(req.Key.Type)),
		zap.Int64("certificate_id", req.Key.ID),
		zap.String("to_state", string(req.To)),
	)

	actor := strings.TrimSpace(req.ActorID)
	if actor == "" {
		return nil, eris.Wrap(model.ErrInvalidInput, "workflow: actor_id is required")
	}
	if !req.To.Valid() {
		return nil, eris.Wrapf(model.ErrInvalidTransition, "workflow: unknown target state %q", req.To)
	}
	reason := strings.TrimSpace(req.Reason)
	if RequiresReason(req.To) && reason == "" {
		return nil, eris.Wrapf(model.ErrMissingReason, "workflow: %s requires a reason", req.To)
	}

	if _, err := m.store.GetCertificate(ctx, req.Key); err != nil {
		return nil, eris.Wrap(err, "workflow: get certificate")
	}

	cur, err := m.store.GetWorkflowState(ctx, req.Key)
	if err != nil {
		return nil, eris.Wrap(err, "workflow: get state")
	}
	exists := cur != nil
	if !exists {
		fresh := model.NewWorkflowState(req.Key)
		cur = &fresh
	}

	from := cur.CurrentState
	if !Allowed(from, req.To) {
		log.Info("workflow: transition refused", zap.String("from_state", string(from)))
		return nil, eris.Wrapf(model.ErrInvalidTransition, "workflow: %s -> %s is not allowed", from, req.To)
	}
	if !m.policy.permits(from, req.To) {
		log.Info("workflow: reopen target refused by policy",
			zap.String("from_state", string(from)),
			zap.String("policy", string(m.policy)),
		)
		return nil, eris.Wrapf(model.ErrInvalidTransition, "workflow: reopen to %s is disabled (reopen_target=%s)", req.To, m.policy)
	}

	now := m.now()
	next := apply(*cur, req.To, actor, reason, now)
	write := model.TransitionWrite{
		Exists:          exists,
		ExpectedVersion: cur.Version,
		Next:            next,
		Record: model.TransitionRecord{
			Key:       req.Key,
			FromState: from,
			ToState:   req.To,
			ActorID:   actor,
			Reason:    reason,
			CreatedAt: now,
		},
	}

	saved, err := m.store.ApplyTransition(ctx, write)
	if err != nil {
		if eris.Is(err, model.ErrConflict) {
			current := "unknown"
			if latest, rerr := m.store.GetWorkflowState(ctx, req.Key); rerr == nil && latest != nil {
				current = string(latest.CurrentState)
			}
			log.Warn("workflow: transition lost a concurrent update",
				zap.String("from_state", string(from)),
				zap.String("current_state", current),
			)
			return nil, eris.Wrapf(err, "workflow: certificate changed concurrently (now %s)", current)
		}
		return nil, eris.Wrap(err, "workflow: apply transition")
	}

	log.Info("workflow: transition applied",
		zap.String("from_state", string(from)),
		zap.String("actor_id", actor),
		zap.Int64("version", saved.State.Version),
		zap.Int64("transition_id", saved.Record.ID),
	)

	return &TransitionResult{
		Success:  true,
		NewState: saved.State.CurrentState,
		Workflow: saved.State,
		Record:   saved.Record,
	}, nil
}

// apply returns the workflow row after entering `to`. Only the stamp for the
// new state is written; earlier stamps survive.
func apply(cur model.WorkflowState, to model.State, actor, reason string, now time.Time) model.WorkflowState {
	next := cur
	next.CurrentState = to
	next.UpdatedAt = now
	next.Version = cur.Version + 1

	stamp := &model.ActorStamp{By: actor, At: now}
	switch to {
	case model.StateVerified:
		next.Verified = stamp
	case model.StateApproved:
		next.Approved = stamp
	case model.StateRejected:
		next.Rejected = stamp
		next.RejectedReason = reason
	}
	return next
}

// State returns the certificate's workflow record, or an implicit draft
// when none has been stored.
func (m *Machine) State(ctx context.Context, key model.CertificateKey) (*model.WorkflowState, error) {
	if _, err := m.store.GetCertificate(ctx, key); err != nil {
		return nil, eris.Wrap(err, "workflow: get certificate")
	}
	st, err := m.store.GetWorkflowState(ctx, key)
	if err != nil {
		return nil, eris.Wrap(err, "workflow: get state")
	}
	if st == nil {
		fresh := model.NewWorkflowState(key)
		return &fresh, nil
	}
	return st, nil
}

// History returns the certificate's transition audit trail, oldest first.
func (m *Machine) History(ctx context.Context, key model.CertificateKey) ([]model.TransitionRecord, error) {
	if _, err := m.store.GetCertificate(ctx, key); err != nil {
		return nil, eris.Wrap(err, "workflow: get certificate")
	}
	recs, err := m.store.ListTransitions(ctx, key)
	if err != nil {
		return nil, eris.Wrap(err, "workflow: list transitions")
	}
	if recs == nil {
		recs = []model.TransitionRecord{}
	}
	return recs, nil
}

// RecordQualityScore stores score on the certificate's workflow row,
// creating a draft row if needed. It does not bump the row version. A
// transition that finds this version-0 draft row where it expected none
// takes it over instead of conflicting.
func (m *Machine) RecordQualityScore(ctx context.Context, key model.CertificateKey, score int) error {
	if score < 0 || score > 100 {
		return eris.Wrapf(model.ErrInvalidInput, "workflow: quality score %d out of range", score)
	}
	if err := m.store.SaveQualityScore(ctx, key, score, m.now()); err != nil {
		return eris.Wrap(err, "workflow: save quality score")
	}
	return nil
}
