// Package workflow owns the certificate review lifecycle: the transition
// table, the reopen policy and the Machine that applies transitions
// atomically with an audit record.
package workflow

import (
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/civil-registry/internal/model"
)

// Transitions is the single source of truth for legal edges.
var Transitions = map[model.State][]model.State{
	model.StateDraft:         {model.StatePendingReview},
	model.StatePendingReview: {model.StateVerified, model.StateRejected},
	model.StateVerified:      {model.StateApproved, model.StateRejected},
	model.StateApproved:      {model.StateArchived},
	model.StateRejected:      {model.StatePendingReview, model.StateDraft},
	model.StateArchived:      nil,
}

// RequiresReason reports whether entering to needs a non-empty reason.
func RequiresReason(to model.State) bool {
	return to == model.StateRejected
}

// Allowed reports whether from -> to is in the transition table.
// Self-transitions are never allowed.
func Allowed(from, to model.State) bool {
	if from == to {
		return false
	}
	for _, s := range Transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ReopenPolicy selects which reopen edge out of rejected callers may use.
type ReopenPolicy string

const (
	ReopenAny           ReopenPolicy = "any"
	ReopenPendingReview ReopenPolicy = "pending_review"
	ReopenDraft         ReopenPolicy = "draft"
)

// ParseReopenPolicy converts a config value into a ReopenPolicy. Empty means
// ReopenAny.
func ParseReopenPolicy(s string) (ReopenPolicy, error) {
	switch p := ReopenPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return ReopenAny, nil
	case ReopenAny, ReopenPendingReview, ReopenDraft:
		return p, nil
	default:
		return "", eris.Errorf("workflow: unknown reopen target %q", s)
	}
}

// permits reports whether the policy allows from -> to. Only edges leaving
// rejected are affected.
func (p ReopenPolicy) permits(from, to model.State) bool {
	if from != model.StateRejected || p == ReopenAny || p == "" {
		return true
	}
	return string(p) == string(to)
}

// AllowedTransitions returns the states reachable from `from` under policy,
// in table order. Used to decide which review actions to offer.
func AllowedTransitions(from model.State, policy ReopenPolicy) []model.State {
	out := make([]model.State, 0, len(Transitions[from]))
	for _, to := range Transitions[from] {
		if policy.permits(from, to) {
			out = append(out, to)
		}
	}
	return out
}
