package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/civil-registry/internal/model"
	"github.com/sells-group/civil-registry/internal/workflow"
)

type transitionBody struct {
	ToState string `json:"to_state"`
	ActorID string `json:"actor_id"`
	Reason  string `json:"reason"`
}

type workflowView struct {
	Workflow           *model.WorkflowState `json:"workflow"`
	AllowedTransitions []model.State        `json:"allowed_transitions"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleDetect(w http.ResponseWriter, r *http.Request) {
	key, err := certificateKey(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.svc.DetectAndScore(r.Context(), key)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleWorkflowState(w http.ResponseWriter, r *http.Request) {
	key, err := certificateKey(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	st, err := h.svc.WorkflowState(r.Context(), key)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, workflowView{
		Workflow:           st,
		AllowedTransitions: h.svc.AllowedTransitions(st.CurrentState),
	})
}

// handleTransition applies a transition. The X-Actor-ID header, when
// present, overrides any actor_id in the body.
func (h *Handler) handleTransition(w http.ResponseWriter, r *http.Request) {
	key, err := certificateKey(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var body transitionBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, r, eris.Wrap(model.ErrInvalidInput, "api: invalid request body"))
		return
	}
	actor := body.ActorID
	if hdr := strings.TrimSpace(r.Header.Get(ActorHeader)); hdr != "" {
		actor = hdr
	}

	res, err := h.svc.RequestTransition(r.Context(), workflow.TransitionRequest{
		Key:     key,
		To:      model.State(strings.ToLower(strings.TrimSpace(body.ToState))),
		ActorID: actor,
		Reason:  body.Reason,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	key, err := certificateKey(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	recs, err := h.svc.History(r.Context(), key)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (h *Handler) handleDiscrepancies(w http.ResponseWriter, r *http.Request) {
	key, err := certificateKey(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	open, err := h.svc.OpenDiscrepancies(r.Context(), key)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, open)
}

func (h *Handler) handleCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := h.svc.GetWorkflowCounts(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f model.WorkflowFilter
	var err error
	if s := q.Get("state"); s != "" {
		if f.State, err = model.ParseState(s); err != nil {
			writeError(w, r, err)
			return
		}
	}
	if f.Type, err = optionalType(q.Get("type")); err != nil {
		writeError(w, r, err)
		return
	}
	if f.Limit, err = optionalLimit(q.Get("limit")); err != nil {
		writeError(w, r, err)
		return
	}

	recs, err := h.svc.ListWorkflow(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (h *Handler) handleQueue(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	t, err := optionalType(q.Get("type"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	limit, err := optionalLimit(q.Get("limit"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	recs, err := h.svc.ReviewQueue(r.Context(), t, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func certificateKey(r *http.Request) (model.CertificateKey, error) {
	t, err := model.ParseCertificateType(chi.URLParam(r, "type"))
	if err != nil {
		return model.CertificateKey{}, err
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return model.CertificateKey{}, eris.Wrapf(model.ErrInvalidInput, "api: invalid certificate id %q", chi.URLParam(r, "id"))
	}
	return model.CertificateKey{Type: t, ID: id}, nil
}

func optionalType(s string) (model.CertificateType, error) {
	if s == "" {
		return "", nil
	}
	return model.ParseCertificateType(s)
}

func optionalLimit(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, eris.Wrapf(model.ErrInvalidInput, "api: invalid limit %q", s)
	}
	return n, nil
}
