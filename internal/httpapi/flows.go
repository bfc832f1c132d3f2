package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/threadlinehq/threadline/internal/flow"
	"github.com/threadlinehq/threadline/internal/store"
)

type flowRequest struct {
	OrganizationID  uuid.UUID        `json:"organization_id"`
	Name            string           `json:"name"`
	Description     string           `json:"description,omitempty"`
	TriggerType     string           `json:"trigger_type"`
	TriggerKeywords []string         `json:"trigger_keywords,omitempty"`
	Priority        *int             `json:"priority,omitempty"`
	Nodes           []store.FlowNode `json:"nodes"`
	Edges           []store.FlowEdge `json:"edges"`
}

func (req *flowRequest) validate() string {
	switch {
	case req.OrganizationID == uuid.Nil:
		return "organization_id is required"
	case req.Name == "":
		return "name is required"
	case req.TriggerType != store.TriggerKeyword && req.TriggerType != store.TriggerAnyMessage:
		return "trigger_type must be keyword or any_message"
	case req.TriggerType == store.TriggerKeyword && len(req.TriggerKeywords) == 0:
		return "keyword trigger requires trigger_keywords"
	}
	return ""
}

func (s *Server) handleFlowList(w http.ResponseWriter, r *http.Request) {
	orgID, err := uuid.Parse(r.URL.Query().Get("organization_id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "organization_id query param required"})
		return
	}

	flows, err := s.stores.Flows.ListByOrganization(r.Context(), orgID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"flows": flows})
}

func (s *Server) handleFlowCreate(w http.ResponseWriter, r *http.Request) {
	var req flowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
		return
	}
	if msg := req.validate(); msg != "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
		return
	}

	f := &store.Flow{
		ID:              uuid.Must(uuid.NewV7()),
		OrganizationID:  req.OrganizationID,
		Name:            req.Name,
		Description:     req.Description,
		Status:          store.FlowDraft,
		TriggerType:     req.TriggerType,
		TriggerKeywords: req.TriggerKeywords,
		Nodes:           req.Nodes,
		Edges:           req.Edges,
		CreatedAt:       time.Now(),
		UpdatedAt:       time.Now(),
	}
	if req.Priority != nil {
		f.Priority = *req.Priority
	}
	if err := s.stores.Flows.Create(r.Context(), f); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, f)
}

func (s *Server) handleFlowGet(w http.ResponseWriter, r *http.Request) {
	f, ok := s.flowByID(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (s *Server) handleFlowUpdate(w http.ResponseWriter, r *http.Request) {
	f, ok := s.flowByID(w, r)
	if !ok {
		return
	}

	var req flowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
		return
	}

	if req.Name != "" {
		f.Name = req.Name
	}
	if req.Description != "" {
		f.Description = req.Description
	}
	if req.TriggerType != "" {
		f.TriggerType = req.TriggerType
	}
	if req.TriggerKeywords != nil {
		f.TriggerKeywords = req.TriggerKeywords
	}
	if req.Nodes != nil {
		f.Nodes = req.Nodes
	}
	if req.Edges != nil {
		f.Edges = req.Edges
	}
	if req.Priority != nil {
		f.Priority = *req.Priority
	}
	f.UpdatedAt = time.Now()

	// A published flow's graph is live for the matcher; edits must hold
	// the same guarantees the publish check enforced.
	if f.Status == store.FlowPublished {
		if err := flow.ValidateGraph(f); err != nil {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
			return
		}
	}

	if err := s.stores.Flows.Update(r.Context(), f); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, f)
}

// handleFlowPublish validates the graph and transitions the flow to
// published. Invalid graphs never reach the matcher: 422 here instead
// of surprises at message time.
func (s *Server) handleFlowPublish(w http.ResponseWriter, r *http.Request) {
	f, ok := s.flowByID(w, r)
	if !ok {
		return
	}

	if err := flow.ValidateGraph(f); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
		return
	}

	updated, err := s.stores.Flows.SetStatus(r.Context(), f.ID, store.FlowPublished, true)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleFlowArchive(w http.ResponseWriter, r *http.Request) {
	f, ok := s.flowByID(w, r)
	if !ok {
		return
	}

	updated, err := s.stores.Flows.SetStatus(r.Context(), f.ID, store.FlowArchived, false)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) flowByID(w http.ResponseWriter, r *http.Request) (*store.Flow, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid flow id"})
		return nil, false
	}
	f, err := s.stores.Flows.Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "flow not found"})
		return nil, false
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return nil, false
	}
	return f, true
}
