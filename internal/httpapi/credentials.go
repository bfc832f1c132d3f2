package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/threadlinehq/threadline/internal/store"
)

type credentialRequest struct {
	OrganizationID uuid.UUID       `json:"organization_id"`
	ServiceType    string          `json:"service_type"`
	Payload        json.RawMessage `json:"payload"`
}

// handleCredentialList returns credential metadata. Payload never
// leaves the server: store.Credential masks it with json:"-".
func (s *Server) handleCredentialList(w http.ResponseWriter, r *http.Request) {
	orgID, err := uuid.Parse(r.URL.Query().Get("organization_id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "organization_id query param required"})
		return
	}

	creds, err := s.stores.Credentials.ListActive(r.Context(), orgID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"credentials": creds})
}

func (s *Server) handleCredentialUpsert(w http.ResponseWriter, r *http.Request) {
	var req credentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
		return
	}
	if req.OrganizationID == uuid.Nil || req.ServiceType == "" || len(req.Payload) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "organization_id, service_type and payload are required"})
		return
	}
	if !json.Valid(req.Payload) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "payload must be a JSON object"})
		return
	}

	cred := &store.Credential{
		ID:             uuid.Must(uuid.NewV7()),
		OrganizationID: req.OrganizationID,
		ServiceType:    req.ServiceType,
		Payload:        string(req.Payload),
		IsActive:       true,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
	if err := s.stores.Credentials.Upsert(r.Context(), cred); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	// The response carries metadata only; Payload is masked.
	writeJSON(w, http.StatusCreated, cred)
}

func (s *Server) handleCredentialDeactivate(w http.ResponseWriter, r *http.Request) {
	orgID, err := uuid.Parse(r.URL.Query().Get("organization_id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "organization_id query param required"})
		return
	}
	serviceType := r.PathValue("serviceType")

	if err := s.stores.Credentials.Deactivate(r.Context(), orgID, serviceType); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deactivated"})
}
