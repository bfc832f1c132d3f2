package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/threadlinehq/threadline/internal/pipeline"
	"github.com/threadlinehq/threadline/internal/twilio"
)

// handleInbound receives one Twilio WhatsApp webhook. Pipeline
// degradation still answers 200 so the provider does not retry a
// message we already ingested.
func (s *Server) handleInbound(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid form payload"})
		return
	}

	if !s.cfg.Server.SkipSignatureCheck {
		sig := r.Header.Get(twilio.SignatureHeader)
		if !twilio.ValidateSignature(s.cfg.Twilio.AuthToken, s.webhookURL(r), r.PostForm, sig) {
			s.log.Warn("webhook signature rejected", "remote", r.RemoteAddr)
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "invalid signature"})
			return
		}
	}

	to := r.PostForm.Get("To")
	from := r.PostForm.Get("From")
	if to == "" || from == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "To and From are required"})
		return
	}

	if !s.limiter.Allow(from) {
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limited"})
		return
	}

	numMedia, _ := strconv.Atoi(r.PostForm.Get("NumMedia"))
	ev := pipeline.InboundEvent{
		To:          to,
		From:        from,
		Body:        r.PostForm.Get("Body"),
		ProfileName: r.PostForm.Get("ProfileName"),
		ProviderSID: r.PostForm.Get("MessageSid"),
		NumMedia:    numMedia,
	}

	if err := s.processor.ProcessInbound(r.Context(), ev); err != nil {
		if errors.Is(err, pipeline.ErrUnknownOrganization) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown destination number"})
			return
		}
		s.log.Error("inbound processing failed", "error", err, "message_sid", ev.ProviderSID)
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "received"})
}

// handleStatus records a delivery status callback against the message
// the provider SID identifies.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid form payload"})
		return
	}

	sid := r.PostForm.Get("MessageSid")
	status := r.PostForm.Get("MessageStatus")
	if sid == "" || status == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "MessageSid and MessageStatus are required"})
		return
	}

	err := s.stores.Conversations.UpdateMessageStatus(r.Context(), sid,
		status, r.PostForm.Get("ErrorCode"), r.PostForm.Get("ErrorMessage"))
	if err != nil {
		s.log.Error("status update failed", "message_sid", sid, "error", err)
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "received"})
}

// webhookURL reconstructs the exact URL Twilio signed. The configured
// public base wins over whatever host the proxy forwarded.
func (s *Server) webhookURL(r *http.Request) string {
	if base := s.cfg.Server.PublicBaseURL; base != "" {
		return base + r.URL.RequestURI()
	}
	scheme := "https"
	if r.TLS == nil {
		scheme = "http"
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}
