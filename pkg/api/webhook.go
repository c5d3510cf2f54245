// Package api pkg/api/webhook.go implements the authenticated failure-report
// endpoint. Reports are verified with HMAC-SHA256 over the raw body; a valid
// signature is the only trust decision made here — the named device need not
// exist in the inventory, since tools may report on devices the monitor does
// not poll.
package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/bfdwatch/bfdmon/pkg/db"
	"github.com/bfdwatch/bfdmon/pkg/metrics"
)

// maxWebhookBody bounds memory use per request.
const maxWebhookBody = 1 << 20 // 1 MiB

// failureReport is the expected webhook payload.
type failureReport struct {
	Device   string                 `json:"device"`
	Reason   string                 `json:"reason"`
	Evidence map[string]interface{} `json:"evidence,omitempty"`
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if !s.webhookLimiter.Allow() {
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}

	// Providers vary on the exact header name.
	signature := r.Header.Get("X-Hub-Signature-256")
	if signature == "" {
		signature = r.Header.Get("X-Signature-256")
	}

	if signature == "" {
		s.rejectWebhook(w, "missing signature")
		return
	}

	if !verifySignature([]byte(s.config.WebhookSecret), body, signature) {
		s.rejectWebhook(w, "signature mismatch")
		return
	}

	var report failureReport
	if err := json.Unmarshal(body, &report); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	if report.Device == "" {
		http.Error(w, "device is required", http.StatusBadRequest)
		return
	}

	details := map[string]interface{}{
		"reason": report.Reason,
		"source": "webhook",
	}
	if report.Evidence != nil {
		details["evidence"] = report.Evidence
	}

	if _, err := s.store.Insert(report.Device, db.EventBFDFailure, details); err != nil {
		log.Printf("Failed to record webhook report for %s: %v", report.Device, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)

		return
	}

	s.counters.Inc(metrics.WebhooksReceived)
	s.counters.Inc(metrics.AuditEvents)

	s.encodeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// rejectWebhook counts and audits a failed authentication attempt. The audit
// detail carries no secret material and none of the unverified payload.
func (s *Server) rejectWebhook(w http.ResponseWriter, reason string) {
	log.Printf("Rejected webhook: %s", reason)
	s.counters.Inc(metrics.WebhookSignatureFailures)
	s.audit("webhook", db.EventWebhookFailure, map[string]interface{}{
		"reason": reason,
	})

	http.Error(w, "invalid signature", http.StatusUnauthorized)
}

// verifySignature checks an HMAC-SHA256 hex signature over body, accepting an
// optional "sha256=" prefix and either hex case, in constant time.
func verifySignature(secret, body []byte, header string) bool {
	sent := strings.TrimPrefix(header, "sha256=")

	sig, err := hex.DecodeString(strings.ToLower(sent))
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write(body)

	return hmac.Equal(sig, mac.Sum(nil))
}
