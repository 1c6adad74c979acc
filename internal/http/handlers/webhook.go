package handlers

import (
	"encoding/json"
	"net"
	"net/http"

	"thumbforge/internal/pipeline"
)

type webhookPayload struct {
	ID     string   `json:"id"`
	Status string   `json:"status"`
	Output []string `json:"output"`
	Error  string   `json:"error"`
}

// ReplicateWebhook receives provider push deliveries. It is unauthenticated
// but safe: unknown prediction ids are rejected without side effects, and a
// forged delivery for a known id can at worst repeat information the provider
// would deliver anyway.
func (a *App) ReplicateWebhook(w http.ResponseWriter, r *http.Request) {
	var payload webhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	a.logWebhookOrigin(r, payload.ID)
	err := a.Reconciler.HandleWebhook(r.Context(), pipeline.WebhookEvent{
		ExternalID: payload.ID,
		Status:     payload.Status,
		Output:     payload.Output,
		Error:      payload.Error,
	})
	if err != nil {
		a.domainError(w, err)
		return
	}
	a.json(w, http.StatusOK, map[string]string{"status": "ok"})
}

// logWebhookOrigin tags deliveries with the caller's country when a GeoIP
// database is configured. Provider callbacks come from a small set of
// regions; anything else is worth seeing in the logs.
func (a *App) logWebhookOrigin(r *http.Request, externalID string) {
	if a.Geo == nil {
		return
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	country, err := a.Geo.CountryCode(host)
	if err != nil || country == "" {
		return
	}
	a.Logger.Debug().
		Str("external_id", externalID).
		Str("country", country).
		Msg("webhook delivery")
}
