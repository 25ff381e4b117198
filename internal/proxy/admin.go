package proxy

import (
	"encoding/json"
	"net/http"
)

// stateResponse is the exact field shape spec.md §4.6 requires for
// GET /__failover/state. Field names are stable; new fields may be added
// later but these may not be renamed.
type stateResponse struct {
	OnBackup             bool    `json:"on_backup"`
	SinceUnix            int64   `json:"since_unix"`
	Primary              string  `json:"primary"`
	Backup               string  `json:"backup"`
	ConsecutiveFailures  int     `json:"consecutive_failures"`
	ConsecutiveSuccesses int     `json:"consecutive_successes"`
	LastError            *string `json:"last_error"`
}

// serveState replies with the current snapshot as JSON. It is served
// regardless of upstream health and never forwards.
func (p *Proxier) serveState(w http.ResponseWriter) {
	snap := p.cell.ReadSnapshot()

	var lastErr *string
	if snap.LastProbeError != "" {
		lastErr = &snap.LastProbeError
	}

	resp := stateResponse{
		OnBackup:             snap.OnBackup,
		SinceUnix:            snap.TransitionUnix,
		Primary:              p.cell.PrimaryURL(),
		Backup:               p.cell.BackupURL(),
		ConsecutiveFailures:  snap.ConsecutiveFailures,
		ConsecutiveSuccesses: snap.ConsecutiveSuccesses,
		LastError:            lastErr,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}
