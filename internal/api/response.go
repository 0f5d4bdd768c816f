// Todograph - todo backend with a relational system of record and a graph mirror
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"net/http"

	"github.com/goccy/go-json"

	"github.com/todograph/todograph/internal/logging"
	"github.com/todograph/todograph/internal/syncer"
)

// MirrorStatusHeader reports how the mirror leg of a mutation went:
// "mirrored" when the graph write landed synchronously, "pending" when it was
// queued for reconciliation. The relational commit succeeded either way.
const MirrorStatusHeader = "X-Mirror-Status"

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.Error().Err(err).Msg("[API] Failed to encode response")
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

func setMirrorStatus(w http.ResponseWriter, out syncer.Outcome) {
	if out.Mirrored {
		w.Header().Set(MirrorStatusHeader, "mirrored")
		return
	}
	w.Header().Set(MirrorStatusHeader, "pending")
}
