package handler

import (
	"net/http"

	"github.com/sakif/snippet-share/internal/pool"
)

// StatsSource reports pool counters.
type StatsSource interface {
	Stats() pool.Stats
}

// HandlePoolStats serves the connection pool counters.
//
// HTTP: GET /api/pool/stats
func HandlePoolStats(src StatsSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, src.Stats())
	}
}
