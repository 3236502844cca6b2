// Package handler contains the HTTP handlers. Handlers parse requests, call
// into the executor or the history service and write JSON; they hold no
// business logic.
package handler

import "net/http"

// HandleHealth reports liveness. It does not touch the container daemon.
func HandleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}
