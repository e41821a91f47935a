package httpapi

import (
	"encoding/json"
	"net/http"

	"repovault/internal/core"
)

// errorResponse is the JSON body of every non-2xx response.
type errorResponse struct {
	Error string `json:"error"`
	Class string `json:"class,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

// writeError maps an error to an HTTP status through its class and
// renders it as JSON. The raw error text is returned to the operator;
// this API has no anonymous callers to hide internals from.
func writeError(w http.ResponseWriter, err error) {
	class := core.Classify(err)
	status := http.StatusInternalServerError
	switch class {
	case core.ClassAuthentication:
		status = http.StatusUnauthorized
	case core.ClassNotFound:
		status = http.StatusNotFound
	case core.ClassResourceExhausted:
		status = http.StatusTooManyRequests
	case core.ClassTimeout:
		status = http.StatusGatewayTimeout
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Class: string(class)})
}

func writeBadRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg})
}
