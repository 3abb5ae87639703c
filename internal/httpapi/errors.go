package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/satisfyguy/escrowd/internal/escrowerr"
)

type errorResponse struct {
	Status int    `json:"status"`
	Error  string `json:"error"`
}

// statusFor maps an error taxonomy kind to an HTTP status code. Rpc* and
// PersistenceFailure are mapped 503 (transient) except where the kind
// itself signals a non-retryable condition.
func statusFor(kind escrowerr.Kind) int {
	switch kind {
	case escrowerr.Validation, escrowerr.InvalidAmount:
		return http.StatusBadRequest
	case escrowerr.Unauthorized:
		return http.StatusUnauthorized
	case escrowerr.Forbidden, escrowerr.SignatureInvalid, escrowerr.ChallengeExpired:
		return http.StatusForbidden
	case escrowerr.NotFound:
		return http.StatusNotFound
	case escrowerr.Conflict, escrowerr.InvalidState, escrowerr.AddressMismatch:
		return http.StatusConflict
	case escrowerr.RpcUnreachable, escrowerr.RpcBusy, escrowerr.RpcLocked, escrowerr.Timeout:
		return http.StatusServiceUnavailable
	case escrowerr.RpcAlreadyMultisig, escrowerr.RpcNotMultisig, escrowerr.RpcValidation:
		return http.StatusBadRequest
	case escrowerr.PersistenceFailure:
		return http.StatusServiceUnavailable
	case escrowerr.CryptoFailure, escrowerr.Internal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps err to an HTTP status via its escrowerr.Kind and writes a
// short {status, error} body — never internal detail such as a stack trace
// or a wrapped driver error string.
func writeError(w http.ResponseWriter, log logWarner, err error) {
	kind := escrowerr.KindOf(err)
	status := statusFor(kind)
	log.Warn("request failed", "kind", kind, "status", status, "error", err)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Status: status, Error: string(kind)})
}

// logWarner is the narrow slice of *logging.Logger that writeError needs,
// kept minimal so it is trivial to satisfy from a test.
type logWarner interface {
	Warn(msg interface{}, keyvals ...interface{})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
