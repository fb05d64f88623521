package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/aristath/fishbro/internal/errs"
)

// statusFor maps a core error kind to the HTTP status the transport
// reports it as, keeping every other package free of any net/http
// import. Unrecognized errors fall back to 500.
func statusFor(err error) int {
	var contract *errs.ContractViolation
	var missing *errs.MissingFeatures
	var mismatch *errs.ManifestMismatch
	var buildNotAllowed *errs.BuildNotAllowed
	var incremental *errs.IncrementalRejected
	var scope *errs.ScopeViolation
	var frozen *errs.FrozenViolation
	var denied *errs.PolicyDenied
	var duplicate *errs.Duplicate
	var tamper *errs.TamperDetected
	var notFound *errs.NotFound

	switch {
	case errors.As(err, &contract):
		return http.StatusBadRequest
	case errors.As(err, &missing):
		return http.StatusUnprocessableEntity
	case errors.As(err, &mismatch):
		return http.StatusUnprocessableEntity
	case errors.As(err, &buildNotAllowed):
		return http.StatusUnprocessableEntity
	case errors.As(err, &incremental):
		return http.StatusConflict
	case errors.As(err, &scope):
		return http.StatusForbidden
	case errors.As(err, &frozen):
		return http.StatusForbidden
	case errors.As(err, &denied):
		return http.StatusForbidden
	case errors.As(err, &duplicate):
		return http.StatusConflict
	case errors.As(err, &tamper):
		return http.StatusConflict
	case errors.As(err, &notFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
}
