package server

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aristath/fishbro/internal/errs"
)

func TestStatusFor_MapsEveryKnownKind(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"contract violation", &errs.ContractViolation{Reason: "bad"}, http.StatusBadRequest},
		{"missing features", &errs.MissingFeatures{}, http.StatusUnprocessableEntity},
		{"manifest mismatch", &errs.ManifestMismatch{}, http.StatusUnprocessableEntity},
		{"build not allowed", &errs.BuildNotAllowed{Reason: "no txt_path"}, http.StatusUnprocessableEntity},
		{"incremental rejected", &errs.IncrementalRejected{}, http.StatusConflict},
		{"scope violation", &errs.ScopeViolation{Path: "/etc/passwd"}, http.StatusForbidden},
		{"frozen violation", &errs.FrozenViolation{Season: "2026Q1"}, http.StatusForbidden},
		{"policy denied", &errs.PolicyDenied{Action: "live_order_submit", Reason: "not authorized"}, http.StatusForbidden},
		{"duplicate", &errs.Duplicate{}, http.StatusConflict},
		{"tamper detected", &errs.TamperDetected{Reason: "hash mismatch"}, http.StatusConflict},
		{"not found", &errs.NotFound{Path: "plan:abc"}, http.StatusNotFound},
		{"unrecognized", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, statusFor(tc.err))
		})
	}
}
