package httpapi

import (
	"encoding/json"
	"net/http"

	"modeld/internal/apierrors"
	"modeld/pkg/types"
)

// writeError maps an apierrors.Error (or any other error, as UNKNOWN) onto
// the conventional HTTP status the admin surface uses, mirroring the
// teacher's internal/httpapi/errors.go writeJSONError convention.
func writeError(w http.ResponseWriter, err error) {
	code := apierrors.CodeOf(err)
	status := code.HTTPStatus()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: err.Error(), Code: string(code)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
