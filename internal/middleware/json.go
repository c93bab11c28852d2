package middleware

import (
	"encoding/json"
	"errors"
	"net/http"

	"go-identity-service/internal/model"
	"go-identity-service/pkg/apierror"
)

func jsonEncode(w http.ResponseWriter, value any) error {
	return json.NewEncoder(w).Encode(value)
}

// writeError renders err in the response envelope. Anything that is not an
// *apierror.APIError is answered as an opaque internal error.
func writeError(w http.ResponseWriter, err error) {
	apiErr := apierror.Internal()
	var typed *apierror.APIError
	if errors.As(err, &typed) {
		apiErr = typed
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apiErr.HTTPStatus)
	_ = jsonEncode(w, model.APIResponse{
		Status:  model.StatusError,
		Message: apiErr.Message,
		Error: &model.APIError{
			Code:    apiErr.Code,
			Message: apiErr.Message,
			Details: apiErr.Details,
		},
	})
}
