package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/meshcore/tbr-agent/internal/apierr"
)

func invalidArgumentError(message string) *apierr.Error {
	return apierr.InvalidArg(message)
}

func writeInvalidArgument(w http.ResponseWriter, message string) {
	writeServiceError(w, invalidArgumentError(message))
}

func writePayloadTooLarge(w http.ResponseWriter, limit int64) {
	msg := "request body too large"
	if limit > 0 {
		msg = "request body too large (max " + strconv.FormatInt(limit, 10) + " bytes)"
	}
	WriteError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", msg)
}

// writeServiceError maps an apierr.Error's Code to an HTTP status and writes
// the resulting error envelope, falling back to a generic internal server
// error for any other error type.
func writeServiceError(w http.ResponseWriter, err error) {
	if err == nil {
		WriteError(w, http.StatusInternalServerError, string(apierr.Internal), "internal server error")
		return
	}

	var svcErr *apierr.Error
	if errors.As(err, &svcErr) {
		WriteError(w, apierr.HTTPStatus(svcErr.Code), string(svcErr.Code), svcErr.Message)
		return
	}
	WriteError(w, http.StatusInternalServerError, string(apierr.Internal), "internal server error")
}
