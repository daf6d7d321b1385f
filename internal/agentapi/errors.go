package agentapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"signalcraft-client/internal/analysis"
	"signalcraft-client/internal/capture"
	"signalcraft-client/internal/diagnosis"
	"signalcraft-client/internal/history"
	"signalcraft-client/internal/shared/server/respond"
	"signalcraft-client/internal/shared/util"
)

var validateDeviceID = util.ValidateDeviceID

// writeError maps domain errors onto the JSON error envelope.
func writeError(c *gin.Context, err error) {
	var validationErr *analysis.ValidationError
	switch {
	case errors.Is(err, util.ErrInvalidDeviceID):
		respond.Error(c, http.StatusBadRequest, analysis.ErrorCodeValidation, err.Error(), nil)
	case errors.As(err, &validationErr):
		respond.Error(c, http.StatusBadRequest, analysis.ErrorCodeValidation, err.Error(), gin.H{"field": validationErr.Field})
	case errors.Is(err, analysis.ErrUnauthorized):
		respond.Error(c, http.StatusUnauthorized, analysis.ErrorCodeUnauthorized, "session expired, login required", nil)
	case errors.Is(err, analysis.ErrPermissionDenied):
		respond.Error(c, http.StatusForbidden, analysis.ErrorCodePermissionDenied, err.Error(), nil)
	case errors.Is(err, diagnosis.ErrBusy):
		respond.Error(c, http.StatusConflict, "busy", err.Error(), nil)
	case errors.Is(err, diagnosis.ErrInvalidState),
		errors.Is(err, capture.ErrAlreadyRecording),
		errors.Is(err, capture.ErrNotRecording):
		respond.Error(c, http.StatusConflict, "invalid_state", err.Error(), nil)
	case errors.Is(err, diagnosis.ErrNoArtifact):
		respond.Error(c, http.StatusConflict, "no_artifact", err.Error(), nil)
	case errors.Is(err, capture.ErrDeviceBusy):
		respond.Error(c, http.StatusConflict, "device_busy", err.Error(), nil)
	case errors.Is(err, capture.ErrPauseUnsupported):
		respond.Error(c, http.StatusConflict, "pause_unsupported", err.Error(), nil)
	case errors.Is(err, history.ErrNotFound):
		respond.Error(c, http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, diagnosis.ErrClosed):
		respond.Error(c, http.StatusServiceUnavailable, "shutting_down", err.Error(), nil)
	default:
		code := analysis.ErrorCode(err)
		status := http.StatusInternalServerError
		switch code {
		case analysis.ErrorCodeUploadFailed, analysis.ErrorCodePollFailed, analysis.ErrorCodeReportFailed, analysis.ErrorCodeTaskFailed:
			status = http.StatusBadGateway
		}
		respond.Error(c, status, code, analysis.SanitizeError(err), nil)
	}
}
