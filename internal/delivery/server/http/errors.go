package http

import (
	"errors"
	"net/http"

	"wanderlust/internal/app/coordinator"
	"wanderlust/internal/domain/tracker"
	"wanderlust/internal/infra/notification"
)

// mapDomainError translates a service error into an HTTP status and a
// user-facing message. It returns (0, "") for unrecognized errors.
func mapDomainError(err error) (status int, message string) {
	if err == nil {
		return 0, ""
	}

	var submitErr *tracker.RemoteSubmissionError
	switch {
	case errors.Is(err, coordinator.ErrValidation),
		errors.Is(err, tracker.ErrEmptyPrompt),
		errors.Is(err, notification.ErrInvalidSubscription):
		return http.StatusBadRequest, err.Error()

	case errors.Is(err, coordinator.ErrNotFound):
		return http.StatusNotFound, err.Error()

	case errors.Is(err, coordinator.ErrConflict):
		return http.StatusConflict, err.Error()

	case errors.Is(err, coordinator.ErrUnavailable):
		return http.StatusServiceUnavailable, err.Error()

	case errors.As(err, &submitErr):
		return http.StatusBadGateway, "Agent service rejected the task"

	default:
		return 0, ""
	}
}

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
	LogID   string `json:"log_id,omitempty"`
}
