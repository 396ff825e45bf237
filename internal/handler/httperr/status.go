// Package httperr maps domain errors to HTTP status codes.
package httperr

import (
	"errors"
	"net/http"

	"github.com/zhouzirui/imgchat/backend/internal/service/attachment"
	chatservice "github.com/zhouzirui/imgchat/backend/internal/service/chat"
)

// Status returns the response code for err.
func Status(err error) int {
	switch {
	case errors.Is(err, chatservice.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, chatservice.ErrAssistantNotFound),
		errors.Is(err, chatservice.ErrInvalidState),
		errors.Is(err, attachment.ErrInvalidImage),
		errors.Is(err, attachment.ErrInvalidTransition):
		return http.StatusBadRequest
	case errors.Is(err, chatservice.ErrStreamInFlight):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
