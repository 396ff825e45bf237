package chat

import "errors"

var (
	ErrAssistantNotFound = errors.New("assistant not found")
	ErrSessionNotFound   = errors.New("session not found")

	// ErrInvalidState is returned for empty messages and for mutations of a
	// finalized placeholder.
	ErrInvalidState = errors.New("invalid conversation state")

	// ErrStreamInFlight is returned when a conversation is asked to accept a new
	// turn while an assistant reply is still streaming.
	ErrStreamInFlight = errors.New("assistant reply still streaming")
)
