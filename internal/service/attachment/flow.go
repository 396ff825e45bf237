// Package attachment tracks an image the user picked but has not sent yet.
package attachment

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/zhouzirui/imgchat/backend/internal/model/chat"
)

// State is the position of a Flow in the pick/confirm dialog.
type State string

const (
	StateIdle                 State = "idle"
	StateAwaitingConfirmation State = "awaiting_confirmation"
	StateAttached             State = "attached"
)

// DefaultMaxBytes bounds uploaded images when no limit is configured.
const DefaultMaxBytes = 10 << 20

var (
	ErrInvalidTransition = errors.New("invalid attachment transition")
	ErrInvalidImage      = errors.New("invalid image")
)

// Flow holds at most one pending image and the text typed alongside it.
// It is safe for concurrent use.
type Flow struct {
	mu          sync.Mutex
	state       State
	pending     *chat.Image
	pendingText string
}

// NewFlow returns a flow in the idle state.
func NewFlow() *Flow {
	return &Flow{state: StateIdle}
}

// State reports the current state.
func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Pending returns the image waiting for confirmation or attached to the next
// message, nil when idle.
func (f *Flow) Pending() *chat.Image {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pending
}

// Request opens the confirmation dialog for img. text is whatever the user had
// typed so far; it is handed back by Cancel.
func (f *Flow) Request(img *chat.Image, text string) error {
	if img == nil || len(img.Data) == 0 {
		return fmt.Errorf("%w: image is empty", ErrInvalidImage)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state != StateIdle {
		return fmt.Errorf("%w: request while %s", ErrInvalidTransition, f.state)
	}

	f.state = StateAwaitingConfirmation
	f.pending = img
	f.pendingText = text
	return nil
}

// Confirm attaches the pending image to the next message.
func (f *Flow) Confirm() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state != StateAwaitingConfirmation {
		return fmt.Errorf("%w: confirm while %s", ErrInvalidTransition, f.state)
	}
	f.state = StateAttached
	return nil
}

// Cancel discards the pending image and returns the preserved text so it can be
// sent on its own.
func (f *Flow) Cancel() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state != StateAwaitingConfirmation {
		return "", fmt.Errorf("%w: cancel while %s", ErrInvalidTransition, f.state)
	}

	text := f.pendingText
	f.reset()
	return text, nil
}

// Compose builds the next user message. An attached image is folded in and the
// flow returns to idle. Composing while a confirmation is pending fails.
func (f *Flow) Compose(text string) (chat.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	msg := chat.Message{Role: chat.RoleUser, Text: text}

	switch f.state {
	case StateIdle:
		return msg, nil
	case StateAttached:
		msg.Image = f.pending
		f.reset()
		return msg, nil
	default:
		return chat.Message{}, fmt.Errorf("%w: compose while %s", ErrInvalidTransition, f.state)
	}
}

func (f *Flow) reset() {
	f.state = StateIdle
	f.pending = nil
	f.pendingText = ""
}

// Validate checks an uploaded image against maxBytes and its sniffed content
// type. A blank MIME type is filled in from the sniffed one.
func Validate(img *chat.Image, maxBytes int) error {
	if img == nil || len(img.Data) == 0 {
		return fmt.Errorf("%w: image is empty", ErrInvalidImage)
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if len(img.Data) > maxBytes {
		return fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrInvalidImage, len(img.Data), maxBytes)
	}

	sniffed := http.DetectContentType(img.Data)
	if !strings.HasPrefix(sniffed, "image/") {
		return fmt.Errorf("%w: content looks like %s", ErrInvalidImage, sniffed)
	}
	if strings.TrimSpace(img.MIMEType) == "" {
		img.MIMEType = sniffed
	}
	if !strings.HasPrefix(img.MIMEType, "image/") {
		return fmt.Errorf("%w: declared type %s is not an image", ErrInvalidImage, img.MIMEType)
	}
	return nil
}
