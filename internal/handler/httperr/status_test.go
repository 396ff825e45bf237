package httperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/zhouzirui/imgchat/backend/internal/service/attachment"
	chatservice "github.com/zhouzirui/imgchat/backend/internal/service/chat"
)

func TestStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{chatservice.ErrSessionNotFound, http.StatusNotFound},
		{chatservice.ErrAssistantNotFound, http.StatusBadRequest},
		{fmt.Errorf("%w: empty", chatservice.ErrInvalidState), http.StatusBadRequest},
		{chatservice.ErrStreamInFlight, http.StatusConflict},
		{fmt.Errorf("%w: too big", attachment.ErrInvalidImage), http.StatusBadRequest},
		{attachment.ErrInvalidTransition, http.StatusBadRequest},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		if got := Status(tc.err); got != tc.want {
			t.Fatalf("Status(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}
