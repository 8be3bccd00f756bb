package httputil

import (
	"context"
	"errors"
	"net/http"

	"github.com/bissquit/incident-tracker/internal/pkg/ctxlog"
)

// ErrorMapping maps an error kind, matched with errors.Is, to a response.
type ErrorMapping struct {
	Error  error
	Status int
	// Message replaces err.Error() in the body. Set it for 5xx so store errors
	// are not leaked to clients.
	Message string
}

// HandleError writes the response of the first mapping that matches err.
// Unmatched errors are logged and answered with 500.
func HandleError(ctx context.Context, w http.ResponseWriter, err error, mappings []ErrorMapping) {
	for _, m := range mappings {
		if !errors.Is(err, m.Error) {
			continue
		}
		msg := m.Message
		if msg == "" {
			msg = err.Error()
		}
		if m.Status >= http.StatusInternalServerError {
			ctxlog.FromContext(ctx).Error("request failed", "status", m.Status, "error", err)
		}
		Error(w, m.Status, msg)
		return
	}

	ctxlog.FromContext(ctx).Error("unhandled error", "error", err)
	Error(w, http.StatusInternalServerError, "internal error")
}
