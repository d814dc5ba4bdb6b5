package notification

import (
	"fmt"
	"strings"

	"nse-trading-bot/internal/confirm"
)

// ConfirmChannel forwards confirmation requests to the notification
// providers so an operator sees the pending question and its options.
type ConfirmChannel struct {
	manager *Manager
}

// NewConfirmChannel creates the adapter
func NewConfirmChannel(manager *Manager) *ConfirmChannel {
	return &ConfirmChannel{manager: manager}
}

// Ask delivers the request. Replies come back through the HTTP API, not
// through this channel.
func (c *ConfirmChannel) Ask(req *confirm.Request) {
	var opts []string
	for _, o := range req.Options {
		label := o.Label
		if o.Default {
			label += " (default)"
		}
		opts = append(opts, fmt.Sprintf("- %s: %s", o.Action, label))
	}

	c.manager.Send(&Notification{
		Type:  NotifyConfirmation,
		Title: fmt.Sprintf("❓ Confirmation needed: %s", req.Kind),
		Message: fmt.Sprintf("Request %s expires %s\n%s",
			req.ID, req.ExpiresAt.Format("15:04:05"), strings.Join(opts, "\n")),
		Extra: req.Context,
	})
}
