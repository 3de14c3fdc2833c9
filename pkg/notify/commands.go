package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pepolabs/hookpipe/pkg/bus"
	"github.com/pepolabs/hookpipe/pkg/core"
)

// Command topics accepted by Commands.
const (
	TopicThankYou    = "command.thank_you"
	TopicResetUnread = "command.reset_unread"
	TopicMarkVisited = "command.mark_visited"
)

// ThankYouCommand thanks the tip identified by Key.
type ThankYouCommand struct {
	Key  core.NotificationKey `json:"key"`
	Text string               `json:"text"`
}

// UserCommand targets one user's notification center.
type UserCommand struct {
	UserID uint64 `json:"user_id"`
}

// Commands applies notification center commands received from the bus.
type Commands struct {
	center *Center
}

// NewCommands creates a bus handler for center.
func NewCommands(center *Center) *Commands {
	return &Commands{center: center}
}

func (c *Commands) Topics() []string {
	return []string{TopicThankYou, TopicResetUnread, TopicMarkVisited}
}

// Handle applies one command. Commands that can never succeed are dropped.
func (c *Commands) Handle(ctx context.Context, msg bus.Message) error {
	switch msg.Topic {
	case TopicThankYou:
		var cmd ThankYouCommand
		if err := json.Unmarshal(msg.Body, &cmd); err != nil {
			return bus.Drop(fmt.Errorf("notify: decode thank you: %w", err))
		}
		_, err := c.center.ThankYou(ctx, cmd.Key, cmd.Text)
		if errors.Is(err, ErrNotThankable) || errors.Is(err, core.ErrNotificationNotFound) {
			return bus.Drop(err)
		}
		return err
	case TopicResetUnread, TopicMarkVisited:
		var cmd UserCommand
		if err := json.Unmarshal(msg.Body, &cmd); err != nil {
			return bus.Drop(fmt.Errorf("notify: decode %s: %w", msg.Topic, err))
		}
		if cmd.UserID == 0 {
			return bus.Drop(fmt.Errorf("notify: %s: user_id must be positive", msg.Topic))
		}
		if msg.Topic == TopicResetUnread {
			return c.center.ResetUnread(ctx, cmd.UserID)
		}
		return c.center.MarkVisited(ctx, cmd.UserID)
	default:
		return bus.Drop(fmt.Errorf("%w: %s", bus.ErrUnknownTopic, msg.Topic))
	}
}
