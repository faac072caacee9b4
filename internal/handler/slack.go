package handler

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"

	"github.com/vlikhobabin/camunda-bridge/internal/engine"
)

// SlackHandler is an illustrative concrete DownstreamAction: it posts a
// notification to a Slack channel via an incoming webhook for every task
// it handles. It stands in for a real per-system integration (e.g. a
// ticketing or ERP client) to show what a non-stub handler looks like.
type SlackHandler struct {
	WebhookURL string
	Channel    string
}

var _ DownstreamAction = (*SlackHandler)(nil)

func (s *SlackHandler) Process(ctx context.Context, item engine.WorkItem) (any, error) {
	text := fmt.Sprintf("Task `%s` on topic `%s` (process `%s`) routed to Slack", item.TaskID, item.Topic, item.ProcessInstanceID)
	msg := &slack.WebhookMessage{
		Channel: s.Channel,
		Text:    text,
	}
	if err := slack.PostWebhookContext(ctx, s.WebhookURL, msg); err != nil {
		return nil, fmt.Errorf("handler: slack webhook post: %w", err)
	}
	return map[string]any{
		"channel": s.Channel,
		"posted":  true,
	}, nil
}
