// file: internal/services/notification_dispatcher.go
package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"forumkarma/internal/events"

	"go.uber.org/zap"
)

// Notification kinds
const (
	NotificationReviewRequired    = "review_required"
	NotificationCommentingChanged = "commenting_status_changed"
)

// Notification is one message handed to a Notifier
type Notification struct {
	UserID    string                 `json:"user_id"`
	Kind      string                 `json:"kind"`
	Message   string                 `json:"message"`
	Data      map[string]interface{} `json:"data,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// Notifier delivers notifications to a channel outside the voting core
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier writes notifications to the structured log
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a LogNotifier
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

// Notify implements Notifier
func (n *LogNotifier) Notify(ctx context.Context, notification Notification) error {
	n.logger.Info("Notification dispatched",
		zap.String("user_id", notification.UserID),
		zap.String("kind", notification.Kind),
		zap.String("message", notification.Message),
		zap.Any("data", notification.Data),
	)
	return nil
}

// NotificationDispatcher turns asynchronous user events into notifications
type NotificationDispatcher struct {
	notifier Notifier
	logger   *zap.Logger

	mu        sync.Mutex
	delivered map[string]int
}

// NewNotificationDispatcher creates a dispatcher; a nil notifier logs
func NewNotificationDispatcher(notifier Notifier, logger *zap.Logger) *NotificationDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if notifier == nil {
		notifier = NewLogNotifier(logger)
	}
	return &NotificationDispatcher{
		notifier:  notifier,
		logger:    logger,
		delivered: make(map[string]int),
	}
}

// Register subscribes the dispatcher to user events
func (d *NotificationDispatcher) Register(bus events.EventBus) error {
	return bus.SubscribePattern("user.*", events.NewEventHandlerFunc("notification-dispatcher", d.Handle))
}

// Handle maps an event to a notification. Karma changes are not user-facing.
func (d *NotificationDispatcher) Handle(ctx context.Context, event events.Event) error {
	var n Notification

	switch e := event.(type) {
	case *events.UserFlaggedForReviewEvent:
		n = Notification{
			UserID:  e.VoterID,
			Kind:    NotificationReviewRequired,
			Message: fmt.Sprintf("User %s cast %d votes and needs moderator review", e.VoterID, e.VoteCount),
			Data:    map[string]interface{}{"vote_count": e.VoteCount},
		}
	case *events.CommentingStatusChangedEvent:
		msg := "Commenting has been re-enabled"
		if e.Disabled {
			msg = "Commenting has been disabled because karma fell below the threshold"
		}
		n = Notification{
			UserID:  e.AuthorID,
			Kind:    NotificationCommentingChanged,
			Message: msg,
			Data:    map[string]interface{}{"disabled": e.Disabled, "karma": e.Karma},
		}
	case *events.KarmaChangedEvent:
		d.logger.Debug("Karma change observed",
			zap.String("author_id", e.AuthorID),
			zap.Float64("delta", e.Delta),
			zap.Float64("karma", e.Karma),
		)
		return nil
	default:
		return nil
	}

	n.CreatedAt = event.GetTimestamp()
	if err := d.notifier.Notify(ctx, n); err != nil {
		return fmt.Errorf("notify %s of %s: %w", n.UserID, n.Kind, err)
	}

	d.mu.Lock()
	d.delivered[n.Kind]++
	d.mu.Unlock()
	return nil
}

// Delivered returns how many notifications of kind were sent
func (d *NotificationDispatcher) Delivered(kind string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.delivered[kind]
}
