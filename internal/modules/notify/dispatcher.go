// README: Push notification dispatch over Firebase Cloud Messaging.
package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"firebase.google.com/go/v4/messaging"
	"go.uber.org/zap"

	"ridelink/internal/logger"
	"ridelink/internal/observability"
	"ridelink/internal/types"
)

// Sender is the subset of *messaging.Client the dispatcher uses.
type Sender interface {
	Send(ctx context.Context, msg *messaging.Message) (string, error)
}

// FCMDispatcher sends notifications in the background. Delivery failures
// are logged and never reach the caller.
type FCMDispatcher struct {
	sender  Sender
	tokens  TokenStore
	timeout time.Duration
	log     *zap.Logger
	wg      sync.WaitGroup
}

func NewFCMDispatcher(sender Sender, tokens TokenStore, log *zap.Logger) *FCMDispatcher {
	return &FCMDispatcher{sender: sender, tokens: tokens, timeout: 5 * time.Second, log: logger.OrNop(log)}
}

func (d *FCMDispatcher) Notify(ctx context.Context, userID types.ID, title, body string, data map[string]string) {
	payload := make(map[string]string, len(data))
	for k, v := range data {
		payload[k] = v
	}
	ctx = context.WithoutCancel(ctx)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(ctx, d.timeout)
		defer cancel()
		if err := d.send(ctx, userID, title, body, payload); err != nil {
			if errors.Is(err, types.ErrNotFound) {
				observability.Notifications.WithLabelValues("no_token").Inc()
				d.log.Debug("no device token", logger.UserID(userID))
				return
			}
			observability.Notifications.WithLabelValues("error").Inc()
			d.log.Warn("notification failed", logger.UserID(userID), logger.String("title", title), logger.Err(err))
			return
		}
		observability.Notifications.WithLabelValues("ok").Inc()
	}()
}

func (d *FCMDispatcher) send(ctx context.Context, userID types.ID, title, body string, data map[string]string) error {
	token, err := d.tokens.Token(ctx, userID)
	if err != nil {
		return err
	}
	msg := &messaging.Message{
		Token: token,
		Data:  data,
		Notification: &messaging.Notification{
			Title: title,
			Body:  body,
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
	}
	id, err := d.sender.Send(ctx, msg)
	if err != nil {
		return err
	}
	d.log.Debug("notification sent", logger.UserID(userID), logger.String("message_id", id))
	return nil
}

// Wait blocks until in-flight notifications finish.
func (d *FCMDispatcher) Wait() {
	d.wg.Wait()
}
