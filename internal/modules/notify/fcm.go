// README: Firebase Cloud Messaging delivery to per-user topics.
package notify

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
)

// Sender is the subset of *messaging.Client used here.
type Sender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

type FCMNotifier struct {
	client Sender
}

func NewFCMNotifier(ctx context.Context, app *firebase.App) (*FCMNotifier, error) {
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("initialising firebase messaging client: %w", err)
	}
	return &FCMNotifier{client: client}, nil
}

func NewFCMNotifierWithSender(s Sender) *FCMNotifier {
	return &FCMNotifier{client: s}
}

func (f *FCMNotifier) Notify(ctx context.Context, e Event) error {
	_, err := f.client.Send(ctx, buildMessage(e))
	if err != nil {
		return fmt.Errorf("sending FCM to topic %s: %w", TopicFor(e.UserID), err)
	}
	return nil
}

func buildMessage(e Event) *messaging.Message {
	data := map[string]string{
		"type":    string(e.Type),
		"ride_id": string(e.RideID),
	}
	for k, v := range e.Data {
		data[k] = v
	}
	return &messaging.Message{
		Topic: TopicFor(e.UserID),
		Data:  data,
		Notification: &messaging.Notification{
			Title: e.Title,
			Body:  e.Body,
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
	}
}
