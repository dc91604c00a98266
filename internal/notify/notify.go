// Package notify sends push notifications to a recipient's registered device.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

var ErrNoToken = errors.New("notify: recipient has no push token")

type Notification struct {
	Token string
	Title string
	Body  string
	Data  map[string]string
}

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

type sender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// FCM delivers through Firebase Cloud Messaging.
type FCM struct {
	client sender
	logger *log.Logger
}

func NewFCM(ctx context.Context, projectID string, logger *log.Logger, opts ...option.ClientOption) (*FCM, error) {
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("init firebase app: %w", err)
	}
	msgr, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("init messaging: %w", err)
	}
	if logger == nil {
		logger = log.Default()
	}
	return &FCM{client: msgr, logger: logger}, nil
}

func (f *FCM) Notify(ctx context.Context, n Notification) error {
	if strings.TrimSpace(n.Token) == "" {
		return ErrNoToken
	}
	m := &messaging.Message{
		Token: n.Token,
		Notification: &messaging.Notification{
			Title: n.Title,
			Body:  n.Body,
		},
		Data: n.Data,
	}
	id, err := f.client.Send(ctx, m)
	if err != nil {
		f.logger.Printf("[Notify][FCM] send_failed title=%q err=%v", n.Title, err)
		return err
	}
	f.logger.Printf("[Notify][FCM] sent id=%s title=%q", id, n.Title)
	return nil
}

// Log only records what would have been sent.
type Log struct {
	Logger *log.Logger
}

func (l Log) Notify(_ context.Context, n Notification) error {
	logger := l.Logger
	if logger == nil {
		logger = log.Default()
	}
	logger.Printf("[Notify][Log] title=%q body=%q has_token=%t", n.Title, n.Body, n.Token != "")
	return nil
}
