// Package fcm delivers push notifications through Firebase Cloud Messaging.
package fcm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"

	"github.com/towline/towline-backend/pkg/config"
)

// Message is a single device push.
type Message struct {
	Token string
	Title string
	Body  string
	Data  map[string]string
}

type sender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// Client sends pushes via the Firebase Admin SDK.
type Client struct {
	sender sender
}

// New initializes the Firebase app and messaging client.
func New(ctx context.Context, cfg config.FirebaseConfig) (*Client, error) {
	var opts []option.ClientOption
	if path := strings.TrimSpace(cfg.CredentialsFile); path != "" {
		opts = append(opts, option.WithCredentialsFile(path))
	}

	var fbCfg *firebase.Config
	if cfg.ProjectID != "" {
		fbCfg = &firebase.Config{ProjectID: cfg.ProjectID}
	}

	app, err := firebase.NewApp(ctx, fbCfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("firebase app: %w", err)
	}
	msg, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase messaging: %w", err)
	}
	return &Client{sender: msg}, nil
}

// Send delivers m and returns the FCM message id.
func (c *Client) Send(ctx context.Context, m Message) (string, error) {
	if c == nil || c.sender == nil {
		return "", errors.New("fcm client not initialized")
	}
	if strings.TrimSpace(m.Token) == "" {
		return "", errors.New("device token is required")
	}
	return c.sender.Send(ctx, buildMessage(m))
}

// IsUnregistered reports whether the device token is no longer valid.
func IsUnregistered(err error) bool {
	return messaging.IsUnregistered(err)
}

func buildMessage(m Message) *messaging.Message {
	return &messaging.Message{
		Token: m.Token,
		Notification: &messaging.Notification{
			Title: m.Title,
			Body:  m.Body,
		},
		Data: m.Data,
		Android: &messaging.AndroidConfig{
			Priority: "high",
			Notification: &messaging.AndroidNotification{
				ChannelID: "request_updates",
				Sound:     "default",
			},
		},
		APNS: &messaging.APNSConfig{
			Headers: map[string]string{
				"apns-priority":  "10",
				"apns-push-type": "alert",
			},
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{Sound: "default"},
			},
		},
	}
}
