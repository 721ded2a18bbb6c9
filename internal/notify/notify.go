// Package notify delivers best-effort notifications about request changes.
// Nothing here reports failures back to callers; delivery is at most once.
package notify

import (
	"context"
)

// Channel selects which providers receive a notification.
type Channel string

const (
	ChannelPush   Channel = "push"   // parent-facing push
	ChannelMobile Channel = "mobile" // parent mobile app
	ChannelKid    Channel = "kid"    // child-facing decision updates
	ChannelDigest Channel = "digest" // periodic summary of new requests
)

// Notification is one outbound message.
type Notification struct {
	Channel   Channel
	Recipient string // account or profile id
	Title     string
	Body      string
	DeepLink  string
	Tag       string // notifications sharing channel and tag within the dedupe window are dropped
	RequestID string // set on parent alerts about a pending request
}

// Notifier accepts notifications without blocking and without reporting errors.
type Notifier interface {
	Notify(n Notification)
}

// Provider is a delivery backend. Implementations must be safe for concurrent use.
type Provider interface {
	Name() string
	Supports(ch Channel) bool
	Send(ctx context.Context, n *Notification) error
}

// NopNotifier discards every notification.
type NopNotifier struct{}

func (NopNotifier) Notify(Notification) {}
