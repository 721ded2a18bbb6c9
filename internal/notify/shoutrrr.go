package notify

import (
	"context"
	"fmt"
	"io"
	"log"
	"slices"
	"time"

	"github.com/nicholas-fedor/shoutrrr"
	"github.com/nicholas-fedor/shoutrrr/pkg/router"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"
)

// ShoutrrrProvider sends push and email notifications through shoutrrr service URLs.
type ShoutrrrProvider struct {
	name     string
	channels map[Channel]bool
	sender   *router.ServiceRouter
}

// NewShoutrrrProvider validates urls by building a single sender for all of them.
// With no channels it serves every channel.
func NewShoutrrrProvider(name string, urls []string, channels []Channel, timeout time.Duration) (*ShoutrrrProvider, error) {
	if len(urls) == 0 {
		return nil, fmt.Errorf("at least one URL is required")
	}

	sender, err := shoutrrr.CreateSender(slices.Clone(urls)...)
	if err != nil {
		return nil, fmt.Errorf("invalid shoutrrr URL: %w", err)
	}
	if timeout > 0 {
		sender.Timeout = timeout
	}
	sender.SetLogger(log.New(io.Discard, "", 0))

	if name == "" {
		name = "shoutrrr"
	}
	if len(channels) == 0 {
		channels = []Channel{ChannelPush, ChannelMobile, ChannelKid, ChannelDigest}
	}

	p := &ShoutrrrProvider{name: name, channels: map[Channel]bool{}, sender: sender}
	for _, ch := range channels {
		p.channels[ch] = true
	}
	return p, nil
}

func (s *ShoutrrrProvider) Name() string             { return s.name }
func (s *ShoutrrrProvider) Supports(ch Channel) bool { return s.channels[ch] }

func (s *ShoutrrrProvider) Send(ctx context.Context, n *Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	params := stypes.Params{}
	if n.Title != "" {
		params.SetTitle(n.Title)
	}

	for _, err := range s.sender.Send(messageText(n), &params) {
		if err != nil {
			return err
		}
	}
	return nil
}

// messageText renders the body with the deep link on its own line.
func messageText(n *Notification) string {
	if n.DeepLink == "" {
		return n.Body
	}
	if n.Body == "" {
		return n.DeepLink
	}
	return n.Body + "\n" + n.DeepLink
}
