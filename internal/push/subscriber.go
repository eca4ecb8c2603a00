package push

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Subscriber consumes approval-need and settings-changed notifications
// from Redis pub/sub. Delivery over pub/sub is best-effort: messages
// published while the subscription is down are gone, so every
// (re)connect fires OnSync to let the pull side re-derive whatever was
// missed before new messages flow.
type Subscriber struct {
	Client          *redis.Client
	ApprovalChannel string
	SettingsChannel string
	OnApproval      func(payload []byte)
	OnSettings      func(payload []byte)
	OnSync          func(ctx context.Context)
	ReconnectWait   time.Duration
}

func NewSubscriber(client *redis.Client) *Subscriber {
	return &Subscriber{
		Client:          client,
		ApprovalChannel: "hitl.approvals",
		SettingsChannel: "hitl.settings",
		ReconnectWait:   5 * time.Second,
	}
}

// Run subscribes and consumes until ctx is done, resubscribing after
// any failure or channel close.
func (s *Subscriber) Run(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.Client == nil {
		return errors.New("redis client required")
	}
	if s.ApprovalChannel == "" {
		s.ApprovalChannel = "hitl.approvals"
	}
	if s.SettingsChannel == "" {
		s.SettingsChannel = "hitl.settings"
	}
	if s.ReconnectWait <= 0 {
		s.ReconnectWait = 5 * time.Second
	}
	for {
		if err := s.consume(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Warn("push subscription lost, reconnecting", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.ReconnectWait):
		}
	}
}

func (s *Subscriber) consume(ctx context.Context) error {
	pubsub := s.Client.Subscribe(ctx, s.ApprovalChannel, s.SettingsChannel)
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}
	slog.Info("push subscription established",
		"approvals", s.ApprovalChannel, "settings", s.SettingsChannel)
	if s.OnSync != nil {
		s.OnSync(ctx)
	}
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return errors.New("pubsub channel closed")
			}
			s.dispatch(msg)
		}
	}
}

func (s *Subscriber) dispatch(msg *redis.Message) {
	switch msg.Channel {
	case s.ApprovalChannel:
		if s.OnApproval != nil {
			s.OnApproval([]byte(msg.Payload))
		}
	case s.SettingsChannel:
		if s.OnSettings != nil {
			s.OnSettings([]byte(msg.Payload))
		}
	default:
		slog.Debug("message on unexpected channel", "channel", msg.Channel)
	}
}
