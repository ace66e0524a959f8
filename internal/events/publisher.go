// Package events はドメインイベントの発行を提供する。
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// イベントのサブジェクト
const (
	SubjectUserRegistered  = "mentorbook.user.registered"
	SubjectMentorOnboarded = "mentorbook.mentor.onboarded"
)

// UserRegisteredEvent はユーザー登録時に発行されるイベント。
type UserRegisteredEvent struct {
	EventType     string    `json:"event_type"`
	UID           string    `json:"uid"`
	Email         string    `json:"email"`
	Role          string    `json:"role"`
	RecordWritten bool      `json:"record_written"`
	RegisteredAt  time.Time `json:"registered_at"`
}

// MentorOnboardedEvent は管理者によるメンター登録時に発行されるイベント。
type MentorOnboardedEvent struct {
	EventType   string    `json:"event_type"`
	UID         string    `json:"uid"`
	Name        string    `json:"name"`
	Slug        string    `json:"slug"`
	OnboardedAt time.Time `json:"onboarded_at"`
}

// Publisher はドメインイベントの発行インターフェース。
type Publisher interface {
	PublishUserRegistered(ctx context.Context, event UserRegisteredEvent) error
	PublishMentorOnboarded(ctx context.Context, event MentorOnboardedEvent) error
}

// conn はnats.Connのうち発行に使うメソッド。
type conn interface {
	Publish(subject string, data []byte) error
	Drain() error
}

// NatsPublisher はNATSへイベントを発行する。
type NatsPublisher struct {
	conn conn
}

// NewNatsPublisher はNATSに接続してPublisherを生成する。
func NewNatsPublisher(natsURL string) (*NatsPublisher, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name("mentorbook"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("nats disconnected", slog.String("error", err.Error()))
			}
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	return &NatsPublisher{conn: nc}, nil
}

// PublishUserRegistered はユーザー登録イベントを発行する。
func (p *NatsPublisher) PublishUserRegistered(ctx context.Context, event UserRegisteredEvent) error {
	event.EventType = "user.registered"
	return p.publish(ctx, SubjectUserRegistered, event)
}

// PublishMentorOnboarded はメンター登録イベントを発行する。
func (p *NatsPublisher) PublishMentorOnboarded(ctx context.Context, event MentorOnboardedEvent) error {
	event.EventType = "mentor.onboarded"
	return p.publish(ctx, SubjectMentorOnboarded, event)
}

func (p *NatsPublisher) publish(ctx context.Context, subject string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := p.conn.Publish(subject, payload); err != nil {
		slog.ErrorContext(ctx, "failed to publish event",
			slog.String("subject", subject),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to publish %s: %w", subject, err)
	}
	slog.DebugContext(ctx, "event published", slog.String("subject", subject))
	return nil
}

// Close は未送信のメッセージを送り切ってから接続を閉じる。
func (p *NatsPublisher) Close() error {
	return p.conn.Drain()
}

// NopPublisher はイベントを発行しないPublisher。NATS未設定時に使う。
type NopPublisher struct{}

func (NopPublisher) PublishUserRegistered(context.Context, UserRegisteredEvent) error   { return nil }
func (NopPublisher) PublishMentorOnboarded(context.Context, MentorOnboardedEvent) error { return nil }

// compile-time interface check
var (
	_ Publisher = (*NatsPublisher)(nil)
	_ Publisher = NopPublisher{}
)
