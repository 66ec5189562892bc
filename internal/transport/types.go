package transport

import "context"

// Update is one inbound message from the chat platform.
type Update struct {
	MessageID    int
	ChatID       int64
	FromID       int64
	FromUsername string
	Text         string
}

// MediaKind tells the adapter which platform send primitive to use.
type MediaKind string

const (
	KindPhoto     MediaKind = "photo"
	KindAnimation MediaKind = "animation"
	KindVideo     MediaKind = "video"
)

// Media is an outbound media send: a local file plus its kind.
type Media struct {
	Path string
	Kind MediaKind
}

// Adapter is the messaging collaborator boundary. Any non-nil error from a
// send means the message is not confirmed delivered; callers must not mark
// state on error.
type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, chatID int64, text string) error
	SendMedia(ctx context.Context, chatID int64, m Media) error

	// Reply answers the message that produced an update.
	Reply(ctx context.Context, to Update, text string) error
}
