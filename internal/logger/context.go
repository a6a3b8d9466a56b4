package logger

import "context"

// correlation keys tag a context with the ids that follow work across the
// HTTP handler, the event bus and the scheduler.
type correlation int

const (
	requestIDKey correlation = iota
	sectorIDKey
	discussionIDKey
)

var correlationAttrs = [...]struct {
	key  correlation
	attr string
}{
	{requestIDKey, "request_id"},
	{sectorIDKey, "sector_id"},
	{discussionIDKey, "discussion_id"},
}

func tag(ctx context.Context, k correlation, id string) context.Context {
	return context.WithValue(ctx, k, id)
}

func tagged(ctx context.Context, k correlation) string {
	id, _ := ctx.Value(k).(string)
	return id
}

// WithRequestID stores the request id carried by an HTTP request or bus message.
func WithRequestID(ctx context.Context, id string) context.Context {
	return tag(ctx, requestIDKey, id)
}

// RequestID returns the request id, or "".
func RequestID(ctx context.Context) string { return tagged(ctx, requestIDKey) }

// WithSectorID tags the context with the sector being worked on.
func WithSectorID(ctx context.Context, id string) context.Context {
	return tag(ctx, sectorIDKey, id)
}

func SectorID(ctx context.Context) string { return tagged(ctx, sectorIDKey) }

// WithDiscussionID tags the context with the active discussion.
func WithDiscussionID(ctx context.Context, id string) context.Context {
	return tag(ctx, discussionIDKey, id)
}

func DiscussionID(ctx context.Context) string { return tagged(ctx, discussionIDKey) }
