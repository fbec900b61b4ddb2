package kit

import "context"

type contextKey string

const (
	TransportKey  contextKey = "kit_transport" // "http", "mcp"
	RequestIDKey  contextKey = "kit_request_id"
	SessionUIDKey contextKey = "kit_session_uid"
)

func WithTransport(ctx context.Context, t string) context.Context {
	return context.WithValue(ctx, TransportKey, t)
}
func GetTransport(ctx context.Context) string {
	if v, ok := ctx.Value(TransportKey).(string); ok {
		return v
	}
	return "go"
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}
func GetRequestID(ctx context.Context) string {
	v, _ := ctx.Value(RequestIDKey).(string)
	return v
}

// WithSessionUID records the heap session a request targets.
func WithSessionUID(ctx context.Context, uid int) context.Context {
	return context.WithValue(ctx, SessionUIDKey, uid)
}
func GetSessionUID(ctx context.Context) (int, bool) {
	v, ok := ctx.Value(SessionUIDKey).(int)
	return v, ok
}
