package audit

import "context"

type ctxKey int

const (
	correlationKey ctxKey = iota
	metaKey
)

// RequestMeta is the network and client metadata of the request being audited.
type RequestMeta struct {
	IP        string
	UserAgent string
}

func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey, id)
}

func CorrelationID(ctx context.Context) string {
	v, _ := ctx.Value(correlationKey).(string)
	return v
}

func WithRequestMeta(ctx context.Context, meta RequestMeta) context.Context {
	return context.WithValue(ctx, metaKey, meta)
}

func RequestMetaFrom(ctx context.Context) RequestMeta {
	v, _ := ctx.Value(metaKey).(RequestMeta)
	return v
}
