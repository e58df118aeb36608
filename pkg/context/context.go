// Package context carries request identity through a unit of work: who
// asked for it, where it came from and which request it belongs to. Audit
// rows and logs read from here.
package context

import "context"

type key int

const (
	requestIDKey key = iota
	userIDKey
	sourceKey
	routeKey
)

// SystemActor performs every write that no user initiated.
const SystemActor = "system"

// Sources stamped on the work each entry point starts.
const (
	SourceAPI      = "api"
	SourceKafka    = "kafka"
	SourceCLI      = "cli"
	SourceBackfill = "backfill"
)

func with(ctx context.Context, k key, v string) context.Context {
	if v == "" {
		return ctx
	}
	return context.WithValue(ctx, k, v)
}

func get(ctx context.Context, k key) string {
	v, _ := ctx.Value(k).(string)
	return v
}

func SetRequestID(ctx context.Context, id string) context.Context {
	return with(ctx, requestIDKey, id)
}

func GetRequestID(ctx context.Context) string { return get(ctx, requestIDKey) }

// SetUserID ignores an empty id so the actor stays SystemActor.
func SetUserID(ctx context.Context, id string) context.Context {
	return with(ctx, userIDKey, id)
}

func GetUserID(ctx context.Context) string { return get(ctx, userIDKey) }

// GetActor is the user on ctx or SystemActor.
func GetActor(ctx context.Context) string {
	if user := GetUserID(ctx); user != "" {
		return user
	}
	return SystemActor
}

func SetSource(ctx context.Context, source string) context.Context {
	return with(ctx, sourceKey, source)
}

func GetSource(ctx context.Context) string { return get(ctx, sourceKey) }

// SetRoute records the matched route template, not the raw path.
func SetRoute(ctx context.Context, route string) context.Context {
	return with(ctx, routeKey, route)
}

func GetRoute(ctx context.Context) string { return get(ctx, routeKey) }
