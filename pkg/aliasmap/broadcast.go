package aliasmap

import (
	"context"

	"github.com/Gobusters/ectologger"
)

// InvalidationChannel carries "drop your snapshot" notices between instances.
const InvalidationChannel = "canon:aliasmap:invalidate"

type PubSub interface {
	Publish(ctx context.Context, channel, payload string) error
	Subscribe(ctx context.Context, channel string, fn func(payload string)) error
}

// Broadcast invalidates the local store and tells peers to do the same.
// With a nil PubSub it only invalidates locally.
type Broadcast struct {
	store  *Store
	pubsub PubSub
	logger ectologger.Logger
}

func NewBroadcast(store *Store, pubsub PubSub, logger ectologger.Logger) *Broadcast {
	return &Broadcast{
		store:  store,
		pubsub: pubsub,
		logger: logger,
	}
}

func (b *Broadcast) Invalidate(ctx context.Context) {
	b.store.Invalidate()
	if b.pubsub == nil {
		return
	}
	if err := b.pubsub.Publish(ctx, InvalidationChannel, "edit"); err != nil {
		// peers reload on their next restart or edit; the local edit stands
		b.logger.WithContext(ctx).WithError(err).Warn("Failed to broadcast alias map invalidation")
	}
}

// Listen blocks until ctx is done, dropping the local snapshot on every notice.
func (b *Broadcast) Listen(ctx context.Context) error {
	if b.pubsub == nil {
		<-ctx.Done()
		return nil
	}
	return b.pubsub.Subscribe(ctx, InvalidationChannel, func(string) {
		b.store.Invalidate()
		b.logger.WithContext(ctx).Debug("Alias map invalidated by peer")
	})
}
