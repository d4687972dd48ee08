package storage

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"taskforge-board/domain"
)

// ListenBoardChanges relays board changes published on channel by any
// instance to handle. It reconnects when the subscription drops and returns
// once ctx is done.
func ListenBoardChanges(ctx context.Context, rc *redis.Client, channel string, logger *log.Logger, handle func(context.Context, domain.BoardChange)) {
	for {
		sub := rc.Subscribe(ctx, channel)
		ch := sub.Channel()
	recv:
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break recv
				}
				var change domain.BoardChange
				if err := sonic.UnmarshalString(msg.Payload, &change); err != nil {
					logger.WithError(err).Warn("unable to parse board change")
					continue
				}
				if change.BoardID == "" {
					continue
				}
				handle(ctx, change)
			}
		}
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		logger.Error("pubsub channel closed, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}
