package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/cppla/learnquest/services"
)

// RedisBus relays messages through a Redis channel so that every instance's Hub sees them.
type RedisBus struct {
	rdb     *redis.Client
	channel string
	log     *zap.SugaredLogger

	mu  sync.Mutex
	sub *redis.PubSub
}

func NewRedisBus(rdb *redis.Client, channel string, log *zap.SugaredLogger) *RedisBus {
	if channel == "" {
		channel = "learnquest:events"
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &RedisBus{rdb: rdb, channel: channel, log: log}
}

func (b *RedisBus) Publish(ctx context.Context, msg services.Message) error {
	if b == nil || b.rdb == nil {
		return errors.New("redis bus not initialized")
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.channel, raw).Err()
}

// StartForwarder subscribes to the channel and hands every decoded message to onMsg until ctx
// is done or Close is called.
func (b *RedisBus) StartForwarder(ctx context.Context, onMsg func(services.Message)) error {
	if b == nil || b.rdb == nil {
		return errors.New("redis bus not initialized")
	}
	if onMsg == nil {
		return errors.New("onMsg callback required")
	}

	sub := b.rdb.Subscribe(ctx, b.channel)
	// ensures the subscription actually started
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return err
	}
	b.mu.Lock()
	b.sub = sub
	b.mu.Unlock()

	go func() {
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					return
				}
				var msg services.Message
				if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
					b.log.Warnw("bad bus payload", "error", err)
					continue
				}
				onMsg(msg)
			}
		}
	}()
	return nil
}

// Close stops the forwarder. The Redis client is shared and stays open.
func (b *RedisBus) Close() error {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sub == nil {
		return nil
	}
	err := b.sub.Close()
	b.sub = nil
	return err
}
