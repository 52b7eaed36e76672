package replay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

const updatesChannel = "court:session-updates"

// LocalNotifier delivers updates to subscribers in the same process.
type LocalNotifier struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]func(Update)
}

func NewLocalNotifier() *LocalNotifier {
	return &LocalNotifier{subs: make(map[int]func(Update))}
}

func (n *LocalNotifier) Publish(_ context.Context, update Update) error {
	n.mu.RLock()
	subs := make([]func(Update), 0, len(n.subs))
	for _, fn := range n.subs {
		subs = append(subs, fn)
	}
	n.mu.RUnlock()

	for _, fn := range subs {
		fn(update)
	}
	return nil
}

func (n *LocalNotifier) Subscribe(ctx context.Context, fn func(Update)) error {
	n.mu.Lock()
	id := n.nextID
	n.nextID++
	n.subs[id] = fn
	n.mu.Unlock()

	go func() {
		<-ctx.Done()
		n.mu.Lock()
		delete(n.subs, id)
		n.mu.Unlock()
	}()
	return nil
}

// RedisNotifier fans updates out over a Redis pub/sub channel so sockets held
// by another instance are refreshed too.
type RedisNotifier struct {
	client  *redis.Client
	channel string
}

func NewRedisNotifier(client *redis.Client) *RedisNotifier {
	return &RedisNotifier{client: client, channel: updatesChannel}
}

func (n *RedisNotifier) Publish(ctx context.Context, update Update) error {
	data, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("marshal update: %w", err)
	}
	if err := n.client.Publish(ctx, n.channel, data).Err(); err != nil {
		return fmt.Errorf("publish update: %w", err)
	}
	return nil
}

// Subscribe returns once the subscription is confirmed by the server.
func (n *RedisNotifier) Subscribe(ctx context.Context, fn func(Update)) error {
	pubsub := n.client.Subscribe(ctx, n.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("subscribe %s: %w", n.channel, err)
	}

	go func() {
		defer pubsub.Close()
		messages := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var update Update
				if err := json.Unmarshal([]byte(msg.Payload), &update); err != nil {
					continue
				}
				fn(update)
			}
		}
	}()
	return nil
}
