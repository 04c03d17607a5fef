package ledger

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisNotifier publishes balance updates on a per-account pub/sub channel
// and lets observers subscribe to exactly one account.
type RedisNotifier struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisNotifier returns a notifier over client.
func NewRedisNotifier(client *redis.Client, logger *zap.Logger) *RedisNotifier {
	return &RedisNotifier{client: client, logger: logger}
}

// BalanceChannel is the pub/sub channel carrying updates for accountID.
func BalanceChannel(accountID string) string {
	return fmt.Sprintf("ledger:balance:%s", accountID)
}

// Publish sends update to the account channel.
func (n *RedisNotifier) Publish(ctx context.Context, update Update) error {
	data, err := json.Marshal(update)
	if err != nil {
		return err
	}
	return n.client.Publish(ctx, BalanceChannel(update.AccountID), data).Err()
}

// Subscribe streams updates for accountID. The channel closes when ctx is
// done or cancel is called.
func (n *RedisNotifier) Subscribe(ctx context.Context, accountID string) (<-chan Update, func(), error) {
	pubsub := n.client.Subscribe(ctx, BalanceChannel(accountID))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	out := make(chan Update, 8)
	go func() {
		defer close(out)
		defer pubsub.Close()
		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var update Update
				if err := json.Unmarshal([]byte(msg.Payload), &update); err != nil {
					n.logger.Warn("dropping malformed balance update", zap.String("account_id", accountID), zap.Error(err))
					continue
				}
				select {
				case out <- update:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, cancel, nil
}
