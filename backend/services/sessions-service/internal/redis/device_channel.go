package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"vacstation/backend/services/sessions-service/internal/models"
)

// ErrNoReceiver means no device agent is subscribed to the command topic.
var ErrNoReceiver = errors.New("device channel: no receiver")

// Command actions understood by device agents.
const (
	ActionOn  = "ON"
	ActionOff = "OFF"
)

// Command is the payload published to a device.
type Command struct {
	Action          string `json:"action"`
	SessionID       string `json:"session_id,omitempty"`
	DurationSeconds int    `json:"durationSeconds,omitempty"`
}

// CommandTopic is where a device agent listens for commands.
func CommandTopic(deviceID string) string {
	return fmt.Sprintf("devices:%s:commands", deviceID)
}

// EventTopic is where a device agent reports back.
func EventTopic(deviceID string) string {
	return fmt.Sprintf("devices:%s:events", deviceID)
}

const eventPattern = "devices:*:events"

// DeviceChannel publishes commands and consumes device events over redis
// pub/sub. Delivery is fire-and-forget.
type DeviceChannel struct {
	client *redis.Client
	logger *zap.Logger
}

// NewDeviceChannel returns channel.
func NewDeviceChannel(client *redis.Client, logger *zap.Logger) *DeviceChannel {
	return &DeviceChannel{client: client, logger: logger}
}

// Send publishes cmd to deviceID. A publish nobody received counts as a
// failed send.
func (c *DeviceChannel) Send(ctx context.Context, deviceID string, cmd Command) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	receivers, err := c.client.Publish(ctx, CommandTopic(deviceID), data).Result()
	if err != nil {
		return fmt.Errorf("publish %s: %w", cmd.Action, err)
	}
	if receivers == 0 {
		return ErrNoReceiver
	}
	return nil
}

// Listen delivers device events to handle until ctx is done. The device id
// always comes from the topic. Malformed events and events naming another
// device are dropped.
func (c *DeviceChannel) Listen(ctx context.Context, handle func(context.Context, models.DeviceEvent)) error {
	pubsub := c.client.PSubscribe(ctx, eventPattern)
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}

	msgs := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			var event models.DeviceEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				c.logger.Warn("dropping malformed device event", zap.String("channel", msg.Channel), zap.Error(err))
				continue
			}
			device := deviceFromTopic(msg.Channel)
			if device == "" {
				c.logger.Warn("dropping device event on unexpected channel", zap.String("channel", msg.Channel))
				continue
			}
			if event.DeviceID != "" && event.DeviceID != device {
				c.logger.Warn("dropping device event naming another device",
					zap.String("channel", msg.Channel),
					zap.String("payload_device_id", event.DeviceID),
				)
				continue
			}
			event.DeviceID = device
			handle(ctx, event)
		}
	}
}

func deviceFromTopic(channel string) string {
	parts := strings.Split(channel, ":")
	if len(parts) != 3 {
		return ""
	}
	return parts[1]
}
