// Package telemetry publishes rail readings to Redis and dispatches
// rail commands pushed by other services.
package telemetry

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"etb-service/internal/logger"

	"github.com/redis/go-redis/v9"
)

// railCommandKey is the list other services LPUSH rail commands onto.
const railCommandKey = "etb:rail"

// Callbacks are the rail operations a command can trigger.
type Callbacks struct {
	EnableCallback     func(rail int) error
	DisableCallback    func(rail int) error
	SetVoltageCallback func(rail int, volts float64) error
}

type RedisClient struct {
	client    *redis.Client
	callbacks Callbacks
	logger    *logger.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

func NewRedisClient(host string, port int, l *logger.Logger, callbacks Callbacks) *RedisClient {
	ctx, cancel := context.WithCancel(context.Background())
	return &RedisClient{
		client: redis.NewClient(&redis.Options{
			Addr: fmt.Sprintf("%s:%d", host, port),
			DB:   0,
		}),
		callbacks: callbacks,
		logger:    l,
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (r *RedisClient) Connect() error {
	r.logger.Infof("Attempting to connect to Redis at %s", r.client.Options().Addr)

	if err := r.client.Ping(r.ctx).Err(); err != nil {
		r.logger.Infof("Redis connection failed: %v", err)
		return fmt.Errorf("Redis connection failed: %w", err)
	}
	r.logger.Infof("Successfully connected to Redis")
	return nil
}

// StartListening starts the rail command listener once the bench is up.
func (r *RedisClient) StartListening() {
	r.wg.Add(1)
	go r.listCommandListener(railCommandKey, r.handleRailCommand)
}

func (r *RedisClient) listCommandListener(key string, handler func(string) error) {
	defer r.wg.Done()
	r.logger.Infof("Starting list command listener for %s", key)

	for {
		select {
		case <-r.ctx.Done():
			r.logger.Infof("Context cancelled, exiting %s listener", key)
			return
		default:
			// Use BRPOP with a short timeout to allow periodic context cancellation checks
			result, err := r.client.BRPop(r.ctx, 5*time.Second, key).Result()
			if err != nil {
				if err == redis.Nil {
					// Timeout elapsed, loop back to check context
					continue
				}
				if err == context.Canceled {
					r.logger.Infof("Context cancelled, exiting %s listener", key)
					return
				}
				r.logger.Infof("Error reading from %s list: %v", key, err)
				continue
			}

			if len(result) >= 2 { // BRPOP returns [key, value]
				value := result[1]
				r.logger.Debugf("Received command from %s: %s", key, value)
				if err := handler(value); err != nil {
					r.logger.Warnf("Error handling %s command: %v", key, err)
				}
			}
		}
	}
}

// parseRailCommand splits "<rail>:enable", "<rail>:disable" or
// "<rail>:set-voltage:<volts>".
func parseRailCommand(value string) (rail int, action string, volts float64, err error) {
	parts := strings.SplitN(value, ":", 3)
	if len(parts) < 2 {
		return 0, "", 0, fmt.Errorf("malformed rail command: %q", value)
	}
	rail, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, "", 0, fmt.Errorf("malformed rail index in %q: %w", value, err)
	}
	action = parts[1]
	switch action {
	case "enable", "disable":
		if len(parts) != 2 {
			return 0, "", 0, fmt.Errorf("unexpected argument in %q", value)
		}
	case "set-voltage":
		if len(parts) != 3 {
			return 0, "", 0, fmt.Errorf("missing voltage in %q", value)
		}
		volts, err = strconv.ParseFloat(parts[2], 64)
		if err != nil {
			return 0, "", 0, fmt.Errorf("malformed voltage in %q: %w", value, err)
		}
	default:
		return 0, "", 0, fmt.Errorf("unknown rail command: %q", value)
	}
	return rail, action, volts, nil
}

func (r *RedisClient) handleRailCommand(value string) error {
	rail, action, volts, err := parseRailCommand(value)
	if err != nil {
		r.logger.Infof("Invalid rail command value: %s", value)
		return err
	}
	switch action {
	case "enable":
		if r.callbacks.EnableCallback == nil {
			return nil
		}
		return r.callbacks.EnableCallback(rail)
	case "disable":
		if r.callbacks.DisableCallback == nil {
			return nil
		}
		return r.callbacks.DisableCallback(rail)
	default:
		if r.callbacks.SetVoltageCallback == nil {
			return nil
		}
		return r.callbacks.SetVoltageCallback(rail, volts)
	}
}

// PublishReadings atomically updates one rail's measurement hash and
// notifies subscribers.
func (r *RedisClient) PublishReadings(rail int, volts, ma, mw float64) error {
	hash := fmt.Sprintf("etb:rail:%d", rail)
	timestamp := time.Now().Format(time.RFC3339)

	pipe := r.client.Pipeline()
	pipe.HSet(r.ctx, hash, "voltage", strconv.FormatFloat(volts, 'f', 3, 64))
	pipe.HSet(r.ctx, hash, "current", strconv.FormatFloat(ma, 'f', 3, 64))
	pipe.HSet(r.ctx, hash, "power", strconv.FormatFloat(mw, 'f', 3, 64))
	pipe.HSet(r.ctx, hash, "timestamp", timestamp)
	pipe.Publish(r.ctx, "etb", fmt.Sprintf("rail:%d", rail))
	_, err := pipe.Exec(r.ctx)

	if err != nil {
		r.logger.Warnf("Failed to publish rail %d readings: %v", rail, err)
		return err
	}
	return nil
}

// PublishRailState atomically updates one rail's enable and
// power-good flags.
func (r *RedisClient) PublishRailState(rail int, enabled, powerGood bool) error {
	hash := fmt.Sprintf("etb:rail:%d", rail)

	pipe := r.client.Pipeline()
	pipe.HSet(r.ctx, hash, "enabled", strconv.FormatBool(enabled))
	pipe.HSet(r.ctx, hash, "power-good", strconv.FormatBool(powerGood))
	pipe.Publish(r.ctx, "etb", fmt.Sprintf("rail:%d:state", rail))
	_, err := pipe.Exec(r.ctx)

	if err != nil {
		r.logger.Warnf("Failed to publish rail %d state: %v", rail, err)
		return err
	}
	return nil
}

func (r *RedisClient) Close() error {
	r.logger.Infof("Closing Redis client")
	r.cancel()

	// Wait for all goroutines to finish with a timeout
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Infof("All Redis goroutines finished")
	case <-time.After(5 * time.Second):
		r.logger.Infof("Timeout waiting for Redis goroutines to finish")
	}

	return r.client.Close()
}
