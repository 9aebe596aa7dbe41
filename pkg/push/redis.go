package push

import (
	"context"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"

	"github.com/matzehuels/panelsync/pkg/errors"
)

// RedisConfig configures a Redis pub/sub channel.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string // prepended to every room name
	Buffer   int    // per-subscriber queue, DefaultBuffer when 0
	Logger   *log.Logger
}

// RedisChannel is a [Channel] over Redis pub/sub. Rooms map to Redis
// channels of the same name.
type RedisChannel struct {
	client *redis.Client
	prefix string
	buffer int
	logger *log.Logger
	owned  bool

	mu     sync.Mutex
	subs   map[*redis.PubSub]struct{}
	wg     sync.WaitGroup
	closed bool
}

// NewRedisChannel connects to Redis and verifies the connection with PING.
func NewRedisChannel(ctx context.Context, cfg RedisConfig) (*RedisChannel, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrap(errors.ErrCodeTransport, err, "connect to redis %s", cfg.Addr)
	}
	c := NewRedisChannelFromClient(client, cfg)
	c.owned = true
	return c, nil
}

// NewRedisChannelFromClient wraps an existing client. Close leaves the
// client open.
func NewRedisChannelFromClient(client *redis.Client, cfg RedisConfig) *RedisChannel {
	buffer := cfg.Buffer
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &RedisChannel{
		client: client,
		prefix: cfg.Prefix,
		buffer: buffer,
		logger: logger,
		subs:   make(map[*redis.PubSub]struct{}),
	}
}

func (c *RedisChannel) channel(projectID string) string {
	return c.prefix + RoomName(projectID)
}

// Publish implements [Channel].
func (c *RedisChannel) Publish(ctx context.Context, ev Event) error {
	if ev.ProjectID == "" {
		return errors.New(errors.ErrCodeInvalidInput, "event has no project id")
	}
	data, err := Encode(ev)
	if err != nil {
		return err
	}
	if err := c.client.Publish(ctx, c.channel(ev.ProjectID), data).Err(); err != nil {
		return errors.Wrap(errors.ErrCodeTransport, err, "publish to %s", RoomName(ev.ProjectID))
	}
	return nil
}

// Subscribe implements [Channel]. It returns once Redis has confirmed the
// subscription, so events published afterwards are delivered.
func (c *RedisChannel) Subscribe(ctx context.Context, projectID string) (*Subscription, error) {
	if err := errors.ValidateProjectID(projectID); err != nil {
		return nil, err
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, errors.New(errors.ErrCodeTransport, "push channel is closed")
	}
	c.mu.Unlock()

	name := c.channel(projectID)
	ps := c.client.Subscribe(ctx, name)
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, errors.Wrap(errors.ErrCodeTransport, err, "subscribe to %s", name)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		ps.Close()
		return nil, errors.New(errors.ErrCodeTransport, "push channel is closed")
	}
	c.subs[ps] = struct{}{}
	c.wg.Add(1)
	c.mu.Unlock()

	out := make(chan Event, c.buffer)
	stop := make(chan struct{})
	var once sync.Once
	leave := func() { once.Do(func() { close(stop) }) }

	go func() {
		defer c.wg.Done()
		defer close(out)
		defer c.release(ps)

		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				ev, err := Decode([]byte(msg.Payload))
				if err != nil {
					c.logger.Warn("dropping malformed push event", "room", name, "err", err)
					continue
				}
				select {
				case out <- ev:
				default:
					c.logger.Debug("subscriber queue full, dropping event", "room", name)
				}
			}
		}
	}()

	return newSubscription(out, leave), nil
}

func (c *RedisChannel) release(ps *redis.PubSub) {
	c.mu.Lock()
	delete(c.subs, ps)
	c.mu.Unlock()
	ps.Close()
}

// Close implements [Channel]. It ends every subscription and closes the
// client if this channel created it.
func (c *RedisChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	for ps := range c.subs {
		// Closing the PubSub closes its message channel, ending the reader.
		ps.Close()
	}
	c.mu.Unlock()
	c.wg.Wait()

	if c.owned {
		return c.client.Close()
	}
	return nil
}

var _ Channel = (*RedisChannel)(nil)
var _ Channel = (*Hub)(nil)
