package feed

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/chaoscope/chaoscope/config"
	"github.com/chaoscope/chaoscope/pkg/logger"
)

// RedisPublisher forwards the broadcaster's feed onto a redis
// pub/sub channel so out-of-process consumers can follow a run.
type RedisPublisher struct {
	client  redis.UniversalClient
	channel string
	log     logger.Logger

	feed      chan Event
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewRedisPublisher connects to redis per the config and starts
// forwarding broadcast events.
func NewRedisPublisher(cfg config.RedisConfig, broadcaster *Broadcaster, log logger.Logger) *RedisPublisher {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewRedisPublisherWithClient(client, cfg.Channel, broadcaster, log)
}

// NewRedisPublisherWithClient starts a publisher over an existing
// client. The publisher owns the client and closes it on Close.
func NewRedisPublisherWithClient(client redis.UniversalClient, channel string, broadcaster *Broadcaster, log logger.Logger) *RedisPublisher {
	if channel == "" {
		channel = "chaoscope.events"
	}
	p := &RedisPublisher{
		client:  client,
		channel: channel,
		log:     log,
		feed:    broadcaster.Subscribe(),
		done:    make(chan struct{}),
	}
	p.wg.Add(1)
	go p.run()
	return p
}

func (p *RedisPublisher) run() {
	defer p.wg.Done()
	for {
		select {
		case event, ok := <-p.feed:
			if !ok {
				return
			}
			p.publish(event)
		case <-p.done:
			return
		}
	}
}

func (p *RedisPublisher) publish(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		if p.log != nil {
			p.log.Warn("redis feed marshal failed", "event", event.Event, "error", err)
		}
		return
	}
	if err := p.client.Publish(context.Background(), p.channel, data).Err(); err != nil {
		if p.log != nil {
			p.log.Warn("redis feed publish failed", "event", event.Event, "error", err)
		}
	}
}

// Healthy checks whether the redis connection is alive.
func (p *RedisPublisher) Healthy(ctx context.Context) bool {
	return p.client.Ping(ctx).Err() == nil
}

// Close stops forwarding and closes the redis client.
func (p *RedisPublisher) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.done)
		p.wg.Wait()
		err = p.client.Close()
	})
	return err
}
