// Package redis mirrors finalized footprint candles into Redis for
// out-of-process consumers. Optional: the engine runs fine without it.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"github.com/Vishtheendodoc/orderflow-new/internal/model"
)

const latestTTL = 30 * time.Minute

// PublisherConfig configures the Redis publisher.
type PublisherConfig struct {
	Addr     string
	Password string
	DB       int
}

// Publisher publishes closed candles and keeps the latest one per symbol.
type Publisher struct {
	client *goredis.Client
}

// New creates a publisher and pings the server.
func New(cfg PublisherConfig) (*Publisher, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return &Publisher{client: client}, nil
}

// PublishCandle PUBLISHes the candle on orderflow:candle:{symbol} and SETs
// it as the symbol's latest closed candle. Failures are logged; the data
// path never depends on Redis.
func (p *Publisher) PublishCandle(ctx context.Context, symbol string, view model.CandleView) {
	b, err := json.Marshal(view)
	if err != nil {
		return
	}

	channel := "orderflow:candle:" + symbol
	if err := p.client.Publish(ctx, channel, b).Err(); err != nil {
		log.Printf("[redis] publish %s: %v", channel, err)
		return
	}
	if err := p.client.Set(ctx, "orderflow:candle:last:"+symbol, b, latestTTL).Err(); err != nil {
		log.Printf("[redis] set latest %s: %v", symbol, err)
	}
}

// Close releases the client.
func (p *Publisher) Close() error {
	return p.client.Close()
}
