package telegram

import (
	"context"
	"sync"
	"time"

	"fuelbot/src/platform"

	"github.com/rs/zerolog"
)

// HandlerFunc processes one update. It owns its own error handling.
type HandlerFunc func(ctx context.Context, u platform.Update)

// Poller long-polls getUpdates and hands every update to its own goroutine.
type Poller struct {
	client     *Client
	timeout    time.Duration
	retryDelay time.Duration
	handle     HandlerFunc
	log        zerolog.Logger
	wg         sync.WaitGroup
}

func NewPoller(client *Client, timeout time.Duration, handle HandlerFunc) *Poller {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Poller{
		client:     client,
		timeout:    timeout,
		retryDelay: 3 * time.Second,
		handle:     handle,
		log:        client.log,
	}
}

// Run polls until ctx is cancelled, then waits for in-flight handlers.
func (p *Poller) Run(ctx context.Context) error {
	defer p.wg.Wait()

	var offset int64
	p.log.Info().Dur("poll_timeout", p.timeout).Msg("telegram polling started")
	for {
		if ctx.Err() != nil {
			return nil
		}
		updates, next, err := p.client.GetUpdates(ctx, offset, p.timeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			p.log.Warn().Err(err).Msg("getUpdates failed")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(p.retryDelay):
			}
			continue
		}
		offset = next
		for _, u := range updates {
			p.wg.Add(1)
			go func(u platform.Update) {
				defer p.wg.Done()
				p.handle(ctx, u)
			}(u)
		}
	}
}
