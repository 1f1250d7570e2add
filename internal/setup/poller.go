package setup

import (
	"context"
	"sync"
	"time"
)

// poller runs fn immediately and then on every tick until fn reports done,
// the parent context ends, or stop is called.
type poller struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func startPoller(parent context.Context, interval time.Duration, fn func(context.Context) bool, onExit func(finished bool)) *poller {
	ctx, cancel := context.WithCancel(parent)
	p := &poller{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(p.done)
		finished := p.loop(ctx, interval, fn)
		cancel()
		if onExit != nil {
			onExit(finished)
		}
	}()
	return p
}

func (p *poller) loop(ctx context.Context, interval time.Duration, fn func(context.Context) bool) bool {
	if fn(ctx) {
		return true
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			if ctx.Err() != nil {
				return false
			}
			if fn(ctx) {
				return true
			}
		}
	}
}

// stop cancels the loop and waits for it to exit. Safe to call repeatedly.
func (p *poller) stop() {
	p.once.Do(p.cancel)
	<-p.done
}
