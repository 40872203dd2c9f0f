// Package feed provides market data bar feeds.
package feed

import (
	"context"

	"trend-trader/internal/models"
)

// Feed streams bars for the session instrument. The bar channel is closed
// when the feed ends; at most one error is sent before that.
type Feed interface {
	Stream(ctx context.Context) (<-chan models.Bar, <-chan error)
}

// ChannelFeed is a Feed backed by caller-owned channels.
type ChannelFeed struct {
	Bars chan models.Bar
	Errs chan error
}

// NewChannelFeed creates a ChannelFeed with the given buffer.
func NewChannelFeed(buffer int) *ChannelFeed {
	return &ChannelFeed{
		Bars: make(chan models.Bar, buffer),
		Errs: make(chan error, 1),
	}
}

// Stream returns the underlying channels.
func (c *ChannelFeed) Stream(ctx context.Context) (<-chan models.Bar, <-chan error) {
	return c.Bars, c.Errs
}

// Push queues a bar.
func (c *ChannelFeed) Push(bar models.Bar) {
	c.Bars <- bar
}

// End closes the bar channel.
func (c *ChannelFeed) End() {
	close(c.Bars)
}

func sendErr(errs chan<- error, err error) {
	select {
	case errs <- err:
	default:
	}
}
