package transport

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

type throttledClient struct {
	Client
	limiter *rate.Limiter
}

// Throttle limits outbound sends and reactions on client to perSecond with
// the given burst. Other operations pass through.
func Throttle(client Client, perSecond float64, burst int) Client {
	if burst < 1 {
		burst = 1
	}
	return &throttledClient{Client: client, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (c *throttledClient) SendMessage(ctx context.Context, chatID string, msg OutgoingMessage) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("wait send slot: %w", err)
	}
	return c.Client.SendMessage(ctx, chatID, msg)
}

func (c *throttledClient) React(ctx context.Context, msg Message, emoji string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait send slot: %w", err)
	}
	return c.Client.React(ctx, msg, emoji)
}
