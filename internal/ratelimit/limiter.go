package ratelimit

import "context"

// RateLimiter throttles outbound SMS traffic per bucket, e.g. "offer" and
// "ack" sends share the gateway budget under the "sms" bucket.
type RateLimiter interface {
	Allow(ctx context.Context, bucket string) (bool, error)
	Wait(ctx context.Context, bucket string) error
}
