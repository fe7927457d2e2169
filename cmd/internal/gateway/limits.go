package gateway

import "time"

// Security/performance limits.
const (
	// Max bytes per websocket frame read.
	maxFrameBytes = 64 << 10 // 64 KiB

	defaultSendQueue = 256
	minSendQueue     = 32

	defaultWriteTimeout = 5 * time.Second
	defaultReadIdle     = 2 * time.Minute
	closeGrace          = time.Second

	maxPingFailures = 3

	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second

	// Per-connection rate limit (envelopes per window).
	rateLimitEvents = 120
	rateLimitWindow = 10 * time.Second

	// Cap on the limiter's event-slab preallocation per connection.
	rateLimitPrealloc = 128

	// Max request envelopes buffered while waiting for a final frame.
	maxBatchEnvelopes = 64
)
