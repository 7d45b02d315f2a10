package hub

import "time"

// Connection limits
const (
	// Time allowed to write a message to the peer.
	WriteTimeout = 10 * time.Second
	// Time allowed to read the next pong message from the peer.
	PongTimeout = 60 * time.Second
	// Must be less than PongTimeout.
	PingInterval = (PongTimeout * 9) / 10

	MaxMessageSize = 64 * 1024

	// Outgoing messages buffered per connection before it counts as slow.
	SendBufferSize = 256
)
