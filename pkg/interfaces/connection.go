package interfaces

// Subscriber is one connected session as seen by the broadcast hub.
type Subscriber interface {
	// SessionID returns the server-issued id of this connection.
	SessionID() string

	// UserID returns the verified user id bound at handshake.
	UserID() string

	// Send queues v for delivery without blocking. When the queue is full
	// the oldest queued frame is dropped. Returns an error once closed.
	Send(v interface{}) error

	// Close closes the connection and releases its resources.
	Close() error
}
