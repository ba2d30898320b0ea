package publisher

// Sink represents a destination for encoded output (e.g., Kafka, NATS, a file)
type Sink interface {
	// Publish sends one unit to the sink. value is only valid for the
	// duration of the call.
	Publish(topic string, key string, value []byte) error
	// Close releases any resources held by the sink
	Close() error
}
