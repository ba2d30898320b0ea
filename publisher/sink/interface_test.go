package sink

import "github.com/maxpert/waljson/publisher"

// Compile-time interface verification
var (
	_ publisher.Sink = (*KafkaSink)(nil)
	_ publisher.Sink = (*NatsSink)(nil)
	_ publisher.Sink = (*StreamSink)(nil)
	_ publisher.Sink = (*MockSink)(nil)
)
