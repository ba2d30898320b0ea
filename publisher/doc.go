// Package publisher delivers encoded change output to external systems.
//
// Every unit the encoder flushes (a whole transaction, a chunk of one, or a
// single streaming record) is handed to a Worker, which publishes it to the
// configured Sink with exponential backoff retry. Units are published in
// order and synchronously; the encoder does not produce the next unit until
// the previous one has been accepted.
//
// # Sinks
//
// Sinks register themselves by type through RegisterSink. The sink package
// provides:
//
//   - stdout: newline delimited output on standard output
//   - file: newline delimited output appended to a file
//   - kafka: one message per unit, keyed by transaction ID
//   - nats: one JetStream message per unit, with the key in a header
//
// Example usage:
//
//	w, err := publisher.NewWorkerFromConfig(cfg.Config.Sink)
//	if err != nil {
//		return err
//	}
//	defer w.Close()
//
//	session, err := encoder.New(opts, resolver, w)
package publisher
