package publisher

import (
	"testing"

	"github.com/maxpert/waljson/cfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	// Registered here to avoid an import cycle with the sink package
	RegisterSink("test-mock", func(config cfg.SinkConfiguration) (Sink, error) {
		return &mockSink{}, nil
	})
}

func TestNewSink_UnknownType(t *testing.T) {
	_, err := NewSink(cfg.SinkConfiguration{Type: "carrier-pigeon"})
	assert.Error(t, err)
}

func TestNewSink_Registered(t *testing.T) {
	snk, err := NewSink(cfg.SinkConfiguration{Type: "test-mock"})
	require.NoError(t, err)
	assert.IsType(t, &mockSink{}, snk)
	assert.Contains(t, SinkTypes(), "test-mock")
}

func TestNewWorkerFromConfig(t *testing.T) {
	w, err := NewWorkerFromConfig(cfg.SinkConfiguration{
		Type:            "test-mock",
		Topic:           "changes",
		RetryInitialMS:  10,
		RetryMaxMS:      100,
		RetryMultiplier: 3,
		MaxAttempts:     5,
	})
	require.NoError(t, err)
	defer w.Close()

	assert.Equal(t, "test-mock", w.config.Name)
	assert.Equal(t, "changes", w.config.Topic)
	assert.Equal(t, 5, w.config.MaxRetries)
	assert.Equal(t, 3.0, w.config.RetryMultiplier)

	require.NoError(t, w.Write(9, []byte("{}")))
	events := w.config.Sink.(*mockSink).getEvents()
	require.Len(t, events, 1)
	assert.Equal(t, "changes", events[0].topic)
	assert.Equal(t, "9", events[0].key)
}

func TestNewWorkerFromConfig_UnknownSink(t *testing.T) {
	_, err := NewWorkerFromConfig(cfg.SinkConfiguration{Type: "nope"})
	assert.Error(t, err)
}
