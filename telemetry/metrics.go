package telemetry

// Histogram bucket definitions for different latency profiles
var (
	// FlushBuckets for handing one encoded unit to the sink
	FlushBuckets = []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1, 5}

	// SizeBuckets for encoded unit sizes in bytes
	SizeBuckets = []float64{128, 512, 2048, 8192, 32768, 131072, 524288, 2097152, 8388608}
)

// Encoder Metrics
var (
	// ChangesTotal counts row changes by kind (insert, update, delete) and
	// result (emitted, filtered, skipped)
	ChangesTotal CounterVec = noopCounterVec{}

	// MessagesTotal counts logical decoding messages by result (emitted, filtered)
	MessagesTotal CounterVec = noopCounterVec{}

	// TransactionsTotal counts committed transactions by result (emitted, empty)
	TransactionsTotal CounterVec = noopCounterVec{}

	// SpecialNumericsTotal counts NaN/Infinity values written as null
	SpecialNumericsTotal Counter = NoopStat{}

	// EncoderErrorsTotal counts fatal encoder errors by class
	EncoderErrorsTotal CounterVec = noopCounterVec{}

	// RelationCacheSize tracks the number of cached relations
	RelationCacheSize Gauge = NoopStat{}

	// TransactionOpen is 1 while a transaction is being encoded
	TransactionOpen Gauge = NoopStat{}
)

// Output Metrics
var (
	// FlushesTotal counts units handed to the sink by result (success, failed)
	FlushesTotal CounterVec = noopCounterVec{}

	// FlushedBytes measures the size of flushed units
	FlushedBytes Histogram = NoopStat{}

	// FlushDurationSeconds measures how long the sink took to accept a unit
	FlushDurationSeconds Histogram = NoopStat{}

	// SinkRetriesTotal counts publish retries by sink
	SinkRetriesTotal CounterVec = noopCounterVec{}
)

// Source Metrics
var (
	// SourceMessagesTotal counts pgoutput messages by type
	SourceMessagesTotal CounterVec = noopCounterVec{}

	// ConfirmedLSN is the last LSN acknowledged to the server
	ConfirmedLSN Gauge = NoopStat{}

	// ServerLSNLagBytes is the distance between the server WAL end and the
	// last acknowledged LSN
	ServerLSNLagBytes Gauge = NoopStat{}

	// CapturedEventsTotal counts callbacks written to the capture file
	CapturedEventsTotal Counter = NoopStat{}
)

// InitMetrics initializes all Prometheus metrics.
// Must be called after InitializeTelemetry().
func InitMetrics() {
	// Encoder Metrics
	ChangesTotal = NewCounterVec(
		"changes_total",
		"Row changes by kind and result",
		[]string{"kind", "result"},
	)
	MessagesTotal = NewCounterVec(
		"messages_total",
		"Logical decoding messages by result",
		[]string{"result"},
	)
	TransactionsTotal = NewCounterVec(
		"transactions_total",
		"Committed transactions by result",
		[]string{"result"},
	)
	SpecialNumericsTotal = NewCounter(
		"special_numerics_total",
		"Non-finite numeric values written as null",
	)
	EncoderErrorsTotal = NewCounterVec(
		"encoder_errors_total",
		"Fatal encoder errors by class",
		[]string{"class"},
	)
	RelationCacheSize = NewGauge(
		"relation_cache_size",
		"Number of relations in the session cache",
	)
	TransactionOpen = NewGauge(
		"transaction_open",
		"1 while a transaction is being encoded",
	)

	// Output Metrics
	FlushesTotal = NewCounterVec(
		"flushes_total",
		"Units handed to the sink by result",
		[]string{"result"},
	)
	FlushedBytes = NewHistogramWithBuckets(
		"flushed_bytes",
		"Size of flushed units in bytes",
		SizeBuckets,
	)
	FlushDurationSeconds = NewHistogramWithBuckets(
		"flush_duration_seconds",
		"Time for the sink to accept a unit in seconds",
		FlushBuckets,
	)
	SinkRetriesTotal = NewCounterVec(
		"sink_retries_total",
		"Publish retries by sink",
		[]string{"sink"},
	)

	// Source Metrics
	SourceMessagesTotal = NewCounterVec(
		"source_messages_total",
		"pgoutput messages by type",
		[]string{"type"},
	)
	ConfirmedLSN = NewGauge(
		"confirmed_lsn",
		"Last LSN acknowledged to the server",
	)
	ServerLSNLagBytes = NewGauge(
		"server_lsn_lag_bytes",
		"Bytes between the server WAL end and the acknowledged LSN",
	)
	CapturedEventsTotal = NewCounter(
		"captured_events_total",
		"Callbacks written to the capture file",
	)
}
