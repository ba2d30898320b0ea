package encoder

import "sync/atomic"

// Stats is a snapshot of session counters.
type Stats struct {
	Transactions      uint64 `json:"transactions"`
	EmptyTransactions uint64 `json:"empty_transactions"`
	Changes           uint64 `json:"changes"`
	FilteredChanges   uint64 `json:"filtered_changes"`
	SkippedChanges    uint64 `json:"skipped_changes"`
	Messages          uint64 `json:"messages"`
	FilteredMessages  uint64 `json:"filtered_messages"`
	SpecialNumerics   uint64 `json:"special_numerics"`
	Flushes           uint64 `json:"flushes"`
	BytesFlushed      uint64 `json:"bytes_flushed"`
	CachedRelations   int    `json:"cached_relations"`
	InTransaction     bool   `json:"in_transaction"`
	Failed            bool   `json:"failed"`
}

type counters struct {
	transactions      atomic.Uint64
	emptyTransactions atomic.Uint64
	changes           atomic.Uint64
	filteredChanges   atomic.Uint64
	skippedChanges    atomic.Uint64
	messages          atomic.Uint64
	filteredMessages  atomic.Uint64
	specialNumerics   atomic.Uint64
	flushes           atomic.Uint64
	bytesFlushed      atomic.Uint64
}
