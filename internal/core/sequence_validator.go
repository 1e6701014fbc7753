package core

import (
	"errors"
	"fmt"
	"sync"
)

var (
	ErrOutOfOrder  = errors.New("out-of-order event")
	ErrSequenceGap = errors.New("sequence gap")
)

// SequenceValidator validates source sequences per partition. Account
// partitions are strict: the next command must carry exactly the expected
// sequence, and only a committed command advances it. Sequence 0 marks an
// unsequenced command and is not checked. Feed partitions (prices, pools)
// tolerate gaps and ignore regressions.
type SequenceValidator struct {
	mu              sync.Mutex
	expectedNextSeq map[string]int64 // partition -> next expected sequence
	metrics         *SequenceMetrics
}

func NewSequenceValidator() *SequenceValidator {
	return &SequenceValidator{
		expectedNextSeq: make(map[string]int64),
		metrics:         NewSequenceMetrics(),
	}
}

func (sv *SequenceValidator) expected(partition string) int64 {
	if next, ok := sv.expectedNextSeq[partition]; ok {
		return next
	}
	return 1
}

// ValidateSequence checks a command's source sequence without advancing it.
func (sv *SequenceValidator) ValidateSequence(partition string, sourceSequence int64) error {
	if sourceSequence == 0 {
		return nil
	}
	sv.mu.Lock()
	defer sv.mu.Unlock()
	expected := sv.expected(partition)

	if sourceSequence < expected {
		sv.metrics.RecordOutOfOrder(partition)
		return fmt.Errorf("partition=%s, expected=%d, got=%d: %w",
			partition, expected, sourceSequence, ErrOutOfOrder)
	}
	if sourceSequence > expected {
		sv.metrics.RecordGap(partition)
		return fmt.Errorf("partition=%s, expected=%d, got=%d: %w",
			partition, expected, sourceSequence, ErrSequenceGap)
	}
	return nil
}

// Advance records a committed command.
func (sv *SequenceValidator) Advance(partition string, sourceSequence int64) {
	if sourceSequence == 0 {
		return
	}
	sv.mu.Lock()
	defer sv.mu.Unlock()
	if sourceSequence >= sv.expected(partition) {
		sv.expectedNextSeq[partition] = sourceSequence + 1
	}
}

// ValidateFeedSequence accepts a feed update if it is newer than the last one,
// advancing the partition. Gaps are counted and accepted.
func (sv *SequenceValidator) ValidateFeedSequence(partition string, feedSequence int64) bool {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	expected := sv.expected(partition)

	if feedSequence < expected {
		return false
	}
	if feedSequence > expected {
		sv.metrics.RecordGap(partition)
	}
	sv.expectedNextSeq[partition] = feedSequence + 1
	return true
}

// GetExpectedSequence returns next expected sequence for a partition
func (sv *SequenceValidator) GetExpectedSequence(partition string) int64 {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	return sv.expected(partition)
}

// GetAllPartitions copies the partition state for snapshots.
func (sv *SequenceValidator) GetAllPartitions() map[string]int64 {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	out := make(map[string]int64, len(sv.expectedNextSeq))
	for k, v := range sv.expectedNextSeq {
		out[k] = v
	}
	return out
}

// RestorePartition initializes expected sequence (used during recovery)
func (sv *SequenceValidator) RestorePartition(partition string, next int64) {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	sv.expectedNextSeq[partition] = next
}

func (sv *SequenceValidator) Metrics() *SequenceMetrics {
	return sv.metrics
}

// SequenceMetrics tracks sequence validation stats.
type SequenceMetrics struct {
	mu         sync.Mutex
	gaps       map[string]int64
	outOfOrder map[string]int64
}

func NewSequenceMetrics() *SequenceMetrics {
	return &SequenceMetrics{
		gaps:       make(map[string]int64),
		outOfOrder: make(map[string]int64),
	}
}

func (m *SequenceMetrics) RecordGap(partition string) {
	m.mu.Lock()
	m.gaps[partition]++
	m.mu.Unlock()
}

func (m *SequenceMetrics) RecordOutOfOrder(partition string) {
	m.mu.Lock()
	m.outOfOrder[partition]++
	m.mu.Unlock()
}

func (m *SequenceMetrics) GetGaps(partition string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gaps[partition]
}

func (m *SequenceMetrics) GetOutOfOrder(partition string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.outOfOrder[partition]
}
