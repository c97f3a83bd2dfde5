package floyd

import (
	"fmt"
	"sync"

	"github.com/floydgo/floyd/floydpb"
)

// memoryLog mirrors the durable tail of the log as a dense,
// monotonically indexed vector. Indices are 1-based; entries[0] holds
// the entry at index start. Readers take the shared lock so peer
// workers can batch entries while the coordinator grows the tail.
type memoryLog struct {
	mu        sync.RWMutex
	start     uint64
	entries   []*floydpb.Entry
	sizeBytes uint64
}

func newMemoryLog() *memoryLog {
	return &memoryLog{start: 1}
}

// Append adds entries at the tail and returns the index range they
// received, indices are implicit from position.
func (m *memoryLog) Append(entries []*floydpb.Entry) (first, last uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	first = m.start + uint64(len(m.entries))
	for _, entry := range entries {
		m.entries = append(m.entries, entry)
		m.sizeBytes += uint64(entry.Size())
	}
	last = m.start + uint64(len(m.entries)) - 1
	return first, last
}

// appendRecovered admits one entry read back from a segment during
// recovery. The first admitted id anchors the start index; a gap in
// the id sequence is a corruption in the surviving prefix.
func (m *memoryLog) appendRecovered(id uint64, entry *floydpb.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.entries) == 0 {
		m.start = id
	} else if id != m.start+uint64(len(m.entries)) {
		return fmt.Errorf("%w: recovered id %d after %d", ErrCorruptedSegment, id, m.start+uint64(len(m.entries))-1)
	}
	m.entries = append(m.entries, entry)
	m.sizeBytes += uint64(entry.Size())
	return nil
}

// GetEntry returns the entry at index. An out-of-range index is a
// programming error and panics.
func (m *memoryLog) GetEntry(index uint64) *floydpb.Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if index < m.start || index >= m.start+uint64(len(m.entries)) {
		panic(fmt.Sprintf("log index %d out of range [%d, %d]", index, m.start, m.start+uint64(len(m.entries))-1))
	}
	return m.entries[index-m.start]
}

// TruncateSuffix drops every entry with an index above lastKept.
func (m *memoryLog) TruncateSuffix(lastKept uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if lastKept < m.start {
		for _, entry := range m.entries {
			m.sizeBytes -= uint64(entry.Size())
		}
		m.entries = m.entries[:0]
		return
	}
	keep := lastKept - m.start + 1
	if keep >= uint64(len(m.entries)) {
		return
	}
	for _, entry := range m.entries[keep:] {
		m.sizeBytes -= uint64(entry.Size())
	}
	m.entries = m.entries[:keep]
}

// GetStartLogIndex returns the first held index, 0 when empty.
func (m *memoryLog) GetStartLogIndex() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.entries) == 0 {
		return 0
	}
	return m.start
}

// GetLastLogIndex returns the last held index, 0 when empty.
func (m *memoryLog) GetLastLogIndex() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.entries) == 0 {
		return 0
	}
	return m.start + uint64(len(m.entries)) - 1
}

// GetSizeBytes returns the cumulative serialized size of the held
// entries.
func (m *memoryLog) GetSizeBytes() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sizeBytes
}
