package floyd

import (
	"testing"

	"github.com/floydgo/floyd/floydpb"
	"github.com/stretchr/testify/assert"
)

func TestMemoryLog(t *testing.T) {
	assert := assert.New(t)

	m := newMemoryLog()
	assert.Equal(uint64(0), m.GetStartLogIndex())
	assert.Equal(uint64(0), m.GetLastLogIndex())
	assert.Equal(uint64(0), m.GetSizeBytes())

	t.Run("append", func(t *testing.T) {
		first, last := m.Append([]*floydpb.Entry{
			{Term: 1, Key: []byte("a"), Value: []byte("1")},
			{Term: 1, Key: []byte("b"), Value: []byte("2")},
		})
		assert.Equal(uint64(1), first)
		assert.Equal(uint64(2), last)
		assert.Equal(uint64(1), m.GetStartLogIndex())
		assert.Equal(uint64(2), m.GetLastLogIndex())

		first, last = m.Append([]*floydpb.Entry{{Term: 2, Type: floydpb.EntryNoop}})
		assert.Equal(uint64(3), first)
		assert.Equal(uint64(3), last)
	})

	t.Run("getEntry", func(t *testing.T) {
		assert.Equal([]byte("a"), m.GetEntry(1).Key)
		assert.Equal([]byte("2"), m.GetEntry(2).Value)
		assert.Equal(floydpb.EntryNoop, m.GetEntry(3).Type)
		assert.Panics(func() { m.GetEntry(4) })
		assert.Panics(func() { m.GetEntry(0) })
	})

	t.Run("sizeBytes", func(t *testing.T) {
		var want uint64
		for i := uint64(1); i <= 3; i++ {
			want += uint64(m.GetEntry(i).Size())
		}
		assert.Equal(want, m.GetSizeBytes())
	})

	t.Run("truncateSuffix", func(t *testing.T) {
		m.TruncateSuffix(5)
		assert.Equal(uint64(3), m.GetLastLogIndex())

		m.TruncateSuffix(1)
		assert.Equal(uint64(1), m.GetLastLogIndex())
		assert.Equal(uint64(m.GetEntry(1).Size()), m.GetSizeBytes())

		m.TruncateSuffix(0)
		assert.Equal(uint64(0), m.GetLastLogIndex())
		assert.Equal(uint64(0), m.GetStartLogIndex())
		assert.Equal(uint64(0), m.GetSizeBytes())
	})

	t.Run("appendAfterWipe", func(t *testing.T) {
		first, last := m.Append([]*floydpb.Entry{{Term: 3, Key: []byte("c")}})
		assert.Equal(uint64(1), first)
		assert.Equal(uint64(1), last)
	})
}

func TestMemoryLogRecovered(t *testing.T) {
	assert := assert.New(t)

	m := newMemoryLog()
	assert.Nil(m.appendRecovered(4, &floydpb.Entry{Term: 2}))
	assert.Nil(m.appendRecovered(5, &floydpb.Entry{Term: 2}))
	assert.Equal(uint64(4), m.GetStartLogIndex())
	assert.Equal(uint64(5), m.GetLastLogIndex())

	assert.ErrorIs(m.appendRecovered(9, &floydpb.Entry{Term: 2}), ErrCorruptedSegment)
}
