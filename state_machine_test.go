package floyd

import (
	"testing"

	"github.com/floydgo/floyd/floydpb"
	"github.com/jackc/fake"
	"github.com/stretchr/testify/assert"
)

func TestStateMachine(t *testing.T) {
	assert := assert.New(t)

	dir := t.TempDir()
	sm, err := NewStateMachine(dir)
	assert.Nil(err)

	t.Run("applyDataEntries", func(t *testing.T) {
		assert.Nil(sm.Apply([]*floydpb.Entry{
			{Term: 1, Key: []byte("a"), Value: []byte("1")},
			{Term: 1, Type: floydpb.EntryNoop},
			{Term: 1, Key: []byte("b"), Value: []byte(fake.WordsN(3))},
			{Term: 2, Key: []byte("a"), Value: []byte("2")},
		}))

		value, err := sm.Get([]byte("a"))
		assert.Nil(err)
		assert.Equal([]byte("2"), value)

		_, err = sm.Get([]byte("b"))
		assert.Nil(err)
	})

	t.Run("missingKey", func(t *testing.T) {
		_, err := sm.Get([]byte("missing"))
		assert.ErrorIs(err, ErrLogNotFound)
	})

	t.Run("reopen", func(t *testing.T) {
		assert.Nil(sm.Close())

		sm, err = NewStateMachine(dir)
		assert.Nil(err)
		value, err := sm.Get([]byte("a"))
		assert.Nil(err)
		assert.Equal([]byte("2"), value)
	})

	assert.Nil(sm.Close())
}

func TestStateMachineRequiresDataDir(t *testing.T) {
	assert := assert.New(t)

	_, err := NewStateMachine("")
	assert.ErrorIs(err, ErrDataDirRequired)
}
