package floyd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/floydgo/floyd/floydpb"
	"github.com/stretchr/testify/assert"
)

func TestManifest(t *testing.T) {
	assert := assert.New(t)

	path := filepath.Join(t.TempDir(), manifestFileName)

	t.Run("clearAndSave", func(t *testing.T) {
		m, err := openManifest(path)
		assert.Nil(err)
		m.Clear()
		assert.Equal(uint64(1), m.meta.Raft.CurrentTerm)
		assert.Equal(uint64(0), m.meta.EntriesStart)
		assert.Equal(uint64(0), m.meta.EntriesEnd)

		m.logNumber = 1
		assert.Nil(m.Save())
		assert.Nil(m.Close())
	})

	t.Run("recover", func(t *testing.T) {
		m, err := openManifest(path)
		assert.Nil(err)
		assert.Nil(m.Recover())
		assert.Equal(uint64(1), m.logNumber)
		assert.Equal(uint64(1), m.meta.Raft.CurrentTerm)
		assert.Nil(m.Close())
	})

	t.Run("update", func(t *testing.T) {
		m, err := openManifest(path)
		assert.Nil(err)
		assert.Nil(m.Recover())

		m.meta.Raft = floydpb.RaftMeta{CurrentTerm: 7, VotedForIp: "10.0.0.3", VotedForPort: 8901}
		m.logNumber = 3
		assert.Nil(m.Update(1, 250))
		assert.Nil(m.Close())

		m, err = openManifest(path)
		assert.Nil(err)
		assert.Nil(m.Recover())
		assert.Equal(uint64(3), m.logNumber)
		assert.Equal(uint64(1), m.meta.EntriesStart)
		assert.Equal(uint64(250), m.meta.EntriesEnd)
		assert.Equal(uint64(7), m.meta.Raft.CurrentTerm)
		assert.Equal("10.0.0.3", m.meta.Raft.VotedForIp)
		assert.Nil(m.Close())
	})

	t.Run("shrinkingRecordStaysParseable", func(t *testing.T) {
		// the record is rewritten in place, a shorter body must not
		// pick up bytes from the previous longer one
		m, err := openManifest(path)
		assert.Nil(err)
		assert.Nil(m.Recover())
		m.meta.Raft.VotedForIp = ""
		m.meta.Raft.VotedForPort = 0
		assert.Nil(m.Save())
		assert.Nil(m.Close())

		m, err = openManifest(path)
		assert.Nil(err)
		assert.Nil(m.Recover())
		assert.Equal("", m.meta.Raft.VotedForIp)
		assert.Equal(uint64(7), m.meta.Raft.CurrentTerm)
		assert.Nil(m.Close())
	})
}

func TestManifestCorrupted(t *testing.T) {
	assert := assert.New(t)

	t.Run("truncatedRecord", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), manifestFileName)
		assert.Nil(os.WriteFile(path, []byte{1, 2, 3}, 0644))

		m, err := openManifest(path)
		assert.Nil(err)
		assert.ErrorIs(m.Recover(), ErrCorruptedManifest)
		assert.Nil(m.Close())
	})

	t.Run("garbageBody", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), manifestFileName)
		m, err := openManifest(path)
		assert.Nil(err)
		m.Clear()
		m.logNumber = 1
		assert.Nil(m.Save())

		// overwrite the body with bytes that cannot parse
		_, err = m.file.WriteAt([]byte{0xff, 0xff, 0xff, 0xff}, idLength+offsetLength)
		assert.Nil(err)
		assert.ErrorIs(m.Recover(), ErrCorruptedManifest)
		assert.Nil(m.Close())
	})
}
