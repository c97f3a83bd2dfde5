package floydpb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestCommandUnion(t *testing.T) {
	assert := assert.New(t)

	t.Run("requestVote", func(t *testing.T) {
		cmd := &Command{
			Type: CommandRaftVote,
			Rqv: &RequestVote{
				Ip:           "127.0.0.1",
				Port:         9876,
				Term:         7,
				LastLogTerm:  6,
				LastLogIndex: 42,
			},
		}

		decoded := &Command{}
		assert.Nil(decoded.Unmarshal(cmd.Marshal()))
		assert.Equal(CommandRaftVote, decoded.Type)
		assert.Nil(decoded.Aerq)
		assert.Equal(cmd.Rqv, decoded.Rqv)
	})

	t.Run("appendEntries", func(t *testing.T) {
		cmd := &Command{
			Type: CommandRaftAppendEntries,
			Aerq: &AppendEntriesReq{
				Ip:           "127.0.0.1",
				Port:         9876,
				Term:         3,
				PrevLogIndex: 10,
				PrevLogTerm:  2,
				CommitIndex:  9,
				Entries: []*Entry{
					{Term: 3, Key: []byte("a"), Value: []byte("1")},
					{Term: 3, Type: EntryNoop},
				},
			},
		}

		decoded := &Command{}
		assert.Nil(decoded.Unmarshal(cmd.Marshal()))
		assert.Equal(CommandRaftAppendEntries, decoded.Type)
		assert.Nil(decoded.Rqv)
		assert.Equal(cmd.Aerq.Entries, decoded.Aerq.Entries)
		assert.Equal(uint64(9), decoded.Aerq.CommitIndex)
	})

	t.Run("responses", func(t *testing.T) {
		res := &CommandRes{Type: CommandRaftVote, Rsv: &RequestVoteRes{Term: 8, Granted: true}}
		decoded := &CommandRes{}
		assert.Nil(decoded.Unmarshal(res.Marshal()))
		assert.True(decoded.Rsv.Granted)
		assert.Equal(uint64(8), decoded.Rsv.Term)

		res = &CommandRes{Type: CommandRaftAppendEntries, Aers: &AppendEntriesRes{Term: 8}}
		decoded = &CommandRes{}
		assert.Nil(decoded.Unmarshal(res.Marshal()))
		assert.False(decoded.Aers.Status)
	})
}

func TestManifestMeta(t *testing.T) {
	assert := assert.New(t)

	meta := &ManifestMeta{
		Raft: RaftMeta{
			CurrentTerm:  5,
			VotedForIp:   "10.0.0.2",
			VotedForPort: 8901,
		},
		EntriesStart: 1,
		EntriesEnd:   120,
	}

	decoded := &ManifestMeta{}
	assert.Nil(decoded.Unmarshal(meta.Marshal()))
	assert.Equal(meta, decoded)
}

func TestUnknownFieldsSkipped(t *testing.T) {
	assert := assert.New(t)

	entry := &Entry{Term: 2, Key: []byte("k"), Value: []byte("v")}
	data := entry.Marshal()
	data = protowire.AppendTag(data, 99, protowire.BytesType)
	data = protowire.AppendBytes(data, []byte("future field"))

	decoded := &Entry{}
	assert.Nil(decoded.Unmarshal(data))
	assert.Equal(entry, decoded)
}

func TestEntryTruncatedData(t *testing.T) {
	assert := assert.New(t)

	entry := &Entry{Term: 2, Key: []byte("key"), Value: []byte("value")}
	data := entry.Marshal()

	decoded := &Entry{}
	assert.Error(decoded.Unmarshal(data[:len(data)-2]))
}
