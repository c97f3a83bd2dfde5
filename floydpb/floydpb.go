// Package floydpb holds the wire schema shared by the replication core:
// log entries, the RequestVote and AppendEntries request/response pairs,
// the tagged Command union carried by the transport and the manifest
// metadata. Messages are encoded in protobuf wire format with
// encoding/protowire; unknown fields are skipped on decode so the schema
// can grow without breaking older nodes.
package floydpb

import (
	"google.golang.org/protobuf/encoding/protowire"
)

// EntryType is the kind of a log entry.
type EntryType uint32

const (
	// EntryData carries a client key/value mutation.
	EntryData EntryType = iota

	// EntryNoop is appended by a fresh leader to commit
	// entries from previous terms.
	EntryNoop

	// EntryConfig carries a cluster configuration payload.
	EntryConfig
)

// CommandType discriminates the Command/CommandRes unions.
type CommandType uint32

const (
	CommandRaftVote CommandType = iota + 1
	CommandRaftAppendEntries
)

// Entry is one replicated log record. Its index is implicit
// from its position in the log.
type Entry struct {
	Term  uint64
	Type  EntryType
	Key   []byte
	Value []byte
}

// RequestVote is the vote solicitation sent by a candidate.
type RequestVote struct {
	Ip           string
	Port         uint32
	Term         uint64
	LastLogTerm  uint64
	LastLogIndex uint64
}

// RequestVoteRes is the reply to a RequestVote.
type RequestVoteRes struct {
	Term    uint64
	Granted bool
}

// AppendEntriesReq replicates entries or, with no entries, acts
// as the leader heartbeat.
type AppendEntriesReq struct {
	Ip           string
	Port         uint32
	Term         uint64
	PrevLogIndex uint64
	PrevLogTerm  uint64
	Entries      []*Entry
	CommitIndex  uint64
}

// AppendEntriesRes is the reply to an AppendEntriesReq. Status is
// true when the follower's log prefix matched and the entries were
// appended or already present.
type AppendEntriesRes struct {
	Term   uint64
	Status bool
}

// Command is the tagged request union carried by the transport.
// Exactly one of Rqv/Aerq is set, according to Type.
type Command struct {
	Type CommandType
	Rqv  *RequestVote
	Aerq *AppendEntriesReq
}

// CommandRes mirrors Command for responses.
type CommandRes struct {
	Type CommandType
	Rsv  *RequestVoteRes
	Aers *AppendEntriesRes
}

// RaftMeta is the durable Raft state recorded in the manifest.
type RaftMeta struct {
	CurrentTerm  uint64
	VotedForIp   string
	VotedForPort uint32
}

// ManifestMeta is the manifest record body: the persisted entry
// range plus the Raft metadata.
type ManifestMeta struct {
	Raft         RaftMeta
	EntriesStart uint64
	EntriesEnd   uint64
}

func appendUint64(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, 1)
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendString(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

// skipField drops an unknown field and returns the remaining buffer.
func skipField(data []byte, num protowire.Number, typ protowire.Type) ([]byte, error) {
	n := protowire.ConsumeFieldValue(num, typ, data)
	if n < 0 {
		return nil, protowire.ParseError(n)
	}
	return data[n:], nil
}

// Marshal encodes the entry in protobuf wire format.
func (e *Entry) Marshal() []byte {
	var b []byte
	b = appendUint64(b, 1, e.Term)
	b = appendUint64(b, 2, uint64(e.Type))
	b = appendBytes(b, 3, e.Key)
	b = appendBytes(b, 4, e.Value)
	return b
}

// Size returns the encoded length of the entry.
func (e *Entry) Size() int {
	return len(e.Marshal())
}

// Unmarshal decodes the entry from protobuf wire format.
func (e *Entry) Unmarshal(data []byte) error {
	*e = Entry{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return protowire.ParseError(n)
		}
		data = data[n:]

		if typ == protowire.VarintType && num <= 2 {
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			data = data[n:]
			switch num {
			case 1:
				e.Term = v
			case 2:
				e.Type = EntryType(v)
			}
			continue
		}
		if typ == protowire.BytesType && (num == 3 || num == 4) {
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			data = data[n:]
			buf := make([]byte, len(v))
			copy(buf, v)
			if num == 3 {
				e.Key = buf
			} else {
				e.Value = buf
			}
			continue
		}

		var err error
		if data, err = skipField(data, num, typ); err != nil {
			return err
		}
	}
	return nil
}

// Marshal encodes the request in protobuf wire format.
func (r *RequestVote) Marshal() []byte {
	var b []byte
	b = appendString(b, 1, r.Ip)
	b = appendUint64(b, 2, uint64(r.Port))
	b = appendUint64(b, 3, r.Term)
	b = appendUint64(b, 4, r.LastLogTerm)
	b = appendUint64(b, 5, r.LastLogIndex)
	return b
}

// Unmarshal decodes the request from protobuf wire format.
func (r *RequestVote) Unmarshal(data []byte) error {
	*r = RequestVote{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return protowire.ParseError(n)
		}
		data = data[n:]

		switch {
		case num == 1 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			data = data[n:]
			r.Ip = string(v)
		case typ == protowire.VarintType && num >= 2 && num <= 5:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			data = data[n:]
			switch num {
			case 2:
				r.Port = uint32(v)
			case 3:
				r.Term = v
			case 4:
				r.LastLogTerm = v
			case 5:
				r.LastLogIndex = v
			}
		default:
			var err error
			if data, err = skipField(data, num, typ); err != nil {
				return err
			}
		}
	}
	return nil
}

// Marshal encodes the response in protobuf wire format.
func (r *RequestVoteRes) Marshal() []byte {
	var b []byte
	b = appendUint64(b, 1, r.Term)
	b = appendBool(b, 2, r.Granted)
	return b
}

// Unmarshal decodes the response from protobuf wire format.
func (r *RequestVoteRes) Unmarshal(data []byte) error {
	*r = RequestVoteRes{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return protowire.ParseError(n)
		}
		data = data[n:]

		if typ == protowire.VarintType && (num == 1 || num == 2) {
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			data = data[n:]
			if num == 1 {
				r.Term = v
			} else {
				r.Granted = v != 0
			}
			continue
		}

		var err error
		if data, err = skipField(data, num, typ); err != nil {
			return err
		}
	}
	return nil
}

// Marshal encodes the request in protobuf wire format.
func (r *AppendEntriesReq) Marshal() []byte {
	var b []byte
	b = appendString(b, 1, r.Ip)
	b = appendUint64(b, 2, uint64(r.Port))
	b = appendUint64(b, 3, r.Term)
	b = appendUint64(b, 4, r.PrevLogIndex)
	b = appendUint64(b, 5, r.PrevLogTerm)
	for _, entry := range r.Entries {
		b = protowire.AppendTag(b, 6, protowire.BytesType)
		b = protowire.AppendBytes(b, entry.Marshal())
	}
	b = appendUint64(b, 7, r.CommitIndex)
	return b
}

// Size returns the encoded length of the request.
func (r *AppendEntriesReq) Size() int {
	return len(r.Marshal())
}

// Unmarshal decodes the request from protobuf wire format.
func (r *AppendEntriesReq) Unmarshal(data []byte) error {
	*r = AppendEntriesReq{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return protowire.ParseError(n)
		}
		data = data[n:]

		switch {
		case num == 1 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			data = data[n:]
			r.Ip = string(v)
		case num == 6 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			data = data[n:]
			entry := &Entry{}
			if err := entry.Unmarshal(v); err != nil {
				return err
			}
			r.Entries = append(r.Entries, entry)
		case typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			data = data[n:]
			switch num {
			case 2:
				r.Port = uint32(v)
			case 3:
				r.Term = v
			case 4:
				r.PrevLogIndex = v
			case 5:
				r.PrevLogTerm = v
			case 7:
				r.CommitIndex = v
			}
		default:
			var err error
			if data, err = skipField(data, num, typ); err != nil {
				return err
			}
		}
	}
	return nil
}

// Marshal encodes the response in protobuf wire format.
func (r *AppendEntriesRes) Marshal() []byte {
	var b []byte
	b = appendUint64(b, 1, r.Term)
	b = appendBool(b, 2, r.Status)
	return b
}

// Unmarshal decodes the response from protobuf wire format.
func (r *AppendEntriesRes) Unmarshal(data []byte) error {
	*r = AppendEntriesRes{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return protowire.ParseError(n)
		}
		data = data[n:]

		if typ == protowire.VarintType && (num == 1 || num == 2) {
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			data = data[n:]
			if num == 1 {
				r.Term = v
			} else {
				r.Status = v != 0
			}
			continue
		}

		var err error
		if data, err = skipField(data, num, typ); err != nil {
			return err
		}
	}
	return nil
}

// Marshal encodes the command union in protobuf wire format.
func (c *Command) Marshal() []byte {
	var b []byte
	b = appendUint64(b, 1, uint64(c.Type))
	if c.Rqv != nil {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, c.Rqv.Marshal())
	}
	if c.Aerq != nil {
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendBytes(b, c.Aerq.Marshal())
	}
	return b
}

// Unmarshal decodes the command union. Only the variant named by
// the tag is populated.
func (c *Command) Unmarshal(data []byte) error {
	*c = Command{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return protowire.ParseError(n)
		}
		data = data[n:]

		switch {
		case num == 1 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			data = data[n:]
			c.Type = CommandType(v)
		case num == 2 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			data = data[n:]
			c.Rqv = &RequestVote{}
			if err := c.Rqv.Unmarshal(v); err != nil {
				return err
			}
		case num == 3 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			data = data[n:]
			c.Aerq = &AppendEntriesReq{}
			if err := c.Aerq.Unmarshal(v); err != nil {
				return err
			}
		default:
			var err error
			if data, err = skipField(data, num, typ); err != nil {
				return err
			}
		}
	}
	return nil
}

// Marshal encodes the response union in protobuf wire format.
func (c *CommandRes) Marshal() []byte {
	var b []byte
	b = appendUint64(b, 1, uint64(c.Type))
	if c.Rsv != nil {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, c.Rsv.Marshal())
	}
	if c.Aers != nil {
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendBytes(b, c.Aers.Marshal())
	}
	return b
}

// Unmarshal decodes the response union.
func (c *CommandRes) Unmarshal(data []byte) error {
	*c = CommandRes{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return protowire.ParseError(n)
		}
		data = data[n:]

		switch {
		case num == 1 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			data = data[n:]
			c.Type = CommandType(v)
		case num == 2 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			data = data[n:]
			c.Rsv = &RequestVoteRes{}
			if err := c.Rsv.Unmarshal(v); err != nil {
				return err
			}
		case num == 3 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			data = data[n:]
			c.Aers = &AppendEntriesRes{}
			if err := c.Aers.Unmarshal(v); err != nil {
				return err
			}
		default:
			var err error
			if data, err = skipField(data, num, typ); err != nil {
				return err
			}
		}
	}
	return nil
}

// Marshal encodes the raft metadata in protobuf wire format.
func (m *RaftMeta) Marshal() []byte {
	var b []byte
	b = appendUint64(b, 1, m.CurrentTerm)
	b = appendString(b, 2, m.VotedForIp)
	b = appendUint64(b, 3, uint64(m.VotedForPort))
	return b
}

// Unmarshal decodes the raft metadata.
func (m *RaftMeta) Unmarshal(data []byte) error {
	*m = RaftMeta{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return protowire.ParseError(n)
		}
		data = data[n:]

		switch {
		case num == 2 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			data = data[n:]
			m.VotedForIp = string(v)
		case typ == protowire.VarintType && (num == 1 || num == 3):
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			data = data[n:]
			if num == 1 {
				m.CurrentTerm = v
			} else {
				m.VotedForPort = uint32(v)
			}
		default:
			var err error
			if data, err = skipField(data, num, typ); err != nil {
				return err
			}
		}
	}
	return nil
}

// Marshal encodes the manifest body in protobuf wire format.
func (m *ManifestMeta) Marshal() []byte {
	var b []byte
	raft := m.Raft.Marshal()
	if len(raft) > 0 {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, raft)
	}
	b = appendUint64(b, 2, m.EntriesStart)
	b = appendUint64(b, 3, m.EntriesEnd)
	return b
}

// Unmarshal decodes the manifest body.
func (m *ManifestMeta) Unmarshal(data []byte) error {
	*m = ManifestMeta{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return protowire.ParseError(n)
		}
		data = data[n:]

		switch {
		case num == 1 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			data = data[n:]
			if err := m.Raft.Unmarshal(v); err != nil {
				return err
			}
		case typ == protowire.VarintType && (num == 2 || num == 3):
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			data = data[n:]
			if num == 2 {
				m.EntriesStart = v
			} else {
				m.EntriesEnd = v
			}
		default:
			var err error
			if data, err = skipField(data, num, typ); err != nil {
				return err
			}
		}
	}
	return nil
}
