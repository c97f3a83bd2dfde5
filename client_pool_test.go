package floyd

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/floydgo/floyd/floydpb"
	"github.com/floydgo/floyd/logger"
	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc"
)

// echoHandler answers votes as granted and append entries as
// accepted, echoing the request term.
type echoHandler struct{}

func (echoHandler) SendCommand(ctx context.Context, req *floydpb.Command) (*floydpb.CommandRes, error) {
	switch req.Type {
	case floydpb.CommandRaftVote:
		return &floydpb.CommandRes{
			Type: floydpb.CommandRaftVote,
			Rsv:  &floydpb.RequestVoteRes{Term: req.Rqv.Term, Granted: true},
		}, nil
	case floydpb.CommandRaftAppendEntries:
		return &floydpb.CommandRes{
			Type: floydpb.CommandRaftAppendEntries,
			Aers: &floydpb.AppendEntriesRes{Term: req.Aerq.Term, Status: true},
		}, nil
	}
	return nil, ErrInvalidArgument
}

func TestClientPool(t *testing.T) {
	assert := assert.New(t)
	zlog := logger.NewLogger()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	assert.Nil(err)
	server := grpc.NewServer()
	RegisterFloydServer(server, echoHandler{})
	go func() { _ = server.Serve(lis) }()
	defer server.Stop()

	pool := NewClientPool(zlog, time.Second)
	defer pool.Close()

	t.Run("requestVote", func(t *testing.T) {
		res, err := pool.SendAndRecv(lis.Addr().String(), &floydpb.Command{
			Type: floydpb.CommandRaftVote,
			Rqv:  &floydpb.RequestVote{Ip: "127.0.0.1", Port: 7001, Term: 4, LastLogIndex: 3, LastLogTerm: 2},
		})
		assert.Nil(err)
		assert.True(res.Rsv.Granted)
		assert.Equal(uint64(4), res.Rsv.Term)
	})

	t.Run("appendEntries", func(t *testing.T) {
		res, err := pool.SendAndRecv(lis.Addr().String(), &floydpb.Command{
			Type: floydpb.CommandRaftAppendEntries,
			Aerq: &floydpb.AppendEntriesReq{
				Ip:   "127.0.0.1",
				Port: 7001,
				Term: 4,
				Entries: []*floydpb.Entry{
					{Term: 4, Key: []byte("a"), Value: []byte("1")},
				},
			},
		})
		assert.Nil(err)
		assert.True(res.Aers.Status)
	})

	t.Run("connectionReused", func(t *testing.T) {
		pool.mu.Lock()
		assert.Equal(1, len(pool.conns))
		pool.mu.Unlock()
	})

	t.Run("unreachablePeer", func(t *testing.T) {
		short := NewClientPool(zlog, 100*time.Millisecond)
		defer short.Close()

		_, err := short.SendAndRecv("127.0.0.1:1", &floydpb.Command{Type: floydpb.CommandRaftVote, Rqv: &floydpb.RequestVote{Term: 1}})
		assert.Error(err)
	})
}
