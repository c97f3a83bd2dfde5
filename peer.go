package floyd

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/floydgo/floyd/floydpb"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// PeerEnv bundles everything one peer worker needs: the remote
// address, the shared context, the durable log, the transport and the
// capability handle back to the primary coordinator.
type PeerEnv struct {
	// Server is the remote peer address, host:port
	Server string

	// Context is the process-wide shared state
	Context *Context

	// Log is the durable log
	Log *FileLog

	// Pool is the transport used for every round trip
	Pool Pool

	// Primary is the capability handle back to the coordinator
	Primary Primary

	// Logger is the parent logger
	Logger *zerolog.Logger

	// Metrics may be nil
	Metrics *metrics
}

// Peer runs the replication work toward one remote: vote
// solicitation, append entries and the heartbeat loop, on a
// single-consumer task queue so tasks for the same peer never
// overlap. It owns the leader's bookkeeping for that remote,
// nextIndex and matchIndex.
type Peer struct {
	env    PeerEnv
	logger zerolog.Logger
	worker *worker

	// nextIndex is the next log entry to send to that peer,
	// initialized to leader last log index + 1
	nextIndex atomic.Uint64

	// matchIndex is the index of the highest log entry known to be
	// replicated on that peer, initialized to 0, increases
	// monotonically while this node stays leader
	matchIndex atomic.Uint64
}

// NewPeer starts the worker for one remote peer.
func NewPeer(env PeerEnv) *Peer {
	name := env.Server
	if i := strings.Index(name, ":"); i >= 0 {
		name = name[i:]
	}
	p := &Peer{
		env:    env,
		logger: env.Logger.With().Str("component", "peer").Str("peer", env.Server).Logger(),
		worker: newWorker("FloydPr" + name),
	}
	p.nextIndex.Store(1)
	return p
}

// Stop refuses new tasks and drains the in-flight ones.
func (p *Peer) Stop() {
	p.worker.Stop()
	p.logger.Info().Msgf("Peer exit")
}

// NextIndex returns the next log index to send to this peer.
func (p *Peer) NextIndex() uint64 { return p.nextIndex.Load() }

// setNextIndex overrides the next log index to send to this peer.
func (p *Peer) setNextIndex(index uint64) { p.nextIndex.Store(index) }

// MatchIndex returns the highest index known replicated on this peer.
// Read by the coordinator when advancing the commit index.
func (p *Peer) MatchIndex() uint64 { return p.matchIndex.Load() }

// AddRequestVoteTask schedules one vote solicitation.
func (p *Peer) AddRequestVoteTask() {
	p.worker.Schedule(p.doRequestVote)
}

// AddAppendEntriesTask schedules one replication round.
func (p *Peer) AddAppendEntriesTask() {
	p.worker.Schedule(p.doAppendEntries)
}

// AddHeartBeatTask schedules a heartbeat after the heartbeat period.
func (p *Peer) AddHeartBeatTask() {
	p.worker.DelaySchedule(p.env.Context.Options().heartbeatInterval(), p.doHeartBeat)
}

// BecomeLeader resets the replication bookkeeping for a fresh
// leadership and fires an immediate heartbeat.
func (p *Peer) BecomeLeader() {
	p.nextIndex.Store(p.env.Log.GetLastLogIndex() + 1)
	p.matchIndex.Store(0)
	p.logger.Debug().Uint64("nextIndex", p.nextIndex.Load()).Msgf("BecomeLeader")

	// right now
	p.worker.Schedule(p.doHeartBeat)
}

func (p *Peer) doRequestVote() {
	if err := p.requestVote(uuid.NewString()); err != nil {
		p.logger.Debug().Err(err).Msgf("Fail to RequestVote")
	}
}

func (p *Peer) doAppendEntries() {
	if err := p.appendEntries(false); err != nil {
		p.logger.Debug().Err(err).Msgf("Fail to AppendEntries")
	}
}

// doHeartBeat sends one heartbeat and unconditionally reschedules the
// next one. This is the only self-sustaining schedule loop; after a
// demotion the role check inside appendEntries short-circuits while
// the loop keeps ticking.
func (p *Peer) doHeartBeat() {
	start := time.Now()
	if err := p.appendEntries(true); err != nil {
		p.logger.Debug().Err(err).Msgf("Fail to HeartBeat")
	}
	p.env.Metrics.observeHeartbeat(p.env.Server, start)
	p.AddHeartBeatTask()
}

// requestVote solicits this peer's vote for the local candidacy. A
// no-op when the candidacy already ended. A granted vote is counted
// through the context and, on quorum, promotion is handed to the
// primary. A denial carrying a higher term demotes the node first,
// then resets the election timer, in that order so a late heartbeat
// from the new leader is accepted.
func (p *Peer) requestVote(traceId string) error {
	if p.env.Context.Role() != Candidate {
		return nil
	}

	lastLogIndex := p.env.Log.GetLastLogIndex()
	var lastLogTerm uint64
	if lastLogIndex != 0 {
		lastLogTerm = p.env.Log.GetEntry(lastLogIndex).Term
	}
	currentTerm := p.env.Context.CurrentTerm()

	req := &floydpb.Command{
		Type: floydpb.CommandRaftVote,
		Rqv: &floydpb.RequestVote{
			Ip:           p.env.Context.LocalIp(),
			Port:         p.env.Context.LocalPort(),
			Term:         currentTerm,
			LastLogTerm:  lastLogTerm,
			LastLogIndex: lastLogIndex,
		},
	}

	p.logger.Debug().
		Str("traceId", traceId).
		Uint64("term", currentTerm).
		Uint64("lastLogIndex", lastLogIndex).
		Msgf("Send RequestVote")

	res, err := p.env.Pool.SendAndRecv(p.env.Server, req)
	if err != nil {
		p.env.Metrics.addRPCFailure(p.env.Server)
		return err
	}
	if res.Rsv == nil {
		return fmt.Errorf("%w: response carries no vote payload", ErrInvalidArgument)
	}

	resTerm := res.Rsv.Term
	if p.env.Context.Role() == Candidate {
		if res.Rsv.Granted {
			if p.env.Context.VoteAndCheck(resTerm) {
				p.env.Primary.AddTask(TaskBecomeLeader)
			}
		} else {
			p.logger.Debug().
				Str("traceId", traceId).
				Uint64("resTerm", resTerm).
				Uint64("term", currentTerm).
				Msgf("Vote request denied")
			if resTerm > currentTerm {
				p.env.Context.BecomeFollower(resTerm)
				p.env.Primary.ResetElectLeaderTimer()
			}
		}
	}
	return nil
}

// appendEntries runs one replication round toward this peer, an empty
// one when heartbeat is set. Batching is greedy under the configured
// request size cap, always making progress with at least one entry.
func (p *Peer) appendEntries(heartbeat bool) error {
	if p.env.Context.Role() != Leader {
		return nil
	}

	lastLogIndex := p.env.Log.GetLastLogIndex()
	prevLogIndex := p.nextIndex.Load() - 1
	if prevLogIndex > lastLogIndex {
		return fmt.Errorf("%w: prevLogIndex %d > lastLogIndex %d", ErrInvalidArgument, prevLogIndex, lastLogIndex)
	}

	var prevLogTerm uint64
	if prevLogIndex != 0 {
		prevLogTerm = p.env.Log.GetEntry(prevLogIndex).Term
	}

	aerq := &floydpb.AppendEntriesReq{
		Ip:           p.env.Context.LocalIp(),
		Port:         p.env.Context.LocalPort(),
		Term:         p.env.Context.CurrentTerm(),
		PrevLogIndex: prevLogIndex,
		PrevLogTerm:  prevLogTerm,
	}

	var numEntries uint64
	if !heartbeat {
		sizeOnce := p.env.Context.Options().AppendEntriesSizeOnce
		for index := prevLogIndex + 1; index <= lastLogIndex; index++ {
			aerq.Entries = append(aerq.Entries, p.env.Log.GetEntry(index))
			if uint64(aerq.Size()) < sizeOnce || numEntries == 0 {
				numEntries++
				continue
			}
			aerq.Entries = aerq.Entries[:len(aerq.Entries)-1]
			break
		}
	}
	aerq.CommitIndex = min(p.env.Context.CommitIndex(), prevLogIndex+numEntries)

	res, err := p.env.Pool.SendAndRecv(p.env.Server, &floydpb.Command{
		Type: floydpb.CommandRaftAppendEntries,
		Aerq: aerq,
	})
	if err != nil {
		p.env.Metrics.addRPCFailure(p.env.Server)
		return err
	}
	if res.Aers == nil {
		return fmt.Errorf("%w: response carries no append entries payload", ErrInvalidArgument)
	}

	resTerm := res.Aers.Term
	if resTerm > p.env.Context.CurrentTerm() {
		p.env.Context.BecomeFollower(resTerm)
		p.env.Primary.ResetElectLeaderTimer()
		return nil
	}

	if p.env.Context.Role() == Leader {
		if res.Aers.Status {
			p.matchIndex.Store(prevLogIndex + numEntries)
			p.env.Primary.AdvanceCommitIndex()
			p.nextIndex.Store(p.matchIndex.Load() + 1)
		} else if next := p.nextIndex.Load(); next > 1 {
			p.nextIndex.Store(next - 1)
		}
	}
	return nil
}
