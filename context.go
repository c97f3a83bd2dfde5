package floyd

import (
	"sync"

	"github.com/floydgo/floyd/floydpb"
	"github.com/rs/zerolog"
)

// Role is the local view of the node's replication role.
type Role uint8

const (
	Follower Role = iota
	Candidate
	Leader
)

// String return a human readable role
func (r Role) String() string {
	switch r {
	case Leader:
		return "leader"
	case Candidate:
		return "candidate"
	}
	return "follower"
}

// Context is the process-wide mutable state shared by the primary
// coordinator and the peer workers: role, current term, vote, commit
// index and the tunables. Every method touching role, term, vote,
// commit index or options takes the internal guard and returns an
// owned snapshot; any observer acting after a suspension point must
// re-read.
type Context struct {
	mu      sync.Mutex
	logger  zerolog.Logger
	options Options
	log     *FileLog

	role         Role
	currentTerm  uint64
	votedForIp   string
	votedForPort uint32
	commitIndex  uint64

	// voteCount tracks granted votes for the local candidacy,
	// including the node's own vote
	voteCount   int
	clusterSize int
}

// NewContext builds the shared state for a cluster of clusterSize
// nodes, restoring term and vote from the log's manifest.
func NewContext(options Options, log *FileLog, clusterSize int, logger *zerolog.Logger) *Context {
	options.applyDefaults()
	c := &Context{
		logger:      logger.With().Str("component", "context").Logger(),
		options:     options,
		log:         log,
		clusterSize: clusterSize,
	}

	meta := log.RaftMeta()
	c.currentTerm = meta.CurrentTerm
	if c.currentTerm == 0 {
		c.currentTerm = 1
	}
	c.votedForIp = meta.VotedForIp
	c.votedForPort = meta.VotedForPort
	return c
}

// Options returns the tunables.
func (c *Context) Options() Options {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.options
}

// Log returns the durable log.
func (c *Context) Log() *FileLog { return c.log }

// Role returns the current role.
func (c *Context) Role() Role {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role
}

// CurrentTerm returns the current term.
func (c *Context) CurrentTerm() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentTerm
}

// CommitIndex returns the commit index.
func (c *Context) CommitIndex() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.commitIndex
}

// SetCommitIndex raises the commit index. It never moves backward.
func (c *Context) SetCommitIndex(index uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if index > c.commitIndex {
		c.commitIndex = index
	}
}

// LocalIp returns the advertised address.
func (c *Context) LocalIp() string { return c.options.LocalIp }

// LocalPort returns the advertised port.
func (c *Context) LocalPort() uint32 { return c.options.LocalPort }

// VoteAndCheck records one granted vote for the local candidacy and
// reports whether a quorum of the cluster has been reached. Votes
// from another term or after the candidacy ended are discarded.
func (c *Context) VoteAndCheck(term uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.role != Candidate || term != c.currentTerm {
		return false
	}
	c.voteCount++
	return c.voteCount > c.clusterSize/2
}

// BecomeFollower demotes the node, raising the term when the observed
// one is higher. The term never moves backward.
func (c *Context) BecomeFollower(term uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if term > c.currentTerm {
		c.currentTerm = term
		c.votedForIp = ""
		c.votedForPort = 0
	}
	c.role = Follower
	c.persistMeta()
	c.logger.Info().Uint64("term", c.currentTerm).Msgf("Became follower")
}

// BecomeCandidate starts a new candidacy: next term, vote for self.
func (c *Context) BecomeCandidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.role = Candidate
	c.currentTerm++
	c.votedForIp = c.options.LocalIp
	c.votedForPort = c.options.LocalPort
	c.voteCount = 1
	c.persistMeta()
	c.logger.Info().Uint64("term", c.currentTerm).Msgf("Became candidate")
}

// BecomeLeader promotes the node for the current term.
func (c *Context) BecomeLeader() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.role = Leader
	c.logger.Info().Uint64("term", c.currentTerm).Msgf("Became leader")
}

// persistMeta writes term and vote through to the manifest. Callers
// hold the guard.
func (c *Context) persistMeta() {
	if c.log == nil {
		return
	}
	meta := floydpb.RaftMeta{
		CurrentTerm:  c.currentTerm,
		VotedForIp:   c.votedForIp,
		VotedForPort: c.votedForPort,
	}
	if err := c.log.SetRaftMeta(meta); err != nil {
		c.logger.Error().Err(err).Msgf("Fail to persist raft metadata")
	}
}
