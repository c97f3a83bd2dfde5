package floyd

// TaskType names the work a peer worker can hand to the primary
// coordinator.
type TaskType uint8

const (
	// TaskBecomeLeader asks the primary to process the promotion of
	// this node after a vote quorum was reached.
	TaskBecomeLeader TaskType = iota
)

// Primary is the narrow capability the peer workers hold back to the
// primary coordinator. The coordinator owns the peers; the peers hold
// this non-owning handle, which keeps the reference cycle out.
type Primary interface {
	// AddTask enqueues work on the primary thread.
	AddTask(task TaskType)

	// ResetElectLeaderTimer restarts the randomized election timeout.
	ResetElectLeaderTimer()

	// AdvanceCommitIndex recomputes the commit index from the peers'
	// match indexes and applies newly committed entries.
	AdvanceCommitIndex()
}
