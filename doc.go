// Package floyd implements the consensus core of a replicated-log
// service: the per-peer replication workers driving vote solicitation,
// append entries and heartbeats, and the durable segmented log that
// persists entries, term and vote across restarts.
//
// The primary coordinator that schedules elections and computes the
// commit index is an external collaborator, consumed through the
// Primary capability interface.
package floyd
