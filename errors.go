package floyd

import "errors"

var (
	ErrShutdown          = errors.New("node is shutting down")
	ErrNotLeader         = errors.New("not leader")
	ErrLogNotFound       = errors.New("log not found")
	ErrIndexOutOfRange   = errors.New("index out of range")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrCorruptedSegment  = errors.New("corrupted segment")
	ErrCorruptedManifest = errors.New("corrupted manifest")
	ErrStaleTerm         = errors.New("peer term older than mine")
	ErrNoConnection      = errors.New("no connection to peer")
	ErrDataDirRequired   = errors.New("data directory is required")
)
