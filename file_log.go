package floyd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/floydgo/floyd/floydpb"
	"github.com/rs/zerolog"
)

// segmentSuffix is the file name suffix of log segments. Segment
// names are the zero padded 10 digit segment number plus this suffix
// so lexicographic order equals numeric order.
const segmentSuffix = ".floyd.log"

// segmentFileName builds the file name of segment number.
func segmentFileName(number uint64) string {
	return fmt.Sprintf("%010d%s", number, segmentSuffix)
}

// parseSegmentName extracts the segment number from a file name.
func parseSegmentName(name string) (uint64, bool) {
	if !strings.HasSuffix(name, segmentSuffix) {
		return 0, false
	}
	var number uint64
	if _, err := fmt.Sscanf(strings.TrimSuffix(name, segmentSuffix), "%d", &number); err != nil {
		return 0, false
	}
	return number, number > 0
}

// LogSync is the durability handle returned by TakeSync. After Wait
// returns, every entry appended before the TakeSync call is durable.
type LogSync struct {
	// LastIndex is the last log index covered by this handle
	LastIndex uint64

	table *Table
}

// Wait flushes the segment this handle covers.
func (s *LogSync) Wait() error {
	if s.table == nil {
		return nil
	}
	return s.table.Sync()
}

// FileLog is the durable, segmented log: it composes the active
// segment, the manifest and the in-memory index, and owns recovery,
// append, rotation and suffix truncation.
type FileLog struct {
	mu          sync.Mutex
	dir         string
	logger      zerolog.Logger
	metrics     *metrics
	mem         *memoryLog
	manifest    *manifest
	table       *Table
	currentSync *LogSync
}

// NewFileLog opens the log under dir, creating the directory and
// recovering manifest and segments. mets may be nil.
func NewFileLog(dir string, log *zerolog.Logger, mets *metrics) (*FileLog, error) {
	if dir == "" {
		return nil, ErrDataDirRequired
	}
	if err := createDirectoryIfNotExist(dir, 0750); err != nil {
		return nil, fmt.Errorf("fail to create directory %s: %w", dir, err)
	}

	f := &FileLog{
		dir:     dir,
		logger:  log.With().Str("component", "filelog").Logger(),
		metrics: mets,
		mem:     newMemoryLog(),
	}
	if err := f.Recover(); err != nil {
		return nil, err
	}
	return f, nil
}

// Recover loads the manifest and replays the segments under the log
// directory. With no manifest present the directory is bootstrapped:
// a cleared manifest and one empty segment.
func (f *FileLog) Recover() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	manifestPath := filepath.Join(f.dir, manifestFileName)
	_, statErr := os.Stat(manifestPath)
	fresh := os.IsNotExist(statErr)

	var err error
	if f.manifest, err = openManifest(manifestPath); err != nil {
		return err
	}

	if fresh {
		f.manifest.Clear()
		f.manifest.logNumber++
		if f.table, err = OpenTable(filepath.Join(f.dir, segmentFileName(f.manifest.logNumber))); err != nil {
			return err
		}
		if err := f.manifest.Save(); err != nil {
			return err
		}
		f.currentSync = &LogSync{table: f.table}
		return nil
	}

	if err := f.manifest.Recover(); err != nil {
		f.logger.Warn().Err(err).Msgf("Manifest unparseable, falling back to a cleared manifest")
		f.manifest.Clear()
		f.manifest.logNumber = 0
	}

	files, err := os.ReadDir(f.dir)
	if err != nil {
		return fmt.Errorf("fail to list log directory %s: %w", f.dir, err)
	}
	for _, file := range files {
		number, ok := parseSegmentName(file.Name())
		if !ok {
			continue
		}
		f.recoverFromFile(number, f.manifest.meta.EntriesStart, f.manifest.meta.EntriesEnd)
	}

	if f.table == nil {
		f.manifest.logNumber++
		if f.table, err = OpenTable(filepath.Join(f.dir, segmentFileName(f.manifest.logNumber))); err != nil {
			return err
		}
	}
	f.currentSync = &LogSync{LastIndex: f.mem.GetLastLogIndex(), table: f.table}

	return f.manifest.Save()
}

// recoverFromFile opens one segment and admits its records into the
// in-memory index. Segments entirely outside the manifest range are
// stale and deleted. Corruption never aborts recovery: the surviving
// prefix is kept and the rest of the segment is treated as lost tail.
func (f *FileLog) recoverFromFile(number uint64, entriesStart, entriesEnd uint64) {
	path := filepath.Join(f.dir, segmentFileName(number))

	table, err := OpenTable(path)
	if err != nil {
		f.logger.Warn().Err(err).Msgf("Skipping segment %s", path)
		return
	}

	if table.EntryStart() > entriesEnd || table.EntryEnd() < entriesStart {
		_ = table.Close()
		if err := os.Remove(path); err != nil {
			f.logger.Warn().Err(err).Msgf("Fail to delete stale segment %s", path)
			return
		}
		f.logger.Debug().Msgf("Deleted stale segment %s", path)
		return
	}

	iter := table.NewIterator()
	count := 0
	for iter.SeekToFirst(); iter.Valid(); iter.Next() {
		rec := iter.Record()
		if rec.EntryID < entriesStart || rec.EntryID > entriesEnd {
			continue
		}
		entry := &floydpb.Entry{}
		if err := entry.Unmarshal(rec.Payload); err != nil {
			f.logger.Warn().Err(err).Msgf("Unparseable record %d in %s, treating remainder as lost tail", rec.EntryID, path)
			break
		}
		if err := f.mem.appendRecovered(rec.EntryID, entry); err != nil {
			f.logger.Warn().Err(err).Msgf("Record sequence broken in %s, treating remainder as lost tail", path)
			break
		}
		count++
	}
	if err := iter.Err(); err != nil {
		f.logger.Warn().Err(err).Msgf("Corrupted frame in %s, treating remainder as lost tail", path)
	}

	if f.table != nil {
		_ = f.table.Close()
	}
	f.table = table
	f.manifest.logNumber = number

	f.logger.Debug().
		Str("segment", path).
		Uint64("entryStart", table.EntryStart()).
		Uint64("entryEnd", table.EntryEnd()).
		Int("recovered", count).
		Msgf("Recovered segment")
}

// Append adds entries to the in-memory index, writes them to the
// active segment and refreshes the manifest. Returns the appended
// index range. On a storage failure the in-memory index is rolled
// back so the durable state and the index stay consistent.
func (f *FileLog) Append(entries []*floydpb.Entry) (first, last uint64, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	first, last = f.mem.Append(entries)
	for index := first; index <= last; index++ {
		if _, err = f.table.AppendEntry(index, f.mem.GetEntry(index)); err != nil {
			f.mem.TruncateSuffix(first - 1)
			f.logger.Error().Err(err).Msgf("Fail to append entry %d", index)
			return 0, 0, err
		}
		if err = f.splitIfNeeded(); err != nil {
			f.mem.TruncateSuffix(first - 1)
			return 0, 0, err
		}
	}

	if err = f.manifest.Update(f.mem.GetStartLogIndex(), f.mem.GetLastLogIndex()); err != nil {
		f.logger.Error().Err(err).Msgf("Fail to update manifest after append")
		return 0, 0, err
	}
	f.metrics.addAppendedEntries(len(entries))
	return first, last, nil
}

// SplitIfNeeded rotates the active segment when it grew past the
// size threshold.
func (f *FileLog) SplitIfNeeded() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.splitIfNeeded()
}

func (f *FileLog) splitIfNeeded() error {
	if f.table.Filesize() <= segmentMaxBytes {
		return nil
	}

	next := f.table.EntryEnd() + 1
	if err := f.table.Close(); err != nil {
		return err
	}

	f.manifest.logNumber++
	table, err := OpenTable(filepath.Join(f.dir, segmentFileName(f.manifest.logNumber)))
	if err != nil {
		return err
	}
	if err := table.setStart(next); err != nil {
		return err
	}
	f.table = table
	f.currentSync = &LogSync{LastIndex: f.mem.GetLastLogIndex(), table: f.table}
	f.metrics.addSegmentRotation()
	f.logger.Debug().Uint64("segment", f.manifest.logNumber).Uint64("entryStart", next).Msgf("Rotated active segment")
	return nil
}

// TruncateSuffix drops every entry above lastKept: the in-memory
// index first, then the manifest, then the segments walked backward.
// Segments whose whole range is gone are deleted, always keeping at
// least segment one open as the active tail.
func (f *FileLog) TruncateSuffix(lastKept uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	currentIndex := f.mem.GetLastLogIndex()
	if lastKept >= currentIndex {
		return nil
	}
	dropped := currentIndex - lastKept

	f.mem.TruncateSuffix(lastKept)
	if err := f.manifest.Update(f.mem.GetStartLogIndex(), f.mem.GetLastLogIndex()); err != nil {
		return err
	}

	for currentIndex > lastKept {
		if f.table.EntryStart() >= lastKept+1 {
			if err := f.table.Close(); err != nil {
				return err
			}
			path := filepath.Join(f.dir, segmentFileName(f.manifest.logNumber))
			if err := os.Remove(path); err != nil {
				return fmt.Errorf("fail to delete segment %s: %w", path, err)
			}

			var err error
			if f.manifest.logNumber == 1 {
				if f.table, err = OpenTable(path); err != nil {
					return err
				}
				break
			}

			f.manifest.logNumber--
			if f.table, err = OpenTable(filepath.Join(f.dir, segmentFileName(f.manifest.logNumber))); err != nil {
				return err
			}
			currentIndex = f.table.EntryEnd()
			continue
		}

		iter := f.table.NewIterator()
		for iter.SeekToLast(); iter.Valid(); iter.Prev() {
			currentIndex = iter.Record().EntryID
			if currentIndex <= lastKept {
				break
			}
			if err := iter.TruncateEntry(); err != nil {
				return err
			}
		}
		if err := iter.Err(); err != nil {
			return err
		}
	}

	f.currentSync = &LogSync{LastIndex: f.mem.GetLastLogIndex(), table: f.table}
	f.metrics.addTruncatedEntries(int(dropped))
	return f.table.Sync()
}

// TakeSync swaps out the pending durability handle so the caller can
// Wait on it later without holding up new appends.
func (f *FileLog) TakeSync() *LogSync {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.currentSync.LastIndex = f.mem.GetLastLogIndex()
	other := &LogSync{LastIndex: f.mem.GetLastLogIndex(), table: f.table}
	other, f.currentSync = f.currentSync, other
	return other
}

// SetRaftMeta persists the durable Raft state through the manifest.
func (f *FileLog) SetRaftMeta(meta floydpb.RaftMeta) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.manifest == nil {
		return ErrShutdown
	}
	f.manifest.meta.Raft = meta
	return f.manifest.Save()
}

// RaftMeta returns the durable Raft state recovered from the manifest.
func (f *FileLog) RaftMeta() floydpb.RaftMeta {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.manifest == nil {
		return floydpb.RaftMeta{}
	}
	return f.manifest.meta.Raft
}

// GetEntry returns the entry at index. An out-of-range index is a
// programming error and panics.
func (f *FileLog) GetEntry(index uint64) *floydpb.Entry {
	return f.mem.GetEntry(index)
}

// GetStartLogIndex returns the first held index, 0 when empty.
func (f *FileLog) GetStartLogIndex() uint64 { return f.mem.GetStartLogIndex() }

// GetLastLogIndex returns the last held index, 0 when empty.
func (f *FileLog) GetLastLogIndex() uint64 { return f.mem.GetLastLogIndex() }

// GetSizeBytes returns the cumulative serialized size of the held
// entries.
func (f *FileLog) GetSizeBytes() uint64 { return f.mem.GetSizeBytes() }

// Close updates the manifest one last time and syncs both the
// manifest and the active segment.
func (f *FileLog) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var firstErr error
	if f.manifest != nil {
		if err := f.manifest.Update(f.mem.GetStartLogIndex(), f.mem.GetLastLogIndex()); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := f.manifest.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		f.manifest = nil
	}
	if f.table != nil {
		if err := f.table.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		f.table = nil
	}
	return firstErr
}
