package floyd

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/floydgo/floyd/floydpb"
)

// manifestFileName is the single metadata file of a log directory.
const manifestFileName = "manifest"

// manifest is the metadata file recording the active segment number,
// the persisted entry range and the durable Raft state. The record
// `[log_number u64][length u32][metadata]` is rewritten in place at
// offset 0 on every save.
type manifest struct {
	path      string
	file      *os.File
	logNumber uint64
	meta      floydpb.ManifestMeta
}

// openManifest opens or creates the manifest file at path.
func openManifest(path string) (*manifest, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("fail to open manifest %s: %w", path, err)
	}
	return &manifest{path: path, file: file}, nil
}

// Clear resets the metadata to its bootstrap state: term 1, no vote,
// empty entry range.
func (m *manifest) Clear() {
	m.meta = floydpb.ManifestMeta{
		Raft: floydpb.RaftMeta{CurrentTerm: 1},
	}
}

// Recover reads the record back from disk. An unreadable or
// unparseable record is surfaced as ErrCorruptedManifest so the
// caller can decide the fallback.
func (m *manifest) Recover() error {
	var head [idLength + offsetLength]byte
	if _, err := m.file.ReadAt(head[:], 0); err != nil {
		return fmt.Errorf("%w: read record head: %v", ErrCorruptedManifest, err)
	}
	m.logNumber = binary.LittleEndian.Uint64(head[0:])
	length := binary.LittleEndian.Uint32(head[idLength:])

	body := make([]byte, length)
	if _, err := m.file.ReadAt(body, idLength+offsetLength); err != nil {
		return fmt.Errorf("%w: read record body: %v", ErrCorruptedManifest, err)
	}
	if err := m.meta.Unmarshal(body); err != nil {
		return fmt.Errorf("%w: parse metadata: %v", ErrCorruptedManifest, err)
	}
	return nil
}

// Update sets the persisted entry range and saves.
func (m *manifest) Update(entriesStart, entriesEnd uint64) error {
	m.meta.EntriesStart = entriesStart
	m.meta.EntriesEnd = entriesEnd
	return m.Save()
}

// Save rewrites the whole record at offset 0 and syncs.
func (m *manifest) Save() error {
	body := m.meta.Marshal()
	buf := make([]byte, idLength+offsetLength+len(body))
	binary.LittleEndian.PutUint64(buf[0:], m.logNumber)
	binary.LittleEndian.PutUint32(buf[idLength:], uint32(len(body)))
	copy(buf[idLength+offsetLength:], body)

	if _, err := m.file.WriteAt(buf, 0); err != nil {
		return fmt.Errorf("fail to write manifest %s: %w", m.path, err)
	}
	return m.file.Sync()
}

// Close closes the underlying file.
func (m *manifest) Close() error {
	if m.file == nil {
		return nil
	}
	err := m.file.Close()
	m.file = nil
	return err
}
