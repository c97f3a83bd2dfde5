package floyd

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/floydgo/floyd/floydpb"
)

const (
	// idLength is the size of the entry id leading every record frame
	idLength = 8

	// offsetLength is the size of the length and back offset fields
	offsetLength = 4

	// tableHeaderLength is the fixed segment header size
	tableHeaderLength = 24

	// scratchSize is the stack buffer used to serialize a frame when
	// it fits, a transient heap buffer is allocated otherwise
	scratchSize = 4096
)

// tableHeader is the fixed little-endian header of a segment file.
// filesize is the total valid byte length including the header itself,
// appends land past filesize and the header is rewritten afterwards.
type tableHeader struct {
	entryStart uint64
	entryEnd   uint64
	filesize   uint64
}

// Table is one segment file: a fixed header followed by framed entry
// records. It owns the file handle and the record (de)serialization.
type Table struct {
	path   string
	file   *os.File
	header tableHeader
}

// OpenTable opens the segment at path, reading its header when the
// file already exists and initializing a fresh one otherwise. A header
// that cannot be read back is surfaced as ErrCorruptedSegment.
func OpenTable(path string) (*Table, error) {
	_, statErr := os.Stat(path)
	exist := statErr == nil

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("fail to open segment %s: %w", path, err)
	}

	t := &Table{path: path, file: file}
	if exist {
		if err := t.readHeader(); err != nil {
			_ = file.Close()
			return nil, fmt.Errorf("%w: %s: %v", ErrCorruptedSegment, path, err)
		}
		// A segment created but never appended to may carry a zero
		// header, records always start past the header bytes.
		if t.header.filesize < tableHeaderLength {
			t.header.filesize = tableHeaderLength
		}
		return t, nil
	}

	t.header = tableHeader{filesize: tableHeaderLength}
	if err := t.writeHeader(); err != nil {
		_ = file.Close()
		return nil, err
	}
	return t, nil
}

// EntryStart returns the first entry index covered by this segment.
func (t *Table) EntryStart() uint64 { return t.header.entryStart }

// EntryEnd returns the last entry index covered by this segment.
func (t *Table) EntryEnd() uint64 { return t.header.entryEnd }

// Filesize returns the total valid byte length including the header.
func (t *Table) Filesize() uint64 { return t.header.filesize }

// isEmpty reports whether no record has been appended yet.
func (t *Table) isEmpty() bool { return t.header.filesize <= tableHeaderLength }

// setStart marks a fresh segment as starting at index, used when the
// previous segment was rotated out.
func (t *Table) setStart(index uint64) error {
	t.header.entryStart = index
	t.header.entryEnd = index
	return t.writeHeader()
}

func (t *Table) readHeader() error {
	var buf [tableHeaderLength]byte
	if _, err := t.file.ReadAt(buf[:], 0); err != nil {
		return err
	}
	t.header.entryStart = binary.LittleEndian.Uint64(buf[0:])
	t.header.entryEnd = binary.LittleEndian.Uint64(buf[8:])
	t.header.filesize = binary.LittleEndian.Uint64(buf[16:])
	return nil
}

func (t *Table) writeHeader() error {
	var buf [tableHeaderLength]byte
	binary.LittleEndian.PutUint64(buf[0:], t.header.entryStart)
	binary.LittleEndian.PutUint64(buf[8:], t.header.entryEnd)
	binary.LittleEndian.PutUint64(buf[16:], t.header.filesize)
	if _, err := t.file.WriteAt(buf[:], 0); err != nil {
		return fmt.Errorf("fail to write segment header %s: %w", t.path, err)
	}
	return nil
}

// AppendEntry serializes the entry into a record frame at the current
// tail and commits it by rewriting the header. The frame is invisible
// until the header commits: a failed payload or header write leaves
// entryEnd untouched. Returns the number of bytes written.
func (t *Table) AppendEntry(index uint64, entry *floydpb.Entry) (int, error) {
	if t.isEmpty() {
		if t.header.entryStart != 0 && index != t.header.entryStart {
			return 0, fmt.Errorf("%w: append index %d to empty segment starting at %d", ErrInvalidArgument, index, t.header.entryStart)
		}
	} else if index != t.header.entryEnd+1 {
		return 0, fmt.Errorf("%w: append index %d after entry end %d", ErrInvalidArgument, index, t.header.entryEnd)
	}

	payload := entry.Marshal()
	backOffset := idLength + offsetLength + len(payload)
	frameLen := backOffset + offsetLength

	var scratch [scratchSize]byte
	var buf []byte
	if frameLen <= scratchSize {
		buf = scratch[:frameLen]
	} else {
		buf = make([]byte, frameLen)
	}

	binary.LittleEndian.PutUint64(buf[0:], index)
	binary.LittleEndian.PutUint32(buf[idLength:], uint32(len(payload)))
	copy(buf[idLength+offsetLength:], payload)
	binary.LittleEndian.PutUint32(buf[backOffset:], uint32(backOffset))

	if _, err := t.file.WriteAt(buf, int64(t.header.filesize)); err != nil {
		return 0, fmt.Errorf("fail to append entry %d to %s: %w", index, t.path, err)
	}

	previous := t.header
	if t.isEmpty() && t.header.entryStart == 0 {
		t.header.entryStart = index
	}
	t.header.filesize += uint64(frameLen)
	t.header.entryEnd = index
	if err := t.writeHeader(); err != nil {
		t.header = previous
		return 0, err
	}
	return frameLen, nil
}

// Sync flushes the underlying file to durable storage.
func (t *Table) Sync() error {
	if t.file == nil {
		return nil
	}
	return t.file.Sync()
}

// Close syncs and closes the underlying file.
func (t *Table) Close() error {
	if t.file == nil {
		return nil
	}
	if err := t.file.Sync(); err != nil {
		_ = t.file.Close()
		return err
	}
	err := t.file.Close()
	t.file = nil
	return err
}

// Record is the decoded view of one frame exposed by the iterator.
type Record struct {
	EntryID uint64
	Length  uint32
	Payload []byte
}

// Iterator walks the records of a segment in both directions. A frame
// whose trailing back offset does not match its length terminates the
// walk with an error, the remainder is treated as lost tail.
type Iterator struct {
	table  *Table
	offset uint64
	rec    Record
	valid  bool
	err    error
}

// NewIterator returns a cursor positioned before the first record.
func (t *Table) NewIterator() *Iterator {
	return &Iterator{table: t}
}

// Valid reports whether the cursor points at a record.
func (i *Iterator) Valid() bool { return i.valid }

// Err returns the error that terminated the walk, if any.
func (i *Iterator) Err() error { return i.err }

// Record returns the record under the cursor.
func (i *Iterator) Record() Record { return i.rec }

// SeekToFirst positions the cursor on the first record.
func (i *Iterator) SeekToFirst() {
	i.err = nil
	i.readAt(tableHeaderLength)
}

// SeekToLast positions the cursor on the last record.
func (i *Iterator) SeekToLast() {
	i.err = nil
	i.readBefore(i.table.header.filesize)
}

// Next advances the cursor forward.
func (i *Iterator) Next() {
	if !i.valid {
		return
	}
	i.readAt(i.offset + uint64(idLength+2*offsetLength) + uint64(i.rec.Length))
}

// Prev steps the cursor backward using the trailing back offset.
func (i *Iterator) Prev() {
	if !i.valid {
		return
	}
	i.readBefore(i.offset)
}

// TruncateEntry drops the record under the cursor by lowering the
// segment's filesize to the record's first byte and stepping entryEnd
// back. The cursor stays put so Prev reaches the preceding record.
func (i *Iterator) TruncateEntry() error {
	if !i.valid {
		return ErrInvalidArgument
	}
	previous := i.table.header
	i.table.header.filesize = i.offset
	i.table.header.entryEnd = i.rec.EntryID - 1
	if err := i.table.writeHeader(); err != nil {
		i.table.header = previous
		return err
	}
	return nil
}

// readAt decodes the frame starting at offset.
func (i *Iterator) readAt(offset uint64) {
	i.valid = false
	if offset+uint64(idLength+2*offsetLength) > i.table.header.filesize {
		return
	}

	var head [idLength + offsetLength]byte
	if _, err := i.table.file.ReadAt(head[:], int64(offset)); err != nil {
		i.err = fmt.Errorf("%w: read frame at %d: %v", ErrCorruptedSegment, offset, err)
		return
	}
	id := binary.LittleEndian.Uint64(head[0:])
	length := binary.LittleEndian.Uint32(head[idLength:])

	end := offset + uint64(idLength+2*offsetLength) + uint64(length)
	if end > i.table.header.filesize {
		i.err = fmt.Errorf("%w: frame at %d overruns filesize", ErrCorruptedSegment, offset)
		return
	}

	body := make([]byte, uint64(length)+offsetLength)
	if _, err := i.table.file.ReadAt(body, int64(offset+idLength+offsetLength)); err != nil {
		i.err = fmt.Errorf("%w: read frame body at %d: %v", ErrCorruptedSegment, offset, err)
		return
	}
	backOffset := binary.LittleEndian.Uint32(body[length:])
	if uint64(backOffset) != uint64(idLength+offsetLength)+uint64(length) {
		i.err = fmt.Errorf("%w: back offset %d does not frame record %d", ErrCorruptedSegment, backOffset, id)
		return
	}

	i.offset = offset
	i.rec = Record{EntryID: id, Length: length, Payload: body[:length]}
	i.valid = true
}

// readBefore decodes the frame ending right before end.
func (i *Iterator) readBefore(end uint64) {
	i.valid = false
	if end < tableHeaderLength+uint64(idLength+2*offsetLength) {
		return
	}

	var tail [offsetLength]byte
	if _, err := i.table.file.ReadAt(tail[:], int64(end-offsetLength)); err != nil {
		i.err = fmt.Errorf("%w: read back offset at %d: %v", ErrCorruptedSegment, end, err)
		return
	}
	backOffset := binary.LittleEndian.Uint32(tail[:])
	frameLen := uint64(backOffset) + offsetLength
	if frameLen > end-tableHeaderLength {
		i.err = fmt.Errorf("%w: back offset %d overruns segment head", ErrCorruptedSegment, backOffset)
		return
	}
	i.readAt(end - frameLen)
}
