package pack

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"golang.org/x/exp/mmap"
)

// Reader provides random access to the payloads of an MLTR package file
// through a read-only memory map. The map and the in-memory index are
// immutable after [Open], so a Reader is safe for concurrent use without
// locking.
type Reader struct {
	ra    *mmap.ReaderAt
	index map[string]indexEntry
	order []string
}

// Open memory-maps the package file at path, validates the header, and
// parses the index. The file stays mapped until [Reader.Close].
func Open(path string) (*Reader, error) {
	ra, err := mmap.Open(path)
	if err != nil {
		return nil, fmt.Errorf("pack: open %s: %w", path, err)
	}
	r := &Reader{ra: ra, index: make(map[string]indexEntry)}
	if err := r.parse(); err != nil {
		ra.Close()
		return nil, fmt.Errorf("pack: open %s: %w", path, err)
	}
	return r, nil
}

func (r *Reader) parse() error {
	size := uint64(r.ra.Len())
	if size < HeaderSize {
		return fmt.Errorf("file is %d bytes, smaller than the fixed header: %w", size, ErrBadMagic)
	}

	header := make([]byte, HeaderSize)
	if _, err := r.ra.ReadAt(header, 0); err != nil {
		return fmt.Errorf("read header: %w", err)
	}
	if string(header[:4]) != Magic {
		return fmt.Errorf("magic %q: %w", header[:4], ErrBadMagic)
	}
	if header[4] != Version {
		return fmt.Errorf("version %d: %w", header[4], ErrUnsupportedVersion)
	}

	indexOffset := binary.BigEndian.Uint64(header[8:])
	if indexOffset < HeaderSize || indexOffset > size {
		return fmt.Errorf("index offset %d outside file of %d bytes: %w", indexOffset, size, ErrTruncatedIndex)
	}
	indexLen := size - indexOffset
	if indexLen%IndexEntrySize != 0 {
		return fmt.Errorf("index region of %d bytes is not a whole number of entries: %w", indexLen, ErrTruncatedIndex)
	}

	raw := make([]byte, indexLen)
	if _, err := r.ra.ReadAt(raw, int64(indexOffset)); err != nil {
		return fmt.Errorf("read index: %w", err)
	}
	for i := range int(indexLen / IndexEntrySize) {
		entry := raw[i*IndexEntrySize : (i+1)*IndexEntrySize]
		id := string(bytes.TrimRight(entry[:taskIDSize], "\x00"))
		payloadSize := binary.BigEndian.Uint32(entry[taskIDSize : taskIDSize+4])
		payloadOffset := binary.BigEndian.Uint64(entry[taskIDSize+4:])
		if payloadOffset < HeaderSize || payloadOffset > indexOffset || uint64(payloadSize) > indexOffset-payloadOffset {
			return fmt.Errorf("entry %s spans %d bytes at offset %d outside payload region [%d, %d): %w",
				id, payloadSize, payloadOffset, HeaderSize, indexOffset, ErrEntryOverflow)
		}
		if _, dup := r.index[id]; !dup {
			r.order = append(r.order, id)
		}
		r.index[id] = indexEntry{taskID: id, size: payloadSize, offset: payloadOffset}
	}
	return nil
}

// Get decodes and returns the payload stored for taskID. It returns
// [ErrTaskNotFound] when the id is absent from the index.
func (r *Reader) Get(taskID string) (*TaskData, error) {
	entry, ok := r.index[taskID]
	if !ok {
		return nil, fmt.Errorf("pack: get %s: %w", taskID, ErrTaskNotFound)
	}

	compressed := make([]byte, entry.size)
	if _, err := r.ra.ReadAt(compressed, int64(entry.offset)); err != nil {
		return nil, fmt.Errorf("pack: get %s: read payload: %w", taskID, err)
	}

	zr, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("pack: get %s: %w: %v", taskID, ErrDecompressFailed, err)
	}
	defer zr.Close()
	raw, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("pack: get %s: %w: %v", taskID, ErrDecompressFailed, err)
	}

	var data TaskData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("pack: get %s: %w: payload is not valid JSON: %v", taskID, ErrDecompressFailed, err)
	}
	return &data, nil
}

// Query returns the text stored for taskID under the given source and
// language. The boolean reports whether the language is present; a missing
// task id is reported as [ErrTaskNotFound].
func (r *Reader) Query(taskID string, src Source, lang string) (string, bool, error) {
	data, err := r.Get(taskID)
	if err != nil {
		return "", false, err
	}
	text, ok := data.Get(src, lang)
	return text, ok, nil
}

// TaskIDs returns every task id in the package in index order.
func (r *Reader) TaskIDs() []string {
	return append([]string(nil), r.order...)
}

// Len returns the number of tasks in the package.
func (r *Reader) Len() int {
	return len(r.order)
}

// Close unmaps the file. The Reader must not be used afterwards.
func (r *Reader) Close() error {
	return r.ra.Close()
}
