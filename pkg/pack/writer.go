package pack

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
)

type indexEntry struct {
	taskID string
	size   uint32
	offset uint64
}

// Write encodes records into an MLTR package file at path. The file is
// assembled in a temporary sibling and renamed into place, so a concurrent
// reader never observes a partially written package. Index entries keep the
// order of records.
//
// Every record's task id must be exactly 36 printable ASCII bytes (the
// canonical UUID string form). Writing the same records twice produces
// byte-identical files.
func Write(path string, records []*TaskData) error {
	if len(records) == 0 {
		return errors.New("pack: write: no records")
	}
	for _, rec := range records {
		if !validTaskID(rec.TaskID) {
			return fmt.Errorf("pack: write: task id %q is not a 36-byte ASCII id", rec.TaskID)
		}
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("pack: write: create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-")
	if err != nil {
		return fmt.Errorf("pack: write: create temp file: %w", err)
	}
	fail := func(err error) error {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}

	// Placeholder header; the index offset is patched in after the payloads.
	header := make([]byte, HeaderSize)
	copy(header[:4], Magic)
	header[4] = Version
	if _, err := tmp.Write(header); err != nil {
		return fail(fmt.Errorf("pack: write: header: %w", err))
	}

	offset := uint64(HeaderSize)
	entries := make([]indexEntry, 0, len(records))
	for _, rec := range records {
		payload, err := encodePayload(rec)
		if err != nil {
			return fail(err)
		}
		if len(payload) > math.MaxUint32 {
			return fail(fmt.Errorf("pack: write: payload for %s exceeds 4 GiB", rec.TaskID))
		}
		if _, err := tmp.Write(payload); err != nil {
			return fail(fmt.Errorf("pack: write: payload for %s: %w", rec.TaskID, err))
		}
		entries = append(entries, indexEntry{
			taskID: rec.TaskID,
			size:   uint32(len(payload)),
			offset: offset,
		})
		offset += uint64(len(payload))
	}

	indexOffset := offset
	for _, e := range entries {
		var buf [IndexEntrySize]byte
		copy(buf[:taskIDSize], e.taskID)
		binary.BigEndian.PutUint32(buf[taskIDSize:taskIDSize+4], e.size)
		binary.BigEndian.PutUint64(buf[taskIDSize+4:], e.offset)
		if _, err := tmp.Write(buf[:]); err != nil {
			return fail(fmt.Errorf("pack: write: index entry for %s: %w", e.taskID, err))
		}
	}

	binary.BigEndian.PutUint64(header[8:], indexOffset)
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return fail(fmt.Errorf("pack: write: seek to header: %w", err))
	}
	if _, err := tmp.Write(header); err != nil {
		return fail(fmt.Errorf("pack: write: rewrite header: %w", err))
	}

	if err := tmp.Sync(); err != nil {
		return fail(fmt.Errorf("pack: write: sync: %w", err))
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("pack: write: close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("pack: write: rename into place: %w", err)
	}
	return nil
}

func encodePayload(rec *TaskData) ([]byte, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("pack: encode payload for %s: %w", rec.TaskID, err)
	}
	var buf bytes.Buffer
	zw, err := zlib.NewWriterLevel(&buf, zlib.BestCompression)
	if err != nil {
		return nil, fmt.Errorf("pack: encode payload for %s: %w", rec.TaskID, err)
	}
	if _, err := zw.Write(raw); err != nil {
		return nil, fmt.Errorf("pack: deflate payload for %s: %w", rec.TaskID, err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("pack: deflate payload for %s: %w", rec.TaskID, err)
	}
	return buf.Bytes(), nil
}
