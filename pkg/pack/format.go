// Package pack implements the MLTR binary container that holds the finished
// translations of one or more tasks. Files are written once, atomically, and
// thereafter read through a shared read-only memory map.
//
// Layout (all integers big-endian):
//
//	offset 0                 header, fixed 16 bytes:
//	                           magic "MLTR" | version (1 byte) | 3 reserved bytes
//	                           | index offset (uint64)
//	offset 16                payload blocks, one per task: zlib-deflated JSON
//	                           {"task_id": …, "translations": {"TEXT"|"AUDIO": {lang: text}}}
//	offset index_offset      index entries, fixed 48 bytes each:
//	                           task id (36 ASCII bytes) | size (uint32) | offset (uint64)
//
// Index entries appear in insertion order. JSON object keys are emitted
// sorted, so rewriting the same records yields a byte-identical file.
package pack

import "errors"

const (
	// Magic identifies an MLTR package file.
	Magic = "MLTR"

	// Version is the only container version this codec reads and writes.
	Version = 1

	// HeaderSize is the fixed byte length of the file header.
	HeaderSize = 16

	// IndexEntrySize is the fixed byte length of one index entry.
	IndexEntrySize = 48

	// taskIDSize is the exact byte length of a task id in an index entry,
	// sized for the canonical UUID string form.
	taskIDSize = 36
)

// Reader-side errors. All are non-retriable; a corrupt file is never
// auto-repaired.
var (
	// ErrBadMagic means the file does not start with the MLTR magic.
	ErrBadMagic = errors.New("pack: bad magic")

	// ErrUnsupportedVersion means the container version is not 1.
	ErrUnsupportedVersion = errors.New("pack: unsupported version")

	// ErrTruncatedIndex means the index offset or index length is
	// inconsistent with the file size.
	ErrTruncatedIndex = errors.New("pack: truncated index")

	// ErrEntryOverflow means an index entry points outside the payload
	// region.
	ErrEntryOverflow = errors.New("pack: index entry overflows payload region")

	// ErrDecompressFailed means a payload block could not be inflated or
	// decoded.
	ErrDecompressFailed = errors.New("pack: decompress failed")

	// ErrTaskNotFound means the requested task id is absent from the index.
	ErrTaskNotFound = errors.New("pack: task not found")
)

// Source distinguishes where a stored translation came from.
type Source string

const (
	// SourceText holds translations of the task's source text or transcript.
	SourceText Source = "TEXT"

	// SourceAudio holds the raw transcript, recorded per requested language.
	SourceAudio Source = "AUDIO"
)

// IsValid reports whether s is a recognised source.
func (s Source) IsValid() bool {
	return s == SourceText || s == SourceAudio
}

// TaskData is one task's payload: every stored string keyed by source and
// language code.
type TaskData struct {
	TaskID       string                       `json:"task_id"`
	Translations map[Source]map[string]string `json:"translations"`
}

// NewTaskData returns an empty payload for the given task id.
func NewTaskData(taskID string) *TaskData {
	return &TaskData{
		TaskID:       taskID,
		Translations: make(map[Source]map[string]string),
	}
}

// Add stores text under the given source and language, replacing any
// previous value.
func (d *TaskData) Add(src Source, lang, text string) {
	if d.Translations == nil {
		d.Translations = make(map[Source]map[string]string)
	}
	langs := d.Translations[src]
	if langs == nil {
		langs = make(map[string]string)
		d.Translations[src] = langs
	}
	langs[lang] = text
}

// Get returns the text stored under the given source and language.
func (d *TaskData) Get(src Source, lang string) (string, bool) {
	langs, ok := d.Translations[src]
	if !ok {
		return "", false
	}
	text, ok := langs[lang]
	return text, ok
}

func validTaskID(id string) bool {
	if len(id) != taskIDSize {
		return false
	}
	for i := range len(id) {
		if id[i] <= 0x20 || id[i] >= 0x7f {
			return false
		}
	}
	return true
}
