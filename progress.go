package packstream

// ProgressEvent represents a progress update during a package build.
type ProgressEvent struct {
	// Stage identifies the current phase of the build.
	Stage ProgressStage

	// Entry is the entry currently streaming, if applicable.
	Entry string

	// BytesDone is the number of payload bytes sent so far, header
	// excluded.
	BytesDone uint64

	// BytesTotal is the projected total payload bytes. Deferred entry
	// sizes make this an estimate.
	BytesTotal uint64

	// EntriesDone is the number of entries fully streamed.
	EntriesDone int

	// EntriesTotal is the total number of entries.
	EntriesTotal int
}

// ProgressStage identifies the current phase of a build.
type ProgressStage uint8

const (
	// StageProvisionalHeader indicates the provisional header is being sent.
	StageProvisionalHeader ProgressStage = iota

	// StageContent indicates content items are streaming.
	StageContent

	// StageMetadata indicates the metadata item is regenerating and streaming.
	StageMetadata

	// StageAuxiliary indicates descriptor, asset, and credential entries are streaming.
	StageAuxiliary

	// StageCommit indicates the finalized header is being committed.
	StageCommit
)

// String returns the string representation of the stage.
func (s ProgressStage) String() string {
	switch s {
	case StageProvisionalHeader:
		return "provisional header"
	case StageContent:
		return "content"
	case StageMetadata:
		return "metadata"
	case StageAuxiliary:
		return "auxiliary"
	case StageCommit:
		return "commit"
	default:
		return "unknown"
	}
}

// ProgressFunc receives progress updates during a build. Calls arrive from
// the building goroutine only.
type ProgressFunc func(ProgressEvent)
