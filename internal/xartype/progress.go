package xartype

// ProgressEvent reports progress while adding, writing, extracting or
// verifying members.
type ProgressEvent struct {
	Stage ProgressStage

	// Path is the member being processed, if any.
	Path string

	BytesDone  uint64
	BytesTotal uint64

	FilesDone int

	// FilesTotal is zero when the total is not known yet.
	FilesTotal int
}

// ProgressStage identifies the phase of an operation.
type ProgressStage uint8

const (
	// StageEnumerating indicates a source tree is being walked.
	StageEnumerating ProgressStage = iota

	// StageCompressing indicates a payload is being encoded into the heap.
	StageCompressing

	// StageWritingTOC indicates the container is being finalized.
	StageWritingTOC

	// StageExtracting indicates members are being written to disk.
	StageExtracting

	// StageVerifying indicates payloads are being checked against their digests.
	StageVerifying
)

func (s ProgressStage) String() string {
	switch s {
	case StageEnumerating:
		return "enumerating"
	case StageCompressing:
		return "compressing"
	case StageWritingTOC:
		return "writing toc"
	case StageExtracting:
		return "extracting"
	case StageVerifying:
		return "verifying"
	default:
		return "unknown"
	}
}

// ProgressFunc receives progress updates.
// Implementations must be safe for concurrent calls.
type ProgressFunc func(ProgressEvent)
