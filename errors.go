package interceptor

import "golang.org/x/xerrors"

var (
	// errLogUnavailable is returned internally when the command log file
	// could not be opened for append. Per the error taxonomy, this must
	// never stop the intercepted process from running; callers should
	// discard it after logging or simply ignore it.
	errLogUnavailable = xerrors.New("command log is unavailable")

	// errFrameTruncated is returned by the frame reader when a
	// length-prefixed record is cut short, e.g. because its writer was
	// killed mid-append. Compaction treats this as end of stream, not a
	// failure.
	errFrameTruncated = xerrors.New("record frame is truncated")
)

// MissingInputError is returned by (*Command).Analyze when the analyzer
// believes a command reads a file that does not exist on disk. This is the
// one analysis failure that is escalated to the caller, since it means the
// model of the build captured by the analyzer is wrong and proceeding would
// produce a misleading log.
type MissingInputError struct {
	Path string
}

func (e *MissingInputError) Error() string {
	return "missing input: " + e.Path
}
