package interceptor

import (
	"bufio"
	"errors"
	"io"
	"os"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"
	"google.golang.org/protobuf/encoding/protowire"
)

// Wire schema (documented here rather than in a compiled .proto, since no
// protoc step runs in this build; record.go's marshal/unmarshal functions
// are the authoritative implementation and must be kept in sync with this
// comment):
//
//	message Command {
//	  string program                            = 1;
//	  string current_directory                  = 2;
//	  repeated string arguments                  = 3;
//	  map<string, string> environment_variables  = 4; // never emitted
//	  repeated string inputs                     = 5;
//	  repeated string outputs                    = 6;
//	}
//	message Message {
//	  oneof body {
//	    Command command = 1;
//	  }
//	}
//	message Log {
//	  string root_directory     = 1;
//	  repeated Command commands = 2;
//	}
//
// Fields are read positionally by number, not by struct tag, using
// google.golang.org/protobuf/encoding/protowire directly: a reader that
// doesn't recognize a field number skips it with ConsumeFieldValue, so a
// future writer can add fields without breaking this one (spec §4.1).
const (
	fieldCommandProgram     protowire.Number = 1
	fieldCommandCwd         protowire.Number = 2
	fieldCommandArguments   protowire.Number = 3
	fieldCommandEnvironment protowire.Number = 4
	fieldCommandInputs      protowire.Number = 5
	fieldCommandOutputs     protowire.Number = 6

	fieldMessageCommand protowire.Number = 1

	fieldLogRootDirectory protowire.Number = 1
	fieldLogCommands      protowire.Number = 2
)

// Log is the compacted, build-wide record: one root directory and every
// Command captured during the build, in the order they were appended.
type Log struct {
	RootDirectory string
	Commands      []*Command
}

func marshalCommand(c *Command) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldCommandProgram, protowire.BytesType)
	b = protowire.AppendString(b, c.program)
	b = protowire.AppendTag(b, fieldCommandCwd, protowire.BytesType)
	b = protowire.AppendString(b, c.cwd)
	for _, a := range c.args {
		b = protowire.AppendTag(b, fieldCommandArguments, protowire.BytesType)
		b = protowire.AppendString(b, a)
	}
	// environment_variables is intentionally never written: the log must
	// not persist the process environment (spec §4.2, §8 P2).
	for _, in := range c.inputs {
		b = protowire.AppendTag(b, fieldCommandInputs, protowire.BytesType)
		b = protowire.AppendString(b, in)
	}
	for _, out := range c.outputs {
		b = protowire.AppendTag(b, fieldCommandOutputs, protowire.BytesType)
		b = protowire.AppendString(b, out)
	}
	return b
}

func unmarshalCommand(b []byte) (*Command, error) {
	c := &Command{env: map[string]string{}}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, xerrors.Errorf("consume command field tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch num {
		case fieldCommandProgram:
			v, m := protowire.ConsumeString(b)
			if m < 0 {
				return nil, xerrors.Errorf("consume program: %w", protowire.ParseError(m))
			}
			c.program = v
			b = b[m:]
		case fieldCommandCwd:
			v, m := protowire.ConsumeString(b)
			if m < 0 {
				return nil, xerrors.Errorf("consume current_directory: %w", protowire.ParseError(m))
			}
			c.cwd = v
			c.origCwd = v
			b = b[m:]
		case fieldCommandArguments:
			v, m := protowire.ConsumeString(b)
			if m < 0 {
				return nil, xerrors.Errorf("consume argument: %w", protowire.ParseError(m))
			}
			c.args = append(c.args, v)
			b = b[m:]
		case fieldCommandInputs:
			v, m := protowire.ConsumeString(b)
			if m < 0 {
				return nil, xerrors.Errorf("consume input: %w", protowire.ParseError(m))
			}
			c.inputs = append(c.inputs, v)
			b = b[m:]
		case fieldCommandOutputs:
			v, m := protowire.ConsumeString(b)
			if m < 0 {
				return nil, xerrors.Errorf("consume output: %w", protowire.ParseError(m))
			}
			c.outputs = append(c.outputs, v)
			b = b[m:]
		default:
			// fieldCommandEnvironment and any field number a newer writer
			// introduced that this reader doesn't know about yet.
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return nil, xerrors.Errorf("skip unknown command field %d: %w", num, protowire.ParseError(m))
			}
			b = b[m:]
		}
	}
	return c, nil
}

func marshalMessage(c *Command) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldMessageCommand, protowire.BytesType)
	b = protowire.AppendBytes(b, marshalCommand(c))
	return b
}

// unmarshalMessage returns the Command carried by a Message envelope, or
// nil if the message carried no recognized variant (an empty message is
// tolerated, not an error).
func unmarshalMessage(b []byte) (*Command, error) {
	var cmd *Command
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, xerrors.Errorf("consume message field tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch num {
		case fieldMessageCommand:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return nil, xerrors.Errorf("consume command bytes: %w", protowire.ParseError(m))
			}
			c, err := unmarshalCommand(v)
			if err != nil {
				return nil, xerrors.Errorf("unmarshal command: %w", err)
			}
			cmd = c
			b = b[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return nil, xerrors.Errorf("skip unknown message field %d: %w", num, protowire.ParseError(m))
			}
			b = b[m:]
		}
	}
	return cmd, nil
}

func marshalLog(l *Log) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldLogRootDirectory, protowire.BytesType)
	b = protowire.AppendString(b, l.RootDirectory)
	for _, c := range l.Commands {
		b = protowire.AppendTag(b, fieldLogCommands, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalCommand(c))
	}
	return b
}

// appendDelimited writes one varint-length-prefixed frame to w. This is
// the unit of atomic append shared by every concurrent writer (spec §4.5,
// §5).
func appendDelimited(w io.Writer, msg []byte) error {
	buf := protowire.AppendVarint(make([]byte, 0, 10+len(msg)), uint64(len(msg)))
	buf = append(buf, msg...)
	_, err := w.Write(buf)
	return err
}

// readDelimited reads one varint-length-prefixed frame from r. A clean EOF
// at a frame boundary is reported as io.EOF; anything short of a complete
// frame (a writer killed mid-append) is reported as errFrameTruncated, per
// spec §4.8's tolerance for a partial trailing frame.
func readDelimited(r *bufio.Reader) ([]byte, error) {
	length, err := readVarint(r)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, length)
	_, err = io.ReadFull(r, buf)
	if err != nil {
		return nil, xerrors.Errorf("%v: %w", err, errFrameTruncated)
	}
	return buf, nil
}

func readVarint(r *bufio.Reader) (uint64, error) {
	var x uint64
	var s uint
	for i := 0; i < 10; i++ {
		b, err := r.ReadByte()
		if err != nil {
			if i == 0 && errors.Is(err, io.EOF) {
				return 0, io.EOF
			}
			return 0, xerrors.Errorf("%v: %w", err, errFrameTruncated)
		}
		if b < 0x80 {
			return x | uint64(b)<<s, nil
		}
		x |= uint64(b&0x7f) << s
		s += 7
	}
	return 0, xerrors.Errorf("varint too long: %w", errFrameTruncated)
}

// Writer appends one Command at a time to the shared, multi-writer log
// file at path, per spec §4.5 (C5).
type Writer struct {
	path string
}

// NewWriter returns a Writer for the log at path.
func NewWriter(path string) *Writer {
	return &Writer{path: path}
}

// Append serializes c into a Message envelope and appends it to the log
// file as one length-delimited frame. If the file cannot be opened, the
// append is silently skipped (spec §7 category 3) and a wrapped
// errLogUnavailable is returned for the caller to ignore.
//
// The write is performed with an advisory exclusive flock held for its
// duration. A single O_APPEND write of a record this size is already
// atomic on Linux; the lock additionally covers filesystems and platforms
// where that guarantee is weaker, which spec §4.5 allows as the fallback —
// here it's simply always taken, which keeps there from being two code
// paths to maintain.
//
// Unlocking and closing are both attempted even if the write itself
// failed, and any errors from either are folded together with it, the way
// bpfObjects.Close aggregates multiple sub-resource failures into one
// error instead of reporting only the first.
func (w *Writer) Append(c *Command) error {
	f, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return xerrors.Errorf("open command log %q: %w", w.path, errLogUnavailable)
	}

	var result *multierror.Error

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		result = multierror.Append(result, xerrors.Errorf("lock command log %q: %w", w.path, err))
	} else {
		if err := appendDelimited(f, marshalMessage(c)); err != nil {
			result = multierror.Append(result, xerrors.Errorf("append to command log %q: %w", w.path, err))
		}
		if err := unix.Flock(int(f.Fd()), unix.LOCK_UN); err != nil {
			result = multierror.Append(result, xerrors.Errorf("unlock command log %q: %w", w.path, err))
		}
	}

	if err := f.Close(); err != nil {
		result = multierror.Append(result, xerrors.Errorf("close command log %q: %w", w.path, err))
	}

	return result.ErrorOrNil()
}

// Truncate creates (or empties) the log file at path, so that compaction
// can assume the file contains only records from the build about to start
// (spec §4.7).
func Truncate(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	return f.Close()
}

// Compact reads the in-flight log at path as a stream of length-delimited
// Message frames and rewrites the file as a single non-delimited Log value
// with rootDirectory set, per spec §4.8 (C8). A truncated final frame or
// any other framing error stops reading without failing compaction;
// everything read up to that point is preserved. Only an inability to open
// or rewrite the file is returned as an error.
func Compact(path, rootDirectory string) error {
	f, err := os.Open(path)
	if err != nil {
		return xerrors.Errorf("open command log %q for compaction: %w", path, err)
	}

	log := &Log{RootDirectory: rootDirectory}
	r := bufio.NewReader(f)
	for {
		frame, err := readDelimited(r)
		if err != nil {
			break
		}
		cmd, err := unmarshalMessage(frame)
		if err != nil {
			break
		}
		if cmd != nil {
			log.Commands = append(log.Commands, cmd)
		}
	}
	_ = f.Close()

	out := marshalLog(log)
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return xerrors.Errorf("write compacted command log %q: %w", path, err)
	}
	return nil
}

// DecodeLog parses a compacted Log from its on-disk encoding. It exists
// mainly for tests and for tooling that wants to read back what Compact
// wrote without re-implementing the wire format.
func DecodeLog(b []byte) (*Log, error) {
	log := &Log{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, xerrors.Errorf("consume log field tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch num {
		case fieldLogRootDirectory:
			v, m := protowire.ConsumeString(b)
			if m < 0 {
				return nil, xerrors.Errorf("consume root_directory: %w", protowire.ParseError(m))
			}
			log.RootDirectory = v
			b = b[m:]
		case fieldLogCommands:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return nil, xerrors.Errorf("consume command bytes: %w", protowire.ParseError(m))
			}
			cmd, err := unmarshalCommand(v)
			if err != nil {
				return nil, xerrors.Errorf("unmarshal command: %w", err)
			}
			log.Commands = append(log.Commands, cmd)
			b = b[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return nil, xerrors.Errorf("skip unknown log field %d: %w", num, protowire.ParseError(m))
			}
			b = b[m:]
		}
	}
	return log, nil
}
