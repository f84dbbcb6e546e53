package interceptor

import (
	"encoding/json"
	"path/filepath"
	"strings"

	"golang.org/x/xerrors"
)

// RootDirEnvVar is the environment variable that the launcher uses to tell
// every intercepted process about the declared build root. The name is part
// of the external contract and must not change.
const RootDirEnvVar = "INTERCEPTOR_root_directory"

// CommandLogEnvVar is the environment variable that the launcher uses to
// tell every intercepted process where to append its record. The name is
// part of the external contract and must not change.
const CommandLogEnvVar = "INTERCEPTOR_command_log"

// Command holds everything captured about one intercepted exec call.
//
// Unlike the C++ original this struct materializes arguments and
// environment variables eagerly at construction: by the time Go code sees
// argv/envp they have already been copied out of the raw C arrays at the
// cgo boundary, so there is no allocation to defer (see spec §9's design
// note that the source's laziness is a micro-optimization, not a
// contract).
type Command struct {
	program string
	args    []string
	env     map[string]string

	// origCwd is the working directory as observed at construction time
	// and is never mutated. cwd is the value callers see and may be
	// rewritten to a build-root-relative path by MakeRelative. Keeping
	// them separate is what makes MakeRelative idempotent (P5): every
	// call recomputes from the same fixed reference instead of compounding
	// on top of its own previous rewrite.
	origCwd string
	cwd     string

	inputs  []string
	outputs []string
}

// NewCommand builds a Command from a captured exec call. program is the path
// that was about to be exec'd, argv is the argument vector the child will
// see (argv[0] is conventionally its own name), envp holds "K=V" strings,
// and cwd is the working directory at the moment of interception.
//
// Malformed environment entries (missing "=") are silently dropped, per
// spec: construction never fails.
func NewCommand(program string, argv, envp []string, cwd string) *Command {
	env := make(map[string]string, len(envp))
	for _, kv := range envp {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		env[k] = v
	}

	args := make([]string, len(argv))
	copy(args, argv)

	return &Command{
		program: program,
		args:    args,
		env:     env,
		origCwd: cwd,
		cwd:     cwd,
	}
}

// Program returns the path that was about to be exec'd.
func (c *Command) Program() string { return c.program }

// Arguments returns the argument vector the child process will see.
func (c *Command) Arguments() []string { return c.args }

// EnvironmentVariables returns the environment the command was launched
// with. This is only ever consulted during interception; it must never be
// persisted to the log (see record.go).
func (c *Command) EnvironmentVariables() map[string]string { return c.env }

// CurrentDirectory returns the command's working directory, which may have
// been rewritten relative to the build root by MakeRelative.
func (c *Command) CurrentDirectory() string { return c.cwd }

// Inputs returns the paths the analyzer judged this command to read. Empty
// until Analyze has run.
func (c *Command) Inputs() []string { return c.inputs }

// Outputs returns the paths the analyzer judged this command to write.
// Empty until Analyze has run.
func (c *Command) Outputs() []string { return c.outputs }

// String renders the command for diagnostics: the program and arguments
// joined with spaces, with literal tabs and newlines inside each argument
// escaped so the whole rendering stays on one line.
func (c *Command) String() string {
	var sb strings.Builder
	for i, a := range c.args {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(escapeArg(a))
	}
	return sb.String()
}

func escapeArg(s string) string {
	s = strings.ReplaceAll(s, "\t", `\t`)
	s = strings.ReplaceAll(s, "\n", `\n`)
	return s
}

// debugRecord is the shape behind DebugJSON; it mirrors the
// original_source `Command::repr()` rendering (cmd, in, out, cwd) rather
// than spec.md's plain space-joined String, since the original author
// clearly intended a structured form for the missing-input diagnostic.
type debugRecord struct {
	Cmd string   `json:"cmd"`
	In  []string `json:"in"`
	Out []string `json:"out"`
	Cwd string   `json:"cwd"`
}

// DebugJSON renders the command the way original_source's Command::repr()
// does: a single-line JSON object with the rendered command line, the
// inputs/outputs the analyzer found, and the working directory. It is a
// diagnostics convenience only; it is never persisted (see record.go) and
// has no bearing on the log's wire format.
func (c *Command) DebugJSON() string {
	rec := debugRecord{
		Cmd: c.String(),
		In:  c.inputs,
		Out: c.outputs,
		Cwd: c.cwd,
	}
	if c.inputs == nil {
		rec.In = []string{}
	}
	if c.outputs == nil {
		rec.Out = []string{}
	}
	b, err := json.Marshal(rec)
	if err != nil {
		// json.Marshal on a struct of strings/string-slices cannot fail.
		panic(err)
	}
	return string(b)
}

// MakeRelative rewrites program, arguments and the working directory to be
// relative to the build root declared by RootDirEnvVar, per spec §4.3.
//
// If the root isn't declared in the command's environment, MakeRelative
// does nothing. If the working directory is found to lie outside the root
// — detected with a substring-containment check that is known to produce
// false positives on unrelated paths that merely contain the root string —
// MakeRelative also does nothing. This heuristic is reproduced exactly as
// specified and is not fixed; see
// TestMakeRelative_SkipRuleFalsePositiveAtFilesystemRoot.
func (c *Command) MakeRelative() error {
	root, ok := c.env[RootDirEnvVar]
	if !ok {
		return nil
	}
	if !strings.HasSuffix(root, "/") {
		root += "/"
	}

	relRoot, err := filepath.Rel(c.origCwd, root)
	if err != nil {
		return xerrors.Errorf("compute root relative to cwd: %w", err)
	}
	if !strings.HasSuffix(relRoot, "/") {
		relRoot += "/"
	}
	if relRoot == "./" {
		relRoot = ""
	}

	// Known bug, reproduced intentionally: this is meant to detect "cwd
	// lies outside root" but a substring check can false-positive on an
	// unrelated path that happens to contain the root string.
	if strings.Contains(relRoot, root) {
		return nil
	}

	relCwd, err := filepath.Rel(root, c.origCwd)
	if err != nil {
		return xerrors.Errorf("compute cwd relative to root: %w", err)
	}
	c.cwd = relCwd

	c.program = strings.ReplaceAll(c.program, root, relRoot)
	for i, a := range c.args {
		c.args[i] = strings.ReplaceAll(a, root, relRoot)
	}

	return nil
}

// Analyze classifies the command and fills in Inputs/Outputs. If the
// analyzer judges a claimed input not to exist as a regular file on disk,
// Analyze returns a *MissingInputError; the caller (Intercept) is
// responsible for treating that as fatal, per spec §7 category 2.
func (c *Command) Analyze() error {
	result := analyzeCommand(c.args)

	inputs := make([]string, 0, len(result.Inputs))
	for _, in := range result.Inputs {
		inputs = append(inputs, strings.TrimPrefix(in, "./"))
	}
	outputs := make([]string, 0, len(result.Outputs))
	for _, out := range result.Outputs {
		outputs = append(outputs, strings.TrimPrefix(out, "./"))
	}

	for _, in := range inputs {
		if !isRegularFile(in) {
			return &MissingInputError{Path: in}
		}
	}

	c.inputs = inputs
	c.outputs = outputs
	return nil
}
