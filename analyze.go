package interceptor

import (
	"regexp"
	"strings"
)

// AnalysisResult holds the inputs and outputs an extractor recovered from
// an argument vector. It is transient: produced by analyzeCommand, consumed
// by (*Command).Analyze.
type AnalysisResult struct {
	Inputs  []string
	Outputs []string
}

type extractorFunc func(args []string) AnalysisResult

type analyzerEntry struct {
	pattern   *regexp.Regexp
	extractor extractorFunc
}

// analyzers is an ordered (pattern, extractor) registry; the first pattern
// to match arguments[0] wins. Patterns are compiled once at package init
// instead of per call, per spec §9's design note ("compiling regular
// expressions on every exec is wasteful; compile once per process").
var analyzers = []analyzerEntry{
	{
		pattern:   regexp.MustCompile(`^(.*/)?(clang|clang\+\+|gcc|g\+\+|ld(\.lld)?|llvm-strip)$`),
		extractor: extractCompilerLinker,
	},
	{
		pattern:   regexp.MustCompile(`^(.*/)?(llvm-)?ar$`),
		extractor: extractArchiver,
	},
}

// skipNextArgs lists flags whose value is a separate argument that carries
// no input/output semantics of its own (an include or library search path,
// a march flag, a linker soname, etc); that value is consumed and ignored.
var skipNextArgs = map[string]struct{}{
	"-isystem": {},
	"-I":       {},
	"-L":       {},
	"-m":       {},
	"-soname":  {},
	"-z":       {},
}

const depFileOutputPrefix = "-Wp,-MMD,"

// analyzeCommand classifies arguments[0] and dispatches to the matching
// family's extractor. Unrecognized programs yield an empty result — the
// command is still logged, just without inputs/outputs.
func analyzeCommand(args []string) AnalysisResult {
	if len(args) == 0 {
		return AnalysisResult{}
	}
	for _, a := range analyzers {
		if a.pattern.MatchString(args[0]) {
			return a.extractor(args)
		}
	}
	return AnalysisResult{}
}

// extractCompilerLinker implements spec §4.4's compiler/linker rules.
// A "/dev/null" or "-" argument anywhere, including as the value of "-o",
// aborts analysis with an empty result. Otherwise per-argument checks are
// evaluated in a fixed order: output-capture
// ("-o"), dependency-file prefix-capture ("-Wp,-MMD,..."), then
// skip-directive consumption — in that order, so that "-o" immediately
// followed by a flag like "-I" still assigns the flag as the output rather
// than swallowing it as an opaque value.
func extractCompilerLinker(args []string) AnalysisResult {
	var result AnalysisResult

	nextIsOutput := false
	skipNext := false

	for _, arg := range args[1:] {
		// Configure-style test compiles: abort and log nothing.
		if arg == "/dev/null" || arg == "-" {
			return AnalysisResult{}
		}
		if arg == "-o" {
			nextIsOutput = true
			continue
		}
		if nextIsOutput {
			result.Outputs = append(result.Outputs, arg)
			nextIsOutput = false
			continue
		}
		if strings.HasPrefix(arg, depFileOutputPrefix) {
			result.Outputs = append(result.Outputs, strings.TrimPrefix(arg, depFileOutputPrefix))
		}
		if skipNext {
			skipNext = false
			continue
		}
		if _, ok := skipNextArgs[arg]; ok {
			skipNext = true
		}
		if strings.HasPrefix(arg, "-") {
			continue
		}
		result.Inputs = append(result.Inputs, arg)
	}

	return result
}

// extractArchiver implements spec §4.4's archiver rules: arguments[1] is
// always treated as opaque flags regardless of its actual content, so a
// malformed invocation silently produces a wrong result. This is
// reproduced as-is (see DESIGN.md); it is not hardened.
func extractArchiver(args []string) AnalysisResult {
	if len(args) < 3 {
		return AnalysisResult{}
	}
	return AnalysisResult{
		Outputs: []string{args[2]},
		Inputs:  append([]string(nil), args[3:]...),
	}
}
