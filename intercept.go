package interceptor

import (
	"fmt"
	"os"
)

// osExit is called on the intercept-fatal path (spec §7 category 2). It is
// a package variable so tests can observe the fatal path without actually
// terminating the test binary.
var osExit = os.Exit

// Intercept is the pure-Go decision logic behind the preloaded exec hook
// (C6). Given the program, argv and envp a process was about to exec, and
// its current working directory, it builds a Command, normalizes its
// paths, analyzes it, appends it to the command log if one is configured,
// and returns the (possibly rewritten) program and argv that should
// actually be exec'd.
//
// If filename does not name a regular file, Intercept returns its inputs
// unchanged without building or logging anything — this covers shell
// builtins and other non-file targets that are neither useful nor
// analyzable (spec §4.6 step a, §7 category 4).
//
// If the analyzer believes an input file is missing, Intercept prints a
// diagnostic to stderr and terminates the process with exit status 1
// (spec §7 category 2) instead of returning.
func Intercept(filename string, argv, envp []string, cwd string) (newFilename string, newArgv []string) {
	if !isRegularFile(filename) {
		return filename, argv
	}

	cmd := NewCommand(filename, argv, envp, cwd)

	// Best-effort: a normalization failure must not block the build.
	_ = cmd.MakeRelative()

	if err := cmd.Analyze(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, cmd.DebugJSON())
		osExit(1)
		return filename, argv
	}

	if logPath, ok := cmd.EnvironmentVariables()[CommandLogEnvVar]; ok && logPath != "" {
		// Silently skip on failure (spec §7 category 3): the build must
		// be observed, not perturbed.
		_ = NewWriter(logPath).Append(cmd)
	}

	return cmd.Program(), cmd.Arguments()
}
