package main

import (
	"context"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/kballard/go-shellquote"
	"github.com/spf13/cobra"
	"golang.org/x/xerrors"

	"cdr.dev/interceptor"
	"cdr.dev/interceptor/internal/obslog"
)

// Sysexit codes, per spec §6's launcher CLI contract.
const (
	exConfig    = 78 // preload library could not be located
	exCantCreat = 73 // log file could not be created
)

var errPreloadNotFound = xerrors.New("preload library not found")

func main() {
	err := rootCmd().Execute()
	if err != nil {
		if xerrors.Is(err, errPreloadNotFound) {
			log.Printf("interceptor-launcher: %+v", err)
			os.Exit(exConfig)
		}
		var cantCreate *cantCreateLogError
		if xerrors.As(err, &cantCreate) {
			log.Printf("interceptor-launcher: %+v", err)
			os.Exit(exCantCreat)
		}

		var exit *exec.ExitError
		if xerrors.As(err, &exit) {
			os.Exit(exit.ExitCode())
		}

		log.Fatalf("interceptor-launcher: %+v", err)
	}
}

type cantCreateLogError struct {
	path string
	err  error
}

func (e *cantCreateLogError) Error() string {
	return xerrors.Errorf("create command log %q: %w", e.path, e.err).Error()
}

func (e *cantCreateLogError) Unwrap() error { return e.err }

func rootCmd() *cobra.Command {
	var (
		commandLog string
		verbose    bool
	)

	cmd := &cobra.Command{
		Use:                   "interceptor-launcher [-l|--command-log PATH] -- <command words...>",
		Short:                 "Run a build under the interceptor and record every tool invocation it makes.",
		DisableFlagsInUseLine: true,
		Args:                  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(args, commandLog, verbose)
		},
	}

	cmd.Flags().StringVarP(&commandLog, "command-log", "l", "", "Path to the shared command log to populate during the build")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Log the resolved preload library, build root and build command line to stderr")

	return cmd
}

func run(words []string, commandLog string, verbose bool) error {
	obs := obslog.New(os.Stderr)

	preloadPath, err := findPreloadLibrary()
	if err != nil {
		return err
	}
	if verbose {
		obs.Debug(context.Background(), "resolved preload library", obslog.F("path", preloadPath))
	}

	root := os.Getenv("ROOT_DIR")
	if root == "" {
		root, err = os.Getwd()
		if err != nil {
			return xerrors.Errorf("determine working directory: %w", err)
		}
	}
	if verbose {
		obs.Debug(context.Background(), "resolved build root", obslog.F("root", root))
	}

	env := append(os.Environ(),
		"LD_PRELOAD="+preloadPath,
		interceptor.RootDirEnvVar+"="+root,
	)

	if commandLog != "" {
		if err := interceptor.Truncate(commandLog); err != nil {
			return &cantCreateLogError{path: commandLog, err: err}
		}
		env = append(env, interceptor.CommandLogEnvVar+"="+commandLog)
	}

	cmdLine := strings.Join(words, " ")
	if verbose {
		obs.Debug(context.Background(), "launching build", obslog.F("command", shellquote.Join(words...)))
	}

	build := exec.Command("/bin/sh", "-c", cmdLine)
	build.Env = env
	build.Stdin = os.Stdin
	build.Stdout = os.Stdout
	build.Stderr = os.Stderr

	runErr := build.Run()

	if commandLog != "" {
		if err := interceptor.Compact(commandLog, root); err != nil {
			obs.Error(context.Background(), "failed to compact command log", obslog.Error(err), obslog.F("path", commandLog))
		}
	}

	return runErr
}

// findPreloadLibrary resolves <exe>/../lib64/libinterceptor.so relative to
// the launcher's own executable, following symlinks until a regular file
// is reached, per spec §4.7 and the install layout in §6.
func findPreloadLibrary() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", xerrors.Errorf("determine own executable path: %w", err)
	}
	exe, err = filepath.EvalSymlinks(exe)
	if err != nil {
		return "", xerrors.Errorf("resolve own executable path: %w", err)
	}

	candidate := filepath.Join(filepath.Dir(exe), "..", "lib64", "libinterceptor.so")
	resolved, err := filepath.EvalSymlinks(candidate)
	if err != nil {
		return "", xerrors.Errorf("%q: %w", candidate, errPreloadNotFound)
	}

	fi, err := os.Stat(resolved)
	if err != nil || !fi.Mode().IsRegular() {
		return "", xerrors.Errorf("%q: %w", resolved, errPreloadNotFound)
	}
	return resolved, nil
}
