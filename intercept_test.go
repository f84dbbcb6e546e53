package interceptor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIntercept_NonRegularFileTargetPassesThrough(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	filename, argv := Intercept(dir, []string{"sh", "-c", "echo hi"}, nil, "/build")
	require.Equal(t, dir, filename)
	require.Equal(t, []string{"sh", "-c", "echo hi"}, argv)
}

func TestIntercept_LogsWhenCommandLogConfigured(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := filepath.Join(dir, "foo.c")
	require.NoError(t, os.WriteFile(src, []byte("int main(){}"), 0o644))

	clang := filepath.Join(dir, "clang")
	require.NoError(t, os.WriteFile(clang, []byte("#!/bin/sh\n"), 0o755))

	logPath := filepath.Join(dir, "commands.log")
	require.NoError(t, Truncate(logPath))

	filename, argv := Intercept(clang,
		[]string{"clang", "-c", src, "-o", "foo.o"},
		[]string{CommandLogEnvVar + "=" + logPath},
		dir)

	require.Equal(t, clang, filename)
	require.Equal(t, []string{"clang", "-c", src, "-o", "foo.o"}, argv)

	b, err := os.ReadFile(logPath)
	require.NoError(t, err)
	require.NotEmpty(t, b)

	require.NoError(t, Compact(logPath, dir))
	b, err = os.ReadFile(logPath)
	require.NoError(t, err)
	log, err := DecodeLog(b)
	require.NoError(t, err)
	require.Len(t, log.Commands, 1)
	require.Equal(t, []string{src}, log.Commands[0].Inputs())
	require.Equal(t, []string{"foo.o"}, log.Commands[0].Outputs())
}

func TestIntercept_MissingInputCallsOsExit(t *testing.T) {
	dir := t.TempDir()

	clang := filepath.Join(dir, "clang")
	require.NoError(t, os.WriteFile(clang, []byte("#!/bin/sh\n"), 0o755))

	exited := false
	var exitCode int
	orig := osExit
	osExit = func(code int) { exited = true; exitCode = code }
	defer func() { osExit = orig }()

	Intercept(clang, []string{"clang", "-c", filepath.Join(dir, "ghost.c")}, nil, dir)

	require.True(t, exited)
	require.Equal(t, 1, exitCode)
}

func TestIntercept_NoCommandLogConfiguredStillSucceeds(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := filepath.Join(dir, "foo.c")
	require.NoError(t, os.WriteFile(src, []byte("int main(){}"), 0o644))

	clang := filepath.Join(dir, "clang")
	require.NoError(t, os.WriteFile(clang, []byte("#!/bin/sh\n"), 0o755))

	filename, argv := Intercept(clang, []string{"clang", "-c", src}, nil, dir)
	require.Equal(t, clang, filename)
	require.Equal(t, []string{"clang", "-c", src}, argv)
}
