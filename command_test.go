package interceptor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewCommand_DropsMalformedEnv(t *testing.T) {
	t.Parallel()

	cmd := NewCommand("/usr/bin/clang", []string{"clang", "-c", "foo.c"},
		[]string{"PATH=/bin", "NOEQUALSIGN", "EMPTY="}, "/root")

	env := cmd.EnvironmentVariables()
	require.Equal(t, "/bin", env["PATH"])
	require.Equal(t, "", env["EMPTY"])
	_, ok := env["NOEQUALSIGN"]
	require.False(t, ok, "malformed entry should have been dropped")
}

func TestCommand_String_EscapesTabsAndNewlines(t *testing.T) {
	t.Parallel()

	cmd := NewCommand("/bin/echo", []string{"echo", "a\tb", "c\nd", "plain"}, nil, "/root")
	require.Equal(t, `echo a\tb c\nd plain`, cmd.String())
}

func TestMakeRelative_NoRootConfigured(t *testing.T) {
	t.Parallel()

	cmd := NewCommand("/usr/bin/clang", []string{"clang", "/root/src/foo.c"}, nil, "/root")
	require.NoError(t, cmd.MakeRelative())
	require.Equal(t, "/usr/bin/clang", cmd.Program())
	require.Equal(t, []string{"clang", "/root/src/foo.c"}, cmd.Arguments())
}

func TestMakeRelative_RewritesInPlaceAtRoot(t *testing.T) {
	t.Parallel()

	cmd := NewCommand(
		"clang",
		[]string{"clang", "-c", "-I", "/root/include", "-o", "build/foo.o", "/root/src/foo.c"},
		[]string{RootDirEnvVar + "=/root/"},
		"/root",
	)

	require.NoError(t, cmd.MakeRelative())
	require.Equal(t, "clang", cmd.Program())
	require.Equal(t, []string{"clang", "-c", "-I", "include", "-o", "build/foo.o", "src/foo.c"}, cmd.Arguments())
	require.Equal(t, ".", cmd.CurrentDirectory())
}

func TestMakeRelative_Idempotent(t *testing.T) {
	t.Parallel()

	cmd := NewCommand(
		"clang",
		[]string{"clang", "-c", "/root/src/foo.c", "-o", "/root/build/foo.o"},
		[]string{RootDirEnvVar + "=/root/"},
		"/root",
	)

	require.NoError(t, cmd.MakeRelative())
	first := append([]string(nil), cmd.Arguments()...)
	firstProgram := cmd.Program()
	firstCwd := cmd.CurrentDirectory()

	require.NoError(t, cmd.MakeRelative())
	require.Equal(t, first, cmd.Arguments())
	require.Equal(t, firstProgram, cmd.Program())
	require.Equal(t, firstCwd, cmd.CurrentDirectory())
}

// TestMakeRelative_SkipsWhenCwdOutsideRoot exercises the intended case for
// the §4.3 step 4 heuristic: when cwd lies outside root, the relative path
// back to root necessarily walks up through ".." and back down through
// root's own named components, which makes the literal root string
// reappear inside relative_root — the substring check happens to catch
// this real case correctly.
func TestMakeRelative_SkipsWhenCwdOutsideRoot(t *testing.T) {
	t.Parallel()

	cmd := NewCommand("clang", []string{"clang", "/a/b/src/foo.c"},
		[]string{RootDirEnvVar + "=/a/b/"}, "/c/d")

	require.NoError(t, cmd.MakeRelative())
	require.Equal(t, []string{"clang", "/a/b/src/foo.c"}, cmd.Arguments(), "no rewriting should occur")
}

// TestMakeRelative_SkipRuleFalsePositiveAtFilesystemRoot documents the
// known false positive in the §4.3 step 4 heuristic (spec §9 Open
// Question, DESIGN.md): it is reproduced exactly, not fixed. When root is
// "/" itself and cwd is any directory below it, relative_root is a run of
// "../" components, which always satisfies the substring check against
// root "/" — so rewriting is disabled for this root even though cwd is,
// trivially, inside it.
func TestMakeRelative_SkipRuleFalsePositiveAtFilesystemRoot(t *testing.T) {
	t.Parallel()

	cmd := NewCommand("clang", []string{"clang", "/src/foo.c"},
		[]string{RootDirEnvVar + "=/"}, "/home/user/proj")

	require.NoError(t, cmd.MakeRelative())
	require.Equal(t, []string{"clang", "/src/foo.c"}, cmd.Arguments(),
		"known bug: root=\"/\" trips the substring skip check for any cwd below it, even though every cwd is inside it")
}

func TestCommand_Analyze_MissingInput(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cmd := NewCommand("clang", []string{"clang", "-c", filepath.Join(dir, "ghost.c")}, nil, dir)

	err := cmd.Analyze()
	require.Error(t, err)
	var missing *MissingInputError
	require.ErrorAs(t, err, &missing)
	require.Equal(t, filepath.Join(dir, "ghost.c"), missing.Path)
}

func TestCommand_Analyze_Success(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := filepath.Join(dir, "foo.c")
	require.NoError(t, os.WriteFile(src, []byte("int main(){}"), 0o644))

	cmd := NewCommand("clang", []string{"clang", "-c", "-o", "foo.o", src}, nil, dir)
	require.NoError(t, cmd.Analyze())
	require.Equal(t, []string{src}, cmd.Inputs())
	require.Equal(t, []string{"foo.o"}, cmd.Outputs())
}

func TestCommand_DebugJSON(t *testing.T) {
	t.Parallel()

	cmd := NewCommand("clang", []string{"clang", "-c", "foo.c"}, nil, "/root")
	require.Contains(t, cmd.DebugJSON(), `"cmd":"clang -c foo.c"`)
	require.Contains(t, cmd.DebugJSON(), `"cwd":"/root"`)
}
