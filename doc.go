// Package interceptor observes the tool invocations made by a native build
// by interposing the exec system call in every spawned child process. It
// normalizes paths relative to a declared build root, classifies compiler,
// linker and archiver invocations to recover the files they read and write,
// and appends one record per intercepted exec to a shared command log that a
// downstream tool (out of scope here) can turn into a compilation database.
package interceptor
