//go:build linux
// +build linux

// Package main builds the shared library that gets LD_PRELOAD'd into every
// process a build spawns. It exports a C-ABI execve that the dynamic linker
// resolves in place of libc's, because execve interception is not something
// that can be expressed as an idiomatic Go function: there is no call
// site in the intercepted process that invokes Go code directly, only a
// symbol the linker is tricked into resolving here instead of in libc.
package main

/*
#cgo LDFLAGS: -ldl

#define _GNU_SOURCE
#include <dlfcn.h>
#include <errno.h>
#include <stddef.h>
#include <stdlib.h>

typedef int (*execve_fn)(const char *filename, char *const argv[], char *const envp[]);

static execve_fn real_execve = NULL;

static void resolve_real_execve(void) {
	real_execve = (execve_fn)dlsym(RTLD_NEXT, "execve");
}

static int call_real_execve(const char *filename, char *const argv[], char *const envp[]) {
	if (real_execve == NULL) {
		errno = ENOSYS;
		return -1;
	}
	return real_execve(filename, argv, envp);
}
*/
import "C"

import (
	"os"
	"sync"
	"unsafe"

	"cdr.dev/interceptor"
)

var resolveOnce sync.Once

// execve is resolved by the dynamic linker in place of libc's execve for
// every process this library is preloaded into. It is called on the
// intercepting thread with the exact arguments the caller passed to
// execve(2); the real execve is invoked with Intercept's (possibly
// rewritten) filename and argv, and its return value and errno are passed
// straight back to the caller, since a successful execve never returns.
//
//export execve
func execve(filename *C.char, argv **C.char, envp **C.char) C.int {
	resolveOnce.Do(func() {
		C.resolve_real_execve()
	})

	goFilename := C.GoString(filename)
	goArgv := goStringSlice(argv)
	goEnvp := goStringSlice(envp)

	cwd, err := os.Getwd()
	if err != nil {
		cwd = ""
	}

	newFilename, newArgv := interceptor.Intercept(goFilename, goArgv, goEnvp, cwd)

	cFilename := C.CString(newFilename)
	defer C.free(unsafe.Pointer(cFilename))

	cArgv, freeArgv := cStringArray(newArgv)
	defer freeArgv()

	return C.call_real_execve(cFilename, cArgv, envp)
}

// goStringSlice copies a NULL-terminated C array of C strings, the shape of
// argv/envp, into a Go []string.
func goStringSlice(p **C.char) []string {
	if p == nil {
		return nil
	}

	var out []string
	for i := 0; ; i++ {
		entry := *(**C.char)(unsafe.Pointer(uintptr(unsafe.Pointer(p)) + uintptr(i)*unsafe.Sizeof(p)))
		if entry == nil {
			break
		}
		out = append(out, C.GoString(entry))
	}
	return out
}

// cStringArray allocates a NULL-terminated C array of C strings mirroring
// ss. The caller must invoke the returned func to release the allocation
// once the array is no longer needed.
func cStringArray(ss []string) (**C.char, func()) {
	n := len(ss)
	size := unsafe.Sizeof((*C.char)(nil))
	arr := C.malloc(C.size_t(n+1) * C.size_t(size))

	base := uintptr(arr)
	ptrs := make([]*C.char, 0, n)
	for i, s := range ss {
		cs := C.CString(s)
		ptrs = append(ptrs, cs)
		*(**C.char)(unsafe.Pointer(base + uintptr(i)*size)) = cs
	}
	*(**C.char)(unsafe.Pointer(base + uintptr(n)*size)) = nil

	free := func() {
		for _, p := range ptrs {
			C.free(unsafe.Pointer(p))
		}
		C.free(arr)
	}
	return (**C.char)(arr), free
}

// main is required for -buildmode=c-shared but is never invoked: this
// binary is only ever dlopen'd by the dynamic linker via LD_PRELOAD.
func main() {}
