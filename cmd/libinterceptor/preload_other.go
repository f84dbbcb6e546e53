//go:build !linux
// +build !linux

// This platform has no LD_PRELOAD-equivalent implemented here; the build
// tag keeps the module building elsewhere while cmd/interceptor-launcher's
// preload-library lookup simply never succeeds, failing with a
// configuration error per spec §7 category 1.
package main

func main() {}
