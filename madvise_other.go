//go:build !linux && !darwin

package encodeidmap

// madviseSequential is a no-op on platforms without madvise support.
func madviseSequential(b []byte) {}

// madviseRandom is a no-op on platforms without madvise.
func madviseRandom(b []byte) {}
