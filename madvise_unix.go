//go:build linux || darwin

package encodeidmap

import "golang.org/x/sys/unix"

// madviseSequential hints that a memory-mapped region is about to be
// accessed sequentially, appropriate while a chunk is still being grown and
// filled in order.
func madviseSequential(b []byte) {
	if len(b) == 0 {
		return
	}
	_ = unix.Madvise(b, unix.MADV_SEQUENTIAL)
}

// madviseRandom hints that a memory-mapped region is about to be accessed
// randomly, appropriate once writing has finished and lookups begin.
func madviseRandom(b []byte) {
	if len(b) == 0 {
		return
	}
	_ = unix.Madvise(b, unix.MADV_RANDOM)
}
