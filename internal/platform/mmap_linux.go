//go:build linux

package platform

import (
	"fmt"
	"io"
	"runtime"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// mapped tracks the base address of every live mapping MmapCodeSegment has handed out, so
// MunmapCodeSegment can reject a double-free or a slice that was never mmap'd instead of handing
// an arbitrary address to the munmap syscall.
var (
	mappedMu sync.Mutex
	mapped   = map[uintptr]struct{}{}
)

func addrOf(b []byte) uintptr {
	return uintptr(unsafe.Pointer(&b[0]))
}

// CompilerSupported reports whether this OS/arch pair has a working MmapCodeSegment: the
// Compiler places each function's encoded operation stream in a RWX-mapped page range, and mmap with PROT_EXEC is a
// Linux-only guarantee this module relies on (no macOS/Windows backing implementation is wired).
func CompilerSupported() bool {
	return runtime.GOARCH == "amd64" || runtime.GOARCH == "arm64"
}

// MmapCodeSegment allocates a fresh anonymous, executable mapping of exactly size bytes and
// copies code's content into it. The returned slice's length and capacity both equal size; pass
// it back to MunmapCodeSegment, unmodified in length, to release it.
func MmapCodeSegment(code io.Reader, size int) ([]byte, error) {
	if size == 0 {
		panic("BUG: MmapCodeSegment with zero length")
	}
	mmapped, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE|unix.PROT_EXEC, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("mmap: %w", err)
	}
	if _, err := io.ReadFull(code, mmapped); err != nil {
		_ = unix.Munmap(mmapped)
		return nil, fmt.Errorf("mmap: reading code into mapped region: %w", err)
	}
	mappedMu.Lock()
	mapped[addrOf(mmapped)] = struct{}{}
	mappedMu.Unlock()
	return mmapped, nil
}

// MunmapCodeSegment releases a mapping previously returned by MmapCodeSegment. Calling it twice
// on the same slice, or on a slice that was never mapped, returns an error rather than panicking,
// since by then the Code Memory Manager has no way to tell the difference from a caller bug.
func MunmapCodeSegment(code []byte) error {
	if len(code) == 0 {
		panic("BUG: MunmapCodeSegment with zero length")
	}
	addr := addrOf(code)
	mappedMu.Lock()
	_, ok := mapped[addr]
	if ok {
		delete(mapped, addr)
	}
	mappedMu.Unlock()
	if !ok {
		return fmt.Errorf("munmap: %#x was not returned by MmapCodeSegment, or was already unmapped", addr)
	}
	return unix.Munmap(code)
}
