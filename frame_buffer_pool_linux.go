//go:build linux

package pdfviewport

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// shmDir mirrors where CPython's multiprocessing.shared_memory places its
// POSIX shared-memory segments on Linux, which is what original_source's
// main_v2.py relies on for its buffer names to be attachable from the
// executor process.
const shmDir = "/dev/shm"

// newSharedBuffer creates (or truncates+reuses) a POSIX shared-memory
// segment at /dev/shm/<name>, sizes it to size bytes, and maps it
// MAP_SHARED so writes are visible to any other process that opens the same
// path and mmaps it. This is the real cross-process backing for
// FrameBufferPool's named buffers (spec §4.D, §6).
func newSharedBuffer(name string, size int) (*sharedBuffer, error) {
	path := shmDir + "/" + name

	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	if err := file.Truncate(int64(size)); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("truncate %s: %w", path, err)
	}

	data, err := unix.Mmap(int(file.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}

	closeFn := func() error {
		munmapErr := unix.Munmap(data)
		removeErr := os.Remove(path)
		if munmapErr != nil {
			return fmt.Errorf("munmap %s: %w", path, munmapErr)
		}
		if removeErr != nil && !os.IsNotExist(removeErr) {
			return fmt.Errorf("unlink %s: %w", path, removeErr)
		}
		return nil
	}

	return &sharedBuffer{name: name, bytes: data, close: closeFn}, nil
}
