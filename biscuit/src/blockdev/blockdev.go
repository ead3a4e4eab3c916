// Package blockdev abstracts the byte-addressable backing store the swap
// manager reads and writes, generalizing the teacher's disk-driver
// interfaces (ahci, previously present in this tree) down to the read,
// write and size operations swap.Manager actually needs.
package blockdev

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

/// Device is anything the swap manager can page out to and in from: a byte
/// range addressed by offset, sized in defs.PageSize slots.
type Device interface {
	/// ReadAt reads len(p) bytes starting at byte offset off.
	ReadAt(p []byte, off int64) (int, error)
	/// WriteAt writes p at byte offset off.
	WriteAt(p []byte, off int64) (int, error)
	/// Size reports the device's total capacity in bytes.
	Size() int64
}

/// FileDevice backs a Device with a regular file or block device node,
/// using pread(2)/pwrite(2) directly (via golang.org/x/sys/unix) rather
/// than a shared file offset, since swap I/O is issued concurrently from
/// multiple goroutines.
type FileDevice struct {
	fd   int
	size int64
	path string
}

/// OpenFileDevice opens path, which must already exist and be at least
/// size bytes, for direct pread/pwrite access.
func OpenFileDevice(path string, size int64) (*FileDevice, error) {
	fd, err := unix.Open(path, unix.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("blockdev: open %s: %w", path, err)
	}
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("blockdev: stat %s: %w", path, err)
	}
	if st.Size < size {
		unix.Close(fd)
		return nil, fmt.Errorf("blockdev: %s is %d bytes, need at least %d", path, st.Size, size)
	}
	return &FileDevice{fd: fd, size: size, path: path}, nil
}

func (d *FileDevice) ReadAt(p []byte, off int64) (int, error) {
	return unix.Pread(d.fd, p, off)
}

func (d *FileDevice) WriteAt(p []byte, off int64) (int, error) {
	return unix.Pwrite(d.fd, p, off)
}

func (d *FileDevice) Size() int64 {
	return d.size
}

/// Close releases the underlying file descriptor.
func (d *FileDevice) Close() error {
	return unix.Close(d.fd)
}

/// MemDevice is an in-memory Device, used by tests and by hosts with no
/// disk to page to (equivalent to biscuit running with swapping disabled).
type MemDevice struct {
	buf []byte
}

/// NewMemDevice allocates an in-memory device of the given size.
func NewMemDevice(size int64) *MemDevice {
	return &MemDevice{buf: make([]byte, size)}
}

func (d *MemDevice) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > int64(len(d.buf)) {
		return 0, os.ErrInvalid
	}
	return copy(p, d.buf[off:]), nil
}

func (d *MemDevice) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > int64(len(d.buf)) {
		return 0, os.ErrInvalid
	}
	return copy(d.buf[off:], p), nil
}

func (d *MemDevice) Size() int64 {
	return int64(len(d.buf))
}
