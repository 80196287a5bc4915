//go:build linux

package vfs

import (
	"os"
	"syscall"
)

// OpenDirect opens name with O_DIRECT. Filesystems that do not support
// direct I/O (tmpfs, some network mounts) fail the open with EINVAL, which
// the caller uses to probe support.
func (*osFS) OpenDirect(name string) (SequentialFile, error) {
	f, err := os.OpenFile(name, os.O_RDONLY|syscall.O_DIRECT, 0)
	if err != nil {
		return nil, err
	}
	return f, nil
}
