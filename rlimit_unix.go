//go:build !windows

package rocksdb

import "syscall"

// osOpenFileLimit returns the process's hard open-file limit.
func osOpenFileLimit() int {
	var rl syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rl); err != nil {
		return maxMaxOpenFiles
	}
	if rl.Max > maxMaxOpenFiles {
		return maxMaxOpenFiles
	}
	return int(rl.Max)
}
