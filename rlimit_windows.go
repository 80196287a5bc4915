//go:build windows

package rocksdb

// osOpenFileLimit returns the assumed handle limit; Windows has no rlimit.
func osOpenFileLimit() int {
	return maxMaxOpenFiles
}
