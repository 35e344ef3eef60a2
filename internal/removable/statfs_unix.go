//go:build linux || darwin

package removable

import "syscall"

// diskUsage returns total and available bytes of the filesystem at path.
func diskUsage(path string) (total, available uint64) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(path, &st); err != nil {
		return 0, 0
	}
	bsize := uint64(st.Bsize) //nolint:gosec // block size is positive
	return st.Blocks * bsize, st.Bavail * bsize
}
