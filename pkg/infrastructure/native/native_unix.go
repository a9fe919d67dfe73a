//go:build unix

package native

import "golang.org/x/sys/unix"

func mapRegion(size int) ([]byte, bool) {
	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, false
	}
	return data, true
}

func unmapRegion(data []byte) bool {
	return unix.Munmap(data) == nil
}
