//go:build unix

package page

import "golang.org/x/sys/unix"

func systemPageSize() int {
	return unix.Getpagesize()
}
