//go:build !unix

package page

import "os"

func systemPageSize() int {
	return os.Getpagesize()
}
