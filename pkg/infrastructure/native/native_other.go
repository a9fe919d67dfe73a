//go:build !unix

package native

// mapRegion falls back to the Go heap. Sizes the runtime refuses yield nil.
func mapRegion(size int) (data []byte, mapped bool) {
	defer func() {
		if recover() != nil {
			data, mapped = nil, false
		}
	}()
	return make([]byte, size), false
}

func unmapRegion([]byte) bool {
	return true
}
