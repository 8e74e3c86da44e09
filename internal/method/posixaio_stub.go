//go:build !linux || !cgo

package method

import "fmt"

func init() {
	Register("posix_aio", func() (Method, error) {
		return nil, fmt.Errorf("posix_aio: requires linux and cgo")
	})
}
