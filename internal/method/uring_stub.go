//go:build !linux

package method

import "fmt"

func init() {
	Register("io_uring", func() (Method, error) {
		return nil, fmt.Errorf("io_uring: not available on this platform")
	})
}
