//go:build !unix

package arch

import "runtime"

// Host returns the triple of the machine running this process.
func Host() Triple {
	return goHost(runtime.GOOS, runtime.GOARCH)
}
