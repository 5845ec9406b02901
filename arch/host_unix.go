//go:build unix

package arch

import (
	"os"
	"runtime"

	"golang.org/x/sys/unix"
)

// Host returns the triple of the machine running this process.
func Host() Triple {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return goHost(runtime.GOOS, runtime.GOARCH)
	}
	sysname := unix.ByteSliceToString(uts.Sysname[:])
	machine := unix.ByteSliceToString(uts.Machine[:])
	musl := false
	if sysname == "Linux" {
		self, _ := os.Executable()
		musl = muslLinked(self, "/bin/sh")
	}
	return hostTriple(sysname, machine, musl)
}
