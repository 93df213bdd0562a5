package shim

import (
	"os"
	"strconv"
	"strings"

	"github.com/wnxd/mcpehost/filesystem"
)

const fallbackCPUInfo = "processor\t: 0\nBogoMIPS\t: 38.40\nFeatures\t: fp asimd\n"

// NewProcFS builds the guest-visible part of /proc. Entries it does not
// hold fall through to the host.
func NewProcFS(src Source, args []string) filesystem.VirtualFS {
	vfs := filesystem.NewVirtualFS()
	cmdline := func() []byte {
		return []byte(strings.Join(args, "\x00") + "\x00")
	}
	vfs.Generate("proc/self/cmdline", cmdline)
	vfs.Generate("proc/"+strconv.Itoa(src.Pid)+"/cmdline", cmdline)
	vfs.Generate("proc/cpuinfo", func() []byte {
		if data, err := os.ReadFile("/proc/cpuinfo"); err == nil {
			return data
		}
		return []byte(fallbackCPUInfo)
	})
	if src.Argv0 != "" {
		vfs.Link("proc/self/exe", filesystem.SoftLink(src.Argv0, filesystem.SysFileFS(src.Argv0)))
	}
	return vfs
}
