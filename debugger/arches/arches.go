// Package arches registers a debugger for every ABI the game is
// shipped for. Import it for its side effect.
package arches

import (
	"github.com/wnxd/mcpehost/debugger"
	"github.com/wnxd/mcpehost/emulator"
	"github.com/wnxd/mcpehost/internal/debugger/arm"
	"github.com/wnxd/mcpehost/internal/debugger/arm64"
	"github.com/wnxd/mcpehost/internal/debugger/x86"
)

func init() {
	debugger.Register(emulator.ARCH_ARM64, arm64.NewArm64Debugger)
	debugger.Register(emulator.ARCH_ARM, arm.NewArmDebugger)
	debugger.Register(emulator.ARCH_X86_64, x86.NewX86_64Debugger)
	debugger.Register(emulator.ARCH_X86, x86.NewX86Debugger)
}
