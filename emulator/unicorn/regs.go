//go:build unicorn

package unicorn

import (
	uc "github.com/unicorn-engine/unicorn/bindings/go/unicorn"
	"github.com/wnxd/mcpehost/emulator"
)

var armRegs = map[emulator.Reg]int{
	emulator.ARM_REG_R0:   uc.ARM_REG_R0,
	emulator.ARM_REG_R1:   uc.ARM_REG_R1,
	emulator.ARM_REG_R2:   uc.ARM_REG_R2,
	emulator.ARM_REG_R3:   uc.ARM_REG_R3,
	emulator.ARM_REG_R4:   uc.ARM_REG_R4,
	emulator.ARM_REG_R5:   uc.ARM_REG_R5,
	emulator.ARM_REG_R6:   uc.ARM_REG_R6,
	emulator.ARM_REG_R7:   uc.ARM_REG_R7,
	emulator.ARM_REG_R8:   uc.ARM_REG_R8,
	emulator.ARM_REG_R9:   uc.ARM_REG_R9,
	emulator.ARM_REG_R10:  uc.ARM_REG_R10,
	emulator.ARM_REG_R11:  uc.ARM_REG_R11,
	emulator.ARM_REG_R12:  uc.ARM_REG_R12,
	emulator.ARM_REG_SP:   uc.ARM_REG_SP,
	emulator.ARM_REG_LR:   uc.ARM_REG_LR,
	emulator.ARM_REG_PC:   uc.ARM_REG_PC,
	emulator.ARM_REG_CPSR: uc.ARM_REG_CPSR,
}

var arm64Regs = map[emulator.Reg]int{
	emulator.ARM64_REG_X0:        uc.ARM64_REG_X0,
	emulator.ARM64_REG_X1:        uc.ARM64_REG_X1,
	emulator.ARM64_REG_X2:        uc.ARM64_REG_X2,
	emulator.ARM64_REG_X3:        uc.ARM64_REG_X3,
	emulator.ARM64_REG_X4:        uc.ARM64_REG_X4,
	emulator.ARM64_REG_X5:        uc.ARM64_REG_X5,
	emulator.ARM64_REG_X6:        uc.ARM64_REG_X6,
	emulator.ARM64_REG_X7:        uc.ARM64_REG_X7,
	emulator.ARM64_REG_X8:        uc.ARM64_REG_X8,
	emulator.ARM64_REG_X16:       uc.ARM64_REG_X16,
	emulator.ARM64_REG_X17:       uc.ARM64_REG_X17,
	emulator.ARM64_REG_X29:       uc.ARM64_REG_X29,
	emulator.ARM64_REG_X30:       uc.ARM64_REG_X30,
	emulator.ARM64_REG_SP:        uc.ARM64_REG_SP,
	emulator.ARM64_REG_PC:        uc.ARM64_REG_PC,
	emulator.ARM64_REG_TPIDR_EL0: uc.ARM64_REG_TPIDR_EL0,
	emulator.ARM64_REG_CPACR_EL1: uc.ARM64_REG_CPACR_EL1,
	emulator.ARM64_REG_D0:        uc.ARM64_REG_D0,
	emulator.ARM64_REG_D1:        uc.ARM64_REG_D1,
	emulator.ARM64_REG_D2:        uc.ARM64_REG_D2,
	emulator.ARM64_REG_D3:        uc.ARM64_REG_D3,
	emulator.ARM64_REG_D4:        uc.ARM64_REG_D4,
	emulator.ARM64_REG_D5:        uc.ARM64_REG_D5,
	emulator.ARM64_REG_D6:        uc.ARM64_REG_D6,
	emulator.ARM64_REG_D7:        uc.ARM64_REG_D7,
}

var x86Regs = map[emulator.Reg]int{
	emulator.X86_REG_EAX: uc.X86_REG_EAX,
	emulator.X86_REG_ECX: uc.X86_REG_ECX,
	emulator.X86_REG_EDX: uc.X86_REG_EDX,
	emulator.X86_REG_EBX: uc.X86_REG_EBX,
	emulator.X86_REG_ESP: uc.X86_REG_ESP,
	emulator.X86_REG_EBP: uc.X86_REG_EBP,
	emulator.X86_REG_ESI: uc.X86_REG_ESI,
	emulator.X86_REG_EDI: uc.X86_REG_EDI,
	emulator.X86_REG_EIP: uc.X86_REG_EIP,
}

var x86_64Regs = map[emulator.Reg]int{
	emulator.X86_64_REG_RAX:     uc.X86_REG_RAX,
	emulator.X86_64_REG_RCX:     uc.X86_REG_RCX,
	emulator.X86_64_REG_RDX:     uc.X86_REG_RDX,
	emulator.X86_64_REG_RBX:     uc.X86_REG_RBX,
	emulator.X86_64_REG_RSP:     uc.X86_REG_RSP,
	emulator.X86_64_REG_RBP:     uc.X86_REG_RBP,
	emulator.X86_64_REG_RSI:     uc.X86_REG_RSI,
	emulator.X86_64_REG_RDI:     uc.X86_REG_RDI,
	emulator.X86_64_REG_R8:      uc.X86_REG_R8,
	emulator.X86_64_REG_R9:      uc.X86_REG_R9,
	emulator.X86_64_REG_RIP:     uc.X86_REG_RIP,
	emulator.X86_64_REG_FS_BASE: uc.X86_REG_FS_BASE,
}
