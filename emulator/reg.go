package emulator

type Reg int

const (
	ARM_REG_R0 Reg = iota + 1
	ARM_REG_R1
	ARM_REG_R2
	ARM_REG_R3
	ARM_REG_R4
	ARM_REG_R5
	ARM_REG_R6
	ARM_REG_R7
	ARM_REG_R8
	ARM_REG_R9
	ARM_REG_R10
	ARM_REG_R11
	ARM_REG_R12
	ARM_REG_SP
	ARM_REG_LR
	ARM_REG_PC
	ARM_REG_CPSR
)

const (
	ARM64_REG_X0 Reg = iota + 0x100
	ARM64_REG_X1
	ARM64_REG_X2
	ARM64_REG_X3
	ARM64_REG_X4
	ARM64_REG_X5
	ARM64_REG_X6
	ARM64_REG_X7
	ARM64_REG_X8
	ARM64_REG_X16
	ARM64_REG_X17
	ARM64_REG_X29
	ARM64_REG_X30
	ARM64_REG_SP
	ARM64_REG_PC
	ARM64_REG_TPIDR_EL0
	ARM64_REG_CPACR_EL1
	ARM64_REG_D0
	ARM64_REG_D1
	ARM64_REG_D2
	ARM64_REG_D3
	ARM64_REG_D4
	ARM64_REG_D5
	ARM64_REG_D6
	ARM64_REG_D7

	ARM64_REG_FP = ARM64_REG_X29
	ARM64_REG_LR = ARM64_REG_X30
)

const (
	X86_REG_EAX Reg = iota + 0x200
	X86_REG_ECX
	X86_REG_EDX
	X86_REG_EBX
	X86_REG_ESP
	X86_REG_EBP
	X86_REG_ESI
	X86_REG_EDI
	X86_REG_EIP
)

const (
	X86_64_REG_RAX Reg = iota + 0x300
	X86_64_REG_RCX
	X86_64_REG_RDX
	X86_64_REG_RBX
	X86_64_REG_RSP
	X86_64_REG_RBP
	X86_64_REG_RSI
	X86_64_REG_RDI
	X86_64_REG_R8
	X86_64_REG_R9
	X86_64_REG_RIP
	X86_64_REG_FS_BASE
)
