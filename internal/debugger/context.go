package debugger

import (
	"github.com/wnxd/mcpehost/debugger"
	"github.com/wnxd/mcpehost/emulator"
)

type callContext struct {
	dbg    Debugger
	entry  uint64
	jumped bool
}

func (c *callContext) Debugger() debugger.Debugger {
	return c.dbg
}

func (c *callContext) PC() emulator.Reg {
	return c.dbg.PC()
}

func (c *callContext) SP() emulator.Reg {
	return c.dbg.SP()
}

func (c *callContext) RegRead(reg emulator.Reg) (uint64, error) {
	return c.dbg.Emulator().RegRead(reg)
}

func (c *callContext) RegWrite(reg emulator.Reg, value uint64) error {
	return c.dbg.Emulator().RegWrite(reg, value)
}

func (c *callContext) RegReadBatch(regs ...emulator.Reg) ([]uint64, error) {
	return c.dbg.Emulator().RegReadBatch(regs...)
}

func (c *callContext) RegWriteBatch(regs []emulator.Reg, vals []uint64) error {
	return c.dbg.Emulator().RegWriteBatch(regs, vals)
}

func (c *callContext) Arg(i int) uint64 {
	v, _ := c.dbg.Arg(c.dbg.Emulator(), i)
	return v
}

func (c *callContext) ArgExtract(args ...any) error {
	for i, arg := range args {
		raw, err := c.dbg.Arg(c.dbg.Emulator(), i)
		if err != nil {
			return err
		}
		switch p := arg.(type) {
		case nil:
		case *uint64:
			*p = raw
		case *int64:
			*p = int64(raw)
		case *uint32:
			*p = uint32(raw)
		case *int32:
			*p = int32(raw)
		case *int:
			*p = int(int32(raw))
		case *bool:
			*p = uint8(raw) != 0
		case *emulator.Pointer:
			*p = c.ToPointer(raw)
		case *string:
			if raw == 0 {
				*p = ""
				continue
			}
			s, err := c.ToPointer(raw).MemReadString()
			if err != nil {
				return err
			}
			*p = s
		default:
			return debugger.ErrArgumentInvalid
		}
	}
	return nil
}

func (c *callContext) RetWrite(val any) error {
	var raw uint64
	switch v := val.(type) {
	case uint64:
		raw = v
	case int64:
		raw = uint64(v)
	case uint32:
		raw = uint64(v)
	case int32:
		raw = uint64(int64(v))
	case int:
		raw = uint64(int64(v))
	case uintptr:
		raw = uint64(v)
	case bool:
		if v {
			raw = 1
		}
	case emulator.Pointer:
		raw = v.Address()
	default:
		return debugger.ErrArgumentInvalid
	}
	if c.dbg.PointerSize() == 4 {
		raw &= 0xFFFFFFFF
	}
	return c.dbg.RetWrite(c.dbg.Emulator(), raw)
}

func (c *callContext) FloatArg(i int) (uint64, error) {
	return c.dbg.FloatArg(c.dbg.Emulator(), i)
}

func (c *callContext) FloatRetWrite(bits uint64, double bool) error {
	return c.dbg.FloatRetWrite(c.dbg.Emulator(), bits, double)
}

func (c *callContext) Return() error {
	c.jumped = true
	return c.dbg.Return(c.dbg.Emulator())
}

func (c *callContext) Goto(addr uint64) error {
	c.jumped = true
	return c.dbg.Emulator().RegWrite(c.dbg.PC(), addr)
}

func (c *callContext) ToPointer(addr uint64) emulator.Pointer {
	return c.dbg.ToPointer(addr)
}
