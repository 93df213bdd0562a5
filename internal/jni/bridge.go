package jni

import (
	"context"
	"encoding/binary"
	"math"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/wnxd/mcpehost/debugger"
	"github.com/wnxd/mcpehost/emulator"
	"github.com/wnxd/mcpehost/internal/hybris"
)

const (
	jniVersion = 0x00010006
	jniOK      = 0
	jniErr     = math.MaxUint32

	jniCommit = 1
	jniAbort  = 2
)

type slotFunc func(ctx debugger.Context)

// pinned is a guest copy of array or string contents handed out by a
// Get*Elements style call.
type pinned struct {
	obj  Object
	kind byte
}

// Bridge exposes a VM to guest code through JNIEnv and JavaVM tables.
type Bridge struct {
	vm  *VM
	dbg debugger.Debugger
	ctx context.Context

	env    uint64
	javaVM uint64
	allocs []uint64
	ctrls  []debugger.ControlHandler

	mu   sync.Mutex
	pins map[uint64]pinned
}

func NewBridge(dbg debugger.Debugger, vm *VM) (*Bridge, error) {
	b := &Bridge{vm: vm, dbg: dbg, ctx: context.Background(), pins: make(map[uint64]pinned)}
	var err error
	if b.env, err = b.table(envFunctions, b.envImpl()); err != nil {
		b.Close()
		return nil, err
	}
	if b.javaVM, err = b.table(vmFunctions, b.vmImpl()); err != nil {
		b.Close()
		return nil, err
	}
	vm.native = b.callNative
	return b, nil
}

func (b *Bridge) Close() error {
	for _, ctrl := range b.ctrls {
		ctrl.Close()
	}
	b.ctrls = nil
	for _, addr := range b.allocs {
		b.dbg.MemFree(addr)
	}
	b.allocs = nil
	return nil
}

// Env is the JNIEnv* handed to guest code.
func (b *Bridge) Env() uint64 {
	return b.env
}

// JavaVM is the JavaVM* handed to guest code.
func (b *Bridge) JavaVM() uint64 {
	return b.javaVM
}

func (b *Bridge) VM() *VM {
	return b.vm
}

func (b *Bridge) alloc(size uint64) (uint64, error) {
	addr, err := b.dbg.MemAlloc(size)
	if err != nil {
		return 0, err
	}
	b.allocs = append(b.allocs, addr)
	return addr, nil
}

// table writes a function table and the one-word struct pointing at it.
func (b *Bridge) table(names []string, impl map[string]slotFunc) (uint64, error) {
	size := b.dbg.PointerSize()
	tbl, err := b.alloc(uint64(len(names)) * size)
	if err != nil {
		return 0, err
	}
	for i, name := range names {
		if strings.HasPrefix(name, "reserved") {
			continue
		}
		fn, ok := impl[name]
		if !ok {
			fn = unimplemented(name)
		}
		ctrl, err := b.dbg.AddControl(func(ctx debugger.Context, _ any) { fn(ctx) }, nil)
		if err != nil {
			return 0, err
		}
		b.ctrls = append(b.ctrls, ctrl)
		if err = b.dbg.ToPointer(tbl + uint64(i)*size).MemWritePointer(ctrl.Addr()); err != nil {
			return 0, err
		}
	}
	self, err := b.alloc(size)
	if err != nil {
		return 0, err
	}
	return self, b.dbg.ToPointer(self).MemWritePointer(tbl)
}

func unimplemented(name string) slotFunc {
	return func(ctx debugger.Context) {
		jniLog.Warnf("JNI function %s not implemented", name)
		ctx.RetWrite(uint64(0))
	}
}

func (b *Bridge) obj(h uint64) Object {
	return b.vm.Deref(h)
}

// class resolves a jclass. Anything that is not a class stands for its
// own class.
func (b *Bridge) class(h uint64) *Class {
	switch o := b.vm.Deref(h).(type) {
	case *Class:
		return o
	case nil:
		return ObjectClass
	default:
		return o.Class()
	}
}

func (b *Bridge) ref(o Object) uint64 {
	return b.vm.NewRef(o, LocalRef)
}

func (b *Bridge) cstr(addr uint64) string {
	if addr == 0 {
		return ""
	}
	s, _ := b.dbg.ToPointer(addr).MemReadString()
	return s
}

func (b *Bridge) order() binary.ByteOrder {
	return b.dbg.Emulator().ByteOrder().Binary()
}

func (b *Bridge) writeWord(addr, v uint64) {
	if addr != 0 {
		b.dbg.ToPointer(addr).MemWritePointer(v)
	}
}

// readArgs decodes the parameters of sig. jvalue arrays keep every
// element 8 bytes wide without promotion.
func (b *Bridge) readArgs(r hybris.ArgReader, sig string, jvalues bool) []Value {
	params, _, err := parseSig(sig)
	if err != nil {
		jniLog.WithError(err).Warn("bad method signature")
		return nil
	}
	args := make([]Value, len(params))
	for i, p := range params {
		switch p[0] {
		case 'J':
			args[i] = int64(r.Long())
		case 'D':
			args[i] = r.Double()
		case 'F':
			if jvalues {
				args[i] = math.Float32frombits(uint32(r.Long()))
			} else {
				args[i] = float32(r.Double())
			}
		case 'L', '[':
			args[i] = b.obj(r.Word())
		case 'Z':
			w := r.Word()
			if jvalues {
				w &= 0xff
			}
			args[i] = w != 0
		case 'B':
			args[i] = int8(r.Word())
		case 'C':
			args[i] = uint16(r.Word())
		case 'S':
			args[i] = int16(r.Word())
		default:
			args[i] = int32(r.Word())
		}
	}
	return args
}

// ret writes v as a value of kind to the guest.
func (b *Bridge) ret(ctx debugger.Context, kind byte, v Value) {
	switch kind {
	case 'V':
		return
	case 'L', '[':
		o, _ := v.(Object)
		ctx.RetWrite(b.ref(o))
	case 'J':
		hybris.RetLong(ctx, uint64(toInt(v)))
	case 'F':
		hybris.RetFloat(ctx, float32(toFloat(v)))
	case 'D':
		hybris.RetDouble(ctx, toFloat(v))
	case 'Z':
		ctx.RetWrite(toInt(v) != 0)
	case 'C':
		ctx.RetWrite(uint64(uint16(toInt(v))))
	default:
		ctx.RetWrite(uint64(toInt(v)))
	}
}

// wordsOf lays Java values out as integer call arguments.
func (b *Bridge) wordsOf(words []uint64, sig string, args []Value, refs *[]uint64) []uint64 {
	params, _, _ := parseSig(sig)
	arch := b.dbg.Emulator().Arch()
	wide := b.dbg.PointerSize() == 8
	for i, p := range params {
		var v Value
		if i < len(args) {
			v = args[i]
		}
		switch p[0] {
		case 'L', '[':
			o, _ := v.(Object)
			h := b.ref(o)
			*refs = append(*refs, h)
			words = append(words, h)
		case 'J', 'D':
			bits := uint64(toInt(v))
			if p[0] == 'D' {
				bits = math.Float64bits(toFloat(v))
			}
			if wide {
				words = append(words, bits)
				continue
			}
			if arch == emulator.ARCH_ARM && len(words)%2 == 1 {
				words = append(words, 0)
			}
			words = append(words, bits&math.MaxUint32, bits>>32)
		case 'F':
			words = append(words, uint64(math.Float32bits(float32(toFloat(v)))))
		default:
			words = append(words, uint64(toInt(coerce(p[0], v))))
		}
	}
	return words
}

// callNative runs the guest implementation of m.
func (b *Bridge) callNative(this Object, m *Method, args []Value) Value {
	var refs []uint64
	defer func() {
		for _, h := range refs {
			b.vm.DeleteRef(h)
		}
	}()
	var self uint64
	if m.Static {
		self = b.ref(m.class)
	} else {
		self = b.ref(this)
	}
	refs = append(refs, self)
	words := b.wordsOf([]uint64{b.env, self}, m.Sig, args, &refs)
	ret, err := b.dbg.Call(b.ctx, m.Native, words...)
	if err != nil {
		jniLog.WithError(err).Errorf("native %s.%s%s failed", m.class.Name, m.Name, m.Sig)
		return nil
	}
	switch kind := returnKind(m.Sig); kind {
	case 'L', '[':
		return b.obj(ret)
	case 'Z':
		return uint8(ret) != 0
	case 'V':
		return nil
	default:
		return coerce(kind, int64(ret))
	}
}

// CallNative calls the guest implementation registered for name+sig on
// c, with this as receiver unless the method is static.
func (b *Bridge) CallNative(c *Class, this Object, name, sig string, args ...Value) (Value, error) {
	for _, static := range []bool{false, true} {
		if m := c.Method(name, sig, static); m != nil && m.Native != 0 {
			return b.vm.Call(this, m, args...), nil
		}
	}
	return nil, errors.Errorf("no native %s.%s%s", c.Name, name, sig)
}
