package jni

import (
	"strings"
	"sync"

	"github.com/apex/log"
)

type RefKind uint64

const (
	InvalidRef RefKind = iota
	LocalRef
	GlobalRef
	WeakGlobalRef
)

var jniLog = log.WithField("component", "jni")

// VM holds the class registry and the reference tables guest code sees
// objects through.
type VM struct {
	mu      sync.Mutex
	classes map[string]*Class
	refs    map[uint64]Object
	nextRef uint64
	ids     map[uint64]any
	idOf    map[any]uint64
	nextID  uint64
	warned  map[string]bool

	// native calls guest implementations bound by RegisterNatives.
	native func(this Object, m *Method, args []Value) Value
}

func NewVM() *VM {
	vm := &VM{
		classes: make(map[string]*Class),
		refs:    make(map[uint64]Object),
		ids:     make(map[uint64]any),
		idOf:    make(map[any]uint64),
		warned:  make(map[string]bool),
	}
	vm.Register(ObjectClass, ClassClass, StringClass)
	return vm
}

func (vm *VM) Register(classes ...*Class) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	for _, c := range classes {
		vm.classes[c.Name] = c
	}
}

// FindClass looks a class up by its exact binary name.
func (vm *VM) FindClass(name string) (*Class, bool) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	c, ok := vm.classes[name]
	return c, ok
}

// ClassFor returns the class called name, declaring an empty one when
// it is unknown.
func (vm *VM) ClassFor(name string) *Class {
	name = strings.ReplaceAll(name, ".", "/")
	if strings.HasPrefix(name, "[") {
		return arrayClass(name)
	}
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if c, ok := vm.classes[name]; ok {
		return c
	}
	jniLog.Warnf("unknown class %s", name)
	c := NewClass(name, ObjectClass)
	vm.classes[name] = c
	return c
}

func (vm *VM) warnOnce(msg string) {
	vm.mu.Lock()
	seen := vm.warned[msg]
	vm.warned[msg] = true
	vm.mu.Unlock()
	if !seen {
		jniLog.Warn(msg)
	}
}

// NewRef returns a new reference of kind to o. null is always 0.
func (vm *VM) NewRef(o Object, kind RefKind) uint64 {
	if isNil(o) {
		return 0
	}
	vm.mu.Lock()
	defer vm.mu.Unlock()
	vm.nextRef++
	h := vm.nextRef<<2 | uint64(kind)
	vm.refs[h] = o
	return h
}

func (vm *VM) Deref(h uint64) Object {
	if h == 0 {
		return nil
	}
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.refs[h]
}

func (vm *VM) DeleteRef(h uint64) {
	vm.mu.Lock()
	delete(vm.refs, h)
	vm.mu.Unlock()
}

func (vm *VM) RefKind(h uint64) RefKind {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if _, ok := vm.refs[h]; !ok {
		return InvalidRef
	}
	return RefKind(h & 3)
}

// ID returns the stable guest id of a method or field.
func (vm *VM) ID(v any) uint64 {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if id, ok := vm.idOf[v]; ok {
		return id
	}
	vm.nextID++
	id := vm.nextID << 3
	vm.ids[id] = v
	vm.idOf[v] = id
	return id
}

func (vm *VM) MethodByID(id uint64) *Method {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	m, _ := vm.ids[id].(*Method)
	return m
}

func (vm *VM) FieldByID(id uint64) *Field {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	f, _ := vm.ids[id].(*Field)
	return f
}

// GetMethodID resolves a method on c and its ancestors. Unknown methods
// are declared on c returning the zero value of their type.
func (vm *VM) GetMethodID(c *Class, name, sig string, static bool) *Method {
	if m := c.Method(name, sig, static); m != nil {
		return m
	}
	what := c.Name + "." + name + sig
	jniLog.Debugf("declaring missing method %s", what)
	kind := returnKind(sig)
	return c.def(name, sig, static, func(vm *VM, _ Object, _ []Value) Value {
		vm.warnOnce("unimplemented method " + what)
		return zeroOf(kind)
	}).Method(name, sig, static)
}

// GetFieldID resolves a field on c and its ancestors, declaring missing
// ones on c.
func (vm *VM) GetFieldID(c *Class, name, sig string, static bool) *Field {
	if f := c.Field(name, sig, static); f != nil {
		return f
	}
	jniLog.Debugf("declaring missing field %s.%s %s", c.Name, name, sig)
	f := &Field{Name: name, Sig: sig, Static: static, value: zeroOf(sig[0]), class: c}
	c.mu.Lock()
	c.fields[key(name, sig)] = f
	c.mu.Unlock()
	return f
}

func (vm *VM) GetField(o Object, f *Field) Value {
	if f.Static {
		f.class.mu.RLock()
		defer f.class.mu.RUnlock()
		return f.value
	}
	if h, ok := o.(FieldHolder); ok {
		if v := h.GetField(f); v != nil {
			return v
		}
	}
	return zeroOf(f.Sig[0])
}

func (vm *VM) SetField(o Object, f *Field, v Value) {
	v = coerce(f.Sig[0], v)
	if f.Static {
		f.class.mu.Lock()
		f.value = v
		f.class.mu.Unlock()
		return
	}
	if h, ok := o.(FieldHolder); ok {
		h.SetField(f, v)
	}
}

// Call invokes m on this. The result is converted to the method's
// return type.
func (vm *VM) Call(this Object, m *Method, args ...Value) Value {
	kind := returnKind(m.Sig)
	var ret Value
	switch {
	case m.Native != 0 && vm.native != nil:
		ret = vm.native(this, m, args)
	case m.Fn != nil:
		ret = m.Fn(vm, this, args)
	default:
		vm.warnOnce("no implementation for " + m.class.Name + "." + m.Name + m.Sig)
	}
	if kind == 'V' {
		return nil
	}
	return coerce(kind, ret)
}

// CallMethod looks name+sig up on this and calls it.
func (vm *VM) CallMethod(this Object, name, sig string, args ...Value) Value {
	if isNil(this) {
		return zeroOf(returnKind(sig))
	}
	return vm.Call(this, vm.GetMethodID(this.Class(), name, sig, false), args...)
}

func (vm *VM) CallStatic(c *Class, name, sig string, args ...Value) Value {
	return vm.Call(nil, vm.GetMethodID(c, name, sig, true), args...)
}

// IsInstanceOf walks the parent chain of o's class. null is an instance
// of everything.
func (vm *VM) IsInstanceOf(o Object, c *Class) bool {
	if isNil(o) {
		return true
	}
	return o.Class().IsSubclassOf(c)
}

func (vm *VM) GetSuperclass(c *Class) *Class {
	return c.Super
}

// RegisterNatives binds guest implementations to methods of c.
func (vm *VM) RegisterNatives(c *Class, name, sig string, addr uint64) *Method {
	jniLog.Debugf("native %s.%s%s at %#x", c.Name, name, sig, addr)
	return c.bind(name, sig, addr)
}

func isNil(o Object) bool {
	if o == nil {
		return true
	}
	switch x := o.(type) {
	case *Class:
		return x == nil
	case *String:
		return x == nil
	case *Instance:
		return x == nil
	case *Array:
		return x == nil
	case *ByteArray:
		return x == nil
	}
	return false
}
