// Package jni is a small Java object model reachable from guest code
// through JNIEnv and JavaVM function tables in guest memory.
package jni

import (
	"sync"
)

// Value is a Java value: bool, int8, uint16, int16, int32, int64,
// float32, float64 or an Object (nil is null).
type Value = any

type Object interface {
	Class() *Class
}

// HostFunc implements a Java method in Go. this is nil for static
// methods.
type HostFunc func(vm *VM, this Object, args []Value) Value

type Method struct {
	Name, Sig string
	Static    bool
	Fn        HostFunc
	// Native is the guest address bound by RegisterNatives.
	Native uint64
	class  *Class
}

func (m *Method) Class() *Class {
	return m.class
}

type Field struct {
	Name, Sig string
	Static    bool
	value     Value
	class     *Class
}

type Class struct {
	Name  string
	Super *Class

	mu      sync.RWMutex
	methods map[string]*Method
	fields  map[string]*Field
}

var (
	ObjectClass = NewClass("java/lang/Object", nil)
	ClassClass  = NewClass("java/lang/Class", ObjectClass)
	StringClass = NewClass("java/lang/String", ObjectClass)
)

func NewClass(name string, super *Class) *Class {
	return &Class{
		Name:    name,
		Super:   super,
		methods: make(map[string]*Method),
		fields:  make(map[string]*Field),
	}
}

func (c *Class) Class() *Class {
	return ClassClass
}

func key(name, sig string) string {
	return name + sig
}

func (c *Class) def(name, sig string, static bool, fn HostFunc) *Class {
	c.mu.Lock()
	c.methods[key(name, sig)] = &Method{Name: name, Sig: sig, Static: static, Fn: fn, class: c}
	c.mu.Unlock()
	return c
}

// Def adds an instance method.
func (c *Class) Def(name, sig string, fn HostFunc) *Class {
	return c.def(name, sig, false, fn)
}

// DefStatic adds a static method.
func (c *Class) DefStatic(name, sig string, fn HostFunc) *Class {
	return c.def(name, sig, true, fn)
}

// StaticField adds a static field holding v.
func (c *Class) StaticField(name, sig string, v Value) *Class {
	c.mu.Lock()
	c.fields[key(name, sig)] = &Field{Name: name, Sig: sig, Static: true, value: v, class: c}
	c.mu.Unlock()
	return c
}

// Method finds a method on c or its ancestors.
func (c *Class) Method(name, sig string, static bool) *Method {
	for k := c; k != nil; k = k.Super {
		k.mu.RLock()
		m, ok := k.methods[key(name, sig)]
		k.mu.RUnlock()
		if ok && m.Static == static {
			return m
		}
	}
	return nil
}

// Field finds a field on c or its ancestors.
func (c *Class) Field(name, sig string, static bool) *Field {
	for k := c; k != nil; k = k.Super {
		k.mu.RLock()
		f, ok := k.fields[key(name, sig)]
		k.mu.RUnlock()
		if ok && f.Static == static {
			return f
		}
	}
	return nil
}

// bind attaches a guest implementation to name+sig, declaring the
// method if c does not have it yet.
func (c *Class) bind(name, sig string, addr uint64) *Method {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.methods[key(name, sig)]
	if !ok {
		m = &Method{Name: name, Sig: sig, class: c}
		c.methods[key(name, sig)] = m
	}
	m.Native = addr
	return m
}

func (c *Class) unbind() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range c.methods {
		m.Native = 0
	}
}

// IsSubclassOf reports whether c is o or descends from it.
func (c *Class) IsSubclassOf(o *Class) bool {
	if o == ObjectClass {
		return true
	}
	for k := c; k != nil; k = k.Super {
		if k == o {
			return true
		}
	}
	return false
}

// Instance is a plain object of a class without a Go type of its own.
type Instance struct {
	class  *Class
	mu     sync.Mutex
	fields map[*Field]Value
}

func NewInstance(c *Class) *Instance {
	return &Instance{class: c, fields: make(map[*Field]Value)}
}

func (o *Instance) Class() *Class {
	return o.class
}

// FieldHolder is implemented by objects storing instance fields.
type FieldHolder interface {
	GetField(f *Field) Value
	SetField(f *Field, v Value)
}

func (o *Instance) GetField(f *Field) Value {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.fields[f]
}

func (o *Instance) SetField(f *Field, v Value) {
	o.mu.Lock()
	o.fields[f] = v
	o.mu.Unlock()
}

type String struct {
	Value string
}

func NewString(s string) *String {
	return &String{Value: s}
}

func (s *String) Class() *Class {
	return StringClass
}

// Array holds any array but byte[].
type Array struct {
	// Elem is the element signature, like "I" or "Ljava/lang/String;".
	Elem  string
	Elems []Value
}

func NewArray(elem string, n int) *Array {
	a := &Array{Elem: elem, Elems: make([]Value, n)}
	if z := zeroOf(elem[0]); z != nil {
		for i := range a.Elems {
			a.Elems[i] = z
		}
	}
	return a
}

func (a *Array) Class() *Class {
	return arrayClass("[" + a.Elem)
}

type ByteArray struct {
	Data []byte
}

func (a *ByteArray) Class() *Class {
	return arrayClass("[B")
}

var arrays sync.Map

func arrayClass(name string) *Class {
	if c, ok := arrays.Load(name); ok {
		return c.(*Class)
	}
	c, _ := arrays.LoadOrStore(name, NewClass(name, ObjectClass))
	return c.(*Class)
}

// StringOf returns the text of a java/lang/String, "" for anything else.
func StringOf(v Value) string {
	if s, ok := v.(*String); ok && s != nil {
		return s.Value
	}
	return ""
}
