// Package encoding lays Go structs out as guest C structures.
//
// Fixed-size fields keep their width; Pointer, int, uint and uintptr
// fields take the guest pointer width. Every field is aligned to its
// size, capped by the layout's MaxAlign. Fields tagged
// `encoding:"ignore"` are skipped.
package encoding

import (
	"encoding/binary"
	"reflect"
	"sync"
	"unsafe"

	"github.com/modern-go/reflect2"
	"github.com/pkg/errors"
)

// Pointer is a guest address.
type Pointer uint64

var ErrUnsupportedType = errors.New("encoding: unsupported type")

type Layout struct {
	Order       binary.ByteOrder
	PointerSize int
	MaxAlign    int
}

type codec struct {
	size   int
	align  int
	encode func(l *Layout, buf []byte, ptr unsafe.Pointer)
	decode func(l *Layout, buf []byte, ptr unsafe.Pointer)
}

var codecs sync.Map

func (l *Layout) key(rtype uintptr) [3]uintptr {
	return [3]uintptr{uintptr(l.PointerSize), uintptr(l.MaxAlign), rtype}
}

func (l *Layout) codecOf(typ reflect2.Type) (*codec, error) {
	key := l.key(typ.RType())
	if v, ok := codecs.Load(key); ok {
		return v.(*codec), nil
	}
	c, err := l.build(typ)
	if err != nil {
		return nil, err
	}
	codecs.Store(key, c)
	return c, nil
}

// elem resolves v to the struct or scalar it points at.
func elem(v any) (reflect2.Type, unsafe.Pointer, error) {
	typ := reflect2.TypeOf(v)
	if typ == nil || typ.Kind() != reflect.Pointer {
		return nil, nil, errors.Wrapf(ErrUnsupportedType, "%T is not a pointer", v)
	}
	ptr := reflect2.PtrOf(v)
	if ptr == nil {
		return nil, nil, errors.Wrap(ErrUnsupportedType, "nil pointer")
	}
	return typ.(reflect2.PtrType).Elem(), ptr, nil
}

// Size returns the guest size of the value v points at.
func (l *Layout) Size(v any) (int, error) {
	typ, _, err := elem(v)
	if err != nil {
		return 0, err
	}
	c, err := l.codecOf(typ)
	if err != nil {
		return 0, err
	}
	return c.size, nil
}

func (l *Layout) Marshal(v any) ([]byte, error) {
	typ, ptr, err := elem(v)
	if err != nil {
		return nil, err
	}
	c, err := l.codecOf(typ)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, c.size)
	c.encode(l, buf, ptr)
	return buf, nil
}

func (l *Layout) Unmarshal(data []byte, v any) error {
	typ, ptr, err := elem(v)
	if err != nil {
		return err
	}
	c, err := l.codecOf(typ)
	if err != nil {
		return err
	}
	if len(data) < c.size {
		return errors.Errorf("encoding: need %d bytes, have %d", c.size, len(data))
	}
	c.decode(l, data, ptr)
	return nil
}

// Offset returns the guest offset of the named field of the struct v points at.
func (l *Layout) Offset(v any, field string) (int, error) {
	typ, _, err := elem(v)
	if err != nil {
		return 0, err
	}
	st, ok := typ.(reflect2.StructType)
	if !ok {
		return 0, errors.Wrapf(ErrUnsupportedType, "%s is not a struct", typ)
	}
	var off int
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		if f.Tag().Get("encoding") == "ignore" {
			continue
		}
		c, err := l.codecOf(f.Type())
		if err != nil {
			return 0, err
		}
		off = alignUp(off, c.align)
		if f.Name() == field {
			return off, nil
		}
		off += c.size
	}
	return 0, errors.Errorf("encoding: no field %s in %s", field, typ)
}

func alignUp(a, b int) int {
	return (a + b - 1) &^ (b - 1)
}

func (l *Layout) capAlign(n int) int {
	if l.MaxAlign > 0 && n > l.MaxAlign {
		return l.MaxAlign
	}
	return n
}
