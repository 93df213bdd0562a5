package encoding

import (
	"math"
	"reflect"
	"unsafe"

	"github.com/modern-go/reflect2"
	"github.com/pkg/errors"
)

var pointerType = reflect2.TypeOf(Pointer(0))

func (l *Layout) build(typ reflect2.Type) (*codec, error) {
	if typ.RType() == pointerType.RType() {
		return l.word(), nil
	}
	switch typ.Kind() {
	case reflect.Bool:
		return &codec{1, 1,
			func(_ *Layout, buf []byte, ptr unsafe.Pointer) {
				if *(*bool)(ptr) {
					buf[0] = 1
				}
			},
			func(_ *Layout, buf []byte, ptr unsafe.Pointer) { *(*bool)(ptr) = buf[0] != 0 },
		}, nil
	case reflect.Int8, reflect.Uint8:
		return &codec{1, 1,
			func(_ *Layout, buf []byte, ptr unsafe.Pointer) { buf[0] = *(*uint8)(ptr) },
			func(_ *Layout, buf []byte, ptr unsafe.Pointer) { *(*uint8)(ptr) = buf[0] },
		}, nil
	case reflect.Int16, reflect.Uint16:
		return &codec{2, l.capAlign(2),
			func(l *Layout, buf []byte, ptr unsafe.Pointer) { l.Order.PutUint16(buf, *(*uint16)(ptr)) },
			func(l *Layout, buf []byte, ptr unsafe.Pointer) { *(*uint16)(ptr) = l.Order.Uint16(buf) },
		}, nil
	case reflect.Int32, reflect.Uint32:
		return &codec{4, l.capAlign(4),
			func(l *Layout, buf []byte, ptr unsafe.Pointer) { l.Order.PutUint32(buf, *(*uint32)(ptr)) },
			func(l *Layout, buf []byte, ptr unsafe.Pointer) { *(*uint32)(ptr) = l.Order.Uint32(buf) },
		}, nil
	case reflect.Float32:
		return &codec{4, l.capAlign(4),
			func(l *Layout, buf []byte, ptr unsafe.Pointer) {
				l.Order.PutUint32(buf, math.Float32bits(*(*float32)(ptr)))
			},
			func(l *Layout, buf []byte, ptr unsafe.Pointer) {
				*(*float32)(ptr) = math.Float32frombits(l.Order.Uint32(buf))
			},
		}, nil
	case reflect.Int64, reflect.Uint64, reflect.Float64:
		return &codec{8, l.capAlign(8),
			func(l *Layout, buf []byte, ptr unsafe.Pointer) { l.Order.PutUint64(buf, *(*uint64)(ptr)) },
			func(l *Layout, buf []byte, ptr unsafe.Pointer) { *(*uint64)(ptr) = l.Order.Uint64(buf) },
		}, nil
	case reflect.Int, reflect.Uint, reflect.Uintptr:
		return l.native(typ), nil
	case reflect.Array:
		return l.buildArray(typ.(reflect2.ArrayType))
	case reflect.Struct:
		return l.buildStruct(typ.(reflect2.StructType))
	}
	return nil, errors.Wrapf(ErrUnsupportedType, "%s", typ)
}

// word lays out a Pointer at the guest pointer width.
func (l *Layout) word() *codec {
	size := l.PointerSize
	return &codec{size, l.capAlign(size),
		func(l *Layout, buf []byte, ptr unsafe.Pointer) { l.putWord(buf, *(*uint64)(ptr)) },
		func(l *Layout, buf []byte, ptr unsafe.Pointer) { *(*uint64)(ptr) = l.getWord(buf) },
	}
}

// native narrows host-sized integers to the guest pointer width.
func (l *Layout) native(typ reflect2.Type) *codec {
	size := l.PointerSize
	signed := typ.Kind() == reflect.Int
	return &codec{size, l.capAlign(size),
		func(l *Layout, buf []byte, ptr unsafe.Pointer) { l.putWord(buf, uint64(*(*uint)(ptr))) },
		func(l *Layout, buf []byte, ptr unsafe.Pointer) {
			v := l.getWord(buf)
			if signed && l.PointerSize == 4 {
				v = uint64(int64(int32(v)))
			}
			*(*uint)(ptr) = uint(v)
		},
	}
}

func (l *Layout) putWord(buf []byte, v uint64) {
	if l.PointerSize == 4 {
		l.Order.PutUint32(buf, uint32(v))
	} else {
		l.Order.PutUint64(buf, v)
	}
}

func (l *Layout) getWord(buf []byte) uint64 {
	if l.PointerSize == 4 {
		return uint64(l.Order.Uint32(buf))
	}
	return l.Order.Uint64(buf)
}

func (l *Layout) buildArray(typ reflect2.ArrayType) (*codec, error) {
	ec, err := l.codecOf(typ.Elem())
	if err != nil {
		return nil, err
	}
	n := typ.Len()
	stride := alignUp(ec.size, ec.align)
	return &codec{stride * n, ec.align,
		func(l *Layout, buf []byte, ptr unsafe.Pointer) {
			for i := 0; i < n; i++ {
				ec.encode(l, buf[i*stride:], typ.UnsafeGetIndex(ptr, i))
			}
		},
		func(l *Layout, buf []byte, ptr unsafe.Pointer) {
			for i := 0; i < n; i++ {
				ec.decode(l, buf[i*stride:], typ.UnsafeGetIndex(ptr, i))
			}
		},
	}, nil
}

type fieldCodec struct {
	*codec
	field  reflect2.StructField
	offset int
}

func (l *Layout) buildStruct(typ reflect2.StructType) (*codec, error) {
	var (
		fields []fieldCodec
		off    int
		align  = 1
	)
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		if f.Tag().Get("encoding") == "ignore" {
			continue
		}
		c, err := l.codecOf(f.Type())
		if err != nil {
			return nil, errors.Wrapf(err, "field %s", f.Name())
		}
		off = alignUp(off, c.align)
		fields = append(fields, fieldCodec{c, f, off})
		off += c.size
		align = max(align, c.align)
	}
	return &codec{alignUp(off, align), align,
		func(l *Layout, buf []byte, ptr unsafe.Pointer) {
			for _, f := range fields {
				f.encode(l, buf[f.offset:], f.field.UnsafeGet(ptr))
			}
		},
		func(l *Layout, buf []byte, ptr unsafe.Pointer) {
			for _, f := range fields {
				f.decode(l, buf[f.offset:], f.field.UnsafeGet(ptr))
			}
		},
	}, nil
}
