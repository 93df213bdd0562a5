package jni

import (
	"strings"

	"github.com/pkg/errors"
)

var ErrSignature = errors.New("malformed signature")

// parseSig splits a method descriptor into parameter and return type
// descriptors.
func parseSig(sig string) ([]string, string, error) {
	if !strings.HasPrefix(sig, "(") {
		return nil, "", errors.Wrap(ErrSignature, sig)
	}
	var params []string
	rest := sig[1:]
	for len(rest) > 0 && rest[0] != ')' {
		n, err := typeLen(rest)
		if err != nil {
			return nil, "", errors.Wrap(err, sig)
		}
		params = append(params, rest[:n])
		rest = rest[n:]
	}
	if len(rest) < 2 {
		return nil, "", errors.Wrap(ErrSignature, sig)
	}
	ret := rest[1:]
	if n, err := typeLen(ret); err != nil || n != len(ret) {
		return nil, "", errors.Wrap(ErrSignature, sig)
	}
	return params, ret, nil
}

// typeLen returns the length of the type descriptor s starts with.
func typeLen(s string) (int, error) {
	i := 0
	for i < len(s) && s[i] == '[' {
		i++
	}
	if i >= len(s) {
		return 0, ErrSignature
	}
	switch s[i] {
	case 'Z', 'B', 'C', 'S', 'I', 'J', 'F', 'D', 'V':
		return i + 1, nil
	case 'L':
		end := strings.IndexByte(s[i:], ';')
		if end < 0 {
			return 0, ErrSignature
		}
		return i + end + 1, nil
	}
	return 0, ErrSignature
}

func zeroOf(kind byte) Value {
	switch kind {
	case 'Z':
		return false
	case 'B':
		return int8(0)
	case 'C':
		return uint16(0)
	case 'S':
		return int16(0)
	case 'I':
		return int32(0)
	case 'J':
		return int64(0)
	case 'F':
		return float32(0)
	case 'D':
		return float64(0)
	}
	return nil
}

// returnKind is the first byte of the return descriptor of sig.
func returnKind(sig string) byte {
	i := strings.LastIndexByte(sig, ')')
	if i < 0 || i+1 >= len(sig) {
		return 'V'
	}
	return sig[i+1]
}

// coerce converts v to the Java type kind, substituting the zero value
// when v does not fit.
func coerce(kind byte, v Value) Value {
	switch kind {
	case 'Z':
		return toInt(v) != 0
	case 'B':
		return int8(toInt(v))
	case 'C':
		return uint16(toInt(v))
	case 'S':
		return int16(toInt(v))
	case 'I':
		return int32(toInt(v))
	case 'J':
		return toInt(v)
	case 'F':
		return float32(toFloat(v))
	case 'D':
		return toFloat(v)
	case 'L', '[':
		o, _ := v.(Object)
		return o
	}
	return nil
}

func toInt(v Value) int64 {
	switch x := v.(type) {
	case bool:
		if x {
			return 1
		}
	case int8:
		return int64(x)
	case uint16:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case int:
		return int64(x)
	case int64:
		return x
	case uint64:
		return int64(x)
	case float32:
		return int64(x)
	case float64:
		return int64(x)
	}
	return 0
}

func toFloat(v Value) float64 {
	switch x := v.(type) {
	case float32:
		return float64(x)
	case float64:
		return x
	}
	return float64(toInt(v))
}
