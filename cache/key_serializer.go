package cache

import (
	"encoding"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/vmihailenco/msgpack/v5"
)

// KeySeparator defines the delimiter used between cache key segments.
const KeySeparator = "::"

// KeySerializer builds a cache key from a method name and arbitrary args.
// It must produce the same key for equal arguments.
type KeySerializer interface {
	SerializeKey(method string, args ...any) string
}

type defaultKeySerializer struct{}

// NewDefaultKeySerializer returns the reflection based serializer.
func NewDefaultKeySerializer() KeySerializer {
	return defaultKeySerializer{}
}

// SerializeKey joins method and the serialized args with KeySeparator.
func (s defaultKeySerializer) SerializeKey(method string, args ...any) string {
	if len(args) == 0 {
		return method
	}

	var b strings.Builder
	b.WriteString(method)
	for _, arg := range args {
		b.WriteString(KeySeparator)
		writeKeyValue(&b, arg)
	}
	return b.String()
}

// FormatKeyValue renders a single value the way SerializeKey renders args.
func FormatKeyValue(v any) string {
	var b strings.Builder
	writeKeyValue(&b, v)
	return b.String()
}

func writeKeyValue(b *strings.Builder, v any) {
	if v == nil {
		b.WriteString("nil")
		return
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Func:
		// func pointers are only stable within one process
		fmt.Fprintf(b, "func:%p", v)
	case reflect.Chan:
		fmt.Fprintf(b, "chan:%p", v)
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			b.WriteString("nil")
			return
		}
		writeKeyValue(b, rv.Elem().Interface())
	case reflect.Slice:
		if rv.IsNil() {
			b.WriteString("slice:nil")
			return
		}
		writeSequence(b, "slice", rv)
	case reflect.Array:
		writeSequence(b, "array", rv)
	case reflect.Map:
		if rv.IsNil() {
			b.WriteString("map:nil")
			return
		}
		writeMap(b, rv)
	case reflect.Struct:
		if tm, ok := v.(encoding.TextMarshaler); ok {
			if txt, err := tm.MarshalText(); err == nil {
				b.Write(txt)
				return
			}
		}
		writeStruct(b, rv)
	case reflect.String:
		b.WriteString(rv.String())
	case reflect.Bool:
		b.WriteString(strconv.FormatBool(rv.Bool()))
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		b.WriteString(strconv.FormatInt(rv.Int(), 10))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		b.WriteString(strconv.FormatUint(rv.Uint(), 10))
	case reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128:
		fmt.Fprintf(b, "%v", v)
	default:
		writeHashed(b, v)
	}
}

func writeSequence(b *strings.Builder, kind string, rv reflect.Value) {
	n := rv.Len()
	fmt.Fprintf(b, "%s[%d]:{", kind, n)
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteByte(',')
		}
		writeKeyValue(b, rv.Index(i).Interface())
	}
	b.WriteByte('}')
}

func writeMap(b *strings.Builder, rv reflect.Value) {
	pairs := make([]string, 0, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		pairs = append(pairs, FormatKeyValue(iter.Key().Interface())+"="+FormatKeyValue(iter.Value().Interface()))
	}
	sort.Strings(pairs)
	fmt.Fprintf(b, "map[%d]:{%s}", len(pairs), strings.Join(pairs, ","))
}

func writeStruct(b *strings.Builder, rv reflect.Value) {
	rt := rv.Type()
	b.WriteString("struct:{")
	first := true
	for i := 0; i < rv.NumField(); i++ {
		field := rt.Field(i)
		if !field.IsExported() {
			continue
		}
		if !first {
			b.WriteByte(',')
		}
		first = false
		b.WriteString(field.Name)
		b.WriteByte(':')
		writeKeyValue(b, rv.Field(i).Interface())
	}
	b.WriteByte('}')
}

// writeHashed covers kinds with no textual form by hashing their encoding.
func writeHashed(b *strings.Builder, v any) {
	data, err := msgpack.Marshal(v)
	if err != nil {
		fmt.Fprintf(b, "opaque:%T", v)
		return
	}
	fmt.Fprintf(b, "h:%016x", xxhash.Sum64(data))
}
