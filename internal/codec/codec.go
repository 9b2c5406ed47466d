// Package codec converts cached values to and from a framed byte form.
//
// Frame layout:
//
//	magic "RC" | version (1 byte) | xxhash64(payload) (8 bytes, big endian)
//	| len(type) (1 byte) | type name | JSON payload
//
// Decode rejects anything that does not match a frame produced by Encode for
// the same Go type, returning ErrCorrupt. It never panics.
package codec

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/cespare/xxhash/v2"

	respcache "github.com/eugener/respcache/internal"
)

const (
	version    = 1
	headerSize = 2 + 1 + 8 + 1
)

var magic = [2]byte{'R', 'C'}

// Codec encodes and decodes cache payloads. The zero value is ready to use
// and rejects values that do not survive a round trip.
type Codec struct {
	// SkipVerify turns off the round-trip check in Encode. Only for callers
	// that already know their values decode back unchanged.
	SkipVerify bool
}

// Default is the verifying Codec.
var Default = Codec{}

// Encode is Default.Encode.
func Encode(v any) ([]byte, error) { return Default.Encode(v) }

// Decode is Default.Decode.
func Decode(data []byte, target any) error { return Default.Decode(data, target) }

// Encode frames v. Values JSON cannot represent, and values that decode
// back into something different (unexported fields, ints inside
// map[string]any), fail with ErrNotSerializable.
func (c Codec) Encode(v any) ([]byte, error) {
	if v == nil {
		return nil, fmt.Errorf("%w: nil value", respcache.ErrNotSerializable)
	}
	typ := typeName(reflect.TypeOf(v))
	if len(typ) > 255 {
		return nil, fmt.Errorf("%w: type name too long", respcache.ErrNotSerializable)
	}

	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", respcache.ErrNotSerializable, err)
	}

	buf := make([]byte, 0, headerSize+len(typ)+len(payload))
	buf = append(buf, magic[0], magic[1], version)
	buf = binary.BigEndian.AppendUint64(buf, xxhash.Sum64(payload))
	buf = append(buf, byte(len(typ)))
	buf = append(buf, typ...)
	buf = append(buf, payload...)

	if !c.SkipVerify {
		if err := verify(v, buf); err != nil {
			return nil, err
		}
	}
	return buf, nil
}

// Decode unframes data into target, which must be a non-nil pointer.
// Any mismatch with the frame format or target type returns ErrCorrupt.
func (c Codec) Decode(data []byte, target any) error {
	rv := reflect.ValueOf(target)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return fmt.Errorf("%w: decode target must be a non-nil pointer, got %T", respcache.ErrCorrupt, target)
	}

	payload, typ, err := unframe(data)
	if err != nil {
		return err
	}
	if want := typeName(rv.Type().Elem()); typ != want {
		return fmt.Errorf("%w: type %q, want %q", respcache.ErrCorrupt, typ, want)
	}

	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		return fmt.Errorf("%w: %v", respcache.ErrCorrupt, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: trailing data", respcache.ErrCorrupt)
	}
	return nil
}

// Check reports whether data is an intact frame, without decoding the payload.
func Check(data []byte) error {
	_, _, err := unframe(data)
	return err
}

// unframe validates the header and checksum and returns the payload and type name.
func unframe(data []byte) (payload []byte, typ string, err error) {
	if len(data) < headerSize {
		return nil, "", fmt.Errorf("%w: short frame (%d bytes)", respcache.ErrCorrupt, len(data))
	}
	if data[0] != magic[0] || data[1] != magic[1] {
		return nil, "", fmt.Errorf("%w: bad magic", respcache.ErrCorrupt)
	}
	if data[2] != version {
		return nil, "", fmt.Errorf("%w: unsupported version %d", respcache.ErrCorrupt, data[2])
	}
	sum := binary.BigEndian.Uint64(data[3:11])
	n := int(data[11])
	if len(data) < headerSize+n {
		return nil, "", fmt.Errorf("%w: truncated type name", respcache.ErrCorrupt)
	}
	typ = string(data[headerSize : headerSize+n])
	payload = data[headerSize+n:]
	if xxhash.Sum64(payload) != sum {
		return nil, "", fmt.Errorf("%w: checksum mismatch", respcache.ErrCorrupt)
	}
	return payload, typ, nil
}

// verify decodes buf into a new value of v's type and compares.
func verify(v any, buf []byte) error {
	t := reflect.TypeOf(v)
	fresh := reflect.New(t)
	if err := Default.Decode(buf, fresh.Interface()); err != nil {
		return fmt.Errorf("%w: round trip: %v", respcache.ErrNotSerializable, err)
	}
	if !reflect.DeepEqual(fresh.Elem().Interface(), v) {
		return fmt.Errorf("%w: %s does not round-trip", respcache.ErrNotSerializable, t)
	}
	return nil
}

// typeName strips pointer indirection so that Encode(&v) and Encode(v)
// decode into the same target.
func typeName(t reflect.Type) string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.String()
}
