// Package cachekey derives deterministic cache keys from a content category
// and a set of scalar request parameters.
package cachekey

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"

	respcache "github.com/eugener/respcache/internal"
)

// DefaultNamespace is used when a Builder is created with an empty namespace.
const DefaultNamespace = "respcache"

// Builder formats keys as {namespace}:{category}:{fingerprint}.
type Builder struct {
	namespace string
}

// NewBuilder returns a Builder for the given namespace prefix.
func NewBuilder(namespace string) *Builder {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &Builder{namespace: namespace}
}

// Namespace returns the key prefix.
func (b *Builder) Namespace() string { return b.namespace }

// Build returns the cache key for category c and params. Parameter order does
// not matter. It fails only when a value is not a scalar.
func (b *Builder) Build(c respcache.Category, params map[string]any) (string, error) {
	fp, err := Fingerprint(params)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	sb.Grow(len(b.namespace) + len(c.String()) + len(fp) + 2)
	sb.WriteString(b.namespace)
	sb.WriteByte(':')
	sb.WriteString(c.String())
	sb.WriteByte(':')
	sb.WriteString(fp)
	return sb.String(), nil
}

// MustBuild is like Build but panics on a non-scalar parameter.
func (b *Builder) MustBuild(c respcache.Category, params map[string]any) string {
	k, err := b.Build(c, params)
	if err != nil {
		panic(err)
	}
	return k
}

// Prefix returns the key prefix shared by every key of category c.
func (b *Builder) Prefix(c respcache.Category) string {
	return b.namespace + ":" + c.String() + ":"
}

// Fingerprint returns a 16-hex-digit xxhash64 of the canonical form of params.
func Fingerprint(params map[string]any) (string, error) {
	canon, err := Canonical(params)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%016x", xxhash.Sum64String(canon)), nil
}

// Canonical renders params as a deterministic string: names sorted, each pair
// written as quote(name)=tag:value; so distinct sets never share a rendering.
func Canonical(params map[string]any) (string, error) {
	names := make([]string, 0, len(params))
	for k := range params {
		names = append(names, k)
	}
	slices.Sort(names)

	var sb strings.Builder
	for _, name := range names {
		v, err := scalar(params[name])
		if err != nil {
			return "", fmt.Errorf("param %q: %w", name, err)
		}
		sb.WriteString(strconv.Quote(name))
		sb.WriteByte('=')
		sb.WriteString(v)
		sb.WriteByte(';')
	}
	return sb.String(), nil
}

// scalar renders a single value with a type tag. Numbers share the "n" tag so
// that 1, int64(1) and 1.0 canonicalize identically.
func scalar(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "z:", nil
	case string:
		return "s:" + strconv.Quote(x), nil
	case bool:
		return "b:" + strconv.FormatBool(x), nil
	case int:
		return "n:" + strconv.FormatInt(int64(x), 10), nil
	case int8:
		return "n:" + strconv.FormatInt(int64(x), 10), nil
	case int16:
		return "n:" + strconv.FormatInt(int64(x), 10), nil
	case int32:
		return "n:" + strconv.FormatInt(int64(x), 10), nil
	case int64:
		return "n:" + strconv.FormatInt(x, 10), nil
	case uint:
		return "n:" + strconv.FormatUint(uint64(x), 10), nil
	case uint8:
		return "n:" + strconv.FormatUint(uint64(x), 10), nil
	case uint16:
		return "n:" + strconv.FormatUint(uint64(x), 10), nil
	case uint32:
		return "n:" + strconv.FormatUint(uint64(x), 10), nil
	case uint64:
		return "n:" + strconv.FormatUint(x, 10), nil
	case float32:
		return number(float64(x))
	case float64:
		return number(x)
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return "n:" + strconv.FormatInt(i, 10), nil
		}
		f, err := x.Float64()
		if err != nil {
			return "", fmt.Errorf("%w: malformed number %q", respcache.ErrNotScalar, x.String())
		}
		return number(f)
	default:
		return "", fmt.Errorf("%w: %T", respcache.ErrNotScalar, v)
	}
}

// maxExactInt is the largest integer a float64 represents exactly.
const maxExactInt = 1 << 53

func number(f float64) (string, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", fmt.Errorf("%w: non-finite number", respcache.ErrNotScalar)
	}
	if f == math.Trunc(f) && math.Abs(f) <= maxExactInt {
		return "n:" + strconv.FormatInt(int64(f), 10), nil
	}
	return "n:" + strconv.FormatFloat(f, 'g', -1, 64), nil
}
