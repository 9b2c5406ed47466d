package cachekey

import (
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"

	respcache "github.com/eugener/respcache/internal"
)

func TestBuild_OrderIndependent(t *testing.T) {
	t.Parallel()
	b := NewBuilder("app")

	p1 := map[string]any{}
	p1["a"] = 1
	p1["b"] = 2
	p2 := map[string]any{}
	p2["b"] = 2
	p2["a"] = 1

	k1 := b.MustBuild(respcache.CategoryHint, p1)
	k2 := b.MustBuild(respcache.CategoryHint, p2)
	if k1 != k2 {
		t.Errorf("keys differ for same params: %q vs %q", k1, k2)
	}
}

func TestBuild_CategorySeparates(t *testing.T) {
	t.Parallel()
	b := NewBuilder("app")
	p := map[string]any{"exercise_id": 7, "answer": "je suis"}

	seen := make(map[string]respcache.Category)
	for _, c := range respcache.Categories() {
		k := b.MustBuild(c, p)
		if prev, ok := seen[k]; ok {
			t.Fatalf("categories %v and %v share key %q", prev, c, k)
		}
		seen[k] = c
	}
}

func TestBuild_Format(t *testing.T) {
	t.Parallel()
	b := NewBuilder("lingo")
	k := b.MustBuild(respcache.CategoryFeedback, map[string]any{"x": "y"})

	parts := strings.Split(k, ":")
	if len(parts) != 3 {
		t.Fatalf("key %q should have 3 parts", k)
	}
	if parts[0] != "lingo" || parts[1] != "feedback" {
		t.Errorf("key prefix = %q:%q, want lingo:feedback", parts[0], parts[1])
	}
	if len(parts[2]) != 16 {
		t.Errorf("fingerprint length = %d, want 16", len(parts[2]))
	}
	if !strings.HasPrefix(k, b.Prefix(respcache.CategoryFeedback)) {
		t.Errorf("key %q lacks prefix %q", k, b.Prefix(respcache.CategoryFeedback))
	}
}

func TestBuild_DefaultNamespace(t *testing.T) {
	t.Parallel()
	b := NewBuilder("")
	if b.Namespace() != DefaultNamespace {
		t.Errorf("namespace = %q, want %q", b.Namespace(), DefaultNamespace)
	}
}

func TestBuild_DistinctParams(t *testing.T) {
	t.Parallel()
	b := NewBuilder("app")

	sets := []map[string]any{
		{},
		{"a": 1},
		{"a": 2},
		{"a": "1"},
		{"a": true},
		{"a": nil},
		{"b": 1},
		{"a": 1, "b": 2},
		{"a": 1.5},
		// Separator characters inside names and values must not alias.
		{"a=1;b": 2},
		{"a": "1;\"b\"=n:2"},
		{"a": "x", "b": "y"},
		{"a": "x\"", "b": "y"},
	}

	seen := make(map[string]int)
	for i, p := range sets {
		k := b.MustBuild(respcache.CategoryOther, p)
		if j, ok := seen[k]; ok {
			t.Errorf("param sets %d and %d collide on %q", j, i, k)
		}
		seen[k] = i
	}
}

func TestBuild_NumericCanonicalization(t *testing.T) {
	t.Parallel()
	b := NewBuilder("app")

	values := []any{1, int8(1), int64(1), uint(1), uint32(1), float32(1), 1.0, json.Number("1")}
	want := b.MustBuild(respcache.CategoryHint, map[string]any{"n": 1})
	for _, v := range values {
		got := b.MustBuild(respcache.CategoryHint, map[string]any{"n": v})
		if got != want {
			t.Errorf("value %T(%v) key = %q, want %q", v, v, got, want)
		}
	}

	if b.MustBuild(respcache.CategoryHint, map[string]any{"n": 1.25}) == want {
		t.Error("1.25 should not canonicalize to 1")
	}
}

func TestBuild_NotScalar(t *testing.T) {
	t.Parallel()
	b := NewBuilder("app")

	bad := []any{
		[]string{"a"},
		map[string]any{"x": 1},
		struct{}{},
		math.NaN(),
		math.Inf(1),
		json.Number("abc"),
		func() {},
	}
	for _, v := range bad {
		_, err := b.Build(respcache.CategoryHint, map[string]any{"v": v})
		if !errors.Is(err, respcache.ErrNotScalar) {
			t.Errorf("value %T: err = %v, want ErrNotScalar", v, err)
		}
	}
}

func TestMustBuild_Panics(t *testing.T) {
	t.Parallel()
	defer func() {
		if recover() == nil {
			t.Error("MustBuild should panic on non-scalar param")
		}
	}()
	NewBuilder("app").MustBuild(respcache.CategoryHint, map[string]any{"v": []int{1}})
}

func TestCanonical_Sorted(t *testing.T) {
	t.Parallel()
	got, err := Canonical(map[string]any{"b": "x", "a": 2, "c": false})
	if err != nil {
		t.Fatal(err)
	}
	want := `"a"=n:2;"b"=s:"x";"c"=b:false;`
	if got != want {
		t.Errorf("Canonical = %q, want %q", got, want)
	}
}
