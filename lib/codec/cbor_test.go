// Copyright 2026 The Constitute Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"testing"
)

func TestDeterministicEncoding(t *testing.T) {
	t.Parallel()

	// Map key order in the source must not affect the encoded bytes.
	a, err := Marshal(map[string]int{"zeta": 1, "alpha": 2, "mid": 3})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	b, err := Marshal(map[string]int{"alpha": 2, "mid": 3, "zeta": 1})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Errorf("same logical map produced different bytes:\n%x\n%x", a, b)
	}
}

func TestUnknownFieldsIgnored(t *testing.T) {
	t.Parallel()

	type wide struct {
		A string `cbor:"a"`
		B int    `cbor:"b"`
	}
	type narrow struct {
		A string `cbor:"a"`
	}

	data, err := Marshal(wide{A: "keep", B: 42})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var out narrow
	if err := Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal with extra field: %v", err)
	}
	if out.A != "keep" {
		t.Errorf("A = %q, want %q", out.A, "keep")
	}
}

func TestAnyTargetDecodesToStringKeyedMap(t *testing.T) {
	t.Parallel()

	data, err := Marshal(map[string]any{"k": "v"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var out any
	if err := Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	m, ok := out.(map[string]any)
	if !ok {
		t.Fatalf("decoded type %T, want map[string]any", out)
	}
	if m["k"] != "v" {
		t.Errorf(`m["k"] = %v, want "v"`, m["k"])
	}
}
