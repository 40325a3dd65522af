// Copyright 2025 Certen Protocol

package canonical

import (
	"bytes"
	"testing"
)

func TestJSON_KeyOrderIndependent(t *testing.T) {
	a := []byte(`{"b":1,"a":2,"c":{"y":1,"x":2}}`)
	b := []byte(`{"a":2,"c":{"x":2,"y":1},"b":1}`)

	canonA, err := JSON(a)
	if err != nil {
		t.Fatalf("canonicalize a: %v", err)
	}
	canonB, err := JSON(b)
	if err != nil {
		t.Fatalf("canonicalize b: %v", err)
	}
	if !bytes.Equal(canonA, canonB) {
		t.Fatalf("canonical forms differ: %s vs %s", canonA, canonB)
	}
}

func TestJSON_ArrayOrderPreserved(t *testing.T) {
	a := []byte(`{"items":[1,2,3]}`)
	b := []byte(`{"items":[3,2,1]}`)

	canonA, _ := JSON(a)
	canonB, _ := JSON(b)
	if bytes.Equal(canonA, canonB) {
		t.Fatal("array order should not be normalized")
	}
}

func TestDigest_Deterministic(t *testing.T) {
	type doc struct {
		Name  string `json:"name"`
		Value int    `json:"value"`
	}
	d1, err := Digest(doc{Name: "alice", Value: 1})
	if err != nil {
		t.Fatal(err)
	}
	d2, err := Digest(doc{Name: "alice", Value: 1})
	if err != nil {
		t.Fatal(err)
	}
	if d1 != d2 {
		t.Fatal("digest of structurally equal documents differs across runs")
	}

	d3, err := Digest(doc{Name: "alice", Value: 2})
	if err != nil {
		t.Fatal(err)
	}
	if d1 == d3 {
		t.Fatal("different documents produced the same digest")
	}
}
