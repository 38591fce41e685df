package pool

import "testing"

func TestSimpleBytePoolGetReturnsSizedBuffer(t *testing.T) {
	p := NewSimpleBytePool(2, 128)
	b := p.Get()
	if len(b) != 128 {
		t.Fatalf("Get() returned buffer of len %d, want 128", len(b))
	}
}

func TestSimpleBytePoolReusesPutBuffers(t *testing.T) {
	p := NewSimpleBytePool(1, 64)
	first := p.Get()
	p.Put(first)
	second := p.Get()
	// Both slices should back the same underlying array if reuse happened.
	if &first[0] != &second[0] {
		t.Fatal("expected Get after Put to reuse the same underlying buffer")
	}
}

func TestSimpleBytePoolDiscardsWhenFull(t *testing.T) {
	p := NewSimpleBytePool(1, 16)
	a := p.Get()
	b := p.Get() // pool now empty, fresh alloc
	p.Put(a)
	p.Put(b) // pool already has one buffer queued; this one is discarded
	// Draining should yield exactly one buffer before a fresh allocation.
	first := p.Get()
	if len(first) != 16 {
		t.Fatalf("unexpected buffer size %d", len(first))
	}
	if &first[0] != &a[0] {
		t.Fatal("expected the first Get to return the buffer kept by the pool")
	}
	second := p.Get()
	if &second[0] == &b[0] {
		t.Fatal("the buffer Put into a full pool should have been discarded")
	}
}
