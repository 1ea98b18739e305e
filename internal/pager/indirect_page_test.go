package pager

import "testing"

func makeRef(pageKey int64) *PageReference {
	return &PageReference{ResourceID: 1, PageKey: pageKey, LogKey: UnsetLogKey}
}

func roundTripIndirect(t *testing.T, ip *IndirectPage) *IndirectPage {
	t.Helper()
	buf := ip.Serialize(0, 1, IndexTypeDocument)
	got, hdr, err := DeserializeIndirectPage(buf)
	if err != nil {
		t.Fatalf("DeserializeIndirectPage: %v", err)
	}
	if hdr.Kind != PageKindIndirect {
		t.Fatalf("kind = %s, want Indirect", hdr.Kind)
	}
	return got
}

func assertSameChildren(t *testing.T, want, got *IndirectPage) {
	t.Helper()
	for i := 0; i < Fanout; i++ {
		w, g := want.Child(i), got.Child(i)
		if (w == nil) != (g == nil) {
			t.Fatalf("child %d presence differs after round trip", i)
		}
		if w != nil && w.PageKey != g.PageKey {
			t.Fatalf("child %d page key = %d, want %d", i, g.PageKey, w.PageKey)
		}
	}
}

func TestIndirectPageSparseVariantRoundTrip(t *testing.T) {
	ip := NewIndirectPage()
	ip.SetChild(3, makeRef(100))
	ip.SetChild(127, makeRef(200))
	assertSameChildren(t, ip, roundTripIndirect(t, ip))
}

func TestIndirectPageBitmapVariantRoundTrip(t *testing.T) {
	ip := NewIndirectPage()
	for i := 0; i < 20; i++ {
		ip.SetChild(i*6, makeRef(int64(1000+i)))
	}
	assertSameChildren(t, ip, roundTripIndirect(t, ip))
}

func TestIndirectPageFullVariantRoundTrip(t *testing.T) {
	ip := NewIndirectPage()
	for i := 0; i < 100; i++ {
		ip.SetChild(i, makeRef(int64(5000+i)))
	}
	assertSameChildren(t, ip, roundTripIndirect(t, ip))
}

func TestIndirectPageVariantSizesDiffer(t *testing.T) {
	sparse := NewIndirectPage()
	sparse.SetChild(0, makeRef(1))

	dense := NewIndirectPage()
	for i := 0; i < Fanout; i++ {
		dense.SetChild(i, makeRef(int64(i)))
	}

	sparseBuf := sparse.Serialize(0, 1, IndexTypeDocument)
	denseBuf := dense.Serialize(0, 1, IndexTypeDocument)
	if len(sparseBuf) >= len(denseBuf) {
		t.Fatalf("sparse encoding (%d bytes) should be smaller than dense (%d bytes)",
			len(sparseBuf), len(denseBuf))
	}
}

func TestIndirectPageCloneIsCopyOnWrite(t *testing.T) {
	orig := NewIndirectPage()
	orig.SetChild(5, makeRef(42))

	clone := orig.Clone()
	clone.SetChild(5, makeRef(99))
	clone.SetChild(6, makeRef(7))

	if orig.Child(5).PageKey != 42 {
		t.Fatalf("mutating the clone changed the original: child 5 = %d", orig.Child(5).PageKey)
	}
	if orig.Child(6) != nil {
		t.Fatal("mutating the clone added a child to the original")
	}
}

func TestDecomposeKeyCoversAllLevels(t *testing.T) {
	indices := decomposeKey(0, trieLevels)
	if len(indices) != trieLevels {
		t.Fatalf("expected %d levels, got %d", trieLevels, len(indices))
	}
	for _, idx := range indices {
		if idx != 0 {
			t.Fatalf("key 0 should decompose to all zeros, got %v", indices)
		}
	}

	// The least-significant 7 bits land in the last level.
	indices = decomposeKey(127, trieLevels)
	if indices[trieLevels-1] != 127 {
		t.Fatalf("last level = %d, want 127", indices[trieLevels-1])
	}
	for lvl := 0; lvl < trieLevels-1; lvl++ {
		if indices[lvl] != 0 {
			t.Fatalf("level %d = %d, want 0", lvl, indices[lvl])
		}
	}

	indices = decomposeKey(128, trieLevels)
	if indices[trieLevels-1] != 0 || indices[trieLevels-2] != 1 {
		t.Fatalf("key 128 decomposition wrong: %v", indices)
	}

	for _, key := range []int64{1, 1 << 20, 1 << 40, (1 << 62) - 1} {
		for lvl, idx := range decomposeKey(key, trieLevels) {
			if idx < 0 || idx >= Fanout {
				t.Fatalf("key %d level %d index %d out of fanout range", key, lvl, idx)
			}
		}
	}
}
