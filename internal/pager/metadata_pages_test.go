package pager

import "testing"

func TestRevisionRootPageRoundTrip(t *testing.T) {
	rr := &RevisionRootPage{
		ResourceID:      7,
		Revision:        12,
		CommitTimestamp: 1750000000,
		IndirectRoot:    &PageReference{ResourceID: 7, PageKey: 4096, LogKey: UnsetLogKey},
		PreviousRootKey: 2048,
		NameRef:         &PageReference{ResourceID: 7, PageKey: 100, LogKey: UnsetLogKey},
		PathSummaryRef:  &PageReference{ResourceID: 7, PageKey: 200, LogKey: UnsetLogKey},
		CASRef:          &PageReference{ResourceID: 7, PageKey: 300, LogKey: UnsetLogKey},
		PathRef:         &PageReference{ResourceID: 7, PageKey: 400, LogKey: UnsetLogKey},
	}
	got, err := DeserializeRevisionRootPage(rr.Serialize())
	if err != nil {
		t.Fatalf("DeserializeRevisionRootPage: %v", err)
	}
	if got.ResourceID != 7 || got.Revision != 12 || got.CommitTimestamp != 1750000000 {
		t.Fatalf("scalar fields differ: %+v", got)
	}
	if got.PreviousRootKey != 2048 {
		t.Fatalf("PreviousRootKey = %d, want 2048", got.PreviousRootKey)
	}
	if got.IndirectRoot == nil || got.IndirectRoot.PageKey != 4096 {
		t.Fatalf("IndirectRoot did not round trip: %+v", got.IndirectRoot)
	}
	for _, ref := range []struct {
		name string
		ref  *PageReference
		key  int64
	}{
		{"NameRef", got.NameRef, 100},
		{"PathSummaryRef", got.PathSummaryRef, 200},
		{"CASRef", got.CASRef, 300},
		{"PathRef", got.PathRef, 400},
	} {
		if ref.ref == nil || ref.ref.PageKey != ref.key {
			t.Fatalf("%s did not round trip: %+v", ref.name, ref.ref)
		}
	}
}

func TestRevisionRootPageNilRefsRoundTrip(t *testing.T) {
	rr := &RevisionRootPage{
		ResourceID:      1,
		Revision:        1,
		PreviousRootKey: NullPageKey,
	}
	got, err := DeserializeRevisionRootPage(rr.Serialize())
	if err != nil {
		t.Fatalf("DeserializeRevisionRootPage: %v", err)
	}
	if got.IndirectRoot != nil || got.NameRef != nil || got.PathSummaryRef != nil ||
		got.CASRef != nil || got.PathRef != nil {
		t.Fatalf("expected all refs nil, got %+v", got)
	}
	if got.PreviousRootKey != NullPageKey {
		t.Fatalf("PreviousRootKey = %d, want NullPageKey", got.PreviousRootKey)
	}
}

func TestRevisionRootPageRejectsWrongKind(t *testing.T) {
	mp, err := NewMetadataPage(PageKindName)
	if err != nil {
		t.Fatalf("NewMetadataPage: %v", err)
	}
	if _, err := DeserializeRevisionRootPage(mp.Serialize(1)); err == nil {
		t.Fatal("expected an error decoding a NamePage as a revision root")
	}
}

func TestMetadataPageRoundTripAllKinds(t *testing.T) {
	for _, kind := range []PageKind{PageKindName, PageKindPathSummary, PageKindCAS, PageKindPath} {
		mp, err := NewMetadataPage(kind)
		if err != nil {
			t.Fatalf("NewMetadataPage(%s): %v", kind, err)
		}
		mp.TrieRoot = &PageReference{ResourceID: 3, PageKey: 777, LogKey: UnsetLogKey}
		got, err := DeserializeMetadataPage(mp.Serialize(5))
		if err != nil {
			t.Fatalf("DeserializeMetadataPage(%s): %v", kind, err)
		}
		if got.Kind != kind {
			t.Fatalf("kind = %s, want %s", got.Kind, kind)
		}
		if got.TrieRoot == nil || got.TrieRoot.PageKey != 777 {
			t.Fatalf("%s trie root did not round trip: %+v", kind, got.TrieRoot)
		}
	}
}

func TestNewMetadataPageRejectsNonMetadataKind(t *testing.T) {
	if _, err := NewMetadataPage(PageKindKeyValueLeaf); err == nil {
		t.Fatal("expected an error for a non-metadata page kind")
	}
}
