package room

import (
	"reflect"
	"testing"
)

func TestPresenceTrackAndForget(t *testing.T) {
	p := NewPresence()

	var last []PresenceEntry
	var calls int
	p.OnChange(func(set []PresenceEntry) {
		last = set
		calls++
	})

	p.Track("conn-1", PresenceEntry{Name: "An", Class: "10A"})
	p.Track("conn-2", PresenceEntry{Name: "Binh", Class: "10A"})
	if calls != 2 {
		t.Fatalf("handler called %d times, want 2", calls)
	}
	want := []PresenceEntry{{Name: "An", Class: "10A"}, {Name: "Binh", Class: "10A"}}
	if !reflect.DeepEqual(last, want) {
		t.Fatalf("members = %+v, want %+v", last, want)
	}

	p.Forget("conn-1")
	if calls != 3 {
		t.Fatalf("handler called %d times, want 3", calls)
	}
	if !reflect.DeepEqual(last, []PresenceEntry{{Name: "Binh", Class: "10A"}}) {
		t.Fatalf("members after forget = %+v", last)
	}
}

func TestPresenceForgetUnknownIsSilent(t *testing.T) {
	p := NewPresence()

	var calls int
	p.OnChange(func([]PresenceEntry) { calls++ })

	p.Forget("never-seen")
	if calls != 0 {
		t.Fatalf("handler called %d times for unknown connection", calls)
	}
}

func TestPresenceDeduplicatesByName(t *testing.T) {
	p := NewPresence()

	// Same participant on two tabs: one entry in the set, and the set only
	// loses the name when both connections are gone.
	p.Track("tab-1", PresenceEntry{Name: "Chi"})
	p.Track("tab-2", PresenceEntry{Name: "Chi"})
	if got := p.Members(); len(got) != 1 || got[0].Name != "Chi" {
		t.Fatalf("members = %+v, want single Chi", got)
	}

	p.Forget("tab-1")
	if got := p.Members(); len(got) != 1 {
		t.Fatalf("members after one disconnect = %+v", got)
	}
	p.Forget("tab-2")
	if got := p.Members(); len(got) != 0 {
		t.Fatalf("members after both disconnects = %+v", got)
	}
}

func TestPresenceRetrackReplacesEntry(t *testing.T) {
	p := NewPresence()

	p.Track("conn-1", PresenceEntry{Name: "Dao", Class: "10A"})
	p.Track("conn-1", PresenceEntry{Name: "Dao", Class: "10B"})
	got := p.Members()
	if len(got) != 1 || got[0].Class != "10B" {
		t.Fatalf("members = %+v, want Dao in 10B", got)
	}
}

func TestPresenceSetIsStable(t *testing.T) {
	p := NewPresence()
	p.Track("c3", PresenceEntry{Name: "Chi"})
	p.Track("c1", PresenceEntry{Name: "An"})
	p.Track("c2", PresenceEntry{Name: "Binh"})

	first := p.Members()
	for i := 0; i < 5; i++ {
		if got := p.Members(); !reflect.DeepEqual(got, first) {
			t.Fatalf("membership set unstable: %+v vs %+v", got, first)
		}
	}
	if first[0].Name != "An" || first[2].Name != "Chi" {
		t.Fatalf("set not sorted: %+v", first)
	}
}
