package device

import "testing"

func TestKindForName(t *testing.T) {
	cases := []struct {
		name string
		want Kind
	}{
		{"MacBook Pro Microphone", KindBuiltIn},
		{"Built-in Microphone", KindBuiltIn},
		{"Internal Microphone", KindBuiltIn},
		{"AirPods Pro", KindExternal},
		{"Scarlett 2i2 USB", KindExternal},
		{"", KindExternal},
	}
	for _, c := range cases {
		if got := KindForName(c.name); got != c.want {
			t.Errorf("KindForName(%q) = %s, want %s", c.name, got, c.want)
		}
	}
}

func TestSortByIDIsStableAcrossOrderings(t *testing.T) {
	a := []Device{{ID: "c"}, {ID: "a"}, {ID: "b"}}
	b := []Device{{ID: "b"}, {ID: "c"}, {ID: "a"}}

	sortedA := SortByID(a)
	sortedB := SortByID(b)
	for i := range sortedA {
		if sortedA[i].ID != sortedB[i].ID {
			t.Fatalf("orderings diverge at %d: %s vs %s", i, sortedA[i].ID, sortedB[i].ID)
		}
	}
	if a[0].ID != "c" {
		t.Fatal("SortByID must not mutate its input")
	}
}

func TestFind(t *testing.T) {
	devices := []Device{{ID: "x", Name: "X"}, {ID: "y", Name: "Y"}}
	if d, ok := Find(devices, "y"); !ok || d.Name != "Y" {
		t.Fatalf("Find(y) = %+v, %v", d, ok)
	}
	if _, ok := Find(devices, "z"); ok {
		t.Fatal("Find(z) should miss")
	}
}
