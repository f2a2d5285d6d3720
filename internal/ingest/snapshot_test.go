package ingest

import "testing"

func ptr(v float64) *float64 { return &v }

func TestDisplayFormatting(t *testing.T) {
	d := Snapshot{
		Latitude:      ptr(-23.55052),
		Longitude:     ptr(-46.633308),
		Distance:      ptr(42.37),
		Concentration: ptr(88),
	}.Display()

	want := Display{
		Latitude:          "-23.550520",
		Longitude:         "-46.633308",
		Distance:          "42.4",
		DistanceUnit:      "cm",
		Concentration:     "88",
		ConcentrationUnit: "PPM",
	}
	if d != want {
		t.Fatalf("expected %+v, got %+v", want, d)
	}
}

func TestDisplayUnsetFields(t *testing.T) {
	d := Snapshot{Distance: ptr(0)}.Display()
	if d.Latitude != Unset || d.Longitude != Unset || d.Concentration != Unset {
		t.Fatalf("expected unset placeholders, got %+v", d)
	}
	if d.Distance != "0.0" {
		t.Fatalf("a zero reading is a value, got %q", d.Distance)
	}
}

func TestSnapshotCloneIsDeep(t *testing.T) {
	s := Snapshot{Distance: ptr(1)}
	c := s.clone()
	*c.Distance = 2
	if *s.Distance != 1 {
		t.Fatalf("clone shares storage with the original")
	}
	if c.Latitude != nil {
		t.Fatalf("unset field became set in clone")
	}
}

func TestParseMode(t *testing.T) {
	if m, err := ParseMode("live"); err != nil || m != Live {
		t.Fatalf("live: %v %v", m, err)
	}
	if m, err := ParseMode("mock"); err != nil || m != Mock {
		t.Fatalf("mock: %v %v", m, err)
	}
	if _, err := ParseMode("demo"); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
	if Live.Toggled() != Mock || Mock.Toggled() != Live {
		t.Fatalf("toggle is not an involution")
	}
	var m Mode
	if err := m.UnmarshalText([]byte("mock")); err != nil || m != Mock {
		t.Fatalf("unmarshal text: %v %v", m, err)
	}
}
