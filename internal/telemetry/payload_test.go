package telemetry

import (
	"errors"
	"testing"
)

func TestDecodeValidPayload(t *testing.T) {
	m, err := Decode([]byte(`{"lat":-23.5,"lng":-46.6,"distancia":42.37,"ppm":88}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Distance != 42.37 || m.Concentration != 88 {
		t.Fatalf("unexpected readings: %+v", m)
	}
	if m.Latitude == nil || *m.Latitude != -23.5 || m.Longitude == nil || *m.Longitude != -46.6 {
		t.Fatalf("expected coordinates to be carried, got %+v", m)
	}
}

func TestDecodeWithoutCoordinates(t *testing.T) {
	m, err := Decode([]byte(`{"distancia":0,"ppm":0}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Latitude != nil || m.Longitude != nil {
		t.Fatalf("expected no coordinates, got %+v", m)
	}
	if m.Distance != 0 || m.Concentration != 0 {
		t.Fatalf("zero readings must decode as zero, got %+v", m)
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	cases := map[string]string{
		"not json":        `oops`,
		"truncated":       `{not json`,
		"null":            `null`,
		"array":           `[1,2]`,
		"missing ppm":     `{"distancia":1}`,
		"missing dist":    `{"ppm":1}`,
		"string reading":  `{"distancia":"12","ppm":3}`,
		"string latitude": `{"lat":"x","distancia":1,"ppm":2}`,
	}
	for name, payload := range cases {
		if _, err := Decode([]byte(payload)); !errors.Is(err, ErrMalformedPayload) {
			t.Fatalf("%s: expected ErrMalformedPayload, got %v", name, err)
		}
	}
}
