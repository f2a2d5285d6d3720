package telemetry

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// wireMessage mirrors the sensor's JSON. Pointers tell a missing key apart
// from a zero reading.
type wireMessage struct {
	Lat       *float64 `json:"lat"`
	Lng       *float64 `json:"lng"`
	Distancia *float64 `json:"distancia"`
	PPM       *float64 `json:"ppm"`
}

// Decode parses a sensor payload. The object must carry numeric "distancia"
// and "ppm"; "lat" and "lng" are optional but must be numbers when present.
// Every failure wraps ErrMalformedPayload.
func Decode(payload []byte) (Message, error) {
	var w wireMessage
	if err := json.Unmarshal(payload, &w); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if w.Distancia == nil {
		return Message{}, fmt.Errorf("%w: missing distancia", ErrMalformedPayload)
	}
	if w.PPM == nil {
		return Message{}, fmt.Errorf("%w: missing ppm", ErrMalformedPayload)
	}
	return Message{
		Latitude:      w.Lat,
		Longitude:     w.Lng,
		Distance:      *w.Distancia,
		Concentration: *w.PPM,
	}, nil
}
