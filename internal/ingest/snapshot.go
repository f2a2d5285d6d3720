package ingest

import (
	"fmt"
	"strconv"

	"github.com/PauloHMoreti/PI-Unimax-2-Semestre/internal/telemetry"
)

// Mode selects the active producer.
type Mode int

const (
	Live Mode = iota
	Mock
)

func (m Mode) String() string {
	switch m {
	case Live:
		return "live"
	case Mock:
		return "mock"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// Toggled returns the other mode.
func (m Mode) Toggled() Mode {
	if m == Mock {
		return Live
	}
	return Mock
}

// ParseMode accepts "live" or "mock".
func ParseMode(s string) (Mode, error) {
	switch s {
	case "live":
		return Live, nil
	case "mock":
		return Mock, nil
	}
	return Live, fmt.Errorf("ingest: unknown mode %q", s)
}

func (m Mode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

func (m *Mode) UnmarshalText(b []byte) error {
	v, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// Snapshot is the latest merged reading. A nil field has never been set and
// is displayed as Unset rather than as zero.
type Snapshot struct {
	Latitude      *float64 `json:"latitude"`
	Longitude     *float64 `json:"longitude"`
	Distance      *float64 `json:"distance"`      // cm
	Concentration *float64 `json:"concentration"` // ppm
}

func (s Snapshot) clone() Snapshot {
	return Snapshot{
		Latitude:      copyFloat(s.Latitude),
		Longitude:     copyFloat(s.Longitude),
		Distance:      copyFloat(s.Distance),
		Concentration: copyFloat(s.Concentration),
	}
}

func copyFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Unset is shown for a field that has not received a value yet.
const Unset = "--"

const (
	UnitDistance      = "cm"
	UnitConcentration = "PPM"
)

// Display is the snapshot formatted for the dashboard cards.
type Display struct {
	Latitude          string `json:"latitude"`
	Longitude         string `json:"longitude"`
	Distance          string `json:"distance"`
	DistanceUnit      string `json:"distanceUnit"`
	Concentration     string `json:"concentration"`
	ConcentrationUnit string `json:"concentrationUnit"`
}

// Display formats distance to one decimal, concentration to none and the
// coordinates to six.
func (s Snapshot) Display() Display {
	return Display{
		Latitude:          format(s.Latitude, 6),
		Longitude:         format(s.Longitude, 6),
		Distance:          format(s.Distance, 1),
		DistanceUnit:      UnitDistance,
		Concentration:     format(s.Concentration, 0),
		ConcentrationUnit: UnitConcentration,
	}
}

func format(p *float64, prec int) string {
	if p == nil {
		return Unset
	}
	return strconv.FormatFloat(*p, 'f', prec, 64)
}

// State is what subscribers receive on every change.
type State struct {
	Mode     Mode             `json:"mode"`
	Status   telemetry.Status `json:"status"`
	Snapshot Snapshot         `json:"snapshot"`
	Seq      uint64           `json:"seq"` // bumps on every applied mutation
}
