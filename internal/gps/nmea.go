package gps

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"
)

// NMEAProvider reads standard NMEA 0183 sentences from a UART GPS and returns
// the first valid fix. Compatible with u-blox NEO-M8N and any standard NMEA GPS.
type NMEAProvider struct {
	portPath string
	baudRate int
	log      *zap.Logger
	open     func(path string, mode *serial.Mode) (serial.Port, error)

	mu   sync.Mutex
	port serial.Port
}

// NMEAConfig holds configuration for the NMEA GPS provider.
type NMEAConfig struct {
	PortPath string `yaml:"port_path" json:"portPath"`
	BaudRate int    `yaml:"baud_rate" json:"baudRate"`
}

// NewNMEA creates a new NMEA GPS provider.
func NewNMEA(cfg NMEAConfig, log *zap.Logger) *NMEAProvider {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 9600 // Standard NMEA default
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &NMEAProvider{
		portPath: cfg.PortPath,
		baudRate: cfg.BaudRate,
		log:      log,
		open:     serial.Open,
	}
}

func (n *NMEAProvider) Name() string { return "NMEA GPS" }

// RequestPermission opens the serial port. Lacking access to the device node
// is reported as a denial; any other open error is not.
func (n *NMEAProvider) RequestPermission(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.port != nil {
		return nil
	}

	mode := &serial.Mode{
		BaudRate: n.baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := n.open(n.portPath, mode)
	if err != nil {
		var perr *serial.PortError
		if errors.As(err, &perr) && perr.Code() == serial.PermissionDenied {
			return fmt.Errorf("%w: %s: %v", ErrPermissionDenied, n.portPath, err)
		}
		return fmt.Errorf("gps: failed to open %s: %w", n.portPath, err)
	}
	if err := port.SetReadTimeout(200 * time.Millisecond); err != nil {
		port.Close()
		return fmt.Errorf("gps: set read timeout on %s: %w", n.portPath, err)
	}
	n.port = port
	n.log.Info("serial port opened", zap.String("port", n.portPath), zap.Int("baud", n.baudRate))
	return nil
}

// CurrentPosition reads sentences until the first valid fix, then closes the
// port. The provider is one-shot per permission grant.
func (n *NMEAProvider) CurrentPosition(ctx context.Context) (Position, error) {
	n.mu.Lock()
	port := n.port
	n.port = nil
	n.mu.Unlock()

	if port == nil {
		return Position{}, fmt.Errorf("gps: not connected")
	}
	defer port.Close()

	return readFix(ctx, port)
}

// readFix scans r until an RMC or GGA sentence carries a valid fix or ctx
// ends.
func readFix(ctx context.Context, r io.Reader) (Position, error) {
	scanner := bufio.NewScanner(ctxReader{ctx: ctx, r: r})
	for {
		if err := ctx.Err(); err != nil {
			return Position{}, fmt.Errorf("gps: no fix: %w", err)
		}
		if !scanner.Scan() {
			err := scanner.Err()
			if err == nil {
				err = io.EOF
			}
			return Position{}, fmt.Errorf("gps: no fix: %w", err)
		}

		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "$") || !validateNMEAChecksum(line) {
			continue
		}
		if pos, ok := parseFix(line); ok {
			return pos, nil
		}
	}
}

// ctxReader absorbs the empty reads a serial read timeout produces, checking
// ctx after each one. The scanner never sees them, so it neither gives up with
// io.ErrNoProgress nor loses a partly buffered sentence.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	for {
		n, err := c.r.Read(p)
		if n > 0 || err != nil {
			return n, err
		}
		if err := c.ctx.Err(); err != nil {
			return 0, err
		}
	}
}

// parseFix extracts a position from an RMC or GGA sentence with a valid fix.
func parseFix(line string) (Position, bool) {
	parts := splitNMEA(line)
	if len(parts) == 0 || len(parts[0]) < 5 {
		return Position{}, false
	}

	switch parts[0][2:] {
	case "RMC":
		// $GPRMC,hhmmss.ss,A,llll.ll,a,yyyyy.yy,a,x.x,x.x,ddmmyy,x.x,a*hh
		if len(parts) < 10 || parts[2] != "A" {
			return Position{}, false
		}
		return coords(parts[3], parts[4], parts[5], parts[6])
	case "GGA":
		// $GPGGA,hhmmss.ss,llll.ll,a,yyyyy.yy,a,x,xx,x.x,x.x,M,x.x,M,x.x,xxxx*hh
		if len(parts) < 11 {
			return Position{}, false
		}
		if fix, err := strconv.Atoi(parts[6]); err != nil || fix == 0 {
			return Position{}, false
		}
		return coords(parts[2], parts[3], parts[4], parts[5])
	}
	return Position{}, false
}

func coords(lat, latDir, lon, lonDir string) (Position, bool) {
	la, ok1 := parseNMEACoord(lat, latDir)
	lo, ok2 := parseNMEACoord(lon, lonDir)
	if !ok1 || !ok2 {
		return Position{}, false
	}
	return Position{Latitude: la, Longitude: lo}, true
}

// splitNMEA splits a sentence and strips the checksum suffix.
func splitNMEA(line string) []string {
	if idx := strings.Index(line, "*"); idx >= 0 {
		line = line[:idx]
	}
	line = strings.TrimPrefix(line, "$")
	return strings.Split(line, ",")
}

// parseNMEACoord converts NMEA ddmm.mmmm format to decimal degrees.
func parseNMEACoord(raw, dir string) (float64, bool) {
	if raw == "" || dir == "" {
		return 0, false
	}
	val, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	deg := math.Floor(val / 100)
	min := val - deg*100
	result := deg + min/60

	if dir == "S" || dir == "W" {
		result = -result
	}
	return result, true
}

// validateNMEAChecksum checks the XOR checksum after *.
func validateNMEAChecksum(line string) bool {
	idx := strings.Index(line, "*")
	if idx < 0 || idx+3 > len(line) {
		return false
	}
	body := line[1:idx] // Between $ and *
	var calc byte
	for i := 0; i < len(body); i++ {
		calc ^= body[i]
	}
	expected, err := strconv.ParseUint(line[idx+1:idx+3], 16, 8)
	if err != nil {
		return false
	}
	return byte(expected) == calc
}
