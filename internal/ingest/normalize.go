// Package ingest consumes AIS feeds: the streaming websocket session, batch
// ingestion, and the watchlist downloaders. All inbound records pass through
// the normalization rules here before touching the store.
package ingest

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/radiance-data/radiancefleet/internal/db"
	"github.com/radiance-data/radiancefleet/internal/geo"
)

var (
	ErrBadMMSI       = errors.New("ingest: invalid mmsi")
	ErrNonVesselMMSI = errors.New("ingest: non-vessel mmsi range")
	ErrBadLatLon     = errors.New("ingest: coordinate out of range")
	ErrBadTimestamp  = errors.New("ingest: invalid timestamp")
)

// clockSkewTolerance is how far in the future a reported timestamp may be
// before the record is rejected.
const clockSkewTolerance = 5 * time.Minute

// headingUnavailable is the AIS sentinel for "no heading sensor".
const headingUnavailable = 511

// NormalizeMMSI trims, validates, and left-pads an MMSI to 9 digits.
// Coast-station, SAR-aircraft, and aid-to-navigation ranges are rejected
// even after padding; they are transmitters, not vessels.
func NormalizeMMSI(raw string) (string, error) {
	m := strings.TrimSpace(raw)
	if m == "" || len(m) > 9 {
		return "", fmt.Errorf("%w: %q", ErrBadMMSI, raw)
	}
	for _, c := range m {
		if c < '0' || c > '9' {
			return "", fmt.Errorf("%w: %q", ErrBadMMSI, raw)
		}
	}
	m = strings.Repeat("0", 9-len(m)) + m

	switch {
	case strings.HasPrefix(m, "00"): // coast stations and group calls
		return "", fmt.Errorf("%w: %s", ErrNonVesselMMSI, m)
	case strings.HasPrefix(m, "111"): // SAR aircraft
		return "", fmt.Errorf("%w: %s", ErrNonVesselMMSI, m)
	case strings.HasPrefix(m, "99"), strings.HasPrefix(m, "98"): // AtoN, craft associated
		return "", fmt.Errorf("%w: %s", ErrNonVesselMMSI, m)
	}
	return m, nil
}

// NormalizeHeading maps the 511 sentinel to nil.
func NormalizeHeading(h float64) *float64 {
	if h == headingUnavailable || h < 0 || h >= 360 {
		return nil
	}
	return &h
}

// ValidateLatLon rejects coordinates outside the WGS84 envelope.
func ValidateLatLon(lat, lon float64) error {
	if !geo.ValidLatLon(lat, lon) {
		return fmt.Errorf("%w: %.4f, %.4f", ErrBadLatLon, lat, lon)
	}
	return nil
}

// ParseTimestamp parses an ISO-8601 timestamp and rejects values more than
// the clock-skew tolerance in the future of now.
func ParseTimestamp(raw string, now time.Time) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrBadTimestamp, raw)
	}
	t = t.UTC()
	if t.After(now.Add(clockSkewTolerance)) {
		return time.Time{}, fmt.Errorf("%w: %s is in the future", ErrBadTimestamp, raw)
	}
	return t, nil
}

// midFlags maps MMSI country prefixes (MIDs) to flag code and risk tier.
// High-risk covers the flags most used by shadow-fleet re-registrations;
// low-risk covers major IG-club registries. Everything else is medium.
var midFlags = map[string]struct {
	flag string
	risk db.FlagRisk
}{
	"273": {"RU", db.FlagRiskHigh},
	"511": {"PW", db.FlagRiskHigh}, // Palau
	"613": {"CM", db.FlagRiskHigh}, // Cameroon
	"677": {"TZ", db.FlagRiskHigh}, // Tanzania
	"620": {"KM", db.FlagRiskHigh}, // Comoros
	"671": {"TG", db.FlagRiskHigh}, // Togo
	"667": {"SL", db.FlagRiskHigh}, // Sierra Leone
	"312": {"BZ", db.FlagRiskHigh}, // Belize
	"572": {"TV", db.FlagRiskHigh}, // Tuvalu
	"574": {"VN", db.FlagRiskMedium},
	"370": {"PA", db.FlagRiskMedium}, // Panama
	"371": {"PA", db.FlagRiskMedium},
	"372": {"PA", db.FlagRiskMedium},
	"373": {"PA", db.FlagRiskMedium},
	"636": {"LR", db.FlagRiskMedium}, // Liberia
	"538": {"MH", db.FlagRiskMedium}, // Marshall Islands
	"215": {"MT", db.FlagRiskLow},    // Malta
	"248": {"MT", db.FlagRiskLow},
	"249": {"MT", db.FlagRiskLow},
	"209": {"CY", db.FlagRiskLow}, // Cyprus
	"210": {"CY", db.FlagRiskLow},
	"212": {"CY", db.FlagRiskLow},
	"229": {"MT", db.FlagRiskLow},
	"219": {"DK", db.FlagRiskLow},
	"220": {"DK", db.FlagRiskLow},
	"230": {"FI", db.FlagRiskLow},
	"231": {"FO", db.FlagRiskLow},
	"244": {"NL", db.FlagRiskLow},
	"245": {"NL", db.FlagRiskLow},
	"246": {"NL", db.FlagRiskLow},
	"257": {"NO", db.FlagRiskLow},
	"258": {"NO", db.FlagRiskLow},
	"259": {"NO", db.FlagRiskLow},
	"265": {"SE", db.FlagRiskLow},
	"266": {"SE", db.FlagRiskLow},
	"276": {"EE", db.FlagRiskLow},
	"277": {"LT", db.FlagRiskLow},
	"275": {"LV", db.FlagRiskLow},
	"235": {"GB", db.FlagRiskLow},
	"232": {"GB", db.FlagRiskLow},
	"233": {"GB", db.FlagRiskLow},
	"234": {"GB", db.FlagRiskLow},
	"227": {"FR", db.FlagRiskLow},
	"228": {"FR", db.FlagRiskLow},
	"211": {"DE", db.FlagRiskLow},
	"218": {"DE", db.FlagRiskLow},
	"247": {"IT", db.FlagRiskLow},
	"224": {"ES", db.FlagRiskLow},
	"225": {"ES", db.FlagRiskLow},
	"237": {"GR", db.FlagRiskLow},
	"239": {"GR", db.FlagRiskLow},
	"240": {"GR", db.FlagRiskLow},
	"241": {"GR", db.FlagRiskLow},
	"338": {"US", db.FlagRiskLow},
	"366": {"US", db.FlagRiskLow},
	"367": {"US", db.FlagRiskLow},
	"368": {"US", db.FlagRiskLow},
	"369": {"US", db.FlagRiskLow},
	"316": {"CA", db.FlagRiskLow},
	"431": {"JP", db.FlagRiskLow},
	"432": {"JP", db.FlagRiskLow},
	"440": {"KR", db.FlagRiskLow},
	"441": {"KR", db.FlagRiskLow},
	"563": {"SG", db.FlagRiskLow},
	"564": {"SG", db.FlagRiskLow},
	"565": {"SG", db.FlagRiskLow},
	"566": {"SG", db.FlagRiskLow},
	"477": {"HK", db.FlagRiskMedium},
	"412": {"CN", db.FlagRiskMedium},
	"413": {"CN", db.FlagRiskMedium},
	"414": {"CN", db.FlagRiskMedium},
	"419": {"IN", db.FlagRiskMedium},
	"422": {"IR", db.FlagRiskHigh},
	"445": {"KP", db.FlagRiskHigh},
	"470": {"AE", db.FlagRiskMedium},
	"576": {"VU", db.FlagRiskMedium}, // Vanuatu
	"529": {"KI", db.FlagRiskHigh},   // Kiribati
	"375": {"VC", db.FlagRiskMedium}, // St Vincent
	"376": {"VC", db.FlagRiskMedium},
	"377": {"VC", db.FlagRiskMedium},
	"308": {"BS", db.FlagRiskMedium}, // Bahamas
	"309": {"BS", db.FlagRiskMedium},
	"311": {"BS", db.FlagRiskMedium},
	"341": {"KN", db.FlagRiskHigh}, // St Kitts
}

// FlagFromMMSI derives the flag state and its risk tier from the MMSI
// country prefix. Unknown prefixes return an empty flag and unknown risk.
func FlagFromMMSI(mmsi string) (string, db.FlagRisk) {
	if len(mmsi) < 3 {
		return "", db.FlagRiskUnknown
	}
	if e, ok := midFlags[mmsi[:3]]; ok {
		return e.flag, e.risk
	}
	return "", db.FlagRiskUnknown
}
