package ingest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radiance-data/radiancefleet/internal/db"
)

func TestNormalizeMMSIPadding(t *testing.T) {
	got, err := NormalizeMMSI("21100000")
	require.NoError(t, err)
	assert.Equal(t, "021100000", got)

	got, err = NormalizeMMSI("  209010000  ")
	require.NoError(t, err)
	assert.Equal(t, "209010000", got)

	// A single leading zero is a vessel MMSI; only the 00 block is
	// reserved for coast stations.
	got, err = NormalizeMMSI("021100000")
	require.NoError(t, err)
	assert.Equal(t, "021100000", got)
}

func TestNormalizeMMSIRejections(t *testing.T) {
	cases := []struct {
		raw  string
		want error
	}{
		{"", ErrBadMMSI},
		{"12345abc9", ErrBadMMSI},
		{"1234567890", ErrBadMMSI},
		{"002734567", ErrNonVesselMMSI}, // coast station
		{"111234567", ErrNonVesselMMSI}, // SAR aircraft
		{"992345678", ErrNonVesselMMSI}, // aid to navigation
		{"982345678", ErrNonVesselMMSI},
		{"2100000", ErrNonVesselMMSI}, // pads to 002100000
	}
	for _, tc := range cases {
		_, err := NormalizeMMSI(tc.raw)
		assert.ErrorIs(t, err, tc.want, "raw %q", tc.raw)
	}
}

func TestNormalizeHeading(t *testing.T) {
	assert.Nil(t, NormalizeHeading(511))
	assert.Nil(t, NormalizeHeading(-1))
	assert.Nil(t, NormalizeHeading(360))

	h := NormalizeHeading(187.5)
	require.NotNil(t, h)
	assert.Equal(t, 187.5, *h)

	h = NormalizeHeading(0)
	require.NotNil(t, h)
	assert.Equal(t, 0.0, *h)
}

func TestValidateLatLon(t *testing.T) {
	assert.NoError(t, ValidateLatLon(59.5, 24.8))
	assert.ErrorIs(t, ValidateLatLon(91, 0), ErrBadLatLon)
	assert.ErrorIs(t, ValidateLatLon(0, -181), ErrBadLatLon)
}

func TestParseTimestampSkew(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

	ts, err := ParseTimestamp("2024-05-10T11:59:00Z", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 5, 10, 11, 59, 0, 0, time.UTC), ts)

	// Within the 5-minute tolerance.
	_, err = ParseTimestamp("2024-05-10T12:04:00Z", now)
	assert.NoError(t, err)

	_, err = ParseTimestamp("2024-05-10T12:06:00Z", now)
	assert.ErrorIs(t, err, ErrBadTimestamp)

	_, err = ParseTimestamp("not-a-time", now)
	assert.ErrorIs(t, err, ErrBadTimestamp)
}

func TestFlagFromMMSI(t *testing.T) {
	flag, risk := FlagFromMMSI("273456789")
	assert.Equal(t, "RU", flag)
	assert.Equal(t, db.FlagRiskHigh, risk)

	flag, risk = FlagFromMMSI("636012345")
	assert.Equal(t, "LR", flag)
	assert.Equal(t, db.FlagRiskMedium, risk)

	flag, risk = FlagFromMMSI("257001000")
	assert.Equal(t, "NO", flag)
	assert.Equal(t, db.FlagRiskLow, risk)

	flag, risk = FlagFromMMSI("100000000")
	assert.Equal(t, "", flag)
	assert.Equal(t, db.FlagRiskUnknown, risk)
}
