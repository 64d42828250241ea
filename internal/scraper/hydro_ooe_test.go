package scraper

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const zrxpIrrseeBlock = "#ZRXPVERSION2300.100|*|ZRXPCREATORKiIOSystem.ZRXPV2R2_E|*| " +
	"#SANR16579|*|SNAMEIrrsee / Zell am Moos|*|SWATERIrrsee|*|CNRWT|*|CNAMEWassertemperatur|*| " +
	"#TZUTC+1|*|RINVAL-777|*| #CUNIT°C|*| #LAYOUT(timestamp,value)|*| " +
	"20250808140000 22.8 20250808150000 23.0 20250808160000 23.1"

func TestParseZRXP_LatestSamplePerStation(t *testing.T) {
	bulk, err := ParseZRXP([]byte(zrxpIrrseeBlock))
	require.NoError(t, err)
	require.Len(t, bulk.Entries, 1)

	reading, ok := bulk.Entries["16579"]
	require.True(t, ok)
	assert.Equal(t, 23.1, reading.Value)
	assert.Equal(t, "16579", reading.SourceStationKey)
	assert.Equal(t, "Irrsee / Zell am Moos", reading.StationName)

	want := time.Date(2025, 8, 8, 16, 0, 0, 0, time.FixedZone("UTC+1", 3600))
	assert.True(t, reading.ObservedAt.Equal(want), "got %v want %v", reading.ObservedAt, want)

	assert.ElementsMatch(t, []string{"Irrsee / Zell am Moos", "Irrsee"}, bulk.Names["16579"])
}

func TestParseZRXP_MultipleStationsFanOutKeys(t *testing.T) {
	export := "#SANR16579|*|SNAMEIrrsee / Zell am Moos|*|SWATERIrrsee|*|#TZUTC+1|*|#LAYOUT(timestamp,value)|*| " +
		"20250808150000 12.1\n" +
		"#SANR5005|*|SNAMESeewalchen|*|SWATERAttersee|*|#TZUTC+1|*|#LAYOUT(timestamp,value)|*| " +
		"20250808140000 9.8"

	bulk, err := ParseZRXP([]byte(export))
	require.NoError(t, err)
	require.Len(t, bulk.Entries, 2)

	assert.Equal(t, 12.1, bulk.Entries["16579"].Value)
	assert.Equal(t, 15, bulk.Entries["16579"].ObservedAt.Hour())
	assert.Equal(t, 9.8, bulk.Entries["5005"].Value)
	assert.Equal(t, 14, bulk.Entries["5005"].ObservedAt.Hour())
}

func TestParseZRXP_RINVALSentinelSkipped(t *testing.T) {
	export := "#SANR16579|*|SNAMEIrrsee|*|#TZUTC+1|*|RINVAL-777|*|#LAYOUT(timestamp,value)|*| " +
		"20250808150000 23.0 20250808160000 -777"

	bulk, err := ParseZRXP([]byte(export))
	require.NoError(t, err)

	reading := bulk.Entries["16579"]
	assert.Equal(t, 23.0, reading.Value)
	assert.Equal(t, 15, reading.ObservedAt.Hour())
}

func TestParseZRXP_DecimalCommaValues(t *testing.T) {
	export := "#SANR42|*|SNAMETraunsee|*|#TZUTC+1|*|#LAYOUT(timestamp,value)|*| 20250808160000 21,4"

	bulk, err := ParseZRXP([]byte(export))
	require.NoError(t, err)
	assert.Equal(t, 21.4, bulk.Entries["42"].Value)
}

func TestParseZRXP_NegativeOffsetApplied(t *testing.T) {
	export := "#SANR7|*|SNAMETest|*|#TZUTC-2|*|#LAYOUT(timestamp,value)|*| 20250808120000 18.0"

	bulk, err := ParseZRXP([]byte(export))
	require.NoError(t, err)

	want := time.Date(2025, 8, 8, 12, 0, 0, 0, time.FixedZone("UTC-2", -2*3600))
	assert.True(t, bulk.Entries["7"].ObservedAt.Equal(want))
}

func TestParseZRXP_StationAbsentIsNotAnError(t *testing.T) {
	bulk, err := ParseZRXP([]byte(zrxpIrrseeBlock))
	require.NoError(t, err)

	_, ok := bulk.Entries["5005"]
	assert.False(t, ok)
}

func TestParseZRXP_BrokenBlockSkippedOthersSurvive(t *testing.T) {
	export := "#SANR111|*|SNAMEKaputt|*|#TZUTC+1|*| no layout marker here\n" +
		"#SANR222|*|SNAMEHeil|*|#TZUTC+1|*|#LAYOUT(timestamp,value)|*| 20250808160000 19.5"

	bulk, err := ParseZRXP([]byte(export))
	require.NoError(t, err)
	require.Len(t, bulk.Entries, 1)
	assert.Equal(t, 19.5, bulk.Entries["222"].Value)
}

func TestParseZRXP_Malformed(t *testing.T) {
	cases := map[string]string{
		"no station blocks": "this is not a zrxp export",
		"no usable blocks":  "#SANR16579|*|SNAMEIrrsee|*| data without layout marker",
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseZRXP([]byte(payload))
			var pe *ParseError
			assert.ErrorAs(t, err, &pe)
		})
	}
}
