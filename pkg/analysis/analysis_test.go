package analysis

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWeightsSumToOne(t *testing.T) {
	assert.InDelta(t, 1.0, SpectralWeight+BiometricWeight+ContextualWeight+IntelligenceWeight, 1e-9)
}

func TestAggregate(t *testing.T) {
	tests := []struct {
		name                                           string
		spectral, biometric, contextual, intelligence float64
		want                                           float64
	}{
		{"all zero", 0, 0, 0, 0, 0},
		{"all max", 100, 100, 100, 100, 100},
		{"scam call", 90, 90, 80, 85, 87.25},
		{"spectral only", 100, 0, 0, 0, 30},
		{"biometric only", 0, 100, 0, 0, 35},
		{"mixed", 10, 20, 30, 40, 3 + 7 + 6 + 6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Aggregate(tt.spectral, tt.biometric, tt.contextual, tt.intelligence)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestAggregateMatchesWeightedSumAcrossRange(t *testing.T) {
	for s := 0.0; s <= 100; s += 25 {
		for b := 0.0; b <= 100; b += 25 {
			for c := 0.0; c <= 100; c += 50 {
				for i := 0.0; i <= 100; i += 50 {
					want := 0.30*s + 0.35*b + 0.20*c + 0.15*i
					assert.InDelta(t, want, Aggregate(s, b, c, i), 1e-9)
				}
			}
		}
	}
}

func TestLevel(t *testing.T) {
	assert.Equal(t, LevelLow, Level(0))
	assert.Equal(t, LevelLow, Level(29.99))
	assert.Equal(t, LevelMedium, Level(30))
	assert.Equal(t, LevelMedium, Level(59.9))
	assert.Equal(t, LevelHigh, Level(60))
	assert.Equal(t, LevelHigh, Level(84.99))
	assert.Equal(t, LevelCritical, Level(85))
	assert.Equal(t, LevelCritical, Level(100))
}

func TestAlertThresholdTracksCriticalBoundary(t *testing.T) {
	assert.Equal(t, CriticalBoundary, AlertThreshold)
	assert.True(t, ShouldAlert(85))
	assert.True(t, ShouldAlert(87.25))
	assert.False(t, ShouldAlert(84.9))
}

func TestParseReport(t *testing.T) {
	raw := []byte(`{
		"spectral_score": 90, "spectral_reason": "Unnatural harmonics",
		"biometric_score": 90, "biometric_reason": "No breathing",
		"contextual_score": 80, "contextual_reason": "Keywords", "contextual_keywords": ["IRS", "act now"],
		"intelligence_score": 85, "intelligence_reason": "Smooth pacing"
	}`)

	report, err := ParseReport(raw)
	require.NoError(t, err)

	a := report.Analysis()
	assert.InDelta(t, 87.25, a.AggregateScore, 1e-9)
	assert.Equal(t, "No breathing", a.Biometric.Reason)
	assert.Equal(t, []string{"IRS", "act now"}, a.Contextual.Keywords)
	assert.Equal(t, LevelCritical, a.Level())

	_, err = ParseReport(nil)
	assert.Error(t, err)
	_, err = ParseReport([]byte(`{"spectral_score": "high"}`))
	assert.Error(t, err)
}

func TestReportWithoutKeywordsEncodesEmptyList(t *testing.T) {
	a := Report{SpectralScore: 10}.Analysis()
	data, err := json.Marshal(a)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"keywords":[]`)
}

func TestStandby(t *testing.T) {
	s := Standby()
	assert.Zero(t, s.AggregateScore)
	assert.Equal(t, "Standby", s.Spectral.Reason)
	assert.Equal(t, "Standby", s.Contextual.Reason)
	assert.Empty(t, s.Contextual.Keywords)
}

func TestHistoryEntryJSONLayout(t *testing.T) {
	a := Report{SpectralScore: 50, ContextualKeywords: []string{"urgent"}}.Analysis()
	at := time.Date(2025, 3, 1, 12, 30, 0, 0, time.UTC)
	entry := NewHistoryEntry("abc", at, SourceLive, LiveSourceName, a)

	// mutating the source must not leak into the snapshot
	a.Contextual.Keywords[0] = "changed"
	assert.Equal(t, "urgent", entry.Contextual.Keywords[0])

	data, err := json.Marshal(entry)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "abc", decoded["id"])
	assert.Equal(t, "2025-03-01T12:30:00.000Z", decoded["date"])
	assert.Equal(t, "live", decoded["source"])
	assert.Equal(t, "Live Session", decoded["sourceName"])
	assert.InDelta(t, 15.0, decoded["aggregateScore"], 1e-9)
	assert.Contains(t, decoded, "spectral")
}

func TestReportDeclaration(t *testing.T) {
	decl := ReportDeclaration()
	assert.Equal(t, "report_analysis", decl.Name)
	require.NotNil(t, decl.Parameters)
	assert.Len(t, decl.Parameters.Properties, 9)
	assert.ElementsMatch(t, reportFields, decl.Parameters.Required)
	assert.Contains(t, decl.Parameters.Properties["spectral_reason"].Description, "e.g.")
	assert.NotContains(t, ReportSchema(false).Properties["spectral_reason"].Description, "e.g.")
	assert.Equal(t, "ARRAY", decl.Parameters.Properties["contextual_keywords"].Type)
}
