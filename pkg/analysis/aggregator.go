package analysis

// Method weights. The remote model only reports raw sub-scores.
const (
	SpectralWeight     = 0.30
	BiometricWeight    = 0.35
	ContextualWeight   = 0.20
	IntelligenceWeight = 0.15
)

// Risk level boundaries, lower bounds inclusive
const (
	MediumBoundary   = 30.0
	HighBoundary     = 60.0
	CriticalBoundary = 85.0
)

// AlertThreshold is the aggregate score at which a session raises its
// critical alert. Kept equal to CriticalBoundary.
const AlertThreshold = 85.0

// RiskLevel is the display classification of an aggregate score
type RiskLevel string

const (
	LevelLow      RiskLevel = "LOW"
	LevelMedium   RiskLevel = "MEDIUM"
	LevelHigh     RiskLevel = "HIGH"
	LevelCritical RiskLevel = "CRITICAL"
)

// Aggregate combines the four sub-scores. Inputs are not clamped.
func Aggregate(spectral, biometric, contextual, intelligence float64) float64 {
	return spectral*SpectralWeight +
		biometric*BiometricWeight +
		contextual*ContextualWeight +
		intelligence*IntelligenceWeight
}

// Level classifies an aggregate score for display
func Level(score float64) RiskLevel {
	switch {
	case score >= CriticalBoundary:
		return LevelCritical
	case score >= HighBoundary:
		return LevelHigh
	case score >= MediumBoundary:
		return LevelMedium
	default:
		return LevelLow
	}
}

// ShouldAlert reports whether score crosses the alert threshold
func ShouldAlert(score float64) bool {
	return score >= AlertThreshold
}

// Recompute sets AggregateScore from the four method scores and returns the result.
func (d DetailedAnalysis) Recompute() DetailedAnalysis {
	d.AggregateScore = Aggregate(d.Spectral.Score, d.Biometric.Score, d.Contextual.Score, d.Intelligence.Score)
	return d
}
