package analysis

import (
	"encoding/json"
	"fmt"
)

// ReportFunctionName is the tool the model calls with its periodic findings
const ReportFunctionName = "report_analysis"

// Report is the flat argument object of a report_analysis call. The one-shot
// upload response uses the same shape.
type Report struct {
	SpectralScore      float64  `json:"spectral_score"`
	SpectralReason     string   `json:"spectral_reason"`
	BiometricScore     float64  `json:"biometric_score"`
	BiometricReason    string   `json:"biometric_reason"`
	ContextualScore    float64  `json:"contextual_score"`
	ContextualReason   string   `json:"contextual_reason"`
	ContextualKeywords []string `json:"contextual_keywords"`
	IntelligenceScore  float64  `json:"intelligence_score"`
	IntelligenceReason string   `json:"intelligence_reason"`
}

// ParseReport decodes report arguments from raw JSON
func ParseReport(raw []byte) (Report, error) {
	var r Report
	if len(raw) == 0 {
		return r, fmt.Errorf("empty report")
	}
	if err := json.Unmarshal(raw, &r); err != nil {
		return r, fmt.Errorf("failed to decode report: %w", err)
	}
	return r, nil
}

// Analysis converts the report into a DetailedAnalysis with the aggregate filled in.
func (r Report) Analysis() DetailedAnalysis {
	keywords := r.ContextualKeywords
	return DetailedAnalysis{
		Spectral:  MethodResult{Score: r.SpectralScore, Reason: r.SpectralReason},
		Biometric: MethodResult{Score: r.BiometricScore, Reason: r.BiometricReason},
		Contextual: ContextualResult{
			MethodResult: MethodResult{Score: r.ContextualScore, Reason: r.ContextualReason},
			Keywords:     append(make([]string, 0, len(keywords)), keywords...),
		},
		Intelligence: MethodResult{Score: r.IntelligenceScore, Reason: r.IntelligenceReason},
	}.Recompute()
}
