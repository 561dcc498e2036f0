package analysis

// Schema is the OpenAPI subset the model API accepts for tool parameters and
// structured responses.
type Schema struct {
	Type        string             `json:"type"`
	Description string             `json:"description,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Items       *Schema            `json:"items,omitempty"`
	Required    []string           `json:"required,omitempty"`
}

// FunctionDeclaration describes a callable tool offered to the model
type FunctionDeclaration struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Parameters  *Schema `json:"parameters"`
}

var reportFields = []string{
	"spectral_score", "spectral_reason",
	"biometric_score", "biometric_reason",
	"contextual_score", "contextual_reason", "contextual_keywords",
	"intelligence_score", "intelligence_reason",
}

func number(desc string) *Schema { return &Schema{Type: "NUMBER", Description: desc} }
func text(desc string) *Schema   { return &Schema{Type: "STRING", Description: desc} }

// ReportSchema returns the object schema shared by the live tool call and the
// upload response. Examples in reason descriptions are only offered to the
// live tool.
func ReportSchema(withExamples bool) *Schema {
	reason := func(base, example string) *Schema {
		if withExamples {
			return text(base + ` (e.g., "` + example + `").`)
		}
		return text(base + ".")
	}

	return &Schema{
		Type: "OBJECT",
		Properties: map[string]*Schema{
			"spectral_score":      number("Score (0-100) for spectral analysis."),
			"spectral_reason":     reason("Reason for spectral score", "Unnatural harmonic patterns"),
			"biometric_score":     number("Score (0-100) for voice biometric analysis."),
			"biometric_reason":    reason("Reason for biometric score", "Missing breaths, flat pitch"),
			"contextual_score":    number("Score (0-100) for contextual analysis of the transcript."),
			"contextual_reason":   reason("Reason for contextual score", "High-risk keywords detected"),
			"contextual_keywords": {Type: "ARRAY", Items: &Schema{Type: "STRING"}, Description: "List of detected scam keywords."},
			"intelligence_score":  number("Score (0-100) for audio intelligence/pattern analysis."),
			"intelligence_reason": reason("Reason for intelligence score", "Unnaturally consistent pacing"),
		},
		Required: append([]string(nil), reportFields...),
	}
}

// ReportDeclaration is the report_analysis tool offered to the live session
func ReportDeclaration() FunctionDeclaration {
	return FunctionDeclaration{
		Name:        ReportFunctionName,
		Description: "Reports the detailed analysis of the audio stream based on 4 distinct methods.",
		Parameters:  ReportSchema(true),
	}
}

// ReportAcknowledgement is the result returned to the model for every report call
const ReportAcknowledgement = "Analysis reported successfully."

// LiveInstruction is the system prompt for streaming sessions.
const LiveInstruction = `You are an AI assistant specialized in detecting voice scams and AI-generated speech (deepfakes) in real-time. Your goal is to protect the user by analyzing the audio based on 4 distinct methods and reporting your findings every 10-15 seconds via the 'report_analysis' function.

1.  **Spectral Analysis (30% weight)**: Analyze the frequency spectrum for unusual harmonics, abrupt changes, or artificial patterns.
2.  **Voice Biometric Analysis (35% weight)**: Detect irregular breathing, robotic or flat emotional tone, unnatural pacing, and pronunciation glitches.
3.  **Contextual Analysis (20% weight)**: Scan the live transcript for scam keywords. High-risk: "verify account", "suspended", "social security", "IRS", "prize won". Medium-risk: "urgent", "act now", "confirm payment", "account locked".
4.  **Audio Intelligence (15% weight)**: Identify artificial speech patterns like repetitive qualities, inconsistent or overly smooth pacing.

Continuously evaluate and call the function with updated scores and reasons for all four methods.`

// UploadInstruction is the prompt sent with a one-shot file analysis.
const UploadInstruction = `You are an AI assistant specialized in detecting voice scams and AI-generated speech (deepfakes). Analyze this audio file based on 4 methods:
1.  **Spectral Analysis**: Look for unusual harmonics, abrupt frequency changes, and artificial patterns.
2.  **Voice Biometric Analysis**: Check for irregular breathing, flat emotional tone, robotic pacing, and pronunciation glitches.
3.  **Contextual Analysis**: Scan the transcript for high-risk scam keywords (e.g., "verify account", "social security", "IRS", "prize won") and medium-risk keywords (e.g., "urgent", "act now", "confirm payment").
4.  **Audio Intelligence**: Detect unnaturally repetitive or consistent speech patterns over time.
Return a weighted risk score and a brief reason for each method. The final output must be a JSON object adhering to the provided schema.`
