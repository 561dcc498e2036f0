package analysis

import "time"

// Speaker identifies who a transcript entry is attributed to
type Speaker string

const (
	SpeakerUser   Speaker = "user"
	SpeakerModel  Speaker = "model"
	SpeakerSystem Speaker = "system"
	SpeakerCaller Speaker = "caller"
)

// Source tells whether a history entry came from a live session or a file upload
type Source string

const (
	SourceLive   Source = "live"
	SourceUpload Source = "upload"
)

// LiveSourceName is the display name stored for live-session history entries
const LiveSourceName = "Live Session"

// MethodResult is one detection method's current score and justification.
type MethodResult struct {
	Score  float64 `json:"score"`
	Reason string  `json:"reason"`
}

// ContextualResult adds the flagged phrases used for transcript highlighting.
type ContextualResult struct {
	MethodResult
	Keywords []string `json:"keywords"`
}

// DetailedAnalysis is the present-tense risk picture of a call. It is replaced
// as a whole on every report.
type DetailedAnalysis struct {
	Spectral       MethodResult     `json:"spectral"`
	Biometric      MethodResult     `json:"biometric"`
	Contextual     ContextualResult `json:"contextual"`
	Intelligence   MethodResult     `json:"intelligence"`
	AggregateScore float64          `json:"aggregateScore"`
}

// Level returns the display risk level of the aggregate score
func (d DetailedAnalysis) Level() RiskLevel {
	return Level(d.AggregateScore)
}

// Clone returns a copy that shares no slices with d
func (d DetailedAnalysis) Clone() DetailedAnalysis {
	c := d
	if d.Contextual.Keywords != nil {
		c.Contextual.Keywords = append(make([]string, 0, len(d.Contextual.Keywords)), d.Contextual.Keywords...)
	}
	return c
}

// Standby is the analysis shown before the first report of a session arrives.
func Standby() DetailedAnalysis {
	standby := MethodResult{Score: 0, Reason: "Standby"}
	return DetailedAnalysis{
		Spectral:     standby,
		Biometric:    standby,
		Contextual:   ContextualResult{MethodResult: standby, Keywords: []string{}},
		Intelligence: standby,
	}
}

// TranscriptEntry is one turn of speech
type TranscriptEntry struct {
	Timestamp string  `json:"timestamp"`
	Text      string  `json:"text"`
	Speaker   Speaker `json:"speaker"`
}

// TimelinePoint records the aggregate score at the moment a report arrived
type TimelinePoint struct {
	Timestamp string  `json:"timestamp"`
	RiskScore float64 `json:"riskScore"`
	Time      int     `json:"time"`
}

// HistoryEntry is an immutable summary of a finished analysis
type HistoryEntry struct {
	DetailedAnalysis
	ID         string `json:"id"`
	Date       string `json:"date"`
	Source     Source `json:"source"`
	SourceName string `json:"sourceName"`
}

// ClockFormat is the wall-clock layout used for transcript and timeline timestamps
const ClockFormat = "15:04:05"

// DateFormat is the ISO-8601 layout used for history dates
const DateFormat = "2006-01-02T15:04:05.000Z07:00"

// NewHistoryEntry snapshots an analysis into a history entry
func NewHistoryEntry(id string, at time.Time, source Source, sourceName string, a DetailedAnalysis) HistoryEntry {
	return HistoryEntry{
		DetailedAnalysis: a.Clone(),
		ID:               id,
		Date:             at.UTC().Format(DateFormat),
		Source:           source,
		SourceName:       sourceName,
	}
}
