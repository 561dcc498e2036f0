package live

import (
	"encoding/json"

	"callguard/pkg/analysis"
	"callguard/pkg/audio"
)

// Client to server frames of the BidiGenerateContent protocol. Exactly one
// field is set per frame.
type clientMessage struct {
	Setup         *setupMessage  `json:"setup,omitempty"`
	RealtimeInput *realtimeInput `json:"realtimeInput,omitempty"`
	ToolResponse  *toolResponse  `json:"toolResponse,omitempty"`
}

type setupMessage struct {
	Model                   string            `json:"model"`
	GenerationConfig        *generationConfig `json:"generationConfig,omitempty"`
	SystemInstruction       *content          `json:"systemInstruction,omitempty"`
	Tools                   []tool            `json:"tools,omitempty"`
	InputAudioTranscription *struct{}         `json:"inputAudioTranscription,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string `json:"responseModalities,omitempty"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text,omitempty"`
}

type tool struct {
	FunctionDeclarations []analysis.FunctionDeclaration `json:"functionDeclarations"`
}

type realtimeInput struct {
	MediaChunks []audio.Blob `json:"mediaChunks"`
}

type toolResponse struct {
	FunctionResponses []FunctionResponse `json:"functionResponses"`
}

// FunctionResponse acknowledges one tool call
type FunctionResponse struct {
	ID       string                 `json:"id,omitempty"`
	Name     string                 `json:"name"`
	Response map[string]interface{} `json:"response"`
}

// Server to client frames
type serverMessage struct {
	SetupComplete        *json.RawMessage      `json:"setupComplete,omitempty"`
	ServerContent        *serverContent        `json:"serverContent,omitempty"`
	ToolCall             *toolCall             `json:"toolCall,omitempty"`
	ToolCallCancellation *toolCallCancellation `json:"toolCallCancellation,omitempty"`
	GoAway               *goAway               `json:"goAway,omitempty"`
}

type serverContent struct {
	InputTranscription  *transcription `json:"inputTranscription,omitempty"`
	OutputTranscription *transcription `json:"outputTranscription,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
}

type transcription struct {
	Text string `json:"text"`
}

type toolCall struct {
	FunctionCalls []FunctionCall `json:"functionCalls"`
}

type toolCallCancellation struct {
	IDs []string `json:"ids"`
}

type goAway struct {
	TimeLeft string `json:"timeLeft"`
}

// FunctionCall is one tool invocation requested by the model
type FunctionCall struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}
