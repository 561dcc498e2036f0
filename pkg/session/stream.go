package session

import (
	"context"

	"callguard/pkg/audio"
	"callguard/pkg/live"
)

// Stream is an open model session
type Stream interface {
	Events() <-chan live.Event
	SendAudio(blob audio.Blob) error
	SendToolResponse(responses ...live.FunctionResponse) error
	Close(ctx context.Context) error
}

// Dialer opens model sessions
type Dialer interface {
	Dial(ctx context.Context, sessionID string, setup live.Setup) (Stream, error)
}

// DialerFunc adapts a function to the Dialer interface
type DialerFunc func(ctx context.Context, sessionID string, setup live.Setup) (Stream, error)

func (f DialerFunc) Dial(ctx context.Context, sessionID string, setup live.Setup) (Stream, error) {
	return f(ctx, sessionID, setup)
}

// LiveDialer opens sessions with a Gemini Live client
func LiveDialer(client *live.Client) Dialer {
	return DialerFunc(func(ctx context.Context, sessionID string, setup live.Setup) (Stream, error) {
		s, err := client.Dial(ctx, sessionID, setup)
		if err != nil {
			// keep the interface nil rather than a typed nil pointer
			return nil, err
		}
		return s, nil
	})
}
