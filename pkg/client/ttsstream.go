package client

import (
	"context"
	"fmt"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/speakdrill-ai/speakdrill-agent/pkg/practice"
)

// StreamTTS is a websocket practice.Synthesizer. It keeps one connection
// open across requests and delivers PCM chunks as the server produces them,
// so playback can begin before the full reply is rendered.
type StreamTTS struct {
	url    string
	apiKey string
	logger zerolog.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewStreamTTS builds a streaming synthesizer. url is the full websocket
// endpoint, e.g. "wss://tts.example.com/ws".
func NewStreamTTS(url, apiKey string, logger zerolog.Logger) *StreamTTS {
	return &StreamTTS{
		url:    url,
		apiKey: apiKey,
		logger: logger.With().Str("component", "tts").Logger(),
	}
}

func (t *StreamTTS) getConn(ctx context.Context) (*websocket.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != nil {
		return t.conn, nil
	}

	u := t.url
	if t.apiKey != "" {
		u += "?api_key=" + t.apiKey
	}
	conn, _, err := websocket.Dial(ctx, u, nil)
	if err != nil {
		return nil, fmt.Errorf("tts dial: %w", err)
	}
	conn.SetReadLimit(10 * 1024 * 1024)

	t.conn = conn
	return conn, nil
}

func (t *StreamTTS) Synthesize(ctx context.Context, req practice.SynthesisRequest, onChunk func([]byte) error) error {
	conn, err := t.getConn(ctx)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	msg := map[string]interface{}{
		"text":       req.Text,
		"voice":      req.Voice,
		"request_id": req.RequestID,
		"speed":      1.0,
	}

	if err := wsjson.Write(ctx, conn, msg); err != nil {
		t.conn = nil
		conn.Close(websocket.StatusAbnormalClosure, "failed to write json")
		return fmt.Errorf("tts request: %w", err)
	}

	for {
		messageType, payload, err := conn.Read(ctx)
		if err != nil {
			t.conn = nil
			conn.Close(websocket.StatusAbnormalClosure, "failed to read")
			return fmt.Errorf("tts read: %w", err)
		}

		switch messageType {
		case websocket.MessageBinary:
			if err := onChunk(payload); err != nil {
				return err
			}
		case websocket.MessageText:
			text := string(payload)
			if text == "EOS" {
				return nil
			}
			if len(text) >= 4 && text[:4] == "ERR:" {
				return fmt.Errorf("tts server: %s", text)
			}
		}
	}
}

// Abort closes the connection mid-stream so blocked reads unblock. The next
// Synthesize call reconnects.
func (t *StreamTTS) Abort() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		err := t.conn.Close(websocket.StatusAbnormalClosure, "abort")
		t.conn = nil
		return err
	}
	return nil
}

func (t *StreamTTS) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		err := t.conn.Close(websocket.StatusNormalClosure, "")
		t.conn = nil
		return err
	}
	return nil
}
