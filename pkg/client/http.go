package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/speakdrill-ai/speakdrill-agent/pkg/audio"
	"github.com/speakdrill-ai/speakdrill-agent/pkg/practice"
)

// HTTPClient talks to the practice backend over its JSON API. It implements
// both practice.Client and practice.Synthesizer; the streaming websocket
// synthesizer in this package can replace the latter when the backend
// supports it.
type HTTPClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  zerolog.Logger
}

// NewHTTPClient builds a backend client. baseURL is the server root, e.g.
// "http://localhost:8000"; apiKey may be empty for unauthenticated backends.
func NewHTTPClient(baseURL, apiKey string, logger zerolog.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 60 * time.Second},
		logger:  logger.With().Str("component", "client").Logger(),
	}
}

func (c *HTTPClient) StartSession(ctx context.Context, sc practice.StartContext) (string, practice.Question, error) {
	var out struct {
		SessionID  string `json:"session_id"`
		QuestionID string `json:"question_id"`
		Question   string `json:"question"`
	}
	if err := c.postJSON(ctx, "/api/sim/start", sc, &out); err != nil {
		return "", practice.Question{}, err
	}
	return out.SessionID, practice.Question{ID: out.QuestionID, Text: out.Question}, nil
}

func (c *HTTPClient) NextQuestion(ctx context.Context, sessionID string) (practice.Question, error) {
	in := map[string]string{"session_id": sessionID}
	var out practice.Question
	if err := c.postJSON(ctx, "/api/sim/next", in, &out); err != nil {
		return practice.Question{}, err
	}
	return out, nil
}

func (c *HTTPClient) SubmitAnswer(ctx context.Context, sessionID, questionID, requestID string, wav []byte) (string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	if err := writer.WriteField("session_id", sessionID); err != nil {
		return "", err
	}
	if err := writer.WriteField("question_id", questionID); err != nil {
		return "", err
	}
	part, err := writer.CreateFormFile("audio", "answer.wav")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, bytes.NewReader(wav)); err != nil {
		return "", err
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/sim/answer/audio", body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("X-Request-ID", requestID)
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", decodeError("answer", resp)
	}

	var out struct {
		Transcript string `json:"asr_text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	c.logger.Debug().Str("requestID", requestID).Int("transcriptLen", len(out.Transcript)).Msg("answer accepted")
	return out.Transcript, nil
}

func (c *HTTPClient) SubmitAnswerText(ctx context.Context, sessionID, questionID, text string) error {
	in := map[string]string{
		"session_id":  sessionID,
		"question_id": questionID,
		"text":        text,
	}
	return c.postJSON(ctx, "/api/sim/answer/text", in, nil)
}

func (c *HTTPClient) ScoreAnswer(ctx context.Context, sessionID, questionID string) (practice.Score, error) {
	in := map[string]string{
		"session_id":  sessionID,
		"question_id": questionID,
	}
	var out struct {
		Scores practice.Score `json:"scores"`
		Tips   []string       `json:"tips"`
	}
	if err := c.postJSON(ctx, "/api/sim/score", in, &out); err != nil {
		return practice.Score{}, err
	}
	score := out.Scores
	score.Tips = out.Tips
	return score, nil
}

func (c *HTTPClient) Report(ctx context.Context, sessionID string) (practice.Report, error) {
	var out practice.Report
	if err := c.getJSON(ctx, "/api/sim/report?session_id="+sessionID, &out); err != nil {
		return practice.Report{}, err
	}
	return out, nil
}

func (c *HTTPClient) Health(ctx context.Context) error {
	return c.getJSON(ctx, "/api/health", nil)
}

// Synthesize requests a spoken reply as a single WAV response and delivers
// the decoded PCM in one chunk.
func (c *HTTPClient) Synthesize(ctx context.Context, sreq practice.SynthesisRequest, onChunk func([]byte) error) error {
	in := map[string]string{
		"text":  sreq.Text,
		"voice": sreq.Voice,
	}
	payload, err := json.Marshal(in)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/tts", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if sreq.RequestID != "" {
		req.Header.Set("X-Request-ID", sreq.RequestID)
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeError("tts", resp)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	pcm, _, _, err := audio.ParseWav(data)
	if err != nil {
		return fmt.Errorf("tts response: %w", err)
	}
	return onChunk(pcm)
}

func (c *HTTPClient) postJSON(ctx context.Context, path string, in, out interface{}) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeError(path, resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *HTTPClient) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+path, nil)
	if err != nil {
		return err
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeError(path, resp)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *HTTPClient) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

func decodeError(op string, resp *http.Response) error {
	var errResp struct {
		Detail string `json:"detail"`
	}
	json.NewDecoder(resp.Body).Decode(&errResp)
	if errResp.Detail != "" {
		return fmt.Errorf("%s failed (status %d): %s", op, resp.StatusCode, errResp.Detail)
	}
	return fmt.Errorf("%s failed (status %d)", op, resp.StatusCode)
}
