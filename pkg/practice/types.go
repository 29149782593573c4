package practice

import "context"

// StartContext is the opaque session context sent to the start operation.
type StartContext struct {
	Role  string `json:"role"`
	Level string `json:"level"`
	Mode  string `json:"mode"`
}

// Question is one interview prompt posed to the user.
type Question struct {
	ID   string `json:"question_id"`
	Text string `json:"question"`
}

// Score is the breakdown returned by the scoring operation.
type Score struct {
	Content       int      `json:"content"`
	Pronunciation int      `json:"pronunciation"`
	Fluency       int      `json:"fluency"`
	Overall       int      `json:"overall"`
	Tips          []string `json:"tips,omitempty"`
}

// ReportTurn is one answered question in a session report.
type ReportTurn struct {
	QuestionID string `json:"qid"`
	Question   string `json:"q"`
	AnswerText string `json:"answer_text"`
	Scores     Score  `json:"scores"`
}

// Report summarizes a whole practice session.
type Report struct {
	SessionID  string       `json:"session_id"`
	Turns      []ReportTurn `json:"turns"`
	OverallAvg int          `json:"overall_avg"`
}

// Client is the remote practice backend. All operations are opaque network
// calls; the orchestrator only depends on their inputs and outputs.
type Client interface {
	StartSession(ctx context.Context, sc StartContext) (sessionID string, first Question, err error)
	NextQuestion(ctx context.Context, sessionID string) (Question, error)
	// SubmitAnswer uploads one encoded utterance. requestID is the per-turn
	// correlation identifier; the backend uses it to discard duplicates.
	SubmitAnswer(ctx context.Context, sessionID, questionID, requestID string, wav []byte) (transcript string, err error)
	SubmitAnswerText(ctx context.Context, sessionID, questionID, text string) error
	ScoreAnswer(ctx context.Context, sessionID, questionID string) (Score, error)
	Report(ctx context.Context, sessionID string) (Report, error)
	// Health is a best-effort warm-up probe; failures are ignorable.
	Health(ctx context.Context) error
}

// SynthesisRequest describes one reply to synthesize.
type SynthesisRequest struct {
	SessionID  string
	QuestionID string
	// RequestID ties the synthesis call to the submit call of the same turn.
	RequestID string
	Text      string
	Voice     string
}

// Synthesizer converts reply text to audio, delivering PCM chunks as they
// become available.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthesisRequest, onChunk func(pcm []byte) error) error
}

// Player is the playback sink for synthesized replies.
type Player interface {
	Enqueue(pcm []byte) error
	// Flush discards any queued audio immediately.
	Flush()
}

type EventType string

const (
	EventSessionStarted EventType = "SESSION_STARTED"
	EventQuestionPosed  EventType = "QUESTION_POSED"
	EventTranscript     EventType = "TRANSCRIPT"
	EventReplySpeaking  EventType = "REPLY_SPEAKING"
	EventScore          EventType = "SCORE"
	EventError          EventType = "ERROR"
)

// Event is emitted by the orchestrator for the presentation layer.
type Event struct {
	Type      EventType   `json:"type"`
	SessionID string      `json:"session_id"`
	Data      interface{} `json:"data,omitempty"`
}
