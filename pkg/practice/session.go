package practice

import "sync"

// SessionState is the conversation state machine position.
type SessionState string

const (
	StateNoSession       SessionState = "NO_SESSION"
	StateQuestionPosed   SessionState = "QUESTION_POSED"
	StateAnswerSubmitted SessionState = "ANSWER_SUBMITTED"
	StateScored          SessionState = "SCORED"
)

// Session is the server-correlated practice-session state. It has no hard
// destruction; the backend expires it on its own schedule.
type Session struct {
	mu           sync.RWMutex
	state        SessionState
	sessionID    string
	questionID   string
	questionText string
	transcript   string
	lastScore    *Score
}

// NewSession returns an empty session in NoSession state.
func NewSession() *Session {
	return &Session{state: StateNoSession}
}

// View is an immutable snapshot of the session for display and sequencing.
type View struct {
	State        SessionState
	SessionID    string
	QuestionID   string
	QuestionText string
	Transcript   string
	LastScore    *Score
}

// Snapshot returns the current session view.
func (s *Session) Snapshot() View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return View{
		State:        s.state,
		SessionID:    s.sessionID,
		QuestionID:   s.questionID,
		QuestionText: s.questionText,
		Transcript:   s.transcript,
		LastScore:    s.lastScore,
	}
}

// State returns the current state machine position.
func (s *Session) State() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// begin installs a fresh server session and its first question.
func (s *Session) begin(sessionID string, first Question) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionID = sessionID
	s.questionID = first.ID
	s.questionText = first.Text
	s.transcript = ""
	s.lastScore = nil
	s.state = StateQuestionPosed
}

// pose replaces the current question and clears the stored score and
// transcript.
func (s *Session) pose(q Question) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.questionID = q.ID
	s.questionText = q.Text
	s.transcript = ""
	s.lastScore = nil
	s.state = StateQuestionPosed
}

// answered stores the transcript returned by the submit operation.
func (s *Session) answered(transcript string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcript = transcript
	s.state = StateAnswerSubmitted
}

// scored stores the score breakdown.
func (s *Session) scored(score Score) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastScore = &score
	s.state = StateScored
}
