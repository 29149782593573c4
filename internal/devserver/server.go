// Package devserver is an in-memory practice backend for local development.
// It mirrors the production API surface so the agent can run end to end
// without network access: canned questions, heuristic scoring, and a tone
// generator standing in for speech synthesis.
package devserver

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/speakdrill-ai/speakdrill-agent/pkg/audio"
	"github.com/speakdrill-ai/speakdrill-agent/pkg/practice"
)

const replayTTL = 10 * time.Minute

type turn struct {
	QuestionID string
	Question   string
	AnswerText string
	Scored     bool
	Scores     practice.Score
}

type session struct {
	Role  string
	Level string
	Mode  string
	Turns []*turn
}

type cachedReply struct {
	body    []byte
	code    int
	storedAt time.Time
}

// Server holds the in-memory stores. State resets on restart and is not
// safe to share across processes.
type Server struct {
	logger zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*session
	replays  map[string]cachedReply
}

// New builds a dev backend.
func New(logger zerolog.Logger) *Server {
	s := &Server{
		logger:   logger.With().Str("component", "devserver").Logger(),
		sessions: make(map[string]*session),
		replays:  make(map[string]cachedReply),
	}
	go s.sweepReplays()
	return s
}

// Router builds the gin engine with all routes mounted under /api.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	api := r.Group("/api")
	api.GET("/health", s.handleHealth)
	api.POST("/tts", s.handleTTS)

	sim := api.Group("/sim")
	sim.POST("/start", s.handleStart)
	sim.POST("/next", s.handleNext)
	sim.POST("/answer/text", s.handleAnswerText)
	sim.POST("/answer/audio", s.handleAnswerAudio)
	sim.POST("/score", s.handleScore)
	sim.GET("/report", s.handleReport)

	return r
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) handleStart(c *gin.Context) {
	var req practice.StartContext
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}

	sid := uuid.NewString()
	qid := uuid.NewString()
	question := firstQuestion(req.Role, req.Level)

	s.mu.Lock()
	s.sessions[sid] = &session{
		Role:  req.Role,
		Level: req.Level,
		Mode:  req.Mode,
		Turns: []*turn{{QuestionID: qid, Question: question}},
	}
	s.mu.Unlock()

	s.logger.Info().Str("sessionID", sid).Str("role", req.Role).Msg("session started")
	c.JSON(http.StatusOK, gin.H{
		"session_id":  sid,
		"question_id": qid,
		"question":    question,
	})
}

func (s *Server) handleNext(c *gin.Context) {
	var req struct {
		SessionID string `json:"session_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[req.SessionID]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"detail": "session not found"})
		return
	}

	qid := uuid.NewString()
	question := followupQuestion(len(sess.Turns))
	sess.Turns = append(sess.Turns, &turn{QuestionID: qid, Question: question})

	c.JSON(http.StatusOK, gin.H{
		"question_id": qid,
		"question":    question,
	})
}

func (s *Server) handleAnswerText(c *gin.Context) {
	var req struct {
		SessionID  string `json:"session_id"`
		QuestionID string `json:"question_id"`
		Text       string `json:"text"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	t, code, detail := s.findTurn(req.SessionID, req.QuestionID)
	if t == nil {
		c.JSON(code, gin.H{"detail": detail})
		return
	}
	t.AnswerText = strings.TrimSpace(req.Text)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) handleAnswerAudio(c *gin.Context) {
	requestID := c.GetHeader("X-Request-ID")
	if requestID != "" {
		if body, code, ok := s.replayLookup(requestID); ok {
			s.logger.Info().Str("requestID", requestID).Msg("duplicate submission replayed")
			c.Data(code, "application/json", body)
			return
		}
	}

	sessionID := c.PostForm("session_id")
	questionID := c.PostForm("question_id")
	file, err := c.FormFile("audio")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "audio file missing"})
		return
	}

	f, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}
	data, err := io.ReadAll(f)
	f.Close()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}

	pcm, sampleRate, channels, err := audio.ParseWav(data)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": fmt.Sprintf("bad wav: %v", err)})
		return
	}
	duration := audio.PCMDuration(pcm, sampleRate, channels)

	s.mu.Lock()
	t, code, detail := s.findTurn(sessionID, questionID)
	if t == nil {
		s.mu.Unlock()
		c.JSON(code, gin.H{"detail": detail})
		return
	}
	// No local ASR; stand in with a transcript sized to the recording so the
	// scoring heuristics have something proportional to chew on.
	t.AnswerText = syntheticTranscript(duration)
	s.mu.Unlock()

	resp := gin.H{
		"session_id":  sessionID,
		"question_id": questionID,
		"asr_text":    t.AnswerText,
	}
	if requestID != "" {
		s.replayStore(requestID, http.StatusOK, resp)
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleScore(c *gin.Context) {
	var req struct {
		SessionID  string `json:"session_id"`
		QuestionID string `json:"question_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	t, code, detail := s.findTurn(req.SessionID, req.QuestionID)
	if t == nil {
		c.JSON(code, gin.H{"detail": detail})
		return
	}

	t.Scores = scoreAnswer(t.AnswerText)
	t.Scored = true

	c.JSON(http.StatusOK, gin.H{
		"scores": gin.H{
			"content":       t.Scores.Content,
			"pronunciation": t.Scores.Pronunciation,
			"fluency":       t.Scores.Fluency,
			"overall":       t.Scores.Overall,
		},
		"tips": []string{
			"Add a concrete example.",
			"Explain trade-offs and impact.",
			"Keep answers structured.",
		},
	})
}

func (s *Server) handleReport(c *gin.Context) {
	sessionID := c.Query("session_id")

	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		c.JSON(http.StatusOK, practice.Report{SessionID: sessionID, Turns: []practice.ReportTurn{}})
		return
	}

	var turns []practice.ReportTurn
	var sum, scored int
	for _, t := range sess.Turns {
		turns = append(turns, practice.ReportTurn{
			QuestionID: t.QuestionID,
			Question:   t.Question,
			AnswerText: t.AnswerText,
			Scores:     t.Scores,
		})
		if t.Scored {
			sum += t.Scores.Overall
			scored++
		}
	}
	avg := 0
	if scored > 0 {
		avg = int(math.Round(float64(sum) / float64(scored)))
	}

	c.JSON(http.StatusOK, practice.Report{
		SessionID:  sessionID,
		Turns:      turns,
		OverallAvg: avg,
	})
}

// handleTTS returns a short tone as mono PCM-16 WAV so local playback has
// something audible without a real synthesis model.
func (s *Server) handleTTS(c *gin.Context) {
	var req struct {
		Text  string `json:"text"`
		Voice string `json:"voice"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}

	const sampleRate = 44100
	// Length loosely follows the text so replies do not all sound the same.
	samples := sampleRate / 4 * (1 + len(req.Text)/80)
	if samples > sampleRate*3 {
		samples = sampleRate * 3
	}
	freq := 440.0
	if req.Voice == "M1" {
		freq = 220.0
	}

	pcm := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		envelope := 1.0 - float64(i)/float64(samples)
		v := int16(math.Sin(2*math.Pi*freq*float64(i)/sampleRate) * 8000 * envelope)
		pcm[2*i] = byte(v)
		pcm[2*i+1] = byte(v >> 8)
	}

	c.Data(http.StatusOK, "audio/wav", audio.NewWavBuffer(pcm, sampleRate, 1))
}

// findTurn is called with s.mu held.
func (s *Server) findTurn(sessionID, questionID string) (*turn, int, string) {
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, http.StatusNotFound, "session not found"
	}
	for _, t := range sess.Turns {
		if t.QuestionID == questionID {
			return t, 0, ""
		}
	}
	return nil, http.StatusNotFound, "question not found"
}

func (s *Server) replayLookup(requestID string) ([]byte, int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.replays[requestID]
	if !ok || time.Since(r.storedAt) > replayTTL {
		return nil, 0, false
	}
	return r.body, r.code, true
}

func (s *Server) replayStore(requestID string, code int, body gin.H) {
	data, err := json.Marshal(body)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.replays[requestID] = cachedReply{body: data, code: code, storedAt: time.Now()}
	s.mu.Unlock()
}

func (s *Server) sweepReplays() {
	for range time.Tick(time.Minute) {
		s.mu.Lock()
		for id, r := range s.replays {
			if time.Since(r.storedAt) > replayTTL {
				delete(s.replays, id)
			}
		}
		s.mu.Unlock()
	}
}

func firstQuestion(role, level string) string {
	if role == "" {
		role = "your stack"
	}
	if level == "" {
		level = "mid"
	}
	return fmt.Sprintf("Tell me about a challenge you solved using %s at %s level.", role, level)
}

func followupQuestion(turnCount int) string {
	questions := []string{
		"Thanks. Can you explain the trade-offs you considered?",
		"How did you measure whether the change worked?",
		"What would you do differently if you had to start over?",
		"How did you communicate the decision to your team?",
	}
	return questions[(turnCount-1)%len(questions)]
}

func syntheticTranscript(d time.Duration) string {
	// Roughly 2.5 words per second of speech.
	words := int(d.Seconds() * 2.5)
	if words < 1 {
		return ""
	}
	filler := []string{"I", "approached", "the", "problem", "by", "breaking", "it", "into", "smaller", "pieces", "and", "iterating"}
	parts := make([]string, words)
	for i := range parts {
		parts[i] = filler[i%len(filler)]
	}
	return strings.Join(parts, " ")
}

// scoreAnswer mirrors the production rubric weights: content 55%,
// pronunciation 30%, fluency 15%.
func scoreAnswer(answer string) practice.Score {
	answer = strings.TrimSpace(answer)
	words := 0
	if answer != "" {
		words = len(strings.Fields(answer))
	}

	content := 0
	pronunciation := 0
	fluency := 0
	if words > 0 {
		content = 40 + words
		if content > 90 {
			content = 90
		}
		pronunciation = 80
		fluency = 70 + min(20, words/20)
	}
	overall := int(math.Round(0.55*float64(content) + 0.30*float64(pronunciation) + 0.15*float64(fluency)))

	return practice.Score{
		Content:       content,
		Pronunciation: pronunciation,
		Fluency:       fluency,
		Overall:       overall,
	}
}
