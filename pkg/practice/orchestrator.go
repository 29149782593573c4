package practice

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/speakdrill-ai/speakdrill-agent/internal/observability"
	"github.com/speakdrill-ai/speakdrill-agent/pkg/capture"
)

// Options tunes the orchestrator.
type Options struct {
	// Defaults is the context payload sent to the start operation.
	Defaults StartContext
	// Voice is the synthesis voice for spoken replies.
	Voice string
	// EventBuffer sizes the outbound event channel.
	EventBuffer int
}

// Orchestrator drives the practice-session state machine: it sequences
// utterance submission, reply playback, scoring, and question advancement
// against the remote backend. At most one utterance pipeline is in flight at
// a time; utterances finalized while one is running are dropped.
type Orchestrator struct {
	client  Client
	synth   Synthesizer
	sink    Player
	guard   *PipelineGuard
	session *Session
	opts    Options
	logger  zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	events chan Event

	startBusy atomic.Bool
	nextBusy  atomic.Bool
	scoreBusy atomic.Bool
}

// New creates an orchestrator over the given backend client, synthesizer,
// and playback sink.
func New(ctx context.Context, client Client, synth Synthesizer, sink Player, opts Options, logger zerolog.Logger) *Orchestrator {
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 64
	}
	oCtx, oCancel := context.WithCancel(ctx)
	return &Orchestrator{
		client:  client,
		synth:   synth,
		sink:    sink,
		guard:   NewPipelineGuard(),
		session: NewSession(),
		opts:    opts,
		logger:  logger.With().Str("component", "practice").Logger(),
		ctx:     oCtx,
		cancel:  oCancel,
		events:  make(chan Event, opts.EventBuffer),
	}
}

// Events returns the orchestrator's outbound event stream.
func (o *Orchestrator) Events() <-chan Event {
	return o.events
}

// Snapshot returns the current session view for display.
func (o *Orchestrator) Snapshot() View {
	return o.session.Snapshot()
}

// Close releases orchestrator resources.
func (o *Orchestrator) Close() {
	o.cancel()
}

// Warmup probes the backend health endpoint. Best effort: failures are
// logged and otherwise ignored.
func (o *Orchestrator) Warmup(ctx context.Context) {
	start := time.Now()
	err := o.client.Health(ctx)
	observability.ObserveRemote("health", err, time.Since(start))
	if err != nil {
		o.logger.Warn().Err(err).Msg("backend warm-up probe failed")
		return
	}
	o.logger.Debug().Msg("backend warm-up ok")
}

// StartSession begins a new practice session, replacing any existing one.
func (o *Orchestrator) StartSession(ctx context.Context) error {
	if !o.startBusy.CompareAndSwap(false, true) {
		return ErrRequestInFlight
	}
	defer o.startBusy.Store(false)
	return o.startSession(ctx)
}

func (o *Orchestrator) startSession(ctx context.Context) error {
	start := time.Now()
	sessionID, first, err := o.client.StartSession(ctx, o.opts.Defaults)
	observability.ObserveRemote("start", err, time.Since(start))
	if err != nil {
		o.logger.Error().Err(err).Msg("start session failed")
		o.emit(Event{Type: EventError, Data: err.Error()})
		return fmt.Errorf("%w: %v", ErrRemoteCall, err)
	}

	o.session.begin(sessionID, first)
	o.logger.Info().Str("sessionID", sessionID).Str("questionID", first.ID).Msg("session started")
	o.emit(Event{Type: EventSessionStarted, SessionID: sessionID})
	o.emit(Event{Type: EventQuestionPosed, SessionID: sessionID, Data: first})
	o.speak(ctx, sessionID, first.ID, observability.NewCorrelationID(), first.Text)
	return nil
}

// HandleUtterance runs the answer pipeline for one finalized utterance:
// admit through the dedup guard, submit for transcription, then synthesize
// and play the spoken reply. Empty utterances are treated as "no speech" and
// the pipeline is not invoked. A second utterance arriving while the
// pipeline is busy is dropped without touching session state.
func (o *Orchestrator) HandleUtterance(ctx context.Context, utt *capture.Utterance) error {
	if utt.Empty() {
		observability.UtteranceDropped("empty")
		o.logger.Debug().Msg("empty utterance ignored")
		return nil
	}

	run, ok := o.guard.TryAcquire(utt.Token)
	if !ok {
		observability.UtteranceDropped("busy")
		o.logger.Warn().Uint64("token", utt.Token).Msg("utterance dropped: pipeline busy")
		return ErrPipelineBusy
	}
	defer run.Release()

	begin := time.Now()

	view := o.session.Snapshot()
	if view.State == StateNoSession {
		// Lazy start: answering without a session implicitly creates one.
		if err := o.startSession(ctx); err != nil {
			return err
		}
		view = o.session.Snapshot()
	}
	if view.State != StateQuestionPosed && view.State != StateAnswerSubmitted {
		observability.UtteranceDropped("state")
		return fmt.Errorf("%w: %s", ErrInvalidState, view.State)
	}

	start := time.Now()
	transcript, err := o.client.SubmitAnswer(ctx, view.SessionID, view.QuestionID, run.RequestID, utt.WAV)
	observability.ObserveRemote("answer", err, time.Since(start))
	if err != nil {
		o.logger.Error().Err(err).Str("requestID", run.RequestID).Msg("answer submission failed")
		o.emit(Event{Type: EventError, SessionID: view.SessionID, Data: err.Error()})
		return fmt.Errorf("%w: %v", ErrRemoteCall, err)
	}

	o.session.answered(transcript)
	o.logger.Info().
		Str("sessionID", view.SessionID).
		Str("questionID", view.QuestionID).
		Int("transcriptLen", len(transcript)).
		Dur("utterance", utt.Duration).
		Msg("answer transcribed")
	o.emit(Event{Type: EventTranscript, SessionID: view.SessionID, Data: transcript})

	// The reply reuses the run's correlation ID so the backend can tie both
	// calls to the same turn. Synthesis or playback failures are reported but
	// never roll back the AnswerSubmitted transition.
	o.speak(ctx, view.SessionID, view.QuestionID, run.RequestID, replyFor(transcript))

	observability.ObservePipeline(time.Since(begin))
	return nil
}

// SubmitText submits a typed answer instead of a spoken one.
func (o *Orchestrator) SubmitText(ctx context.Context, text string) error {
	run, ok := o.guard.TryAcquire(0)
	if !ok {
		return ErrPipelineBusy
	}
	defer run.Release()

	view := o.session.Snapshot()
	if view.State == StateNoSession {
		if err := o.startSession(ctx); err != nil {
			return err
		}
		view = o.session.Snapshot()
	}
	if view.State != StateQuestionPosed && view.State != StateAnswerSubmitted {
		return fmt.Errorf("%w: %s", ErrInvalidState, view.State)
	}

	start := time.Now()
	err := o.client.SubmitAnswerText(ctx, view.SessionID, view.QuestionID, text)
	observability.ObserveRemote("answer_text", err, time.Since(start))
	if err != nil {
		o.emit(Event{Type: EventError, SessionID: view.SessionID, Data: err.Error()})
		return fmt.Errorf("%w: %v", ErrRemoteCall, err)
	}

	o.session.answered(text)
	o.emit(Event{Type: EventTranscript, SessionID: view.SessionID, Data: text})
	return nil
}

// NextQuestion advances to the next question, clearing any stored score. The
// triggering control stays disabled while the call is outstanding.
func (o *Orchestrator) NextQuestion(ctx context.Context) error {
	if !o.nextBusy.CompareAndSwap(false, true) {
		return ErrRequestInFlight
	}
	defer o.nextBusy.Store(false)

	view := o.session.Snapshot()
	if view.State == StateNoSession {
		return ErrNoSession
	}

	start := time.Now()
	q, err := o.client.NextQuestion(ctx, view.SessionID)
	observability.ObserveRemote("next", err, time.Since(start))
	if err != nil {
		o.logger.Error().Err(err).Msg("next question failed")
		o.emit(Event{Type: EventError, SessionID: view.SessionID, Data: err.Error()})
		return fmt.Errorf("%w: %v", ErrRemoteCall, err)
	}

	o.session.pose(q)
	o.logger.Info().Str("questionID", q.ID).Msg("question advanced")
	o.emit(Event{Type: EventQuestionPosed, SessionID: view.SessionID, Data: q})
	o.speak(ctx, view.SessionID, q.ID, observability.NewCorrelationID(), q.Text)
	return nil
}

// ScoreAnswer requests the score breakdown for the submitted answer. Valid
// only from AnswerSubmitted.
func (o *Orchestrator) ScoreAnswer(ctx context.Context) error {
	if !o.scoreBusy.CompareAndSwap(false, true) {
		return ErrRequestInFlight
	}
	defer o.scoreBusy.Store(false)

	view := o.session.Snapshot()
	if view.State == StateNoSession {
		return ErrNoSession
	}
	if view.State != StateAnswerSubmitted {
		return fmt.Errorf("%w: %s", ErrInvalidState, view.State)
	}

	start := time.Now()
	score, err := o.client.ScoreAnswer(ctx, view.SessionID, view.QuestionID)
	observability.ObserveRemote("score", err, time.Since(start))
	if err != nil {
		o.logger.Error().Err(err).Msg("scoring failed")
		o.emit(Event{Type: EventError, SessionID: view.SessionID, Data: err.Error()})
		return fmt.Errorf("%w: %v", ErrRemoteCall, err)
	}

	o.session.scored(score)
	o.logger.Info().Int("overall", score.Overall).Msg("answer scored")
	o.emit(Event{Type: EventScore, SessionID: view.SessionID, Data: score})
	return nil
}

// Report fetches the per-turn summary for the active session.
func (o *Orchestrator) Report(ctx context.Context) (Report, error) {
	view := o.session.Snapshot()
	if view.State == StateNoSession {
		return Report{}, ErrNoSession
	}

	start := time.Now()
	report, err := o.client.Report(ctx, view.SessionID)
	observability.ObserveRemote("report", err, time.Since(start))
	if err != nil {
		return Report{}, fmt.Errorf("%w: %v", ErrRemoteCall, err)
	}
	return report, nil
}

// speak synthesizes text and streams it into the playback sink. Failures are
// surfaced as events only; playback is never allowed to corrupt session
// state.
func (o *Orchestrator) speak(ctx context.Context, sessionID, questionID, requestID, text string) {
	if o.synth == nil || o.sink == nil || text == "" {
		return
	}
	o.emit(Event{Type: EventReplySpeaking, SessionID: sessionID})

	start := time.Now()
	err := o.synth.Synthesize(ctx, SynthesisRequest{
		SessionID:  sessionID,
		QuestionID: questionID,
		RequestID:  requestID,
		Text:       text,
		Voice:      o.opts.Voice,
	}, func(pcm []byte) error {
		return o.sink.Enqueue(pcm)
	})
	observability.ObserveRemote("synthesize", err, time.Since(start))
	if err != nil {
		o.logger.Warn().Err(err).Msg("reply playback failed")
		o.emit(Event{Type: EventError, SessionID: sessionID, Data: err.Error()})
	}
}

func (o *Orchestrator) emit(ev Event) {
	select {
	case o.events <- ev:
	case <-o.ctx.Done():
	}
}

func replyFor(transcript string) string {
	if strings.TrimSpace(transcript) == "" {
		return "I didn't catch any speech in that answer. Could you try again?"
	}
	return "Thanks, I have your answer. Ask for a score, or move on when you're ready."
}
