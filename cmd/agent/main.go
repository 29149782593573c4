package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/speakdrill-ai/speakdrill-agent/internal/config"
	"github.com/speakdrill-ai/speakdrill-agent/internal/observability"
	"github.com/speakdrill-ai/speakdrill-agent/pkg/capture"
	"github.com/speakdrill-ai/speakdrill-agent/pkg/client"
	"github.com/speakdrill-ai/speakdrill-agent/pkg/playback"
	"github.com/speakdrill-ai/speakdrill-agent/pkg/practice"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.LogLevel, cfg.LogPretty)

	if cfg.MetricsAddr != "" {
		go func() {
			if err := observability.ServeMetrics(cfg.MetricsAddr); err != nil {
				logger.Warn().Err(err).Msg("metrics endpoint stopped")
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backend := client.NewHTTPClient(cfg.BackendURL, cfg.APIKey, logger)

	var synth practice.Synthesizer = backend
	if cfg.TTSStreamURL != "" {
		stream := client.NewStreamTTS(cfg.TTSStreamURL, cfg.APIKey, logger)
		defer stream.Close()
		synth = stream
	}

	player, err := playback.NewPlayer(playback.Config{SampleRate: cfg.SampleRate, Channels: 1}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("playback device init failed")
	}
	defer player.Close()

	source, err := capture.NewMalgoSource()
	if err != nil {
		logger.Fatal().Err(err).Msg("audio context init failed")
	}
	defer source.Close()

	captureCfg := capture.Config{
		Device: capture.DeviceConfig{SampleRate: cfg.SampleRate, Channels: 1},
		Analyzer: capture.AnalyzerConfig{
			ThresholdDB:  cfg.VADThresholdDB,
			SilenceAfter: cfg.SilenceDuration(),
			Grace:        cfg.GraceDuration(),
			Smoothing:    capture.DefaultAnalyzerConfig().Smoothing,
		},
		DisableVAD:  cfg.VADDisabled,
		MaxDuration: cfg.MaxRecordDuration(),
	}
	engine := capture.NewEngine(ctx, source, captureCfg, logger)
	defer engine.Close()

	orch := practice.New(ctx, backend, synth, player, practice.Options{
		Defaults: practice.StartContext{Role: cfg.Role, Level: cfg.Level, Mode: cfg.Mode},
		Voice:    cfg.Voice,
	}, logger)
	defer orch.Close()

	go orch.Warmup(ctx)

	fmt.Printf("Practice agent ready. Backend: %s | Role: %s (%s)\n", cfg.BackendURL, cfg.Role, cfg.Level)
	fmt.Println("Commands: [Enter] start/stop recording | c cancel | n next | s score | r report | t <text> typed answer | q quit")

	go func() {
		for event := range engine.Events() {
			switch event.Type {
			case capture.EventLevel:
				dots := int((event.Level + 100) / 100 * 40)
				if dots < 0 {
					dots = 0
				}
				if dots > 40 {
					dots = 40
				}
				fmt.Printf("\r[MIC %-40s] %6.1f dB", strings.Repeat("|", dots), event.Level)
			case capture.EventSilence:
				fmt.Printf("\r\033[K[VAD] Silence detected, finishing...\n")
			case capture.EventState:
				if event.State == capture.StateRecording {
					fmt.Printf("\r\033[K[REC] Recording. Speak now.\n")
				}
			case capture.EventUtterance:
				fmt.Printf("\r\033[K[REC] Captured %.1fs of audio.\n", event.Utterance.Duration.Seconds())
				go func(utt *capture.Utterance) {
					if err := orch.HandleUtterance(ctx, utt); err != nil {
						logger.Warn().Err(err).Msg("utterance not processed")
					}
				}(event.Utterance)
			case capture.EventError:
				fmt.Printf("\r\033[K[ERROR] %v\n", event.Err)
			}
		}
	}()

	go func() {
		for event := range orch.Events() {
			switch event.Type {
			case practice.EventSessionStarted:
				fmt.Printf("\r\033[K[SESSION] %s\n", event.SessionID)
			case practice.EventQuestionPosed:
				if q, ok := event.Data.(practice.Question); ok {
					fmt.Printf("\r\033[K[QUESTION] %s\n", q.Text)
				}
			case practice.EventTranscript:
				fmt.Printf("\r\033[K[YOU] %v\n", event.Data)
			case practice.EventReplySpeaking:
				fmt.Printf("\r\033[K[AGENT] Speaking...\n")
			case practice.EventScore:
				if sc, ok := event.Data.(practice.Score); ok {
					fmt.Printf("\r\033[K[SCORE] overall %d (content %d, pronunciation %d, fluency %d)\n",
						sc.Overall, sc.Content, sc.Pronunciation, sc.Fluency)
					for _, tip := range sc.Tips {
						fmt.Printf("        tip: %s\n", tip)
					}
				}
			case practice.EventError:
				fmt.Printf("\r\033[K[ERROR] %v\n", event.Data)
			}
		}
	}()

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-sig:
			fmt.Printf("\nShutting down...\n")
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			handleCommand(ctx, line, engine, orch, player)
			if strings.TrimSpace(line) == "q" {
				return
			}
		}
	}
}

func handleCommand(ctx context.Context, line string, engine *capture.Engine, orch *practice.Orchestrator, player *playback.Player) {
	cmd := strings.TrimSpace(line)
	switch {
	case cmd == "":
		// Enter toggles recording.
		if engine.State() == capture.StateRecording {
			engine.Stop()
			return
		}
		// Starting to answer while a reply is still audible cuts it short, so
		// the microphone never records the agent's own voice.
		if player.ActiveSince(200 * time.Millisecond) {
			player.Flush()
		}
		if err := engine.Start(ctx); err != nil {
			fmt.Printf("[REC] %v\n", err)
		}
	case cmd == "c":
		engine.Cancel()
		player.Flush()
		fmt.Println("[REC] Cancelled.")
	case cmd == "n":
		if err := orch.NextQuestion(ctx); err != nil {
			fmt.Printf("[NEXT] %v\n", err)
		}
	case cmd == "s":
		if err := orch.ScoreAnswer(ctx); err != nil {
			fmt.Printf("[SCORE] %v\n", err)
		}
	case cmd == "r":
		report, err := orch.Report(ctx)
		if err != nil {
			fmt.Printf("[REPORT] %v\n", err)
			return
		}
		fmt.Printf("[REPORT] session %s, average %d\n", report.SessionID, report.OverallAvg)
		for i, turn := range report.Turns {
			fmt.Printf("  %d. %s\n     answer: %s\n     overall: %d\n", i+1, turn.Question, turn.AnswerText, turn.Scores.Overall)
		}
	case strings.HasPrefix(cmd, "t "):
		if err := orch.SubmitText(ctx, strings.TrimPrefix(cmd, "t ")); err != nil {
			fmt.Printf("[ANSWER] %v\n", err)
		}
	case cmd == "q":
		fmt.Println("Bye.")
	default:
		fmt.Printf("Unknown command %q\n", cmd)
	}
}
