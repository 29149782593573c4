package audio

import (
	"bytes"
	"testing"
	"time"
)

func TestNewWavBuffer(t *testing.T) {
	pcm := []byte{0x01, 0x02, 0x03, 0x04}
	wav := NewWavBuffer(pcm, 44100, 1)

	if !bytes.HasPrefix(wav, []byte("RIFF")) {
		t.Errorf("Expected RIFF prefix")
	}

	if !bytes.Contains(wav, []byte("WAVE")) {
		t.Errorf("Expected WAVE format identifier")
	}

	expectedLen := 44 + len(pcm)
	if len(wav) != expectedLen {
		t.Errorf("Expected length %d, got %d", expectedLen, len(wav))
	}
}

func TestParseWavRoundTrip(t *testing.T) {
	pcm := make([]byte, 8820) // 100ms at 44.1kHz mono
	for i := range pcm {
		pcm[i] = byte(i)
	}
	wav := NewWavBuffer(pcm, 44100, 1)

	got, rate, channels, err := ParseWav(wav)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rate != 44100 {
		t.Errorf("expected sample rate 44100, got %d", rate)
	}
	if channels != 1 {
		t.Errorf("expected 1 channel, got %d", channels)
	}
	if !bytes.Equal(got, pcm) {
		t.Error("extracted PCM does not match input")
	}
}

func TestParseWavRejectsGarbage(t *testing.T) {
	if _, _, _, err := ParseWav([]byte("definitely not audio")); err == nil {
		t.Error("expected error for non-WAV input")
	}
}

func TestPCMDuration(t *testing.T) {
	pcm := make([]byte, 88200) // 1s at 44.1kHz mono 16-bit
	if d := PCMDuration(pcm, 44100, 1); d != time.Second {
		t.Errorf("expected 1s, got %v", d)
	}
	if d := PCMDuration(nil, 44100, 1); d != 0 {
		t.Errorf("expected 0 for empty PCM, got %v", d)
	}
	if d := PCMDuration(pcm, 0, 1); d != 0 {
		t.Errorf("expected 0 for invalid rate, got %v", d)
	}
}
