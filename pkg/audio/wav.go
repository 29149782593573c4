package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"
)

// NewWavBuffer wraps raw 16-bit little-endian PCM in a RIFF/WAVE container.
func NewWavBuffer(pcm []byte, sampleRate, channels int) []byte {
	buf := new(bytes.Buffer)

	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))                      // chunk size
	binary.Write(buf, binary.LittleEndian, uint16(1))                       // PCM
	binary.Write(buf, binary.LittleEndian, uint16(channels))                //
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))              //
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate*channels*2))   // byte rate
	binary.Write(buf, binary.LittleEndian, uint16(channels*2))              // block align
	binary.Write(buf, binary.LittleEndian, uint16(16))                      // bits per sample

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes()
}

// PCMDuration returns the play time of raw 16-bit PCM.
func PCMDuration(pcm []byte, sampleRate, channels int) time.Duration {
	if sampleRate <= 0 || channels <= 0 {
		return 0
	}
	frames := len(pcm) / (2 * channels)
	return time.Duration(frames) * time.Second / time.Duration(sampleRate)
}

// ParseWav extracts the PCM payload and format of a 16-bit PCM WAV buffer.
// Only canonical PCM files are supported; compressed formats are rejected.
func ParseWav(data []byte) (pcm []byte, sampleRate, channels int, err error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, 0, 0, fmt.Errorf("not a RIFF/WAVE buffer")
	}

	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		if body+size > len(data) {
			size = len(data) - body
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, 0, 0, fmt.Errorf("truncated fmt chunk")
			}
			format := binary.LittleEndian.Uint16(data[body : body+2])
			if format != 1 {
				return nil, 0, 0, fmt.Errorf("unsupported wav format %d", format)
			}
			channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			sampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			bits := binary.LittleEndian.Uint16(data[body+14 : body+16])
			if bits != 16 {
				return nil, 0, 0, fmt.Errorf("unsupported bit depth %d", bits)
			}
		case "data":
			pcm = data[body : body+size]
		}

		// chunks are word aligned
		pos = body + size
		if size%2 == 1 {
			pos++
		}
	}

	if sampleRate == 0 || channels == 0 {
		return nil, 0, 0, fmt.Errorf("missing fmt chunk")
	}
	if pcm == nil {
		return nil, 0, 0, fmt.Errorf("missing data chunk")
	}
	return pcm, sampleRate, channels, nil
}
