package capture

import (
	"context"
	"fmt"

	"github.com/gen2brain/malgo"
)

// DeviceConfig describes the PCM stream a device must produce.
type DeviceConfig struct {
	SampleRate int
	Channels   int
}

// DataFunc receives raw 16-bit little-endian PCM frames from a live device.
type DataFunc func(pcm []byte)

// Device is an exclusively-owned handle to a live input stream. The Engine
// holds at most one at a time and closes it on every exit path.
type Device interface {
	Close() error
}

// DeviceSource acquires microphone devices. The Engine takes a DeviceSource
// rather than a concrete backend so tests can inject fakes.
type DeviceSource interface {
	Acquire(ctx context.Context, cfg DeviceConfig, onData DataFunc) (Device, error)
}

// MalgoSource acquires capture devices through miniaudio.
type MalgoSource struct {
	mctx *malgo.AllocatedContext
}

// NewMalgoSource initializes the miniaudio context. A failure here means the
// platform cannot do audio capture at all.
func NewMalgoSource() (*MalgoSource, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedContext, err)
	}
	return &MalgoSource{mctx: mctx}, nil
}

func (s *MalgoSource) Acquire(ctx context.Context, cfg DeviceConfig, onData DataFunc) (Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(cfg.Channels)
	deviceConfig.SampleRate = uint32(cfg.SampleRate)
	deviceConfig.Alsa.NoMMap = 1 // better compatibility on some systems

	device, err := malgo.InitDevice(s.mctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: func(_, pInput []byte, _ uint32) {
			if pInput != nil {
				onData(pInput)
			}
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	return &malgoDevice{dev: device}, nil
}

// Close releases the miniaudio context. Call after all devices are closed.
func (s *MalgoSource) Close() error {
	if err := s.mctx.Uninit(); err != nil {
		return err
	}
	s.mctx.Free()
	return nil
}

type malgoDevice struct {
	dev *malgo.Device
}

func (d *malgoDevice) Close() error {
	d.dev.Uninit()
	return nil
}
