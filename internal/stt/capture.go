package stt

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/gen2brain/malgo"
)

const (
	sampleRate  = 16000
	numChannels = 1
	bitDepth    = 16
)

// MalgoCapture records 16 kHz mono S16 PCM from the default microphone.
type MalgoCapture struct {
	mu     sync.Mutex
	ctx    *malgo.AllocatedContext
	device *malgo.Device
}

func NewMalgoCapture() *MalgoCapture { return &MalgoCapture{} }

func (c *MalgoCapture) Start(onSamples func(pcm []byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.device != nil {
		return fmt.Errorf("capture already running")
	}

	var backend malgo.Backend
	switch runtime.GOOS {
	case "linux":
		backend = malgo.BackendAlsa
	case "windows":
		backend = malgo.BackendWasapi
	case "darwin":
		backend = malgo.BackendCoreaudio
	}

	mctx, err := malgo.InitContext([]malgo.Backend{backend}, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("audio context init: %w", err)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = numChannels
	deviceConfig.SampleRate = sampleRate
	deviceConfig.Alsa.NoMMap = 1

	callbacks := malgo.DeviceCallbacks{
		Data: func(pOutput, pInput []byte, framecount uint32) {
			onSamples(pInput)
		},
	}

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, callbacks)
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return fmt.Errorf("capture device init: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		_ = mctx.Uninit()
		mctx.Free()
		return fmt.Errorf("capture device start: %w", err)
	}

	c.ctx = mctx
	c.device = device
	return nil
}

func (c *MalgoCapture) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.device == nil {
		return nil
	}
	c.device.Uninit()
	c.device = nil
	err := c.ctx.Uninit()
	c.ctx.Free()
	c.ctx = nil
	return err
}
