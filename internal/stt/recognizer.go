package stt

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/putuastawa/visioncap/internal/logger"
)

// ErrDisabled is returned by the HTTP layer when the feature flag is off.
var ErrDisabled = errors.New("speech recognition is not available")

// Capture is a microphone source delivering 16-bit mono PCM frames.
type Capture interface {
	Start(onSamples func(pcm []byte)) error
	Stop() error
}

// Transcriber turns a WAV recording into text.
type Transcriber interface {
	Transcribe(ctx context.Context, wavData []byte) (string, error)
}

// Recognizer serializes access to the single capture device. The mutex is
// mutual exclusion over one external resource (the microphone), not a
// general concurrency primitive.
type Recognizer struct {
	capture     Capture
	transcriber Transcriber
	recordFor   time.Duration
	log         *logger.Logger

	mu        sync.Mutex
	recording bool
	pcm       []byte
	text      string
	timer     *time.Timer
}

func NewRecognizer(capture Capture, transcriber Transcriber, recordFor time.Duration, log *logger.Logger) *Recognizer {
	if recordFor <= 0 {
		recordFor = 15 * time.Second
	}
	return &Recognizer{
		capture:     capture,
		transcriber: transcriber,
		recordFor:   recordFor,
		log:         log,
	}
}

// Start begins recording. Returns false if a recording is already running.
// Recording stops by itself after the configured window.
func (r *Recognizer) Start() (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.recording {
		return false, nil
	}

	r.pcm = r.pcm[:0]
	r.text = ""
	if err := r.capture.Start(r.appendSamples); err != nil {
		return false, err
	}
	r.recording = true
	r.timer = time.AfterFunc(r.recordFor, func() {
		if _, err := r.Stop(context.Background()); err != nil {
			r.log.Error("auto-stop failed", "err", err)
		}
	})
	r.log.Info("recording started", "window", r.recordFor)
	return true, nil
}

// Stop ends the recording and transcribes what was captured. Calling Stop
// while idle returns the last transcription.
func (r *Recognizer) Stop(ctx context.Context) (string, error) {
	r.mu.Lock()
	if !r.recording {
		text := r.text
		r.mu.Unlock()
		return text, nil
	}
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.recording = false
	r.mu.Unlock()

	// The capture callback takes the same mutex; stop the device without
	// holding it.
	if err := r.capture.Stop(); err != nil {
		return "", err
	}

	r.mu.Lock()
	pcm := r.pcm
	r.mu.Unlock()
	if len(pcm) == 0 {
		return "", nil
	}

	wavData, err := encodeWAV(pcm)
	if err != nil {
		return "", err
	}
	text, err := r.transcriber.Transcribe(ctx, wavData)
	if err != nil {
		r.log.Error("transcription failed", "err", err)
		return "", err
	}
	r.mu.Lock()
	r.text = text
	r.mu.Unlock()
	r.log.Info("recording transcribed", "chars", len(text))
	return text, nil
}

// Status reports whether a recording is running and the last transcript.
func (r *Recognizer) Status() (recording bool, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording, r.text
}

func (r *Recognizer) appendSamples(pcm []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.recording {
		return
	}
	r.pcm = append(r.pcm, pcm...)
}
