package lifecycle

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/soyeahso/voxlink/internal/realtime"
)

const wavHeaderSize = 44

// WAV format tags.
const (
	wavPCM   = 1
	wavALaw  = 6
	wavMuLaw = 7
)

// WAVRecorder writes each session's remote audio to <Dir>/<session>.wav.
// The header is rewritten with the final sizes when the recording stops.
type WAVRecorder struct {
	Dir string

	mu     sync.Mutex
	f      *os.File
	format AudioFormat
	n      uint32
	path   string
}

// NewWAVRecorder creates a recorder writing into dir.
func NewWAVRecorder(dir string) *WAVRecorder {
	return &WAVRecorder{Dir: dir}
}

func (r *WAVRecorder) Start(sessionID string, format AudioFormat) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.f != nil {
		return errors.New("recording already in progress")
	}
	if err := os.MkdirAll(r.Dir, 0o700); err != nil {
		return fmt.Errorf("creating record dir: %w", err)
	}
	path := filepath.Join(r.Dir, sessionID+".wav")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("creating recording: %w", err)
	}
	if err := writeWAVHeader(f, format, 0); err != nil {
		_ = f.Close()
		return err
	}
	r.f, r.format, r.n, r.path = f, format, 0, path
	return nil
}

func (r *WAVRecorder) Write(p []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.f == nil {
		return nil
	}
	n, err := r.f.Write(p)
	r.n += uint32(n)
	return err
}

// Stop finalises the header and closes the file. Stopping an idle recorder
// is a no-op.
func (r *WAVRecorder) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.f == nil {
		return nil
	}
	f := r.f
	r.f = nil

	var hdrErr error
	if _, err := f.Seek(0, 0); err != nil {
		hdrErr = fmt.Errorf("rewinding recording: %w", err)
	} else {
		hdrErr = writeWAVHeader(f, r.format, r.n)
	}
	return errors.Join(hdrErr, f.Close())
}

// Path returns the file of the current or last recording.
func (r *WAVRecorder) Path() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.path
}

func writeWAVHeader(f *os.File, format AudioFormat, dataLen uint32) error {
	tag := uint16(wavPCM)
	switch format.Codec {
	case realtime.CodecULaw:
		tag = wavMuLaw
	case realtime.CodecALaw:
		tag = wavALaw
	}
	channels := format.Channels
	if channels == 0 {
		channels = 1
	}
	blockAlign := channels * format.BitsPerSample / 8

	hdr := make([]byte, wavHeaderSize)
	copy(hdr[0:], "RIFF")
	binary.LittleEndian.PutUint32(hdr[4:], 36+dataLen)
	copy(hdr[8:], "WAVE")
	copy(hdr[12:], "fmt ")
	binary.LittleEndian.PutUint32(hdr[16:], 16)
	binary.LittleEndian.PutUint16(hdr[20:], tag)
	binary.LittleEndian.PutUint16(hdr[22:], uint16(channels))
	binary.LittleEndian.PutUint32(hdr[24:], uint32(format.SampleRate))
	binary.LittleEndian.PutUint32(hdr[28:], uint32(format.SampleRate*blockAlign))
	binary.LittleEndian.PutUint16(hdr[32:], uint16(blockAlign))
	binary.LittleEndian.PutUint16(hdr[34:], uint16(format.BitsPerSample))
	copy(hdr[36:], "data")
	binary.LittleEndian.PutUint32(hdr[40:], dataLen)

	if _, err := f.Write(hdr); err != nil {
		return fmt.Errorf("writing wav header: %w", err)
	}
	return nil
}
