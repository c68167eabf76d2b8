package media

import (
	"cmp"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// DefaultMaxAudioBytes caps a recorded voice question.
const DefaultMaxAudioBytes = 10 * 1024 * 1024

// ErrUnsupportedAudio is returned for anything other than MP3 or WAV.
var ErrUnsupportedAudio = errors.New("unsupported audio type")

var audioTypes = map[string]string{
	"audio/mpeg":     "audio/mpeg",
	"audio/mp3":      "audio/mpeg",
	"audio/wav":      "audio/wav",
	"audio/wave":     "audio/wav",
	"audio/x-wav":    "audio/wav",
	"audio/vnd.wave": "audio/wav",
}

var audioExtensions = map[string]string{
	".mp3": "audio/mpeg",
	".wav": "audio/wav",
}

// Clip is a recorded voice question.
type Clip struct {
	MIMEType string
	Data     []byte
}

// PrepareAudio checks a voice recording. The size check runs first; an
// empty or unknown declared type is sniffed.
func (in Intake) PrepareAudio(data []byte, declaredMIME string) (Clip, error) {
	size := int64(len(data))
	if size == 0 {
		return Clip{}, ErrEmpty
	}
	limit := in.audioLimit()
	if size > limit {
		return Clip{}, &OversizeError{Size: size, Limit: limit}
	}

	declared := normalizeMIME(declaredMIME)
	mimeType, ok := audioTypes[declared]
	if !ok {
		sniffed := normalizeMIME(http.DetectContentType(data))
		if mimeType, ok = audioTypes[sniffed]; !ok {
			return Clip{}, fmt.Errorf("%w: %s", ErrUnsupportedAudio, cmp.Or(declared, sniffed))
		}
	}
	return Clip{MIMEType: mimeType, Data: data}, nil
}

// LoadAudioFile reads a .mp3 or .wav file and prepares it.
func (in Intake) LoadAudioFile(path string) (Clip, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Clip{}, fmt.Errorf("read audio: %w", err)
	}
	if limit := in.audioLimit(); info.Size() > limit {
		return Clip{}, &OversizeError{Size: info.Size(), Limit: limit}
	}

	data, err := os.ReadFile(path) // #nosec G304 - path chosen by the local user
	if err != nil {
		return Clip{}, fmt.Errorf("read audio: %w", err)
	}
	return in.PrepareAudio(data, audioExtensions[strings.ToLower(filepath.Ext(path))])
}

func (in Intake) audioLimit() int64 {
	if in.MaxAudioBytes <= 0 {
		return DefaultMaxAudioBytes
	}
	return in.MaxAudioBytes
}
