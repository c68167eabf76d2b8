// Package media turns uploaded or captured image bytes into a session
// attachment: size cap, type check and optional downscaling.
package media

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	_ "image/png" // register decoder
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // register decoder

	"github.com/culturaltourmate/tourmate/pkg/session"
)

// Defaults for an Intake.
const (
	DefaultMaxBytes     = 3 * 1024 * 1024
	DefaultMaxDimension = 800
	DefaultQuality      = 80
	DefaultMaxPixels    = 40_000_000
)

var (
	// ErrUnsupportedType is returned for anything other than JPEG, PNG or WebP.
	ErrUnsupportedType = errors.New("unsupported image type")
	// ErrTooManyPixels is returned when the decoded image would exceed the
	// pixel budget.
	ErrTooManyPixels = errors.New("image dimensions too large")
	// ErrEmpty is returned for zero-length input.
	ErrEmpty = errors.New("image is empty")
)

// OversizeError is returned when the input exceeds the size cap. Nothing
// is staged.
type OversizeError struct {
	Size  int64
	Limit int64
}

func (e *OversizeError) Error() string {
	return fmt.Sprintf("image is %s, exceeds the %s limit", HumanSize(e.Size), HumanSize(e.Limit))
}

var accepted = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
}

// Intake prepares images for staging.
type Intake struct {
	// MaxBytes caps the raw input size.
	MaxBytes int64 `yaml:"max_bytes"`
	// MaxDimension bounds the longer side after compression.
	MaxDimension int `yaml:"max_dimension"`
	// Quality is the JPEG re-encode quality (1-100).
	Quality int `yaml:"quality"`
	// Compress enables downscaling and JPEG re-encoding.
	Compress bool `yaml:"compress"`
	// MaxPixels caps width×height before an image is decoded.
	MaxPixels int `yaml:"max_pixels"`
	// MaxAudioBytes caps a voice question recording.
	MaxAudioBytes int64 `yaml:"max_audio_bytes"`
}

// DefaultIntake returns a 3 MiB cap with 800px / q80 compression.
func DefaultIntake() Intake {
	return Intake{
		MaxBytes:      DefaultMaxBytes,
		MaxDimension:  DefaultMaxDimension,
		Quality:       DefaultQuality,
		Compress:      true,
		MaxPixels:     DefaultMaxPixels,
		MaxAudioBytes: DefaultMaxAudioBytes,
	}
}

// Prepare checks data and returns an attachment ready to stage. The size
// check runs before anything else. declaredMIME may be empty, in which
// case the type is sniffed.
func (in Intake) Prepare(data []byte, declaredMIME string) (session.Attachment, error) {
	size := int64(len(data))
	if size == 0 {
		return session.Attachment{}, ErrEmpty
	}
	limit := in.MaxBytes
	if limit <= 0 {
		limit = DefaultMaxBytes
	}
	if size > limit {
		return session.Attachment{}, &OversizeError{Size: size, Limit: limit}
	}

	mimeType := normalizeMIME(declaredMIME)
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = normalizeMIME(http.DetectContentType(data))
	}
	if !accepted[mimeType] {
		return session.Attachment{}, fmt.Errorf("%w: %s", ErrUnsupportedType, mimeType)
	}

	att := session.Attachment{MIMEType: mimeType, Data: data, SourceSize: size}
	if !in.Compress {
		return att, nil
	}

	out, err := in.compress(data)
	if err != nil {
		return session.Attachment{}, err
	}
	att.MIMEType = "image/jpeg"
	att.Data = out
	return att, nil
}

// LoadFile reads path and prepares it. The type is taken from the file
// extension when known.
func (in Intake) LoadFile(path string) (session.Attachment, error) {
	info, err := os.Stat(path)
	if err != nil {
		return session.Attachment{}, fmt.Errorf("read image: %w", err)
	}
	limit := in.MaxBytes
	if limit <= 0 {
		limit = DefaultMaxBytes
	}
	if info.Size() > limit {
		return session.Attachment{}, &OversizeError{Size: info.Size(), Limit: limit}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return session.Attachment{}, fmt.Errorf("read image: %w", err)
	}
	return in.Prepare(data, mime.TypeByExtension(strings.ToLower(filepath.Ext(path))))
}

// compress fits the image inside MaxDimension×MaxDimension, keeping the
// aspect ratio and never upscaling, and re-encodes it as JPEG.
func (in Intake) compress(data []byte) ([]byte, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrUnsupportedType, err)
	}
	budget := in.MaxPixels
	if budget <= 0 {
		budget = DefaultMaxPixels
	}
	if int64(cfg.Width)*int64(cfg.Height) > int64(budget) {
		return nil, fmt.Errorf("%w: %dx%d", ErrTooManyPixels, cfg.Width, cfg.Height)
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrUnsupportedType, err)
	}

	maxDim := in.MaxDimension
	if maxDim <= 0 {
		maxDim = DefaultMaxDimension
	}
	quality := in.Quality
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}

	b := src.Bounds()
	w, h := fit(b.Dx(), b.Dy(), maxDim)

	// JPEG has no alpha; flatten onto white.
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	if w == b.Dx() && h == b.Dy() {
		draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Over)
	} else {
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// fit scales w×h down to fit a box×box square.
func fit(w, h, box int) (int, int) {
	if w <= box && h <= box {
		return w, h
	}
	if w >= h {
		return box, max(1, h*box/w)
	}
	return max(1, w*box/h), box
}

func normalizeMIME(s string) string {
	if s == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(s)
	if err != nil {
		mt = strings.ToLower(strings.TrimSpace(s))
	}
	if mt == "image/jpg" || mt == "image/pjpeg" {
		mt = "image/jpeg"
	}
	return mt
}

// HumanSize formats n bytes as "1.5 MB" or "12 KB".
func HumanSize(n int64) string {
	const unit = 1024
	switch {
	case n >= unit*unit:
		return fmt.Sprintf("%.1f MB", float64(n)/(unit*unit))
	case n >= unit:
		return fmt.Sprintf("%d KB", n/unit)
	default:
		return fmt.Sprintf("%d B", n)
	}
}
