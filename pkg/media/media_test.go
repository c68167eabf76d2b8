package media

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func jpegBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func TestPrepare_Oversize(t *testing.T) {
	in := Intake{MaxBytes: 10}

	_, err := in.Prepare(make([]byte, 11), "image/jpeg")

	var oe *OversizeError
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, int64(11), oe.Size)
	assert.Equal(t, int64(10), oe.Limit)
}

func TestPrepare_DefaultLimit(t *testing.T) {
	var in Intake
	_, err := in.Prepare(make([]byte, DefaultMaxBytes+1), "image/jpeg")

	var oe *OversizeError
	assert.ErrorAs(t, err, &oe)
}

func TestPrepare_Empty(t *testing.T) {
	_, err := DefaultIntake().Prepare(nil, "image/png")
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestPrepare_TypeDetection(t *testing.T) {
	raw := jpegBytes(t, 4, 4)

	tests := []struct {
		name     string
		data     []byte
		declared string
		want     string
		wantErr  error
	}{
		{name: "declared jpeg", data: raw, declared: "image/jpeg", want: "image/jpeg"},
		{name: "declared jpg alias", data: raw, declared: "image/jpg", want: "image/jpeg"},
		{name: "declared with params", data: raw, declared: "image/png; charset=binary", want: "image/png"},
		{name: "sniffed jpeg", data: raw, declared: "", want: "image/jpeg"},
		{name: "sniffed png", data: pngBytes(t, 2, 2), declared: "application/octet-stream", want: "image/png"},
		{name: "gif rejected", data: []byte("GIF89a......"), declared: "", wantErr: ErrUnsupportedType},
		{name: "text rejected", data: []byte("hello"), declared: "text/plain", wantErr: ErrUnsupportedType},
	}

	in := Intake{}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			att, err := in.Prepare(tt.data, tt.declared)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, att.MIMEType)
			assert.Equal(t, tt.data, att.Data)
			assert.Equal(t, int64(len(tt.data)), att.SourceSize)
		})
	}
}

func TestPrepare_CompressDownscales(t *testing.T) {
	raw := pngBytes(t, 1600, 1000)
	in := DefaultIntake()
	in.MaxBytes = int64(len(raw)) + 1

	att, err := in.Prepare(raw, "image/png")
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", att.MIMEType)
	assert.Equal(t, int64(len(raw)), att.SourceSize)

	cfg, format, err := image.DecodeConfig(bytes.NewReader(att.Data))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, 800, cfg.Width)
	assert.Equal(t, 500, cfg.Height)
}

func TestPrepare_CompressNeverUpscales(t *testing.T) {
	att, err := DefaultIntake().Prepare(pngBytes(t, 40, 30), "image/png")
	require.NoError(t, err)

	cfg, _, err := image.DecodeConfig(bytes.NewReader(att.Data))
	require.NoError(t, err)
	assert.Equal(t, 40, cfg.Width)
	assert.Equal(t, 30, cfg.Height)
}

// pngHeader returns a greyscale PNG signature and IHDR chunk claiming
// w×h pixels, with no image data.
func pngHeader(w, h uint32) []byte {
	ihdr := make([]byte, 17)
	copy(ihdr, "IHDR")
	binary.BigEndian.PutUint32(ihdr[4:], w)
	binary.BigEndian.PutUint32(ihdr[8:], h)
	ihdr[12] = 8 // bit depth; colour type 0 (grey)

	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")
	_ = binary.Write(&buf, binary.BigEndian, uint32(13))
	buf.Write(ihdr)
	_ = binary.Write(&buf, binary.BigEndian, crc32.ChecksumIEEE(ihdr))
	return buf.Bytes()
}

func TestPrepare_RejectsPixelBombBeforeDecode(t *testing.T) {
	raw := pngHeader(20000, 20000)

	_, err := DefaultIntake().Prepare(raw, "image/png")
	assert.True(t, errors.Is(err, ErrTooManyPixels), "got %v", err)
}

func TestPrepare_PixelBudget(t *testing.T) {
	in := DefaultIntake()
	in.MaxPixels = 100

	_, err := in.Prepare(pngBytes(t, 20, 20), "image/png")
	assert.True(t, errors.Is(err, ErrTooManyPixels), "got %v", err)

	in.MaxPixels = 400
	_, err = in.Prepare(pngBytes(t, 20, 20), "image/png")
	assert.NoError(t, err)
}

func TestPrepare_CompressCorruptImage(t *testing.T) {
	corrupt := append([]byte{0xff, 0xd8, 0xff, 0xe0}, make([]byte, 32)...)
	_, err := DefaultIntake().Prepare(corrupt, "image/jpeg")
	assert.True(t, errors.Is(err, ErrUnsupportedType), "got %v", err)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "temple.png")
	require.NoError(t, os.WriteFile(path, pngBytes(t, 8, 8), 0o600))

	att, err := Intake{}.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "image/png", att.MIMEType)

	_, err = Intake{MaxBytes: 4}.LoadFile(path)
	var oe *OversizeError
	assert.ErrorAs(t, err, &oe)

	_, err = Intake{}.LoadFile(filepath.Join(dir, "missing.jpg"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestFit(t *testing.T) {
	tests := []struct {
		w, h, box    int
		wantW, wantH int
	}{
		{1600, 1000, 800, 800, 500},
		{1000, 1600, 800, 500, 800},
		{800, 800, 800, 800, 800},
		{100, 50, 800, 100, 50},
		{5000, 2, 800, 800, 1},
	}
	for _, tt := range tests {
		w, h := fit(tt.w, tt.h, tt.box)
		assert.Equal(t, tt.wantW, w)
		assert.Equal(t, tt.wantH, h)
	}
}

func TestHumanSize(t *testing.T) {
	assert.Equal(t, "512 B", HumanSize(512))
	assert.Equal(t, "12 KB", HumanSize(12*1024))
	assert.Equal(t, "3.0 MB", HumanSize(3*1024*1024))
}
