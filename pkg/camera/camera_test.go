package camera

import (
	"bytes"
	"context"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitJPEG(t *testing.T) {
	frameA := []byte{0xFF, 0xD8, 0x01, 0x02, 0xFF, 0xD9}
	frameB := []byte{0xFF, 0xD8, 0x03, 0xFF, 0xD9}

	tests := []struct {
		name       string
		input      []byte
		wantFrames [][]byte
		wantRest   []byte
	}{
		{
			name:       "two frames",
			input:      append(append([]byte{}, frameA...), frameB...),
			wantFrames: [][]byte{frameA, frameB},
		},
		{
			name:       "leading garbage",
			input:      append([]byte{0x00, 0x11}, frameA...),
			wantFrames: [][]byte{frameA},
		},
		{
			name:     "partial frame",
			input:    []byte{0x00, 0xFF, 0xD8, 0x05},
			wantRest: []byte{0xFF, 0xD8, 0x05},
		},
		{
			name:       "split marker",
			input:      append(append([]byte{}, frameA...), 0xFF),
			wantFrames: [][]byte{frameA},
			wantRest:   []byte{0xFF},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frames, rest := splitJPEG(tt.input)
			assert.Equal(t, tt.wantFrames, frames)
			assert.Equal(t, tt.wantRest, rest)
		})
	}
}

func TestReadFrames(t *testing.T) {
	frame := []byte{0xFF, 0xD8, 0xAA, 0xBB, 0xFF, 0xD9}
	var input []byte
	for i := 0; i < 3; i++ {
		input = append(input, frame...)
	}

	var got [][]byte
	readFrames(bytes.NewReader(input), func(f []byte) { got = append(got, f) })

	require.Len(t, got, 3)
	for _, f := range got {
		assert.Equal(t, frame, f)
	}
}

func TestPatternOpener(t *testing.T) {
	h, err := PatternOpener{Width: 64, Height: 48, Interval: 10 * time.Millisecond}.Open(context.Background())
	require.NoError(t, err)

	snap, err := h.Snapshot(context.Background())
	require.NoError(t, err)

	img, err := jpeg.Decode(bytes.NewReader(snap))
	require.NoError(t, err)
	assert.Equal(t, 64, img.Bounds().Dx())
	assert.Equal(t, 48, img.Bounds().Dy())

	select {
	case frame := <-h.Frames():
		assert.NotEmpty(t, frame)
	case <-time.After(time.Second):
		t.Fatal("no frame delivered")
	}

	require.NoError(t, h.Close())
	require.NoError(t, h.Close())

	_, err = h.Snapshot(context.Background())
	assert.ErrorIs(t, err, ErrClosed)

	for range h.Frames() {
	}
}

func TestPatternOpener_Denied(t *testing.T) {
	_, err := PatternOpener{Deny: true}.Open(context.Background())
	assert.ErrorIs(t, err, ErrDeviceAccess)
}

func TestFFmpegOpener_MissingDevice(t *testing.T) {
	_, err := FFmpegOpener{Device: filepath.Join(t.TempDir(), "video9")}.Open(context.Background())
	assert.ErrorIs(t, err, ErrDeviceAccess)
}

func TestFFmpegOpener_NoFrame(t *testing.T) {
	device := filepath.Join(t.TempDir(), "video0")
	require.NoError(t, os.WriteFile(device, nil, 0o644))

	_, err := FFmpegOpener{
		Device:      device,
		Binary:      "true",
		OpenTimeout: 200 * time.Millisecond,
	}.Open(context.Background())
	assert.ErrorIs(t, err, ErrDeviceAccess)
}

func TestScanDevices(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"video10", "video2", "video0", "videoX"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}

	devices, err := scanDevices(context.Background(), filepath.Join(dir, "video*"))
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "video0"),
		filepath.Join(dir, "video2"),
		filepath.Join(dir, "video10"),
	}, devices)
}

func TestExtractDeviceNumber(t *testing.T) {
	assert.Equal(t, 0, extractDeviceNumber("/dev/video0"))
	assert.Equal(t, 12, extractDeviceNumber("/dev/video12"))
	assert.Equal(t, 0, extractDeviceNumber("/dev/null"))
}
