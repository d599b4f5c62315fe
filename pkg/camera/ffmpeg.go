package camera

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var (
	jpegStart = []byte{0xFF, 0xD8}
	jpegEnd   = []byte{0xFF, 0xD9}
)

// FFmpegOpener streams a V4L2 device through ffmpeg as MJPEG
type FFmpegOpener struct {
	Device string
	Width  int
	Height int
	FPS    int

	// OpenTimeout bounds the wait for the first frame
	OpenTimeout time.Duration
	// Binary defaults to "ffmpeg"
	Binary string
}

func (o FFmpegOpener) args() []string {
	args := []string{"-loglevel", "error", "-f", "v4l2"}
	if o.Width > 0 && o.Height > 0 {
		args = append(args, "-video_size", fmt.Sprintf("%dx%d", o.Width, o.Height))
	}
	if o.FPS > 0 {
		args = append(args, "-r", strconv.Itoa(o.FPS))
	}
	return append(args,
		"-i", o.Device,
		"-f", "image2pipe",
		"-c:v", "mjpeg",
		"-q:v", "3",
		"-",
	)
}

// Open starts ffmpeg and returns once the first frame is decoded
func (o FFmpegOpener) Open(ctx context.Context) (Handle, error) {
	f, err := os.OpenFile(o.Device, os.O_RDONLY, 0)
	if err != nil {
		return nil, errors.Wrapf(ErrDeviceAccess, "%s: %v", o.Device, err)
	}
	f.Close()

	binary := o.Binary
	if binary == "" {
		binary = "ffmpeg"
	}
	timeout := o.OpenTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	procCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(procCtx, binary, o.args()...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, errors.Wrap(err, "failed to create stdout pipe")
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return nil, errors.Wrap(err, "failed to create stderr pipe")
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, errors.Wrapf(ErrDeviceAccess, "failed to start %s: %v", binary, err)
	}

	exited := make(chan struct{})
	s := newStream(func() error {
		cancel()
		<-exited
		return nil
	})

	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			log.Debug().Str("device", o.Device).Msg(scanner.Text())
		}
	}()

	go func() {
		defer close(exited)
		readFrames(stdout, s.publish)
		if err := cmd.Wait(); err != nil && procCtx.Err() == nil {
			log.Warn().Err(err).Str("device", o.Device).Msg("ffmpeg exited")
		}
	}()

	waitCtx, waitCancel := context.WithTimeout(ctx, timeout)
	defer waitCancel()

	if err := s.waitFirst(waitCtx); err != nil {
		s.Close()
		return nil, errors.Wrapf(ErrDeviceAccess, "%s: no frame: %v", o.Device, err)
	}

	log.Info().Str("device", o.Device).Msg("Camera opened")
	return s, nil
}

// readFrames splits an MJPEG byte stream into frames until r ends
func readFrames(r io.Reader, emit func([]byte)) {
	buf := make([]byte, 64*1024)
	var pending []byte

	for {
		n, err := r.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			var frames [][]byte
			frames, pending = splitJPEG(pending)
			for _, frame := range frames {
				emit(frame)
			}
		}
		if err != nil {
			return
		}
	}
}

// splitJPEG extracts complete SOI..EOI frames from data and returns them with
// the unconsumed remainder. Bytes before the first SOI are discarded.
func splitJPEG(data []byte) ([][]byte, []byte) {
	var frames [][]byte

	for {
		start := bytes.Index(data, jpegStart)
		if start == -1 {
			// a trailing 0xFF may be the first half of the next SOI
			if n := len(data); n > 0 && data[n-1] == 0xFF {
				return frames, []byte{0xFF}
			}
			return frames, nil
		}
		end := bytes.Index(data[start+2:], jpegEnd)
		if end == -1 {
			rest := make([]byte, len(data)-start)
			copy(rest, data[start:])
			return frames, rest
		}

		end += start + 2 + 2
		frame := make([]byte, end-start)
		copy(frame, data[start:end])
		frames = append(frames, frame)
		data = data[end:]
	}
}
