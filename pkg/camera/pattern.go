package camera

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"time"

	"github.com/pkg/errors"
)

// PatternOpener produces synthetic JPEG frames; it stands in for a webcam on
// devices without one and in tests.
type PatternOpener struct {
	Width    int
	Height   int
	Interval time.Duration

	// Deny makes Open fail as if camera permission was refused
	Deny bool
}

// Open starts the generator. The first frame is available immediately.
func (o PatternOpener) Open(ctx context.Context) (Handle, error) {
	if o.Deny {
		return nil, errors.Wrap(ErrDeviceAccess, "permission denied")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	width, height := o.Width, o.Height
	if width <= 0 || height <= 0 {
		width, height = 320, 240
	}
	interval := o.Interval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}

	quit := make(chan struct{})
	exited := make(chan struct{})
	s := newStream(func() error {
		close(quit)
		<-exited
		return nil
	})

	frame, err := renderPattern(width, height, 0)
	if err != nil {
		return nil, err
	}
	s.publish(frame)

	go func() {
		defer close(exited)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for n := 1; ; n++ {
			select {
			case <-quit:
				return
			case <-ticker.C:
			}
			frame, err := renderPattern(width, height, n)
			if err != nil {
				continue
			}
			s.publish(frame)
		}
	}()

	return s, nil
}

// renderPattern draws vertical color bars shifted by n columns
func renderPattern(width, height, n int) ([]byte, error) {
	bars := []color.RGBA{
		{255, 255, 255, 255},
		{255, 255, 0, 255},
		{0, 255, 255, 255},
		{0, 255, 0, 255},
		{255, 0, 255, 255},
		{255, 0, 0, 255},
		{0, 0, 255, 255},
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	barWidth := width / len(bars)
	if barWidth == 0 {
		barWidth = 1
	}
	for x := 0; x < width; x++ {
		c := bars[((x+n*4)/barWidth)%len(bars)]
		for y := 0; y < height; y++ {
			img.SetRGBA(x, y, c)
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		return nil, errors.Wrap(err, "failed to encode pattern frame")
	}
	return buf.Bytes(), nil
}
