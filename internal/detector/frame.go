package detector

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
)

// prepareFrame downscales frames whose longer side exceeds maxSide and
// returns the factor that maps coordinates in the result back to the input.
func prepareFrame(data []byte, maxSide int) ([]byte, float64, error) {
	if maxSide <= 0 {
		return data, 1, nil
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to decode frame header: %w", err)
	}
	if cfg.Width <= maxSide && cfg.Height <= maxSide {
		return data, 1, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to decode frame: %w", err)
	}
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	var newWidth, newHeight int
	if width > height {
		newWidth = maxSide
		newHeight = max(1, int(float64(height)*float64(maxSide)/float64(width)))
	} else {
		newHeight = maxSide
		newWidth = max(1, int(float64(width)*float64(maxSide)/float64(height)))
	}

	resized := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
	draw.CatmullRom.Scale(resized, resized.Bounds(), img, bounds, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: 85}); err != nil {
		return nil, 0, fmt.Errorf("failed to encode resized frame: %w", err)
	}

	return buf.Bytes(), float64(width) / float64(newWidth), nil
}

func scaleDetection(d Detection, factor float64) Detection {
	if factor == 1 {
		return d
	}
	d.Box = Box{X1: d.Box.X1 * factor, Y1: d.Box.Y1 * factor, X2: d.Box.X2 * factor, Y2: d.Box.Y2 * factor}
	for i := range d.Landmarks {
		d.Landmarks[i].X *= factor
		d.Landmarks[i].Y *= factor
	}
	return d
}
