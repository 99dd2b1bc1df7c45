package facecheck

import (
	"bytes"
	"fmt"
	"os"

	"github.com/disintegration/imaging"
	pigo "github.com/esimov/pigo/core"
	"go.uber.org/zap"
)

// Detector reports whether a face-like region is present in an image. The
// signal is a plain boolean, not a confidence score, so downstream scoring
// stays deterministic.
type Detector interface {
	FacePresent(img []byte) bool
}

// Config holds detection tunables. These affect sensitivity, not semantics.
type Config struct {
	CascadePath string
	MinSize     int
	Quality     float32
}

// PigoDetector runs a pixel-intensity cascade classifier over the decoded
// image. Anything that fails to decode, or yields no detection above the
// quality threshold, counts as "no face".
type PigoDetector struct {
	classifier *pigo.Pigo
	minSize    int
	quality    float32
	logger     *zap.Logger
}

// NewPigoDetector loads the cascade file and prepares a classifier.
func NewPigoDetector(cfg Config, logger *zap.Logger) (*PigoDetector, error) {
	data, err := os.ReadFile(cfg.CascadePath)
	if err != nil {
		return nil, fmt.Errorf("read cascade %s: %w", cfg.CascadePath, err)
	}
	classifier, err := pigo.NewPigo().Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("unpack cascade: %w", err)
	}

	minSize := cfg.MinSize
	if minSize <= 0 {
		minSize = 80
	}
	quality := cfg.Quality
	if quality <= 0 {
		quality = 5.0
	}

	return &PigoDetector{
		classifier: classifier,
		minSize:    minSize,
		quality:    quality,
		logger:     logger.Named("facecheck"),
	}, nil
}

// FacePresent decodes the image and runs the cascade over it.
func (d *PigoDetector) FacePresent(img []byte) bool {
	src, err := imaging.Decode(bytes.NewReader(img))
	if err != nil {
		d.logger.Warn("image decode failed, treating as no face", zap.Error(err))
		return false
	}

	nrgba := pigo.ImgToNRGBA(src)
	pixels := pigo.RgbToGrayscale(nrgba)
	cols := nrgba.Bounds().Max.X
	rows := nrgba.Bounds().Max.Y

	params := pigo.CascadeParams{
		MinSize:     d.minSize,
		MaxSize:     max(cols, rows),
		ShiftFactor: 0.1,
		ScaleFactor: 1.1,
		ImageParams: pigo.ImageParams{
			Pixels: pixels,
			Rows:   rows,
			Cols:   cols,
			Dim:    cols,
		},
	}

	dets := d.classifier.RunCascade(params, 0.0)
	dets = d.classifier.ClusterDetections(dets, 0.2)

	for _, det := range dets {
		if det.Q >= d.quality {
			d.logger.Debug("face detected",
				zap.Int("scale", det.Scale), zap.Float32("quality", det.Q))
			return true
		}
	}
	return false
}
