package tilestore

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"sync"

	"github.com/glyphmap/tilesync/internal/errors"
	"github.com/glyphmap/tilesync/internal/securefs"
	"github.com/glyphmap/tilesync/internal/tile"
)

// MaskAction reports what SaveLabelMask did with the posted mask.
type MaskAction string

const (
	MaskSaved   MaskAction = "saved"
	MaskDeleted MaskAction = "deleted"
)

var (
	blackMaskOnce sync.Once
	blackMask     []byte

	placeholderOnce sync.Once
	placeholder     []byte
)

// BlackMask returns the solid-black label mask PNG written for good negatives.
func BlackMask() []byte {
	blackMaskOnce.Do(func() {
		img := image.NewGray(image.Rect(0, 0, tile.PixelSize, tile.PixelSize))
		blackMask = mustEncodePNG(img)
	})
	return blackMask
}

// Placeholder returns a fully transparent tile served in place of missing
// imagery.
func Placeholder() []byte {
	placeholderOnce.Do(func() {
		img := image.NewNRGBA(image.Rect(0, 0, tile.PixelSize, tile.PixelSize))
		placeholder = mustEncodePNG(img)
	})
	return placeholder
}

func mustEncodePNG(img image.Image) []byte {
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestCompression}
	if err := enc.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// MaskMax decodes a PNG mask and returns the largest value of its label
// channel. Grayscale masks use the gray level; colour masks use red.
// 16-bit samples are scaled to 8 bits, with any nonzero sample reported as
// at least 1 so a faint mask is never mistaken for a black one.
func MaskMax(data []byte) (uint8, error) {
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return 0, errors.Newf("label mask is not a valid PNG: %v", err).
			Category(errors.CategoryValidation).
			Component("tilestore").
			Build()
	}

	if g, ok := img.(*image.Gray); ok {
		var m uint8
		b := g.Bounds()
		for y := b.Min.Y; y < b.Max.Y; y++ {
			row := g.Pix[g.PixOffset(b.Min.X, y):g.PixOffset(b.Max.X, y)]
			for _, v := range row {
				if v > m {
					m = v
				}
			}
			if m == 0xff {
				return m, nil
			}
		}
		return m, nil
	}

	var m uint32
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, _, _, _ := img.At(x, y).RGBA()
			if r > m {
				m = r
			}
		}
	}
	if m > 0 && m < 0x100 {
		return 1, nil
	}
	return uint8(m >> 8), nil
}

// SaveLabelMask stores a hand-drawn mask. An all-black mask means "no
// label": any existing file is deleted and the action is MaskDeleted.
// Otherwise the bytes are written verbatim and the action is MaskSaved.
func (s *Store) SaveLabelMask(ctx context.Context, z int, k tile.Key, data []byte) (MaskAction, error) {
	if z != s.cfg.Zoom {
		return "", errors.Newf("zoom %d does not match collection zoom %d", z, s.cfg.Zoom).
			Category(errors.CategoryValidation).
			Component("tilestore").
			Build()
	}
	if !k.Valid(z) {
		return "", errors.Newf("tile %s outside zoom %d grid", k, z).
			Category(errors.CategoryValidation).
			Component("tilestore").
			Build()
	}
	peak, err := MaskMax(data)
	if err != nil {
		return "", err
	}
	if err := s.labels.Ensure(ctx); err != nil {
		return "", err
	}

	path := s.labels.Path(k)
	s.Invalidate(path)
	if peak == 0 {
		if _, err := securefs.RemoveIfExists(path); err != nil {
			return "", err
		}
		s.labels.Remove(k)
		s.log.Debug("label mask cleared", loggerTile(k))
		return MaskDeleted, nil
	}

	if err := securefs.WriteFileAtomic(path, data); err != nil {
		return "", err
	}
	s.labels.Add(k, Presence{})
	s.log.Debug("label mask saved", loggerTile(k))
	return MaskSaved, nil
}

// WriteBlackMask commits the zero-content mask that backs a good negative.
func (s *Store) WriteBlackMask(k tile.Key) error {
	path := s.labels.Path(k)
	if err := securefs.WriteFileAtomic(path, BlackMask()); err != nil {
		return err
	}
	s.Invalidate(path)
	s.labels.Add(k, Presence{})
	return nil
}

func (s *Store) deleteMask(k tile.Key) error {
	path := s.labels.Path(k)
	if _, err := securefs.RemoveIfExists(path); err != nil {
		return err
	}
	s.Invalidate(path)
	s.labels.Remove(k)
	return nil
}
