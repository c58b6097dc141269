package sandbox

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
)

// VisualSnapshot is a decoded screenshot with grayscale statistics.
type VisualSnapshot struct {
	PNG       []byte  `json:"-"`
	Width     int     `json:"width"`
	Height    int     `json:"height"`
	Histogram []int   `json:"-"` // 256 grayscale bins
	Mean      float64 `json:"mean"`
	Variance  float64 `json:"variance"`

	// NonBackgroundRatio is the share of pixels outside the dominant
	// histogram bin.
	NonBackgroundRatio float64 `json:"non_background_ratio"`

	gray *image.Gray
}

// NewSnapshot decodes PNG bytes and computes the statistics.
func NewSnapshot(data []byte) (*VisualSnapshot, error) {
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode screenshot: %w", err)
	}

	bounds := img.Bounds()
	gray := image.NewGray(bounds)
	hist := make([]int, 256)
	var sum float64

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			// ITU-R BT.601 luma, 16-bit channels scaled to 8-bit.
			lum := uint8((299*r + 587*g + 114*b) / 1000 >> 8)
			gray.SetGray(x, y, color.Gray{Y: lum})
			hist[lum]++
			sum += float64(lum)
		}
	}

	total := bounds.Dx() * bounds.Dy()
	if total == 0 {
		return nil, fmt.Errorf("empty screenshot")
	}
	mean := sum / float64(total)

	var variance float64
	dominant := 0
	for lum, count := range hist {
		d := float64(lum) - mean
		variance += d * d * float64(count)
		if count > hist[dominant] {
			dominant = lum
		}
	}
	variance /= float64(total)

	return &VisualSnapshot{
		PNG:                data,
		Width:              bounds.Dx(),
		Height:             bounds.Dy(),
		Histogram:          hist,
		Mean:               mean,
		Variance:           variance,
		NonBackgroundRatio: 1 - float64(hist[dominant])/float64(total),
		gray:               gray,
	}, nil
}

// IsBlank reports whether the page is visually empty: nearly all pixels in
// one bin and almost no tonal spread.
func (s *VisualSnapshot) IsBlank(threshold float64) bool {
	return s.NonBackgroundRatio < 1-threshold && s.Variance < 100
}

// VisualDelta measures the change between two snapshots.
type VisualDelta struct {
	PixelDiffRatio   float64 `json:"pixel_diff_ratio"`
	StructuralChange bool    `json:"structural_change"`
	RegionAnalyzed   bool    `json:"region_analyzed"`
	DiffCount        int     `json:"diff_count"`
	TotalPixels      int     `json:"total_pixels"`
	ElementPixels    int     `json:"element_pixels,omitempty"`
	ElementDiffRatio float64 `json:"element_diff_ratio,omitempty"`
}

// HasVisibleChange applies the adaptive thresholds: a viewport-scale change
// or a concentrated change within the element region.
func (d *VisualDelta) HasVisibleChange(viewportThreshold, elementThreshold float64) bool {
	if d.PixelDiffRatio > viewportThreshold {
		return true
	}
	return d.ElementPixels > 0 && d.ElementDiffRatio > elementThreshold
}

// Pixels differing by less than this grayscale distance count as unchanged;
// it absorbs anti-aliasing jitter.
const pixelNoiseFloor = 8

// Diff compares two snapshots over an optional region (nil means full
// frame). Mismatched dimensions count every pixel as changed.
func Diff(before, after *VisualSnapshot, region *Box) *VisualDelta {
	d := &VisualDelta{RegionAnalyzed: region != nil}
	if before == nil || after == nil {
		return d
	}
	if before.Width != after.Width || before.Height != after.Height {
		d.PixelDiffRatio = 1
		d.StructuralChange = true
		d.TotalPixels = before.Width * before.Height
		d.DiffCount = d.TotalPixels
		return d
	}

	x0, y0, x1, y1 := 0, 0, before.Width, before.Height
	if region != nil {
		x0, y0 = clamp(int(region.X), before.Width), clamp(int(region.Y), before.Height)
		x1 = clamp(int(region.X+region.W), before.Width)
		y1 = clamp(int(region.Y+region.H), before.Height)
	}

	total := (x1 - x0) * (y1 - y0)
	if total <= 0 {
		return d
	}

	diff := 0
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			a := before.gray.GrayAt(x, y).Y
			b := after.gray.GrayAt(x, y).Y
			delta := int(a) - int(b)
			if delta < 0 {
				delta = -delta
			}
			if delta > pixelNoiseFloor {
				diff++
			}
		}
	}

	d.DiffCount = diff
	d.TotalPixels = total
	d.PixelDiffRatio = float64(diff) / float64(total)
	d.StructuralChange = d.PixelDiffRatio > 0.05
	if region != nil {
		d.ElementPixels = total
		d.ElementDiffRatio = d.PixelDiffRatio
	}
	return d
}

func clamp(v, limit int) int {
	if v < 0 {
		return 0
	}
	if v > limit {
		return limit
	}
	return v
}
