// Package imageproc applies the listing photo corrections: orientation,
// rotation, padding to a fixed box, tone adjustment and a text watermark.
package imageproc

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"math"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"github.com/rs/zerolog/log"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
)

// Tone adjustments applied to every photo, in percent.
const (
	brightness = 4
	contrast   = 8
	saturation = 12
)

// Options controls the corrections. Zero values disable a step.
type Options struct {
	// Rotation is counter-clockwise, in degrees.
	Rotation float64 `json:"rotation,omitempty"`
	// Background is a hex color ("#fff", "#ffffff") used for padding and
	// rotation corners. Defaults to white.
	Background string `json:"background,omitempty"`
	// Width and Height of the output box; both must be positive to resize.
	Width         int    `json:"width,omitempty"`
	Height        int    `json:"height,omitempty"`
	WatermarkText string `json:"watermarkText,omitempty"`
	// WatermarkFont is a path to a TrueType font. Go Regular is used when it
	// is empty or cannot be loaded.
	WatermarkFont string `json:"watermarkFont,omitempty"`
}

// Processor applies Options to encoded images. Loaded fonts are kept for
// reuse; it is safe for concurrent use.
type Processor struct {
	mu    sync.Mutex
	fonts map[string]*truetype.Font
}

func NewProcessor() *Processor {
	return &Processor{fonts: make(map[string]*truetype.Font)}
}

// Process decodes data, applies opts and returns a PNG.
func (p *Processor) Process(data []byte, opts Options) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	bg, err := ParseHexColor(opts.Background)
	if err != nil {
		log.Warn().Err(err).Str("background", opts.Background).Msg("invalid background color, using white")
		bg = color.White
	}

	var out image.Image = img
	if opts.Rotation != 0 {
		out = imaging.Rotate(out, opts.Rotation, bg)
	}
	if opts.Width > 0 && opts.Height > 0 {
		fitted := imaging.Fit(out, opts.Width, opts.Height, imaging.Lanczos)
		out = imaging.PasteCenter(imaging.New(opts.Width, opts.Height, bg), fitted)
	}

	out = imaging.AdjustBrightness(out, brightness)
	out = imaging.AdjustContrast(out, contrast)
	out = imaging.AdjustSaturation(out, saturation)

	if text := strings.TrimSpace(opts.WatermarkText); text != "" {
		out = p.watermark(out, text, opts.WatermarkFont)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, out, imaging.PNG); err != nil {
		return nil, fmt.Errorf("failed to encode PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// watermark draws text in the bottom-left corner with a font size relative
// to the image width.
func (p *Processor) watermark(img image.Image, text, fontPath string) image.Image {
	w := img.Bounds().Dx()
	h := img.Bounds().Dy()
	size := math.Max(12, float64(w)*0.04)
	margin := size * 0.8

	dc := gg.NewContextForImage(img)
	dc.SetFontFace(truetype.NewFace(p.font(fontPath), &truetype.Options{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingNone,
	}))

	// shadow, then text
	dc.SetColor(color.NRGBA{0, 0, 0, 110})
	dc.DrawStringAnchored(text, margin+1, float64(h)-margin+1, 0, 0)
	dc.SetColor(color.NRGBA{255, 255, 255, 190})
	dc.DrawStringAnchored(text, margin, float64(h)-margin, 0, 0)
	return dc.Image()
}

func (p *Processor) font(path string) *truetype.Font {
	p.mu.Lock()
	defer p.mu.Unlock()

	if f, ok := p.fonts[path]; ok {
		return f
	}
	f, err := loadFont(path)
	if err != nil {
		if path != "" {
			log.Warn().Err(err).Str("font", path).Msg("failed to load watermark font, using Go Regular")
		}
		f = p.fallbackFont()
	}
	p.fonts[path] = f
	return f
}

func (p *Processor) fallbackFont() *truetype.Font {
	if f, ok := p.fonts[""]; ok {
		return f
	}
	// goregular.TTF is embedded and always parses
	f, _ := truetype.Parse(goregular.TTF)
	p.fonts[""] = f
	return f
}

func loadFont(path string) (*truetype.Font, error) {
	if path == "" {
		return nil, fmt.Errorf("no font path")
	}
	fontBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read font file: %w", err)
	}
	f, err := truetype.Parse(fontBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse TTF: %w", err)
	}
	return f, nil
}

// ParseHexColor parses "#rgb" or "#rrggbb" (the "#" is optional). An empty
// string is white.
func ParseHexColor(s string) (color.Color, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if s == "" {
		return color.White, nil
	}
	if len(s) == 3 {
		s = string([]byte{s[0], s[0], s[1], s[1], s[2], s[2]})
	}
	if len(s) != 6 {
		return nil, fmt.Errorf("invalid hex color %q", s)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid hex color %q: %w", s, err)
	}
	return color.NRGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 255}, nil
}
