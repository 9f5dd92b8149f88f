package imagerender

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"

	"github.com/gen2brain/go-fitz"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/rs/zerolog/log"
)

// ColorMode defines the color mode for rendering
type ColorMode string

const (
	ColorRGB  ColorMode = "rgb"
	ColorGray ColorMode = "gray"
)

// MIMEJPEG is the media type of every rendered page.
const MIMEJPEG = "image/jpeg"

// Options controls how pages are rasterized.
type Options struct {
	DPI     int
	Quality int
	Color   ColorMode
}

func (o Options) withDefaults() Options {
	if o.DPI <= 0 {
		o.DPI = 150
	}
	if o.Quality <= 0 || o.Quality > 100 {
		o.Quality = 85
	}
	if o.Color == "" {
		o.Color = ColorRGB
	}
	return o
}

// Document is an opened PDF whose pages are rendered lazily, in any order.
type Document interface {
	NumPages() int
	// RenderJPEG renders the zero-based page index as JPEG bytes.
	RenderJPEG(index int) ([]byte, error)
	Close() error
}

// FitzRasterizer renders PDF pages with MuPDF through go-fitz.
type FitzRasterizer struct {
	opts Options
}

// NewFitzRasterizer creates a rasterizer with the given options.
func NewFitzRasterizer(opts Options) *FitzRasterizer {
	return &FitzRasterizer{opts: opts.withDefaults()}
}

// Open opens pdfPath for rendering. The page count reported by MuPDF is cross
// checked with pdfcpu; a disagreement is logged and MuPDF's count wins since it
// is the library doing the rendering.
func (r *FitzRasterizer) Open(ctx context.Context, pdfPath string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	doc, err := fitz.New(pdfPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	n := doc.NumPage()
	if pc, err := api.PageCountFile(pdfPath); err != nil {
		log.Warn().Err(err).Str("pdf", pdfPath).Msg("pdfcpu page count failed; using MuPDF count")
	} else if pc != n {
		log.Warn().Int("pdfcpu_pages", pc).Int("mupdf_pages", n).Str("pdf", pdfPath).Msg("page count mismatch")
	}
	return &fitzDocument{doc: doc, pages: n, opts: r.opts}, nil
}

type fitzDocument struct {
	doc   *fitz.Document
	pages int
	opts  Options
}

func (d *fitzDocument) NumPages() int { return d.pages }

func (d *fitzDocument) Close() error { return d.doc.Close() }

func (d *fitzDocument) RenderJPEG(index int) ([]byte, error) {
	if index < 0 || index >= d.pages {
		return nil, fmt.Errorf("page %d out of range (document has %d pages)", index+1, d.pages)
	}
	img, err := d.doc.ImageDPI(index, float64(d.opts.DPI))
	if err != nil {
		return nil, fmt.Errorf("failed to render page %d: %w", index+1, err)
	}
	return EncodeJPEG(img, d.opts.Quality, d.opts.Color)
}

// EncodeJPEG converts img to the requested color mode and encodes it as JPEG.
func EncodeJPEG(img image.Image, quality int, mode ColorMode) ([]byte, error) {
	bounds := img.Bounds()
	final := img
	if mode == ColorGray {
		gray := image.NewGray(bounds)
		draw.Draw(gray, bounds, img, bounds.Min, draw.Src)
		final = gray
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, final, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("failed to encode JPEG: %w", err)
	}

	log.Debug().
		Int("width", bounds.Dx()).
		Int("height", bounds.Dy()).
		Str("color", string(mode)).
		Int("jpeg_size", buf.Len()).
		Msg("encoded page as JPEG")

	return buf.Bytes(), nil
}

// EncodeToBase64 converts binary data to base64 string
func EncodeToBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// probePDF is a one-page blank document used to verify the renderer works.
const probePDF = "%PDF-1.4\n" +
	"1 0 obj<</Type/Catalog/Pages 2 0 R>>endobj\n" +
	"2 0 obj<</Type/Pages/Kids[3 0 R]/Count 1>>endobj\n" +
	"3 0 obj<</Type/Page/Parent 2 0 R/MediaBox[0 0 72 72]>>endobj\n" +
	"trailer<</Root 1 0 R>>\n%%EOF\n"

// Check renders a tiny in-memory page to confirm MuPDF is usable.
func (r *FitzRasterizer) Check() error {
	doc, err := fitz.NewFromMemory([]byte(probePDF))
	if err != nil {
		return fmt.Errorf("mupdf unavailable: %w", err)
	}
	defer doc.Close()
	if _, err := doc.ImageDPI(0, 36); err != nil {
		return fmt.Errorf("mupdf render failed: %w", err)
	}
	return nil
}
