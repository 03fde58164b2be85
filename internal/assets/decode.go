// Package assets decodes and caches the images a timeline refers to.
package assets

import (
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/gen2brain/go-fitz"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// DefaultDPI is the resolution PDF backgrounds are rasterized at.
const DefaultDPI = 150

// ImageExtensions lists the raster formats Decode understands, besides PDF.
var ImageExtensions = []string{".png", ".jpg", ".jpeg", ".gif", ".bmp", ".webp"}

// IsImage reports whether path has an image or PDF extension.
func IsImage(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".pdf" {
		return true
	}
	for _, e := range ImageExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

// Decode reads one image. A PDF yields its first page rendered at dpi.
func Decode(path string, dpi int) (image.Image, error) {
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		return renderPDF(path, 0, dpi)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return img, nil
}

// DecodeConfig returns the pixel size of an image without decoding it. For
// PDFs the page bound is used.
func DecodeConfig(path string) (width, height int, err error) {
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		doc, err := fitz.New(path)
		if err != nil {
			return 0, 0, err
		}
		defer doc.Close()
		rect, err := doc.Bound(0)
		if err != nil {
			return 0, 0, err
		}
		return rect.Dx(), rect.Dy(), nil
	}

	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, fmt.Errorf("decode config %s: %w", path, err)
	}
	return cfg.Width, cfg.Height, nil
}

// renderPDF opens its own document: fitz documents are not safe to share
// between goroutines.
func renderPDF(path string, page, dpi int) (image.Image, error) {
	if dpi <= 0 {
		dpi = DefaultDPI
	}
	doc, err := fitz.New(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf %s: %w", path, err)
	}
	defer doc.Close()

	if page >= doc.NumPage() {
		return nil, fmt.Errorf("pdf %s has %d pages", path, doc.NumPage())
	}
	img, err := doc.ImageDPI(page, float64(dpi))
	if err != nil {
		return nil, fmt.Errorf("render pdf %s: %w", path, err)
	}
	return img, nil
}
