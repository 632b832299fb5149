package omr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif" // register decoders for sheet uploads
	"image/jpeg"
	_ "image/png"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Normalization defaults.
const (
	DefaultRenderScale = 3.0
	// DefaultMaxPixels caps the normalized page so very large scans do not
	// exhaust memory; the scale factor is reduced to fit.
	DefaultMaxPixels = 40_000_000

	pdfBaseDPI = 72
)

// Rasterizer renders the first page of a PDF.
type Rasterizer interface {
	FirstPage(ctx context.Context, pdf []byte, dpi int) (image.Image, error)
}

// Normalizer converts a Source into the grayscale page every engine consumes:
// page one of a PDF rendered at scale*72 dpi, or a raster image upscaled by scale.
type Normalizer struct {
	scale      float64
	maxPixels  int
	rasterizer Rasterizer
}

// NormalizerOption configures a Normalizer.
type NormalizerOption func(*Normalizer)

// WithRenderScale sets the upscale factor.
func WithRenderScale(scale float64) NormalizerOption {
	return func(n *Normalizer) {
		if scale >= 1 {
			n.scale = scale
		}
	}
}

// WithMaxPixels caps the normalized page area.
func WithMaxPixels(px int) NormalizerOption {
	return func(n *Normalizer) {
		if px > 0 {
			n.maxPixels = px
		}
	}
}

// WithRasterizer sets the PDF renderer.
func WithRasterizer(r Rasterizer) NormalizerOption {
	return func(n *Normalizer) {
		n.rasterizer = r
	}
}

// NewNormalizer returns a Normalizer with a 3x scale and no PDF renderer.
func NewNormalizer(opts ...NormalizerOption) *Normalizer {
	n := &Normalizer{scale: DefaultRenderScale, maxPixels: DefaultMaxPixels}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Scale returns the configured upscale factor.
func (n *Normalizer) Scale() float64 { return n.scale }

// Page returns the normalized first page. Unreadable input is reported with
// ErrUnreadableInput so callers can wrap it into a Failure.
func (n *Normalizer) Page(ctx context.Context, src Source) (*image.Gray, error) {
	if len(src.Data) == 0 {
		return nil, fmt.Errorf("%w: empty upload", ErrUnreadableInput)
	}
	switch src.Kind {
	case KindPDF:
		return n.pdfPage(ctx, src.Data)
	case KindImage:
		img, _, err := image.Decode(bytes.NewReader(src.Data))
		if err != nil {
			return nil, fmt.Errorf("%w: decode image: %w", ErrUnreadableInput, err)
		}
		return n.upscale(img, n.scale), nil
	default:
		return nil, fmt.Errorf("%w: unsupported source kind %q", ErrUnreadableInput, src.Kind)
	}
}

func (n *Normalizer) pdfPage(ctx context.Context, data []byte) (*image.Gray, error) {
	if !LooksLikePDF(data) {
		return nil, fmt.Errorf("%w: missing PDF header", ErrUnreadableInput)
	}

	var renderErr error
	if n.rasterizer != nil {
		dpi := int(math.Round(pdfBaseDPI * n.scale))
		img, err := n.rasterizer.FirstPage(ctx, data, dpi)
		if err == nil {
			return toGray(img), nil
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		renderErr = err
	}

	// Scanned PDFs usually wrap one JPEG per page.
	if jpg := firstEmbeddedJPEG(data); jpg != nil {
		img, err := jpeg.Decode(bytes.NewReader(jpg))
		if err == nil {
			return n.upscale(img, n.scale), nil
		}
	}
	if renderErr != nil {
		return nil, fmt.Errorf("%w: render pdf: %w", ErrUnreadableInput, renderErr)
	}
	return nil, fmt.Errorf("%w: no pdf renderer and no embedded page image", ErrUnreadableInput)
}

func (n *Normalizer) upscale(img image.Image, scale float64) *image.Gray {
	b := img.Bounds()
	area := float64(b.Dx()) * float64(b.Dy())
	if area*scale*scale > float64(n.maxPixels) {
		scale = math.Max(1, math.Sqrt(float64(n.maxPixels)/area))
	}
	w := int(math.Round(float64(b.Dx()) * scale))
	h := int(math.Round(float64(b.Dy()) * scale))
	if w == b.Dx() && h == b.Dy() {
		return toGray(img)
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return toGray(dst)
}

func toGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok && g.Rect.Min == (image.Point{}) {
		return g
	}
	b := img.Bounds()
	g := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			g.SetGray(x, y, color.GrayModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray))
		}
	}
	return g
}

// firstEmbeddedJPEG returns the first DCTDecode stream of a PDF in file
// order, if any. The page tree is not walked.
func firstEmbeddedJPEG(data []byte) []byte {
	idx := bytes.Index(data, []byte("/DCTDecode"))
	if idx < 0 {
		return nil
	}
	rest := data[idx:]
	s := bytes.Index(rest, []byte("stream"))
	if s < 0 {
		return nil
	}
	body := rest[s+len("stream"):]
	body = bytes.TrimLeft(body, "\r\n")
	e := bytes.Index(body, []byte("endstream"))
	if e < 0 {
		return nil
	}
	body = bytes.TrimRight(body[:e], "\r\n")
	if !bytes.HasPrefix(body, []byte{0xFF, 0xD8}) {
		return nil
	}
	return body
}

// PdftoppmRasterizer renders PDF pages with poppler's pdftoppm.
type PdftoppmRasterizer struct {
	bin     string
	timeout time.Duration
}

// NewPdftoppmRasterizer returns a rasterizer running bin (default "pdftoppm").
func NewPdftoppmRasterizer(bin string, timeout time.Duration) *PdftoppmRasterizer {
	if bin == "" {
		bin = "pdftoppm"
	}
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &PdftoppmRasterizer{bin: bin, timeout: timeout}
}

// FirstPage implements Rasterizer.
func (r *PdftoppmRasterizer) FirstPage(ctx context.Context, pdf []byte, dpi int) (image.Image, error) {
	if _, err := lookPath(r.bin); err != nil {
		return nil, err
	}
	dir, err := os.MkdirTemp("", "etude-pdf-*")
	if err != nil {
		return nil, fmt.Errorf("temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	in := filepath.Join(dir, "in.pdf")
	if err := os.WriteFile(in, pdf, 0o600); err != nil {
		return nil, fmt.Errorf("write pdf: %w", err)
	}
	root := filepath.Join(dir, "page")
	if _, err := runTool(ctx, r.timeout, r.bin,
		"-f", "1", "-l", "1", "-singlefile", "-r", strconv.Itoa(dpi), "-gray", "-png", in, root); err != nil {
		return nil, err
	}
	f, err := os.Open(root + ".png")
	if err != nil {
		return nil, fmt.Errorf("open rendered page: %w", err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode rendered page: %w", err)
	}
	return img, nil
}
