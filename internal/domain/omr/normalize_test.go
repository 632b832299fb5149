package omr_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"testing"

	"github.com/okian/etude/internal/domain/omr"
	"github.com/okian/etude/internal/synth"
	. "github.com/smartystreets/goconvey/convey"
)

type stubRasterizer struct {
	img image.Image
	err error
	dpi int
}

func (s *stubRasterizer) FirstPage(_ context.Context, _ []byte, dpi int) (image.Image, error) {
	s.dpi = dpi
	return s.img, s.err
}

func jpegPDF(img image.Image) []byte {
	var jpg bytes.Buffer
	_ = jpeg.Encode(&jpg, img, &jpeg.Options{Quality: 95})
	var pdf bytes.Buffer
	b := img.Bounds()
	fmt.Fprintf(&pdf, "%%PDF-1.4\n1 0 obj\n<< /Type /XObject /Subtype /Image /Width %d /Height %d /Filter /DCTDecode /Length %d >>\nstream\n",
		b.Dx(), b.Dy(), jpg.Len())
	pdf.Write(jpg.Bytes())
	pdf.WriteString("\nendstream\nendobj\n%%EOF\n")
	return pdf.Bytes()
}

func TestNormalizer(t *testing.T) {
	ctx := context.Background()
	page := synth.DrawSheet([][]synth.Mark{{synth.Note(synth.Quarter, "G4")}})
	w, h := page.Rect.Dx(), page.Rect.Dy()

	Convey("Raster images are upscaled by the render scale", t, func() {
		n := omr.NewNormalizer()
		g, err := n.Page(ctx, omr.Source{Kind: omr.KindImage, Data: synth.PNG(page)})
		So(err, ShouldBeNil)
		So(g.Rect.Dx(), ShouldEqual, 3*w)
		So(g.Rect.Dy(), ShouldEqual, 3*h)
	})

	Convey("The pixel cap lowers the scale but never below one", t, func() {
		n := omr.NewNormalizer(omr.WithMaxPixels(4 * w * h))
		g, err := n.Page(ctx, omr.Source{Kind: omr.KindImage, Data: synth.PNG(page)})
		So(err, ShouldBeNil)
		So(g.Rect.Dx(), ShouldEqual, 2*w)

		n = omr.NewNormalizer(omr.WithMaxPixels(10))
		g, err = n.Page(ctx, omr.Source{Kind: omr.KindImage, Data: synth.PNG(page)})
		So(err, ShouldBeNil)
		So(g.Rect.Dx(), ShouldEqual, w)
	})

	Convey("PDFs are rendered at 72 dpi times the scale", t, func() {
		r := &stubRasterizer{img: page}
		n := omr.NewNormalizer(omr.WithRasterizer(r))
		g, err := n.Page(ctx, omr.Source{Kind: omr.KindPDF, Data: []byte("%PDF-1.7\n")})
		So(err, ShouldBeNil)
		So(r.dpi, ShouldEqual, 216)
		So(g.Rect.Dx(), ShouldEqual, w)
	})

	Convey("A scanned PDF falls back to its embedded page image", t, func() {
		r := &stubRasterizer{err: omr.ErrToolNotFound}
		n := omr.NewNormalizer(omr.WithRasterizer(r))
		g, err := n.Page(ctx, omr.Source{Kind: omr.KindPDF, Data: jpegPDF(page)})
		So(err, ShouldBeNil)
		So(g.Rect.Dx(), ShouldEqual, 3*w)
	})

	Convey("Without a renderer the first embedded image in file order is used", t, func() {
		first := synth.DrawSheet([][]synth.Mark{{
			synth.Note(synth.Quarter, "E4"), synth.Rest(synth.Quarter), synth.Note(synth.Quarter, "B4"),
		}})
		So(first.Rect.Dx(), ShouldNotEqual, w)
		doc := append(jpegPDF(first), jpegPDF(page)...)
		r := &stubRasterizer{err: omr.ErrToolNotFound}
		g, err := omr.NewNormalizer(omr.WithRasterizer(r)).Page(ctx, omr.Source{Kind: omr.KindPDF, Data: doc})
		So(err, ShouldBeNil)
		So(g.Rect.Dx(), ShouldEqual, 3*first.Rect.Dx())

		_, err = omr.NewNormalizer(omr.WithRasterizer(r)).Page(ctx, omr.Source{Kind: omr.KindPDF, Data: []byte("%PDF-1.7\n1 0 obj\n<< /Type /Page >>\n")})
		So(errors.Is(err, omr.ErrUnreadableInput), ShouldBeTrue)
	})

	Convey("A renderer failure without a page image is unreadable", t, func() {
		r := &stubRasterizer{err: omr.ErrToolNotFound}
		n := omr.NewNormalizer(omr.WithRasterizer(r))
		_, err := n.Page(ctx, omr.Source{Kind: omr.KindPDF, Data: []byte("%PDF-1.7\n")})
		So(errors.Is(err, omr.ErrUnreadableInput), ShouldBeTrue)
		So(errors.Is(err, omr.ErrToolNotFound), ShouldBeTrue)
	})

	Convey("Input without the PDF header is unreadable", t, func() {
		_, err := omr.NewNormalizer().Page(ctx, omr.Source{Kind: omr.KindPDF, Data: []byte("hello")})
		So(errors.Is(err, omr.ErrUnreadableInput), ShouldBeTrue)
	})

	Convey("LooksLikePDF tolerates leading whitespace", t, func() {
		So(omr.LooksLikePDF([]byte("\n %PDF-1.5")), ShouldBeTrue)
		So(omr.LooksLikePDF([]byte("GIF89a")), ShouldBeFalse)
		So(omr.LooksLikePDF(nil), ShouldBeFalse)
	})
}
