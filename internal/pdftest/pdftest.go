// Package pdftest builds small, well-formed PDF documents for tests.
package pdftest

import (
	"bytes"
	"fmt"
	"image"
	"strings"

	"github.com/disintegration/imaging"
)

// Letter page size in points.
const (
	LetterWidth  = 612
	LetterHeight = 792
)

// Page describes one page: its media box and lines of Helvetica text drawn
// top-down from the upper-left margin.
type Page struct {
	Width  float64
	Height float64
	Lines  []string
	// Box draws one stroked rectangle below the text when true.
	Box bool
	// Image, when set, is embedded as a JPEG XObject covering the page.
	Image image.Image
}

// Letter returns a letter-sized page carrying lines.
func Letter(lines ...string) Page {
	return Page{Width: LetterWidth, Height: LetterHeight, Lines: lines, Box: true}
}

// Scan returns a letter-sized page holding only img, like a scanned sheet.
func Scan(img image.Image) Page {
	return Page{Width: LetterWidth, Height: LetterHeight, Image: img}
}

// Document renders pages into a complete PDF with a valid xref table.
func Document(pages ...Page) []byte {
	if len(pages) == 0 {
		pages = []Page{Letter()}
	}

	var bodies []string
	bodies = append(bodies, "<< /Type /Catalog /Pages 2 0 R >>")

	kids := make([]string, len(pages))
	for i := range pages {
		kids[i] = fmt.Sprintf("%d 0 R", 4+2*i)
	}
	bodies = append(bodies, fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(pages)))
	bodies = append(bodies, "<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>")

	var images []string
	for i, p := range pages {
		content := contentStream(p)
		xobjects := ""
		if p.Image != nil {
			xobjects = fmt.Sprintf(" /XObject << /Im1 %d 0 R >>", 4+2*len(pages)+len(images))
			images = append(images, imageXObject(p.Image))
		}
		bodies = append(bodies,
			fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 %g %g] /Resources << /Font << /F1 3 0 R >>%s >> /Contents %d 0 R >>",
				p.Width, p.Height, xobjects, 5+2*i),
			fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content),
		)
	}
	bodies = append(bodies, images...)

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n")
	offsets := make([]int, len(bodies))
	for i, body := range bodies {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, body)
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(bodies)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(bodies)+1, xref)
	return buf.Bytes()
}

func imageXObject(img image.Image) string {
	var jpeg bytes.Buffer
	if err := imaging.Encode(&jpeg, img, imaging.JPEG, imaging.JPEGQuality(95)); err != nil {
		panic(fmt.Sprintf("pdftest: encode image: %v", err))
	}
	b := img.Bounds()
	return fmt.Sprintf("<< /Type /XObject /Subtype /Image /Width %d /Height %d /ColorSpace /DeviceRGB /BitsPerComponent 8 /Filter /DCTDecode /Length %d >>\nstream\n%s\nendstream",
		b.Dx(), b.Dy(), jpeg.Len(), jpeg.Bytes())
}

func contentStream(p Page) string {
	var sb strings.Builder
	if p.Image != nil {
		fmt.Fprintf(&sb, "q %g 0 0 %g 0 0 cm /Im1 Do Q\n", p.Width, p.Height)
	}
	y := p.Height - 72
	for _, line := range p.Lines {
		fmt.Fprintf(&sb, "BT /F1 12 Tf 72 %g Td (%s) Tj ET\n", y, escape(line))
		y -= 18
	}
	if p.Box {
		fmt.Fprintf(&sb, "1 w 72 %g %g 120 re S\n", y-140, p.Width-144)
	}
	return strings.TrimSuffix(sb.String(), "\n")
}

func escape(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `(`, `\(`, `)`, `\)`)
	return r.Replace(s)
}
