package convert

import (
	"context"
	"fmt"
	"math"
	"os"
	"strings"

	"rsc.io/pdf"
)

// pageSource is the slice of a parsed PDF the text extractor needs.
type pageSource interface {
	NumPage() int
	PageText(i int) string
}

type pdfDocument struct {
	r *pdf.Reader
}

func (d pdfDocument) NumPage() int {
	return d.r.NumPage()
}

// PageText returns the page's text with word gaps and line breaks rebuilt
// from glyph positions. Pages are 1-based. A page with no content yields "".
func (d pdfDocument) PageText(i int) string {
	p := d.r.Page(i)
	if p.V.IsNull() {
		return ""
	}
	return layoutText(p.Content().Text)
}

// layoutText joins glyphs in content order. A baseline shift of more than
// half the font size starts a new line and a horizontal gap wider than a
// fifth of the font size becomes a space.
func layoutText(glyphs []pdf.Text) string {
	var b strings.Builder
	for i, t := range glyphs {
		if i > 0 {
			prev := glyphs[i-1]
			size := math.Max(math.Abs(prev.FontSize), math.Abs(t.FontSize))
			if size == 0 {
				size = 1
			}
			switch {
			case math.Abs(t.Y-prev.Y) > size/2:
				b.WriteByte('\n')
			case t.X-(prev.X+prev.W) > size/5, t.X < prev.X-size/2:
				b.WriteByte(' ')
			}
		}
		b.WriteString(t.S)
	}
	return b.String()
}

// TextExtractor writes the concatenated text of every page to a UTF-8 file.
type TextExtractor struct {
	open func(path string) (pageSource, func() error, error)
}

func NewTextExtractor() *TextExtractor {
	return &TextExtractor{open: openPDF}
}

func openPDF(path string) (pageSource, func() error, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, nil, err
	}
	r, err := pdf.NewReader(f, st.Size())
	if err != nil {
		_ = f.Close()
		return nil, nil, fmt.Errorf("parse pdf: %w", err)
	}
	return pdfDocument{r: r}, f.Close, nil
}

func (e *TextExtractor) Convert(ctx context.Context, inputPath, outputPath string) error {
	text, err := e.extract(ctx, inputPath)
	if err != nil {
		return err
	}
	if err := os.WriteFile(outputPath, []byte(text), 0o644); err != nil {
		_ = os.Remove(outputPath)
		return fmt.Errorf("write text: %w", err)
	}
	return nil
}

// extract recovers from the pdf package's panics on malformed input.
func (e *TextExtractor) extract(ctx context.Context, path string) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	doc, closeFn, err := e.open(path)
	if err != nil {
		return "", err
	}
	defer closeFn()

	var b strings.Builder
	for i := 1; i <= doc.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		b.WriteString(doc.PageText(i))
	}
	return b.String(), nil
}
