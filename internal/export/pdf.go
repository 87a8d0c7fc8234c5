// Package export renders the shared overlay into a PDF. The document is a
// render consumer, so it can be fed live from a hub or in one pass from a
// history replay.
package export

import (
	"io"
	"os"
	"sync"

	"github.com/jung-kurt/gofpdf"

	"github.com/Kim-hyun-hee/Remote-Sync-Lab/internal/board"
)

// A4 portrait in millimetres, square drawing area inset from the margins.
const (
	pageMargin = 10.0
	drawSide   = 190.0
	pxToMM     = 0.26
	minLineMM  = 0.2
)

type docStroke struct {
	style  board.Style
	points []board.Point
}

type docLabel struct {
	pos  board.Point
	text string
}

// Document accumulates overlay geometry and renders it on demand. PDF ink
// cannot be erased, so strokes are collected first and drawn only when the
// document is written; a ClearAll simply empties the collection. Safe for
// concurrent use.
type Document struct {
	// Title is printed above the drawing when set.
	Title string

	mu      sync.Mutex
	strokes map[board.StrokeKey]*docStroke
	order   []board.StrokeKey
	labels  []docLabel
}

// NewDocument returns an empty document.
func NewDocument() *Document {
	return &Document{strokes: make(map[board.StrokeKey]*docStroke)}
}

func (d *Document) BeginStroke(key board.StrokeKey, style board.Style) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if s := d.strokes[key]; s != nil {
		s.style = style
		return
	}
	d.strokes[key] = &docStroke{style: style}
	d.order = append(d.order, key)
}

func (d *Document) AddPoints(key board.StrokeKey, points []board.Point) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if s := d.strokes[key]; s != nil {
		s.points = append(s.points, points...)
	}
}

func (d *Document) EndStroke(board.StrokeKey) {}

func (d *Document) AddLabel(_ board.LabelKey, pos board.Point, text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.labels = append(d.labels, docLabel{pos: pos, text: text})
}

func (d *Document) ClearAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.strokes = make(map[board.StrokeKey]*docStroke)
	d.order = nil
	d.labels = nil
}

func (d *Document) BeginBulk() {}
func (d *Document) EndBulk()   {}

// Counts reports how much geometry the document holds.
func (d *Document) Counts() (strokes, labels int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.order), len(d.labels)
}

// Write renders the collected overlay as a single-page PDF.
func (d *Document) Write(w io.Writer) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.AddPage()

	y0 := pageMargin
	if d.Title != "" {
		pdf.SetFont("Helvetica", "B", 12)
		pdf.SetTextColor(40, 40, 40)
		pdf.Text(pageMargin, pageMargin, d.Title)
		y0 += 8
	}

	for _, key := range d.order {
		s := d.strokes[key]
		if len(s.points) < 2 {
			continue
		}
		pdf.SetDrawColor(int(s.style.Color.R), int(s.style.Color.G), int(s.style.Color.B))
		width := float64(s.style.Width) * pxToMM
		if width < minLineMM {
			width = minLineMM
		}
		pdf.SetLineWidth(width)
		for i := 1; i < len(s.points); i++ {
			pdf.Line(
				mapX(s.points[i-1].X), mapY(s.points[i-1].Y, y0),
				mapX(s.points[i].X), mapY(s.points[i].Y, y0),
			)
		}
	}

	pdf.SetFont("Helvetica", "", 10)
	pdf.SetTextColor(20, 20, 20)
	for _, l := range d.labels {
		pdf.Text(mapX(l.pos.X), mapY(l.pos.Y, y0), l.text)
	}

	return pdf.Output(w)
}

// Save writes the PDF to a file.
func (d *Document) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	err = d.Write(f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}

func mapX(x float32) float64 {
	return pageMargin + float64(x)*drawSide
}

func mapY(y float32, y0 float64) float64 {
	return y0 + float64(y)*drawSide
}
