package render

import (
	"bytes"
	"fmt"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/zhouzirui/intake-bot/internal/model/form"
)

// Document is a rendered artifact ready for delivery. Ownership passes to the
// dispatcher once returned.
type Document struct {
	Filename string
	Data     []byte
}

// PDF renders an answer set into a single PDF document: a centered title
// block followed by one prompt/answer block per question, in catalog order.
// Long answers wrap and overflow onto additional pages.
type PDF struct {
	title string
	now   func() time.Time
}

// NewPDF creates a renderer with the given document title.
func NewPDF(title string) *PDF {
	return &PDF{title: title, now: time.Now}
}

// Render produces the PDF artifact for a completed answer set. Rendering is a
// pure function of the answer set apart from the embedded creation timestamp.
func (p *PDF) Render(set form.AnswerSet, filename string) (Document, error) {
	doc := fpdf.New("P", "mm", "A4", "")
	doc.SetCreationDate(p.now().UTC())
	doc.AddPage()

	doc.SetFont("Helvetica", "B", 14)
	doc.CellFormat(0, 10, p.title, "", 1, "C", false, 0, "")
	doc.Ln(4)

	for _, entry := range set {
		doc.SetFont("Helvetica", "B", 12)
		doc.MultiCell(0, 8, entry.Question.Prompt, "", "L", false)
		doc.SetFont("Helvetica", "", 12)
		doc.MultiCell(0, 8, entry.Answer, "", "L", false)
		doc.Ln(2)
	}

	var buf bytes.Buffer
	if err := doc.Output(&buf); err != nil {
		return Document{}, fmt.Errorf("render pdf: %w", err)
	}

	return Document{Filename: filename, Data: buf.Bytes()}, nil
}
