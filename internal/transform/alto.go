// Package transform turns repaired pdf2xml and pdftotext output into the
// artifacts stored next to a pdf: ALTO xml, plain text and the word index.
package transform

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"html"
	"io"
	"math"
	"strings"
	"unicode/utf8"
)

const (
	altoNamespace      = "http://www.loc.gov/standards/alto/ns-v4#"
	altoSchemaLocation = altoNamespace + " http://www.loc.gov/standards/alto/v4/alto-4-2.xsd"
)

// AltoParams describes the source of an ALTO document.
type AltoParams struct {
	SourceURL          string
	SourceName         string
	SourceIdentifier   string
	DocumentURL        string
	DocumentIdentifier string
	// Timestamp is an ISO-8601 date time.
	Timestamp string
}

type pdf2xmlDoc struct {
	XMLName xml.Name  `xml:"pdf2xml"`
	Pages   []pdfPage `xml:"page"`
}

type pdfPage struct {
	Number    int           `xml:"number,attr"`
	Width     float64       `xml:"width,attr"`
	Height    float64       `xml:"height,attr"`
	Fontspecs []pdfFontspec `xml:"fontspec"`
	Texts     []pdfText     `xml:"text"`
}

type pdfFontspec struct {
	ID     string  `xml:"id,attr"`
	Size   float64 `xml:"size,attr"`
	Family string  `xml:"family,attr"`
	Color  string  `xml:"color,attr"`
}

type pdfText struct {
	Top    float64 `xml:"top,attr"`
	Left   float64 `xml:"left,attr"`
	Width  float64 `xml:"width,attr"`
	Height float64 `xml:"height,attr"`
	Font   string  `xml:"font,attr"`
	Inner  string  `xml:",innerxml"`
}

type altoDoc struct {
	XMLName        xml.Name        `xml:"alto"`
	Xmlns          string          `xml:"xmlns,attr"`
	XmlnsXsi       string          `xml:"xmlns:xsi,attr"`
	SchemaLocation string          `xml:"xsi:schemaLocation,attr"`
	Description    altoDescription `xml:"Description"`
	Styles         altoStyles      `xml:"Styles"`
	Layout         altoLayout      `xml:"Layout"`
}

type altoDescription struct {
	MeasurementUnit string          `xml:"MeasurementUnit"`
	SourceImage     altoSourceImage `xml:"sourceImageInformation"`
	Processing      altoProcessing  `xml:"OCRProcessing"`
}

type altoSourceImage struct {
	FileName           string                  `xml:"fileName"`
	FileIdentifier     *altoFileIdentifier     `xml:"fileIdentifier,omitempty"`
	DocumentIdentifier *altoDocumentIdentifier `xml:"documentIdentifier,omitempty"`
}

type altoFileIdentifier struct {
	Location string `xml:"fileIdentifierLocation,attr,omitempty"`
	Value    string `xml:",chardata"`
}

type altoDocumentIdentifier struct {
	Location string `xml:"documentIdentifierLocation,attr,omitempty"`
	Value    string `xml:",chardata"`
}

type altoProcessing struct {
	ID   string             `xml:"ID,attr"`
	Step altoProcessingStep `xml:"ocrProcessingStep"`
}

type altoProcessingStep struct {
	DateTime string `xml:"processingDateTime,omitempty"`
	Software string `xml:"processingSoftware>softwareName"`
}

type altoStyles struct {
	TextStyles []altoTextStyle `xml:"TextStyle"`
}

type altoTextStyle struct {
	ID         string  `xml:"ID,attr"`
	FontFamily string  `xml:"FONTFAMILY,attr,omitempty"`
	FontSize   float64 `xml:"FONTSIZE,attr"`
	FontColor  string  `xml:"FONTCOLOR,attr,omitempty"`
}

type altoLayout struct {
	Pages []altoPage `xml:"Page"`
}

type altoPage struct {
	ID         string         `xml:"ID,attr"`
	ImageNr    int            `xml:"PHYSICAL_IMG_NR,attr"`
	Width      float64        `xml:"WIDTH,attr"`
	Height     float64        `xml:"HEIGHT,attr"`
	PrintSpace altoPrintSpace `xml:"PrintSpace"`
}

type altoPrintSpace struct {
	HPos   float64         `xml:"HPOS,attr"`
	VPos   float64         `xml:"VPOS,attr"`
	Width  float64         `xml:"WIDTH,attr"`
	Height float64         `xml:"HEIGHT,attr"`
	Blocks []altoTextBlock `xml:"TextBlock"`
}

type altoTextBlock struct {
	ID     string       `xml:"ID,attr"`
	HPos   float64      `xml:"HPOS,attr"`
	VPos   float64      `xml:"VPOS,attr"`
	Width  float64      `xml:"WIDTH,attr"`
	Height float64      `xml:"HEIGHT,attr"`
	Lines  []altoTextLn `xml:"TextLine"`
}

type altoTextLn struct {
	ID     string  `xml:"ID,attr"`
	HPos   float64 `xml:"HPOS,attr"`
	VPos   float64 `xml:"VPOS,attr"`
	Width  float64 `xml:"WIDTH,attr"`
	Height float64 `xml:"HEIGHT,attr"`
	// Items holds String and SP elements in reading order.
	Items []any
}

type altoString struct {
	XMLName   xml.Name `xml:"String"`
	ID        string   `xml:"ID,attr"`
	HPos      float64  `xml:"HPOS,attr"`
	VPos      float64  `xml:"VPOS,attr"`
	Width     float64  `xml:"WIDTH,attr"`
	Height    float64  `xml:"HEIGHT,attr"`
	Content   string   `xml:"CONTENT,attr"`
	StyleRefs string   `xml:"STYLEREFS,attr,omitempty"`
}

type altoSpace struct {
	XMLName xml.Name `xml:"SP"`
	HPos    float64  `xml:"HPOS,attr"`
	VPos    float64  `xml:"VPOS,attr"`
	Width   float64  `xml:"WIDTH,attr"`
}

// ToAlto converts a repaired pdf2xml document into ALTO v4. Each text run
// becomes a block holding one line; the width of a run is shared between its
// words and spaces by character count.
func ToAlto(pdf2xml []byte, p AltoParams) ([]byte, error) {
	var src pdf2xmlDoc
	if err := xml.Unmarshal(pdf2xml, &src); err != nil {
		return nil, fmt.Errorf("failed to parse pdf2xml: %w", err)
	}

	doc := altoDoc{
		Xmlns:          altoNamespace,
		XmlnsXsi:       "http://www.w3.org/2001/XMLSchema-instance",
		SchemaLocation: altoSchemaLocation,
		Description: altoDescription{
			MeasurementUnit: "pixel",
			SourceImage: altoSourceImage{
				FileName:           p.SourceName,
				FileIdentifier:     fileIdentifier(p),
				DocumentIdentifier: documentIdentifier(p),
			},
			Processing: altoProcessing{
				ID: "OCR_0",
				Step: altoProcessingStep{
					DateTime: p.Timestamp,
					Software: "pdftohtml",
				},
			},
		},
	}

	seenFonts := make(map[string]bool)
	for i, page := range src.Pages {
		for _, f := range page.Fontspecs {
			if seenFonts[f.ID] {
				continue
			}
			seenFonts[f.ID] = true
			doc.Styles.TextStyles = append(doc.Styles.TextStyles, altoTextStyle{
				ID:         "font" + f.ID,
				FontFamily: f.Family,
				FontSize:   f.Size,
				FontColor:  strings.TrimPrefix(f.Color, "#"),
			})
		}
		doc.Layout.Pages = append(doc.Layout.Pages, convertPage(page, i+1))
	}

	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to write alto: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}

func fileIdentifier(p AltoParams) *altoFileIdentifier {
	if p.SourceURL == "" && p.SourceIdentifier == "" {
		return nil
	}
	return &altoFileIdentifier{Location: p.SourceURL, Value: p.SourceIdentifier}
}

func documentIdentifier(p AltoParams) *altoDocumentIdentifier {
	if p.DocumentURL == "" && p.DocumentIdentifier == "" {
		return nil
	}
	return &altoDocumentIdentifier{Location: p.DocumentURL, Value: p.DocumentIdentifier}
}

func convertPage(page pdfPage, ordinal int) altoPage {
	number := page.Number
	if number == 0 {
		number = ordinal
	}
	out := altoPage{
		ID:      fmt.Sprintf("P%d", number),
		ImageNr: number,
		Width:   round(page.Width),
		Height:  round(page.Height),
		PrintSpace: altoPrintSpace{
			Width:  round(page.Width),
			Height: round(page.Height),
		},
	}

	for _, text := range page.Texts {
		words := strings.Fields(innerText(text.Inner))
		if len(words) == 0 {
			continue
		}
		n := len(out.PrintSpace.Blocks) + 1
		line := altoTextLn{
			ID:     fmt.Sprintf("P%d_TL%d", number, n),
			HPos:   round(text.Left),
			VPos:   round(text.Top),
			Width:  round(text.Width),
			Height: round(text.Height),
			Items:  lineItems(text, words, fmt.Sprintf("P%d_S%d", number, n)),
		}
		out.PrintSpace.Blocks = append(out.PrintSpace.Blocks, altoTextBlock{
			ID:     fmt.Sprintf("P%d_TB%d", number, n),
			HPos:   line.HPos,
			VPos:   line.VPos,
			Width:  line.Width,
			Height: line.Height,
			Lines:  []altoTextLn{line},
		})
	}
	return out
}

func lineItems(text pdfText, words []string, idPrefix string) []any {
	chars := len(words) - 1
	for _, w := range words {
		chars += utf8.RuneCountInString(w)
	}
	unit := text.Width / float64(chars)

	var style string
	if text.Font != "" {
		style = "font" + text.Font
	}

	items := make([]any, 0, 2*len(words)-1)
	x := text.Left
	for i, w := range words {
		if i > 0 {
			items = append(items, altoSpace{HPos: round(x), VPos: round(text.Top), Width: round(unit)})
			x += unit
		}
		width := unit * float64(utf8.RuneCountInString(w))
		items = append(items, altoString{
			ID:        fmt.Sprintf("%s_%d", idPrefix, i+1),
			HPos:      round(x),
			VPos:      round(text.Top),
			Width:     round(width),
			Height:    round(text.Height),
			Content:   w,
			StyleRefs: style,
		})
		x += width
	}
	return items
}

// innerText returns the character data of a text run, nested links included.
func innerText(inner string) string {
	d := xml.NewDecoder(strings.NewReader("<t>" + inner + "</t>"))
	d.Strict = false
	d.Entity = xml.HTMLEntity

	var b strings.Builder
	for {
		tok, err := d.Token()
		if err != nil {
			break
		}
		if cd, ok := tok.(xml.CharData); ok {
			b.Write(cd)
		}
	}
	return b.String()
}

func round(v float64) float64 {
	return math.Round(v*100) / 100
}

// AltoText returns the text of an ALTO document in reading order, one line
// per TextLine, with html entities decoded.
func AltoText(alto []byte) (string, error) {
	d := xml.NewDecoder(bytes.NewReader(alto))

	var lines []string
	var words []string
	flush := func() {
		if len(words) > 0 {
			lines = append(lines, strings.Join(words, " "))
			words = words[:0]
		}
	}
	for {
		tok, err := d.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("failed to read alto: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local != "String" {
				continue
			}
			for _, a := range t.Attr {
				if a.Name.Local == "CONTENT" && a.Value != "" {
					words = append(words, a.Value)
				}
			}
		case xml.EndElement:
			if t.Name.Local == "TextLine" {
				flush()
			}
		}
	}
	flush()
	return html.UnescapeString(strings.Join(lines, "\n")), nil
}
