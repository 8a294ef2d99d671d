package transform

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// WordIndex lists every distinct word of a document with the boxes where it
// occurs, in the order the words were first seen.
type WordIndex struct {
	words []string
	hits  map[string][]string
}

// Len is the number of distinct words.
func (w *WordIndex) Len() int {
	return len(w.words)
}

// Hits returns the "page:x,y,width,height" boxes of a word.
func (w *WordIndex) Hits(word string) []string {
	return w.hits[word]
}

// TSV writes one row per word: the word, a tab, then its boxes joined by ";".
func (w *WordIndex) TSV() []byte {
	var b bytes.Buffer
	for _, word := range w.words {
		b.WriteString(word)
		b.WriteByte('\t')
		b.WriteString(strings.Join(w.hits[word], ";"))
		b.WriteByte('\n')
	}
	return b.Bytes()
}

func (w *WordIndex) add(word, box string) {
	if _, ok := w.hits[word]; !ok {
		w.words = append(w.words, word)
	}
	w.hits[word] = append(w.hits[word], box)
}

// BuildWordIndex reads the xhtml written by "pdftotext -bbox" and scales each
// word box from pdf points to the pixel size of the page image. images gives
// the image size of a page; without one the box stays in points. pdf is
// asked for the page size when the bbox output reports none. Either may be
// nil.
func BuildWordIndex(bbox []byte, images, pdf PageSizer) (*WordIndex, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(bbox))
	if err != nil {
		return nil, fmt.Errorf("failed to parse bbox output: %w", err)
	}

	index := &WordIndex{hits: make(map[string][]string)}
	doc.Find("page").Each(func(i int, page *goquery.Selection) {
		number := i + 1
		src := Size{Width: attrFloat(page, "width"), Height: attrFloat(page, "height")}
		if (src.Width <= 0 || src.Height <= 0) && pdf != nil {
			if s, ok := pdf.PageSize(number); ok {
				src = s
			}
		}

		scaleX, scaleY := 1.0, 1.0
		if images != nil && src.Width > 0 && src.Height > 0 {
			if img, ok := images.PageSize(number); ok {
				scaleX = img.Width / src.Width
				scaleY = img.Height / src.Height
			}
		}

		page.Find("word").Each(func(_ int, w *goquery.Selection) {
			word := Slugify(w.Text())
			if word == "" {
				return
			}
			xMin, yMin := attrFloat(w, "xmin"), attrFloat(w, "ymin")
			xMax, yMax := attrFloat(w, "xmax"), attrFloat(w, "ymax")
			index.add(word, fmt.Sprintf("%d:%d,%d,%d,%d", number,
				pixel(xMin*scaleX), pixel(yMin*scaleY),
				pixel((xMax-xMin)*scaleX), pixel((yMax-yMin)*scaleY)))
		})
	})
	return index, nil
}

// attrFloat reads a numeric attribute. The html parser lowercases names.
func attrFloat(s *goquery.Selection, name string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s.AttrOr(name, "")), 64)
	if err != nil {
		return 0
	}
	return v
}

func pixel(v float64) int {
	return int(math.Round(v))
}
