package transform

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// MarkupText returns the text runs of a pdf2xml document, one per line.
func MarkupText(doc []byte) string {
	d, err := goquery.NewDocumentFromReader(bytes.NewReader(doc))
	if err != nil {
		return ""
	}

	var lines []string
	d.Find("text").Each(func(_ int, s *goquery.Selection) {
		if t := strings.Join(strings.Fields(s.Text()), " "); t != "" {
			lines = append(lines, t)
		}
	})
	return strings.Join(lines, "\n")
}
