// Package repair cleans the pdf2xml output of pdftohtml so that it can be
// parsed and transformed. Old pdftohtml releases emit broken fontspec tags,
// stray formatting tags and control characters copied from corrupted pdfs.
package repair

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
)

// Doctype is the canonical pdf2xml document type declaration.
const Doctype = `<!DOCTYPE pdf2xml SYSTEM "pdf2xml.dtd">`

var (
	formattingTags = regexp.MustCompile(`</?[bi]>`)
	lowerDoctype   = regexp.MustCompile(`<!doctype\s+pdf2xml\s+system\s+"pdf2xml\.dtd"\s*>`)
	controlChars   = regexp.MustCompile(`[\x00-\x08\x0B\x0C\x0E-\x1F\x7F]`)
	whitespaceRuns = regexp.MustCompile(`\s+`)
	fontspecAttr   = regexp.MustCompile(`([a-z]+)\s*=\s*"([^"<>]*)"`)
)

// Sanitize fixes the textual defects of a pdf2xml document: malformed
// fontspec tags, bold and italic tags, the lowercase doctype, invalid utf-8
// and control characters. Whitespace runs are collapsed to a single space.
func Sanitize(raw []byte) []byte {
	s := strings.ToValidUTF8(string(raw), "")
	s = repairFontspecs(s)
	s = formattingTags.ReplaceAllString(s, "")
	s = lowerDoctype.ReplaceAllString(s, Doctype)
	s = controlChars.ReplaceAllString(s, "")
	s = whitespaceRuns.ReplaceAllString(s, " ")
	return []byte(strings.TrimSpace(s))
}

// repairFontspecs rebuilds every fontspec tag from the attributes it holds.
// A tag left open by the tool is closed and whatever followed it on the line
// is kept as a separate line. Tags without a numeric id and repeated ids are
// dropped; the order of the remaining ones is unchanged.
func repairFontspecs(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	seen := make(map[string]bool)
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "<fontspec") {
			out = append(out, line)
			continue
		}

		spec, id, rest := rebuildFontspec(trimmed)
		if spec != "" && !seen[id] {
			seen[id] = true
			out = append(out, spec)
		}
		if rest != "" {
			out = append(out, rest)
		}
	}
	return strings.Join(out, "\n")
}

func rebuildFontspec(line string) (spec, id, rest string) {
	body := line[len("<fontspec"):]
	if end := strings.IndexAny(body, "<>"); end >= 0 {
		if body[end] == '>' {
			rest = body[end+1:]
		} else {
			rest = body[end:]
		}
		body = body[:end]
	}
	rest = strings.TrimSpace(rest)

	attrs := map[string]string{
		"size":   "0",
		"family": "",
		"color":  "#000000",
	}
	for _, m := range fontspecAttr.FindAllStringSubmatch(body, -1) {
		attrs[m[1]] = m[2]
	}
	id = attrs["id"]
	if _, err := strconv.Atoi(id); err != nil {
		return "", "", rest
	}
	spec = fmt.Sprintf(`<fontspec id="%s" size="%s" family="%s" color="%s"/>`,
		id, attrs["size"], attrs["family"], attrs["color"])
	return spec, id, rest
}

// Reserialize parses a document leniently and writes it back as well formed
// xml. Missing end tags are invented, unknown entities are left alone and a
// truncated document is closed. An error is returned when no root element can
// be read.
func Reserialize(in []byte) ([]byte, error) {
	d := xml.NewDecoder(bytes.NewReader(in))
	d.Strict = false
	d.AutoClose = xml.HTMLAutoClose
	d.Entity = xml.HTMLEntity

	var buf bytes.Buffer
	e := xml.NewEncoder(&buf)

	var open []xml.Name
	roots := 0
	wrote := false
	for {
		tok, err := d.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			var syntaxErr *xml.SyntaxError
			if errors.As(err, &syntaxErr) && syntaxErr.Msg == "unexpected EOF" && roots > 0 {
				break
			}
			return nil, fmt.Errorf("failed to parse xml: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if len(open) == 0 {
				roots++
			}
			t.Name.Space = ""
			open = append(open, t.Name)
			tok = t
		case xml.EndElement:
			if len(open) > 0 {
				open = open[:len(open)-1]
			}
			t.Name.Space = ""
			tok = t
		case xml.ProcInst:
			if t.Target == "xml" && wrote {
				continue
			}
		}

		if err := e.EncodeToken(xml.CopyToken(tok)); err != nil {
			return nil, fmt.Errorf("failed to write xml: %w", err)
		}
		wrote = true
	}

	for i := len(open) - 1; i >= 0; i-- {
		if err := e.EncodeToken(xml.EndElement{Name: open[i]}); err != nil {
			return nil, fmt.Errorf("failed to close xml: %w", err)
		}
	}
	if err := e.Flush(); err != nil {
		return nil, fmt.Errorf("failed to write xml: %w", err)
	}
	if roots == 0 {
		return nil, errors.New("no root element")
	}
	return buf.Bytes(), nil
}
