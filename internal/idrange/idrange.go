// Package idrange parses the item id filters used to restrict a bulk run,
// such as "2-6 8 38-52 80-".
package idrange

import (
	"strconv"
	"strings"
)

// Range is an inclusive id interval. A zero From means "from the first id",
// a zero To means "up to the last id".
type Range struct {
	From int
	To   int
}

// Contains reports whether id falls inside the range.
func (r Range) Contains(id int) bool {
	if r.From > 0 && id < r.From {
		return false
	}
	if r.To > 0 && id > r.To {
		return false
	}
	return true
}

func (r Range) String() string {
	switch {
	case r.From == r.To:
		return strconv.Itoa(r.From)
	case r.To == 0:
		return strconv.Itoa(r.From) + "-"
	case r.From == 0:
		return "-" + strconv.Itoa(r.To)
	default:
		return strconv.Itoa(r.From) + "-" + strconv.Itoa(r.To)
	}
}

// Ranges is a union of ranges. An empty Ranges matches every id.
type Ranges []Range

// Contains reports whether id is inside at least one range.
func (rs Ranges) Contains(id int) bool {
	if len(rs) == 0 {
		return true
	}
	for _, r := range rs {
		if r.Contains(id) {
			return true
		}
	}
	return false
}

func (rs Ranges) String() string {
	parts := make([]string, len(rs))
	for i, r := range rs {
		parts[i] = r.String()
	}
	return strings.Join(parts, " ")
}

// Single returns the range holding only id.
func Single(id int) Range {
	return Range{From: id, To: id}
}

// Parse reads a whitespace separated list of ids and id ranges. Each token is
// cleaned of everything except digits and "-". Tokens that end up empty, that
// are a bare "-" or that hold more than one "-" are dropped silently. An
// explicit upper bound of 0 is a bound: "5-0" is read as "-5" and "-0" is
// dropped since no id is below 1.
func Parse(text string) Ranges {
	var ranges Ranges
	for _, token := range strings.Fields(text) {
		token = clean(token)
		if token == "" || token == "-" || strings.Count(token, "-") > 1 {
			continue
		}

		from, to, isRange := strings.Cut(token, "-")
		if !isRange {
			id, err := strconv.Atoi(from)
			// Resource ids start at 1.
			if err != nil || id == 0 {
				continue
			}
			ranges = append(ranges, Single(id))
			continue
		}

		r := Range{}
		var err error
		if from != "" {
			if r.From, err = strconv.Atoi(from); err != nil {
				continue
			}
		}
		if to != "" {
			if r.To, err = strconv.Atoi(to); err != nil {
				continue
			}
			if r.To == 0 {
				if r.From == 0 {
					continue
				}
				r.From, r.To = 0, r.From
			}
		}
		if r.To > 0 && r.From > r.To {
			r.From, r.To = r.To, r.From
		}
		ranges = append(ranges, r)
	}
	return ranges
}

func clean(token string) string {
	var b strings.Builder
	for _, c := range token {
		if (c >= '0' && c <= '9') || c == '-' {
			b.WriteRune(c)
		}
	}
	return b.String()
}
