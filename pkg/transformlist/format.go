// Package transformlist reads and writes the text form of a transform list.
//
// A list starts with four header lines
//
//	# orig_w = 256
//	# orig_h = 256
//	# d_size = 8
//	# r_size = 4
//
// in any order, followed by one line per transform:
//
//	[000 : 004, 000 : 004] = +0.0123 + -0.4567 * [008 : 016, 040 : 048]
//
// which reads "range rectangle = offset + scale * domain rectangle".
package transformlist

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"fracture/internal/models"
)

// Options controls how numbers are rendered.
type Options struct {
	// Precision is the number of decimals written for scale and offset.
	// -1 writes the shortest decimal that parses back to the same float64.
	Precision int
}

// DefaultOptions writes floats that round-trip exactly.
var DefaultOptions = Options{Precision: -1}

const (
	keyOrigW      = "orig_w"
	keyOrigH      = "orig_h"
	keyDomainSize = "d_size"
	keyRangeSize  = "r_size"
)

var (
	headerPattern    = regexp.MustCompile(`^#\s*(\w+)\s*=\s*([+-]?\d+)\s*$`)
	transformPattern = regexp.MustCompile(
		`^\[\s*(\d+)\s*:\s*(\d+)\s*,\s*(\d+)\s*:\s*(\d+)\s*\]` +
			`\s*=\s*(\S+)\s*\+\s*(\S+)\s*\*\s*` +
			`\[\s*(\d+)\s*:\s*(\d+)\s*,\s*(\d+)\s*:\s*(\d+)\s*\]$`)
)

// formatSigned renders v in fixed notation with an explicit sign.
func formatSigned(v float64, precision int) string {
	s := strconv.FormatFloat(v, 'f', precision, 64)
	if strings.HasPrefix(s, "-") || strings.HasPrefix(s, "+") {
		return s
	}
	return "+" + s
}

// FormatTransform renders a single transform line without the newline
func FormatTransform(t models.Transform, opts Options) string {
	return fmt.Sprintf("[%03d : %03d, %03d : %03d] = %s + %s * [%03d : %03d, %03d : %03d]",
		t.Range.X1, t.Range.X2, t.Range.Y1, t.Range.Y2,
		formatSigned(t.Offset, opts.Precision),
		formatSigned(t.Scale, opts.Precision),
		t.Domain.X1, t.Domain.X2, t.Domain.Y1, t.Domain.Y2)
}

// Write serializes list to w.
func Write(w io.Writer, list *models.TransformList, opts Options) error {
	bw := bufio.NewWriter(w)
	h := list.Header
	fmt.Fprintf(bw, "# %s = %d\n", keyOrigW, h.OrigW)
	fmt.Fprintf(bw, "# %s = %d\n", keyOrigH, h.OrigH)
	fmt.Fprintf(bw, "# %s = %d\n", keyDomainSize, h.DomainSize)
	fmt.Fprintf(bw, "# %s = %d\n", keyRangeSize, h.RangeSize)
	for _, t := range list.Transforms {
		bw.WriteString(FormatTransform(t, opts))
		bw.WriteByte('\n')
	}
	return bw.Flush()
}

// Serialize returns the text form of list using DefaultOptions.
func Serialize(list *models.TransformList) string {
	var sb strings.Builder
	// strings.Builder never fails
	_ = Write(&sb, list, DefaultOptions)
	return sb.String()
}

// Parse is Read over a string.
func Parse(text string) (*models.TransformList, error) {
	return Read(strings.NewReader(text))
}

// Read parses a transform list. Lines starting with '#' that are not one of
// the four header attributes are comments; blank lines are skipped. Any
// other line must be a transform.
func Read(r io.Reader) (*models.TransformList, error) {
	list := &models.TransformList{}
	seen := make(map[string]bool, 4)

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "#") {
			m := headerPattern.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			value, err := strconv.Atoi(m[2])
			if err != nil {
				return nil, models.FormatErrorf("line %d: bad value for %s: %v", lineNo, m[1], err)
			}
			switch m[1] {
			case keyOrigW:
				list.Header.OrigW = value
			case keyOrigH:
				list.Header.OrigH = value
			case keyDomainSize:
				list.Header.DomainSize = value
			case keyRangeSize:
				list.Header.RangeSize = value
			default:
				continue
			}
			seen[m[1]] = true
			continue
		}

		t, err := parseTransform(line)
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", lineNo)
		}
		list.Transforms = append(list.Transforms, t)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "reading transform list")
	}

	for _, key := range []string{keyOrigW, keyOrigH, keyDomainSize, keyRangeSize} {
		if !seen[key] {
			return nil, models.FormatErrorf("missing header attribute %s", key)
		}
	}

	return list, nil
}

// parseTransform parses one transform line.
func parseTransform(line string) (models.Transform, error) {
	m := transformPattern.FindStringSubmatch(line)
	if m == nil {
		return models.Transform{}, models.FormatErrorf("malformed transform %q", line)
	}

	var ints [8]int
	for k, idx := range []int{1, 2, 3, 4, 7, 8, 9, 10} {
		v, err := strconv.Atoi(m[idx])
		if err != nil {
			return models.Transform{}, models.FormatErrorf("bad coordinate %q: %v", m[idx], err)
		}
		ints[k] = v
	}

	offset, err := strconv.ParseFloat(m[5], 64)
	if err != nil {
		return models.Transform{}, models.FormatErrorf("bad offset %q", m[5])
	}
	scale, err := strconv.ParseFloat(m[6], 64)
	if err != nil {
		return models.Transform{}, models.FormatErrorf("bad scale %q", m[6])
	}

	return models.Transform{
		Range:  models.Rectangle{X1: ints[0], X2: ints[1], Y1: ints[2], Y2: ints[3]},
		Offset: offset,
		Scale:  scale,
		Domain: models.Rectangle{X1: ints[4], X2: ints[5], Y1: ints[6], Y2: ints[7]},
	}, nil
}
