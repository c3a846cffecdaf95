package crown

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/golang/geo/r3"
)

// PointCloud is an in-memory, column-oriented point collection. Besides the
// coordinates it carries any number of named per-point attributes which are
// passed through filtering untouched.
type PointCloud struct {
	X, Y, Z []float64

	// Header holds the source column names in order, including the
	// coordinate columns, so a written cloud keeps its original layout.
	Header []string

	names []string
	attrs map[string][]float64
}

// NewPointCloud creates an empty cloud with the given attribute columns.
func NewPointCloud(attributes ...string) *PointCloud {
	pc := &PointCloud{
		Header: append([]string{"x", "y", "z"}, attributes...),
		names:  append([]string(nil), attributes...),
		attrs:  make(map[string][]float64, len(attributes)),
	}
	for _, a := range attributes {
		pc.attrs[a] = nil
	}
	return pc
}

// Len returns the number of points.
func (pc *PointCloud) Len() int {
	return len(pc.X)
}

// Dimensions returns the attribute names in column order.
func (pc *PointCloud) Dimensions() []string {
	return append([]string(nil), pc.names...)
}

// HasDimension reports whether the named attribute exists.
func (pc *PointCloud) HasDimension(name string) bool {
	_, ok := pc.attrs[name]
	return ok
}

// Dimension returns the values of the named attribute.
func (pc *PointCloud) Dimension(name string) ([]float64, bool) {
	v, ok := pc.attrs[name]
	return v, ok
}

// Append adds one point. attrs must follow Dimensions order.
func (pc *PointCloud) Append(x, y, z float64, attrs ...float64) error {
	if len(attrs) != len(pc.names) {
		return fmt.Errorf("point has %d attributes, cloud has %d", len(attrs), len(pc.names))
	}
	pc.X = append(pc.X, x)
	pc.Y = append(pc.Y, y)
	pc.Z = append(pc.Z, z)
	for i, name := range pc.names {
		pc.attrs[name] = append(pc.attrs[name], attrs[i])
	}
	return nil
}

// Point returns the coordinates of point i.
func (pc *PointCloud) Point(i int) r3.Vector {
	return r3.Vector{X: pc.X[i], Y: pc.Y[i], Z: pc.Z[i]}
}

// Filter returns a new cloud holding the points whose mask entry is true.
// Every attribute and the header are preserved.
func (pc *PointCloud) Filter(mask []bool) (*PointCloud, error) {
	if len(mask) != pc.Len() {
		return nil, fmt.Errorf("mask length %d does not match %d points", len(mask), pc.Len())
	}
	kept := 0
	for _, m := range mask {
		if m {
			kept++
		}
	}

	out := &PointCloud{
		X:      make([]float64, 0, kept),
		Y:      make([]float64, 0, kept),
		Z:      make([]float64, 0, kept),
		Header: append([]string(nil), pc.Header...),
		names:  append([]string(nil), pc.names...),
		attrs:  make(map[string][]float64, len(pc.names)),
	}
	for _, name := range pc.names {
		out.attrs[name] = make([]float64, 0, kept)
	}
	for i, m := range mask {
		if !m {
			continue
		}
		out.X = append(out.X, pc.X[i])
		out.Y = append(out.Y, pc.Y[i])
		out.Z = append(out.Z, pc.Z[i])
		for _, name := range pc.names {
			out.attrs[name] = append(out.attrs[name], pc.attrs[name][i])
		}
	}
	return out, nil
}

// coordinateColumn maps a header name onto x, y or z.
func coordinateColumn(name string) (int, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "x":
		return 0, true
	case "y":
		return 1, true
	case "z":
		return 2, true
	}
	return -1, false
}

// detectDelimiter picks the most frequent separator in a header line.
func detectDelimiter(line string) rune {
	best, bestCount := ' ', 0
	for _, d := range []rune{',', '\t', ';'} {
		if n := strings.Count(line, string(d)); n > bestCount {
			best, bestCount = d, n
		}
	}
	return best
}

// ReadPointCloud parses a delimited text point cloud. The first row is a
// header naming the columns; x, y and z (any case) are required and all
// other columns become numeric attributes. A zero delimiter is detected
// from the header.
func ReadPointCloud(r io.Reader, delimiter rune) (*PointCloud, error) {
	br := bufio.NewReader(r)
	headerLine, err := br.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	headerLine = strings.TrimRight(headerLine, "\r\n")
	if strings.TrimSpace(headerLine) == "" {
		return nil, fmt.Errorf("point cloud has no header")
	}
	if delimiter == 0 {
		delimiter = detectDelimiter(headerLine)
	}

	split := func(line string) []string {
		if delimiter == ' ' {
			return strings.Fields(line)
		}
		return strings.Split(line, string(delimiter))
	}

	header := split(headerLine)
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	coordIdx := [3]int{-1, -1, -1}
	var attrNames []string
	attrIdx := make([]int, 0, len(header))
	seen := make(map[string]bool, len(header))
	for i, name := range header {
		if seen[name] {
			return nil, fmt.Errorf("duplicate column %q", name)
		}
		seen[name] = true
		if c, ok := coordinateColumn(name); ok {
			if coordIdx[c] >= 0 {
				return nil, fmt.Errorf("duplicate coordinate column %q", name)
			}
			coordIdx[c] = i
			continue
		}
		attrNames = append(attrNames, name)
		attrIdx = append(attrIdx, i)
	}
	for c, idx := range coordIdx {
		if idx < 0 {
			return nil, fmt.Errorf("point cloud header lacks the %q column", "xyz"[c:c+1])
		}
	}

	pc := NewPointCloud(attrNames...)
	pc.Header = header

	var rows func() ([]string, error)
	if delimiter == ' ' {
		scanner := bufio.NewScanner(br)
		rows = func() ([]string, error) {
			for scanner.Scan() {
				if line := strings.TrimSpace(scanner.Text()); line != "" {
					return strings.Fields(line), nil
				}
			}
			if err := scanner.Err(); err != nil {
				return nil, err
			}
			return nil, io.EOF
		}
	} else {
		cr := csv.NewReader(br)
		cr.Comma = delimiter
		cr.FieldsPerRecord = len(header)
		cr.TrimLeadingSpace = true
		cr.ReuseRecord = true
		rows = cr.Read
	}

	attrs := make([]float64, len(attrNames))
	for line := 2; ; line++ {
		rec, err := rows()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading row %d: %w", line, err)
		}
		if len(rec) != len(header) {
			return nil, fmt.Errorf("row %d has %d fields, header has %d", line, len(rec), len(header))
		}
		var xyz [3]float64
		for c, idx := range coordIdx {
			if xyz[c], err = strconv.ParseFloat(strings.TrimSpace(rec[idx]), 64); err != nil {
				return nil, fmt.Errorf("row %d column %q: %w", line, header[idx], err)
			}
		}
		for a, idx := range attrIdx {
			if attrs[a], err = strconv.ParseFloat(strings.TrimSpace(rec[idx]), 64); err != nil {
				return nil, fmt.Errorf("row %d column %q: %w", line, header[idx], err)
			}
		}
		if err := pc.Append(xyz[0], xyz[1], xyz[2], attrs...); err != nil {
			return nil, err
		}
	}
	return pc, nil
}

// WritePointCloud writes the cloud in its header's column order.
func WritePointCloud(w io.Writer, pc *PointCloud, delimiter rune) error {
	if delimiter == 0 {
		delimiter = ','
	}
	cw := csv.NewWriter(w)
	cw.Comma = delimiter

	if err := cw.Write(pc.Header); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	columns := make([][]float64, len(pc.Header))
	for i, name := range pc.Header {
		if c, ok := coordinateColumn(name); ok {
			columns[i] = [][]float64{pc.X, pc.Y, pc.Z}[c]
			continue
		}
		values, ok := pc.attrs[name]
		if !ok {
			return fmt.Errorf("header column %q has no values", name)
		}
		columns[i] = values
	}

	rec := make([]string, len(columns))
	for row := 0; row < pc.Len(); row++ {
		for i, col := range columns {
			rec[i] = strconv.FormatFloat(col[row], 'f', -1, 64)
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("writing row %d: %w", row, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadPointCloudFile opens and parses a delimited point cloud file.
func ReadPointCloudFile(path string, delimiter rune) (*PointCloud, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening point cloud: %w", err)
	}
	defer f.Close()

	pc, err := ReadPointCloud(f, delimiter)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return pc, nil
}

// WritePointCloudFile writes the cloud to path, replacing any existing file.
func WritePointCloudFile(path string, pc *PointCloud, delimiter rune) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating point cloud: %w", err)
	}
	if err := WritePointCloud(f, pc, delimiter); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ParseDelimiter converts a configured delimiter name into a rune.
// An empty string means detect.
func ParseDelimiter(s string) (rune, error) {
	switch s {
	case "":
		return 0, nil
	case ",", "comma":
		return ',', nil
	case ";", "semicolon":
		return ';', nil
	case "\t", "\\t", "tab":
		return '\t', nil
	case " ", "space":
		return ' ', nil
	}
	return 0, fmt.Errorf("unsupported delimiter %q", s)
}
