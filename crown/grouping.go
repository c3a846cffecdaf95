package crown

import (
	"fmt"
	"math"
	"sort"
)

// SegmentationOptions controls which attribute supplies tree identifiers.
type SegmentationOptions struct {
	Fields        []string // precedence order, first present wins
	FallbackField string   // used only when AllowFallback is set
	AllowFallback bool
}

// TreeIDField is the resolved tree identifier attribute. Degraded is set
// when the fallback attribute stands in for a real segmentation.
type TreeIDField struct {
	Name     string
	Degraded bool
}

// ResolveTreeIDField picks the tree identifier attribute following the
// configured precedence. Without a match it returns a
// *MissingSegmentationError, unless fallback is allowed and the fallback
// attribute exists.
func ResolveTreeIDField(pc *PointCloud, opts SegmentationOptions) (TreeIDField, error) {
	fields := opts.Fields
	if len(fields) == 0 {
		fields = DefaultTreeIDFields
	}
	for _, name := range fields {
		if pc.HasDimension(name) {
			return TreeIDField{Name: name}, nil
		}
	}

	tried := append([]string(nil), fields...)
	if opts.AllowFallback && opts.FallbackField != "" {
		if pc.HasDimension(opts.FallbackField) {
			return TreeIDField{Name: opts.FallbackField, Degraded: true}, nil
		}
		tried = append(tried, opts.FallbackField)
	}
	return TreeIDField{}, &MissingSegmentationError{Tried: tried}
}

// TreeIDs converts the named attribute into tree identifiers.
func TreeIDs(pc *PointCloud, field string) ([]TreeID, error) {
	values, ok := pc.Dimension(field)
	if !ok {
		return nil, &MissingSegmentationError{Tried: []string{field}}
	}
	ids := make([]TreeID, len(values))
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) || v != math.Trunc(v) {
			return nil, fmt.Errorf("point %d: %s value %v is not an integer tree identifier", i, field, v)
		}
		ids[i] = TreeID(v)
	}
	return ids, nil
}

// GroupTrees partitions the cloud into trees by the named attribute. Trees
// are returned in ascending ID order and keep their points in cloud order.
func GroupTrees(pc *PointCloud, field string) ([]*Tree, error) {
	ids, err := TreeIDs(pc, field)
	if err != nil {
		return nil, err
	}

	byID := make(map[TreeID]*Tree)
	for i, id := range ids {
		t, ok := byID[id]
		if !ok {
			t = &Tree{ID: id}
			byID[id] = t
		}
		t.Indices = append(t.Indices, i)
		t.Points = append(t.Points, pc.Point(i))
	}

	trees := make([]*Tree, 0, len(byID))
	for _, t := range byID {
		trees = append(trees, t)
	}
	sort.Slice(trees, func(i, j int) bool { return trees[i].ID < trees[j].ID })
	return trees, nil
}
