package tensor

// AxisTag is one element of a Layout, e.g. "N", "C", "H", "W", "D", or "?"
// for an unnamed/wildcard axis. "..." stands for "zero or more unnamed
// axes" and is handled specially by Layout.Intersect.
type AxisTag string

const (
	AxisN         AxisTag = "N"
	AxisC         AxisTag = "C"
	AxisH         AxisTag = "H"
	AxisW         AxisTag = "W"
	AxisD         AxisTag = "D"
	AxisWildcard  AxisTag = "?"
	AxisEllipsis  AxisTag = "..."
)

// Layout is an ordered sequence of axis tags describing what each Shape
// dimension means.
type Layout []AxisTag

// hasEllipsis reports whether l contains the "..." token and, if so, its index.
func (l Layout) hasEllipsis() (int, bool) {
	for i, tag := range l {
		if tag == AxisEllipsis {
			return i, true
		}
	}
	return -1, false
}

// Intersect unifies two layouts. Matching is element-wise with AxisWildcard
// matching anything; "..." in either layout absorbs however many axes are
// needed to align trailing tags (used when a demultiplex node inserts a
// shard-index prefix dimension ahead of the original layout).
func (l Layout) Intersect(other Layout) (Layout, bool) {
	li, lok := l.hasEllipsis()
	oi, ook := other.hasEllipsis()

	switch {
	case !lok && !ook:
		return intersectFixed(l, other)
	case lok && !ook:
		return expandEllipsis(l, li, other)
	case !lok && ook:
		return expandEllipsis(other, oi, l)
	default:
		// Both have "...": align prefixes and suffixes independently.
		prefix, ok := intersectFixed(l[:li], other[:oi])
		if !ok {
			return nil, false
		}
		suffix, ok := intersectFixed(l[li+1:], other[oi+1:])
		if !ok {
			return nil, false
		}
		out := make(Layout, 0, len(prefix)+1+len(suffix))
		out = append(out, prefix...)
		out = append(out, AxisEllipsis)
		out = append(out, suffix...)
		return out, true
	}
}

func intersectFixed(a, b Layout) (Layout, bool) {
	if len(a) != len(b) {
		return nil, false
	}
	out := make(Layout, len(a))
	for i := range a {
		tag, ok := unifyTag(a[i], b[i])
		if !ok {
			return nil, false
		}
		out[i] = tag
	}
	return out, true
}

func unifyTag(a, b AxisTag) (AxisTag, bool) {
	if a == AxisWildcard {
		return b, true
	}
	if b == AxisWildcard {
		return a, true
	}
	if a == b {
		return a, true
	}
	return "", false
}

// expandEllipsis resolves withEllipsis's "..." against fixed (which has no
// ellipsis) by absorbing the extra axes fixed carries, then intersecting
// element-wise.
func expandEllipsis(withEllipsis Layout, ellipsisIdx int, fixed Layout) (Layout, bool) {
	prefixLen := ellipsisIdx
	suffixLen := len(withEllipsis) - ellipsisIdx - 1
	if len(fixed) < prefixLen+suffixLen {
		return nil, false
	}
	absorbed := len(fixed) - prefixLen - suffixLen

	prefix, ok := intersectFixed(withEllipsis[:prefixLen], fixed[:prefixLen])
	if !ok {
		return nil, false
	}
	suffix, ok := intersectFixed(withEllipsis[ellipsisIdx+1:], fixed[prefixLen+absorbed:])
	if !ok {
		return nil, false
	}
	out := make(Layout, 0, len(fixed))
	out = append(out, prefix...)
	out = append(out, fixed[prefixLen:prefixLen+absorbed]...)
	out = append(out, suffix...)
	return out, true
}

// TensorInfo is the metadata tuple describing one named input/output of a
// model: its wire name, the name the model runtime knows it by, element
// type, shape, and layout.
type TensorInfo struct {
	Name       string
	MappedName string
	ElementType ElementType
	Shape      Shape
	Layout     Layout
}

// Intersection composes name/mapped-name/element-type/layout/shape checks
// used to validate that a pipeline edge's producer and consumer agree.
// Element types are compatible if equal or either side is Undefined; the
// result inherits the non-Undefined type (or stays Undefined if both are).
func (t TensorInfo) Intersection(other TensorInfo) (TensorInfo, bool) {
	if t.Name != other.Name || t.MappedName != other.MappedName {
		return TensorInfo{}, false
	}
	elemType, ok := intersectElementType(t.ElementType, other.ElementType)
	if !ok {
		return TensorInfo{}, false
	}
	layout, ok := t.Layout.Intersect(other.Layout)
	if !ok {
		return TensorInfo{}, false
	}
	shape, ok := t.Shape.Intersection(other.Shape)
	if !ok {
		return TensorInfo{}, false
	}
	return TensorInfo{
		Name:        t.Name,
		MappedName:  t.MappedName,
		ElementType: elemType,
		Shape:       shape,
		Layout:      layout,
	}, true
}

func intersectElementType(a, b ElementType) (ElementType, bool) {
	if a == Undefined {
		return b, true
	}
	if b == Undefined {
		return a, true
	}
	if a == b {
		return a, true
	}
	return Undefined, false
}
