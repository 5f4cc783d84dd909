// Package filter describes the pre-filter the semantic cache applies before
// KNN ranking: only live entries near the requested location are compared.
// Stores either translate an Expression to their query language or evaluate
// it in process with Matches.
package filter

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ChecKMarKDevTools/underfoot-underground-travel-planner/internal/domain/geo"
)

// MaxConditions caps one expression.
const MaxConditions = 32

var errNoField = errors.New("filter field is required")

// Kind discriminates a Condition.
type Kind uint8

const (
	// KindTag matches a field equal to one tag value.
	KindTag Kind = iota + 1
	// KindRange matches a numeric field inside a Range.
	KindRange
	// KindGeo matches a "lng,lat" field inside a GeoRadius.
	KindGeo
)

// Expression is a conjunction of conditions. The zero value matches everything.
type Expression struct {
	all []Condition
}

// And combines conditions that must all hold.
func And(conds ...Condition) (Expression, error) {
	if len(conds) > MaxConditions {
		return Expression{}, fmt.Errorf("%d conditions exceeds the limit of %d", len(conds), MaxConditions)
	}
	for i, c := range conds {
		if c.kind == 0 {
			return Expression{}, fmt.Errorf("condition %d is empty", i)
		}
	}
	return Expression{all: conds}, nil
}

// Conditions returns the conjuncts in order.
func (e Expression) Conditions() []Condition { return e.all }

// IsEmpty reports whether the expression has no conditions.
func (e Expression) IsEmpty() bool { return len(e.all) == 0 }

// Matches evaluates e against a flat hash, the way the search module does
// server-side.
func (e Expression) Matches(fields map[string]string) bool {
	for _, c := range e.all {
		if !c.Matches(fields) {
			return false
		}
	}
	return true
}

// Condition constrains one hash field.
type Condition struct {
	kind  Kind
	field string
	tag   string
	rng   Range
	area  GeoRadius
}

// Tag matches a TAG field exactly.
func Tag(field, value string) (Condition, error) {
	if field == "" {
		return Condition{}, errNoField
	}
	if value == "" {
		return Condition{}, fmt.Errorf("tag value for %q is empty", field)
	}
	return Condition{kind: KindTag, field: field, tag: value}, nil
}

// InRange bounds a NUMERIC field.
func InRange(field string, r Range) (Condition, error) {
	if field == "" {
		return Condition{}, errNoField
	}
	if err := r.validate(); err != nil {
		return Condition{}, fmt.Errorf("range on %q: %w", field, err)
	}
	return Condition{kind: KindRange, field: field, rng: r}, nil
}

// Within selects GEO field values inside a radius. The unit defaults to miles.
func Within(field string, g GeoRadius) (Condition, error) {
	if field == "" {
		return Condition{}, errNoField
	}
	if !g.Center.Valid() {
		return Condition{}, fmt.Errorf("center (%g, %g) is out of range", g.Center.Lat, g.Center.Lng)
	}
	if g.Radius <= 0 {
		return Condition{}, fmt.Errorf("radius must be positive, got %g", g.Radius)
	}
	if g.Unit == "" {
		g.Unit = geo.Miles
	}
	return Condition{kind: KindGeo, field: field, area: g}, nil
}

// Kind reports which accessor below carries the condition's operand.
func (c Condition) Kind() Kind { return c.kind }

// Field is the hash field the condition tests.
func (c Condition) Field() string { return c.field }

// TagValue is the expected value of a KindTag condition.
func (c Condition) TagValue() string { return c.tag }

// Range is the accepted interval of a KindRange condition.
func (c Condition) Range() Range { return c.rng }

// Area is the accepted region of a KindGeo condition.
func (c Condition) Area() GeoRadius { return c.area }

// Matches evaluates c against a flat hash. An absent or malformed field
// never matches.
func (c Condition) Matches(fields map[string]string) bool {
	raw, ok := fields[c.field]
	if !ok {
		return false
	}
	switch c.kind {
	case KindTag:
		return raw == c.tag
	case KindRange:
		v, err := strconv.ParseFloat(raw, 64)
		return err == nil && c.rng.Contains(v)
	case KindGeo:
		p, err := ParseGeoValue(raw)
		return err == nil && geo.Distance(c.area.Center, p, c.area.Unit) <= c.area.Radius
	}
	return false
}

// Bound is one end of a Range.
type Bound struct {
	Value     float64
	Exclusive bool
}

// Range is an interval with optional ends. A nil end is unbounded.
type Range struct {
	Min *Bound
	Max *Bound
}

// AtLeast is [v, +inf).
func AtLeast(v float64) Range { return Range{Min: &Bound{Value: v}} }

// Above is (v, +inf).
func Above(v float64) Range { return Range{Min: &Bound{Value: v, Exclusive: true}} }

// AtMost is (-inf, v].
func AtMost(v float64) Range { return Range{Max: &Bound{Value: v}} }

// Below is (-inf, v).
func Below(v float64) Range { return Range{Max: &Bound{Value: v, Exclusive: true}} }

// Between is the closed interval [lo, hi].
func Between(lo, hi float64) Range { return Range{Min: &Bound{Value: lo}, Max: &Bound{Value: hi}} }

func (r Range) validate() error {
	switch {
	case r.Min == nil && r.Max == nil:
		return errors.New("at least one bound is required")
	case r.Min != nil && r.Max != nil && r.Min.Value > r.Max.Value:
		return fmt.Errorf("lower bound %g exceeds upper bound %g", r.Min.Value, r.Max.Value)
	}
	return nil
}

// Contains reports whether v lies in r.
func (r Range) Contains(v float64) bool {
	if r.Min != nil && (v < r.Min.Value || r.Min.Exclusive && v == r.Min.Value) {
		return false
	}
	if r.Max != nil && (v > r.Max.Value || r.Max.Exclusive && v == r.Max.Value) {
		return false
	}
	return true
}

// GeoRadius is a circle around Center.
type GeoRadius struct {
	Center geo.Point
	Radius float64
	Unit   geo.Unit
}

// FormatGeoValue encodes p as a GEO hash field: "lng,lat".
func FormatGeoValue(p geo.Point) string {
	return strconv.FormatFloat(p.Lng, 'f', -1, 64) + "," + strconv.FormatFloat(p.Lat, 'f', -1, 64)
}

// ParseGeoValue decodes a "lng,lat" GEO field.
func ParseGeoValue(s string) (geo.Point, error) {
	lngPart, latPart, ok := strings.Cut(s, ",")
	if !ok {
		return geo.Point{}, fmt.Errorf("geo value %q: want lng,lat", s)
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(lngPart), 64)
	if err != nil {
		return geo.Point{}, fmt.Errorf("geo value %q: %w", s, err)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(latPart), 64)
	if err != nil {
		return geo.Point{}, fmt.Errorf("geo value %q: %w", s, err)
	}
	p := geo.Point{Lat: lat, Lng: lng}
	if !p.Valid() {
		return geo.Point{}, fmt.Errorf("geo value %q: out of range", s)
	}
	return p, nil
}
