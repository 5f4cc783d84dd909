package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChecKMarKDevTools/underfoot-underground-travel-planner/internal/domain/geo"
)

var austin = geo.Point{Lat: 30.2672, Lng: -97.7431}

func TestConstructors_Validation(t *testing.T) {
	tests := []struct {
		name  string
		build func() (Condition, error)
		ok    bool
	}{
		{"tag", func() (Condition, error) { return Tag("city", "austin") }, true},
		{"tag without field", func() (Condition, error) { return Tag("", "austin") }, false},
		{"tag without value", func() (Condition, error) { return Tag("city", "") }, false},
		{"range", func() (Condition, error) { return InRange("expires_at", Above(1)) }, true},
		{"unbounded range", func() (Condition, error) { return InRange("expires_at", Range{}) }, false},
		{"inverted range", func() (Condition, error) { return InRange("n", Between(5, 1)) }, false},
		{"range without field", func() (Condition, error) { return InRange("", AtMost(1)) }, false},
		{"geo", func() (Condition, error) { return Within("geo", GeoRadius{Center: austin, Radius: 50}) }, true},
		{"geo zero radius", func() (Condition, error) { return Within("geo", GeoRadius{Center: austin}) }, false},
		{"geo bad center", func() (Condition, error) {
			return Within("geo", GeoRadius{Center: geo.Point{Lat: 91}, Radius: 1})
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.build()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestWithin_DefaultsToMiles(t *testing.T) {
	c, err := Within("geo", GeoRadius{Center: austin, Radius: 10})
	require.NoError(t, err)
	assert.Equal(t, KindGeo, c.Kind())
	assert.Equal(t, geo.Miles, c.Area().Unit)
}

func TestCondition_Accessors(t *testing.T) {
	tag, err := Tag("city", "austin")
	require.NoError(t, err)
	assert.Equal(t, KindTag, tag.Kind())
	assert.Equal(t, "city", tag.Field())
	assert.Equal(t, "austin", tag.TagValue())

	live, err := InRange("expires_at", Above(100))
	require.NoError(t, err)
	assert.Equal(t, KindRange, live.Kind())
	require.NotNil(t, live.Range().Min)
	assert.True(t, live.Range().Min.Exclusive)
	assert.Nil(t, live.Range().Max)
}

func TestAnd(t *testing.T) {
	tag, _ := Tag("city", "austin")
	expr, err := And(tag)
	require.NoError(t, err)
	assert.False(t, expr.IsEmpty())
	require.Len(t, expr.Conditions(), 1)
	assert.Equal(t, "city", expr.Conditions()[0].Field())

	_, err = And(Condition{})
	assert.Error(t, err, "zero condition")

	many := make([]Condition, MaxConditions+1)
	for i := range many {
		many[i] = tag
	}
	_, err = And(many...)
	assert.Error(t, err)

	assert.True(t, Expression{}.IsEmpty())
	assert.True(t, Expression{}.Matches(nil), "empty expression matches everything")
}

func TestRange_Contains(t *testing.T) {
	tests := []struct {
		name string
		r    Range
		in   []float64
		out  []float64
	}{
		{"at least", AtLeast(10), []float64{10, 11}, []float64{9.99}},
		{"above", Above(10), []float64{10.01}, []float64{10}},
		{"at most", AtMost(10), []float64{10, -5}, []float64{10.5}},
		{"below", Below(10), []float64{9}, []float64{10}},
		{"between", Between(1, 2), []float64{1, 1.5, 2}, []float64{0.5, 2.5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, v := range tt.in {
				assert.True(t, tt.r.Contains(v), "%v should be inside", v)
			}
			for _, v := range tt.out {
				assert.False(t, tt.r.Contains(v), "%v should be outside", v)
			}
		})
	}
}

func TestExpression_Matches(t *testing.T) {
	live, _ := InRange("expires_at", Above(1_700_000_000))
	near, _ := Within("geo", GeoRadius{Center: austin, Radius: 50, Unit: geo.Miles})
	city, _ := Tag("city", "austin")
	expr, err := And(live, near, city)
	require.NoError(t, err)

	base := func() map[string]string {
		return map[string]string{
			"expires_at": "1700000100",
			// Round Rock, about 17 miles north
			"geo":  "-97.6789,30.5083",
			"city": "austin",
		}
	}
	assert.True(t, expr.Matches(base()))

	tests := []struct {
		name   string
		mutate func(map[string]string)
	}{
		{"expired", func(m map[string]string) { m["expires_at"] = "1700000000" }},
		{"too far", func(m map[string]string) { m["geo"] = "-95.3698,29.7604" }},
		{"wrong tag", func(m map[string]string) { m["city"] = "houston" }},
		{"missing field", func(m map[string]string) { delete(m, "geo") }},
		{"bad number", func(m map[string]string) { m["expires_at"] = "soon" }},
		{"bad geo", func(m map[string]string) { m["geo"] = "nowhere" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields := base()
			tt.mutate(fields)
			assert.False(t, expr.Matches(fields))
		})
	}
}

func TestGeoValue_RoundTrip(t *testing.T) {
	s := FormatGeoValue(austin)
	assert.Equal(t, "-97.7431,30.2672", s)

	p, err := ParseGeoValue(" -97.7431 , 30.2672 ")
	require.NoError(t, err)
	assert.Equal(t, austin, p)

	for _, bad := range []string{"", "-97.7", "x,30", "-97,y", "200,10"} {
		_, err := ParseGeoValue(bad)
		assert.Error(t, err, bad)
	}
}
