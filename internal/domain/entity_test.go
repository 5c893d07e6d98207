package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntityMerge(t *testing.T) {
	t.Run("patch semantics", func(t *testing.T) {
		base := NewEntity("urn:sensor:1", "AirQualitySensor")
		base.SetAttribute("no2", Value{Kind: KindProperty, Value: 41.5})
		base.SetAttribute("location", Value{Kind: KindGeoProperty, Value: []float64{2.17, 41.38}})

		patch := NewEntity("urn:sensor:1", "AirQualitySensor")
		patch.SetAttribute("no2", Value{Kind: KindProperty, Value: 44.0})
		patch.SetAttribute("humidity", Value{Kind: KindProperty, Value: 71})
		patch.Version = 3

		require.NoError(t, base.Merge(patch))

		no2, ok := base.Attribute("no2")
		require.True(t, ok)
		assert.Equal(t, 44.0, no2.Value)

		// Untouched attributes survive the merge.
		_, ok = base.Attribute("location")
		assert.True(t, ok)
		_, ok = base.Attribute("humidity")
		assert.True(t, ok)

		assert.Equal(t, int64(3), base.Version)
	})

	t.Run("version never rewinds", func(t *testing.T) {
		base := NewEntity("urn:sensor:1", "AirQualitySensor")
		base.Version = 9

		patch := NewEntity("urn:sensor:1", "AirQualitySensor")
		patch.Version = 2
		patch.SetAttribute("no2", Value{Kind: KindProperty, Value: 12.0})

		require.NoError(t, base.Merge(patch))
		assert.Equal(t, int64(9), base.Version)

		// The attribute still lands: merge is per-attribute, the clock is
		// monotonic.
		_, ok := base.Attribute("no2")
		assert.True(t, ok)
	})

	t.Run("identity is immutable", func(t *testing.T) {
		base := NewEntity("urn:sensor:1", "AirQualitySensor")
		other := NewEntity("urn:sensor:2", "AirQualitySensor")

		err := base.Merge(other)
		require.Error(t, err)
		var verr *ValidationError
		assert.ErrorAs(t, err, &verr)
	})

	t.Run("nil merge is a no-op", func(t *testing.T) {
		base := NewEntity("urn:sensor:1", "AirQualitySensor")
		require.NoError(t, base.Merge(nil))
	})
}

func TestEntitySetAttributePreservesOrder(t *testing.T) {
	e := NewEntity("urn:sensor:1", "AirQualitySensor")
	e.SetAttribute("a", Value{Kind: KindProperty, Value: 1})
	e.SetAttribute("b", Value{Kind: KindProperty, Value: 2})
	e.SetAttribute("c", Value{Kind: KindProperty, Value: 3})

	// Replacing an existing attribute keeps its position.
	e.SetAttribute("b", Value{Kind: KindProperty, Value: 20})

	names := make([]string, len(e.Attributes))
	for i, attr := range e.Attributes {
		names[i] = attr.Name
	}
	assert.Equal(t, []string{"a", "b", "c"}, names)

	b, ok := e.Attribute("b")
	require.True(t, ok)
	assert.Equal(t, 20, b.Value)
}

func TestEntityClone(t *testing.T) {
	now := time.Now()
	e := NewEntity("urn:sensor:1", "AirQualitySensor")
	e.SetAttribute("no2", Value{Kind: KindProperty, Value: 41.5, ObservedAt: &now})

	cp := e.Clone()
	cp.SetAttribute("no2", Value{Kind: KindProperty, Value: 99.0})
	cp.SetAttribute("extra", Value{Kind: KindProperty, Value: true})

	orig, ok := e.Attribute("no2")
	require.True(t, ok)
	assert.Equal(t, 41.5, orig.Value)
	_, ok = e.Attribute("extra")
	assert.False(t, ok)
}

func TestTouchAdvancesClock(t *testing.T) {
	e := NewEntity("urn:sensor:1", "AirQualitySensor")
	require.Equal(t, int64(1), e.Version)
	e.Touch()
	e.Touch()
	assert.Equal(t, int64(3), e.Version)
}
