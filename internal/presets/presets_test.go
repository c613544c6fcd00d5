package presets

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curbz/vfrnav/internal/navlog"
)

func TestStoreLastWriterWins(t *testing.T) {
	s := NewDeviationStore()
	v1 := navlog.DeviationCurve{{X: 0, Y: 1}, {X: 360, Y: 1}}
	v2 := navlog.DeviationCurve{{X: 0, Y: 2}, {X: 360, Y: 2}}

	changed, err := s.Set("C172", 100, v1)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = s.Set("C172", 200, v2)
	require.NoError(t, err)
	assert.True(t, changed)

	// same date again is ignored
	changed, err = s.Set("C172", 200, v1)
	require.NoError(t, err)
	assert.False(t, changed)

	_, err = s.Set("C172", 150, v1)
	assert.ErrorIs(t, err, ErrStalePreset)

	p, err := s.Get("C172")
	require.NoError(t, err)
	assert.Equal(t, int64(200), p.Date)
	assert.Equal(t, v2, p.Curve)
}

func TestStoreTombstones(t *testing.T) {
	s := NewDeviationStore()
	_, err := s.Set("C172", 100, navlog.FlatDeviationCurve())
	require.NoError(t, err)

	// deleting something never stored is a no-op
	changed, err := s.Delete("PA28", 100)
	require.NoError(t, err)
	assert.False(t, changed)

	_, err = s.Delete("C172", 50)
	assert.ErrorIs(t, err, ErrStalePreset)

	changed, err = s.Delete("C172", 300)
	require.NoError(t, err)
	assert.True(t, changed)

	_, err = s.Get("C172")
	assert.ErrorIs(t, err, ErrNoSuchPreset)

	stored, ok := s.Stored("C172")
	require.True(t, ok)
	assert.Equal(t, int64(300), stored.Date)

	assert.Equal(t, []Entry{{Name: "C172", Date: 300, Remove: true}}, s.List())

	// an older copy coming back from a peer does not resurrect it
	_, err = s.Set("C172", 200, navlog.FlatDeviationCurve())
	assert.ErrorIs(t, err, ErrStalePreset)

	// a newer one does
	_, err = s.Set("C172", 400, navlog.FlatDeviationCurve())
	require.NoError(t, err)
	_, err = s.Get("C172")
	assert.NoError(t, err)
}

func TestFuelStoreHardPreset(t *testing.T) {
	s := NewFuelStore(9)

	p, err := s.Get(SimpleName)
	require.NoError(t, err)
	assert.Equal(t, navlog.SimpleFuelCurve(9), p.Curve)

	_, err = s.Set(SimpleName, 1<<40, navlog.SimpleFuelCurve(12))
	assert.ErrorIs(t, err, ErrReadOnly)
	_, err = s.Delete(SimpleName, 1<<40)
	assert.ErrorIs(t, err, ErrReadOnly)

	assert.Empty(t, s.List())

	_, err = s.Set("bad", 1, navlog.FuelCurve{{Thrust: 100}})
	assert.ErrorIs(t, err, navlog.ErrInvalidCurve)

	_, err = s.Set("", 1, navlog.SimpleFuelCurve(12))
	assert.ErrorIs(t, err, ErrUnnamedPreset)
}

func TestStoreReturnsCopies(t *testing.T) {
	s := NewFuelStore(9)
	curve := navlog.SimpleFuelCurve(7)
	_, err := s.Set("DR400", 1, curve)
	require.NoError(t, err)

	curve[0].Points[0][0].Conso = 99
	p, err := s.Get("DR400")
	require.NoError(t, err)
	assert.Equal(t, 7.0, p.Curve[0].Points[0][0].Conso)
}

func TestStoreDefault(t *testing.T) {
	s := NewFuelStore(9)
	assert.Equal(t, Entry{}, s.Default())

	assert.True(t, s.SetDefault("DR400", 10))
	assert.False(t, s.SetDefault("C172", 5))
	assert.Equal(t, "DR400", s.Default().Name)
}
