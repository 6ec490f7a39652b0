package model

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrecisionQuantity_RoundHalfUp(t *testing.T) {
	q, err := NewPrecisionQuantity(157, UnitGram)
	require.NoError(t, err)

	assert.Equal(t, 160.0, q.Value())

	low, high := q.ConfidenceInterval()
	assert.Equal(t, 140.0, low)
	assert.Equal(t, 180.0, high)
}

func TestPrecisionQuantity_HalfwayRoundsUp(t *testing.T) {
	// 150 is exactly halfway between 140 and 160 at precision 20.
	q, err := NewPrecisionQuantity(150, UnitGram)
	require.NoError(t, err)
	assert.Equal(t, 160.0, q.Value())
}

func TestPrecisionQuantity_CustomPrecision(t *testing.T) {
	q, err := NewPrecisionQuantityWithPrecision(103, UnitGram, 5)
	require.NoError(t, err)
	assert.Equal(t, 105.0, q.Value())

	low, high := q.ConfidenceInterval()
	assert.Equal(t, 100.0, low)
	assert.Equal(t, 110.0, high)
}

func TestPrecisionQuantity_Validation(t *testing.T) {
	_, err := NewPrecisionQuantity(-1, UnitGram)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidation))

	_, err = NewPrecisionQuantityWithPrecision(100, UnitGram, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidation))

	_, err = NewPrecisionQuantity(100, Unit("stone"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidation))
}

func TestPrecisionQuantity_ToBaseUnit(t *testing.T) {
	q, err := NewPrecisionQuantity(1.5, UnitKilogram)
	require.NoError(t, err)

	base := q.ToBaseUnit()
	assert.Equal(t, UnitGram, base.Unit())
	assert.InDelta(t, 1500.0, base.Raw(), 1e-9)
	assert.Equal(t, 1500.0, base.Value())

	oz, err := NewPrecisionQuantity(2, UnitOunce)
	require.NoError(t, err)
	assert.InDelta(t, 56.7, oz.ToBaseUnit().Raw(), 1e-9)
}
