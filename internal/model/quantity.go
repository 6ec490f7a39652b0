package model

import (
	"fmt"
	"math"

	"github.com/rotisserie/eris"
)

// Unit is a mass unit accepted by PrecisionQuantity.
type Unit string

const (
	UnitGram      Unit = "g"
	UnitKilogram  Unit = "kg"
	UnitMilligram Unit = "mg"
	UnitOunce     Unit = "oz"
	UnitPound     Unit = "lb"
)

// unitToGrams is the fixed conversion table to the base unit (grams).
var unitToGrams = map[Unit]float64{
	UnitGram:      1,
	UnitKilogram:  1000,
	UnitMilligram: 0.001,
	UnitOunce:     28.35,
	UnitPound:     453.59,
}

// DefaultPrecisionGrams is the reporting granularity used when none is given.
const DefaultPrecisionGrams = 20.0

// PrecisionQuantity is an immutable bounded-precision amount. The reported
// value is the raw value rounded to the nearest multiple of the precision,
// and the precision drives a symmetric confidence interval around it.
type PrecisionQuantity struct {
	raw            float64
	unit           Unit
	precisionGrams float64
}

// NewPrecisionQuantity builds a quantity with the default precision.
func NewPrecisionQuantity(raw float64, unit Unit) (PrecisionQuantity, error) {
	return NewPrecisionQuantityWithPrecision(raw, unit, DefaultPrecisionGrams)
}

// NewPrecisionQuantityWithPrecision builds a quantity with an explicit
// precision in grams. Negative raw values, non-positive precision, and
// unknown units are rejected.
func NewPrecisionQuantityWithPrecision(raw float64, unit Unit, precisionGrams float64) (PrecisionQuantity, error) {
	if raw < 0 {
		return PrecisionQuantity{}, eris.Wrapf(ErrValidation, "raw value %v must be non-negative", raw)
	}
	if precisionGrams <= 0 {
		return PrecisionQuantity{}, eris.Wrapf(ErrValidation, "precision %v must be positive", precisionGrams)
	}
	if _, ok := unitToGrams[unit]; !ok {
		return PrecisionQuantity{}, eris.Wrapf(ErrValidation, "unknown unit %q", unit)
	}
	return PrecisionQuantity{raw: raw, unit: unit, precisionGrams: precisionGrams}, nil
}

// Raw returns the unrounded value as supplied.
func (q PrecisionQuantity) Raw() float64 { return q.raw }

// Unit returns the unit of the quantity.
func (q PrecisionQuantity) Unit() Unit { return q.unit }

// PrecisionGrams returns the reporting granularity.
func (q PrecisionQuantity) PrecisionGrams() float64 { return q.precisionGrams }

// Value returns the raw value rounded half-up to the nearest multiple of the
// precision. Rounding is deterministic: 157 at precision 20 yields 160.
func (q PrecisionQuantity) Value() float64 {
	return math.Floor(q.raw/q.precisionGrams+0.5) * q.precisionGrams
}

// ConfidenceInterval returns the symmetric [value-precision, value+precision]
// bounds implied by the precision.
func (q PrecisionQuantity) ConfidenceInterval() (low, high float64) {
	v := q.Value()
	return v - q.precisionGrams, v + q.precisionGrams
}

// ToBaseUnit converts the quantity to grams using the fixed conversion table,
// preserving the precision.
func (q PrecisionQuantity) ToBaseUnit() PrecisionQuantity {
	factor := unitToGrams[q.unit]
	return PrecisionQuantity{
		raw:            q.raw * factor,
		unit:           UnitGram,
		precisionGrams: q.precisionGrams,
	}
}

// String implements fmt.Stringer for log output.
func (q PrecisionQuantity) String() string {
	return fmt.Sprintf("%g%s±%g", q.Value(), q.unit, q.precisionGrams)
}
