package grading

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPercentageScaleBoundaries(t *testing.T) {
	scale := PercentageScale()

	cases := []struct {
		percentage float64
		letter     string
	}{
		{100, "A+"},
		{90, "A+"},
		{89.99, "A"},
		{85, "A"},
		{80, "A"},
		{79.99, "B+"},
		{60, "B"},
		{50, "C+"},
		{40, "C"},
		{39.99, "F"},
		{0, "F"},
	}
	for _, tc := range cases {
		letter, point := scale.GradeForPercentage(tc.percentage)
		assert.Equal(t, tc.letter, letter, "percentage %.2f", tc.percentage)
		assert.Zero(t, point)
	}
	assert.False(t, scale.HasPoints())
	assert.Equal(t, "F", scale.FailingLetter())
}

func TestTenPointScaleBoundaries(t *testing.T) {
	scale := TenPointScale()

	letter, point := scale.GradeForPercentage(90)
	assert.Equal(t, "S", letter)
	assert.Equal(t, 10.0, point)

	letter, point = scale.GradeForPercentage(89.99)
	assert.Equal(t, "A", letter)
	assert.Equal(t, 9.0, point)

	letter, point = scale.GradeForPercentage(55)
	assert.Equal(t, "D", letter)
	assert.Equal(t, 6.0, point)

	letter, point = scale.GradeForPercentage(49.5)
	assert.Equal(t, "F", letter)
	assert.Zero(t, point)

	assert.True(t, scale.HasPoints())
	assert.Equal(t, "C", scale.GradeForPoint(7.14))
	assert.Equal(t, "S", scale.GradeForPoint(10))
	assert.Equal(t, "F", scale.GradeForPoint(3.2))
}

func TestScaleGradeAgainstFullMarks(t *testing.T) {
	scale := TenPointScale()

	letter, point, err := scale.Grade(45, 50)
	require.NoError(t, err)
	assert.Equal(t, "S", letter)
	assert.Equal(t, 10.0, point)

	_, _, err = scale.Grade(10, 0)
	assert.ErrorIs(t, err, ErrInvalidFullMarks)

	_, _, err = scale.Grade(10, -5)
	assert.ErrorIs(t, err, ErrInvalidFullMarks)
}

func TestNewScaleRejectsMalformedBands(t *testing.T) {
	_, err := NewScale("empty", nil)
	assert.ErrorIs(t, err, ErrInvalidScale)

	_, err = NewScale("ascending", []Band{{MinPercentage: 40, Letter: "P"}, {MinPercentage: 60, Letter: "Q"}, {MinPercentage: 0, Letter: "F"}})
	assert.ErrorIs(t, err, ErrInvalidScale)

	_, err = NewScale("duplicate", []Band{{MinPercentage: 50, Letter: "P"}, {MinPercentage: 50, Letter: "Q"}, {MinPercentage: 0, Letter: "F"}})
	assert.ErrorIs(t, err, ErrInvalidScale)

	_, err = NewScale("gap", []Band{{MinPercentage: 50, Letter: "P"}, {MinPercentage: 10, Letter: "F"}})
	assert.ErrorIs(t, err, ErrInvalidScale)

	_, err = NewScale("range", []Band{{MinPercentage: 120, Letter: "P"}, {MinPercentage: 0, Letter: "F"}})
	assert.ErrorIs(t, err, ErrInvalidScale)

	scale, err := NewScale("pass-fail", []Band{{MinPercentage: 50, Letter: "P", Point: 1}, {MinPercentage: 0, Letter: "F"}})
	require.NoError(t, err)
	assert.Equal(t, "pass-fail", scale.Name())
	assert.Len(t, scale.Bands(), 2)
}

func TestScaleByName(t *testing.T) {
	scale, err := ScaleByName("ten_point")
	require.NoError(t, err)
	assert.Equal(t, ScaleTenPoint, scale.Name())

	scale, err = ScaleByName("")
	require.NoError(t, err)
	assert.Equal(t, ScalePercentage, scale.Name())

	_, err = ScaleByName("gpa4")
	assert.ErrorIs(t, err, ErrInvalidScale)
}
