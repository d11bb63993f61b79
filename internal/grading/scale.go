// Package grading turns raw marks and subject metadata into grades, aggregates and progress remarks.
// Everything in this package is pure: callers load the data and persist the outcome.
package grading

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

const (
	// ScalePercentage is the letter-only A+/A/B+/B/C+/C/F scale.
	ScalePercentage = "percentage"
	// ScaleTenPoint is the S/A/B/C/D/E/F scale carrying 10..0 grade points.
	ScaleTenPoint = "ten_point"
)

var (
	// ErrInvalidFullMarks is returned when a score is graded against a non-positive full marks value.
	ErrInvalidFullMarks = errors.New("grading: full marks must be greater than zero")
	// ErrInvalidScale reports a malformed band table.
	ErrInvalidScale = errors.New("grading: invalid scale")
)

// Band maps every percentage at or above MinPercentage (and below the previous band) to a letter.
type Band struct {
	MinPercentage float64 `json:"min_percentage"`
	Letter        string  `json:"letter"`
	Point         float64 `json:"point"`
}

// Scale is an ordered, validated list of bands evaluated highest threshold first.
type Scale struct {
	name      string
	bands     []Band
	hasPoints bool
}

// NewScale validates bands and builds a Scale. Bands must be strictly descending and end with a
// catch-all band at 0 which is treated as the failing band.
func NewScale(name string, bands []Band) (*Scale, error) {
	if len(bands) == 0 {
		return nil, fmt.Errorf("%w: %s has no bands", ErrInvalidScale, name)
	}
	seen := make(map[string]struct{}, len(bands))
	hasPoints := false
	for i, band := range bands {
		if strings.TrimSpace(band.Letter) == "" {
			return nil, fmt.Errorf("%w: %s band %d has no letter", ErrInvalidScale, name, i)
		}
		if _, ok := seen[band.Letter]; ok {
			return nil, fmt.Errorf("%w: %s repeats letter %q", ErrInvalidScale, name, band.Letter)
		}
		seen[band.Letter] = struct{}{}
		if band.MinPercentage < 0 || band.MinPercentage > 100 {
			return nil, fmt.Errorf("%w: %s band %q threshold %.2f out of range", ErrInvalidScale, name, band.Letter, band.MinPercentage)
		}
		if i > 0 && band.MinPercentage >= bands[i-1].MinPercentage {
			return nil, fmt.Errorf("%w: %s thresholds must be strictly descending at %q", ErrInvalidScale, name, band.Letter)
		}
		if i > 0 && band.Point > bands[i-1].Point {
			return nil, fmt.Errorf("%w: %s points must not increase at %q", ErrInvalidScale, name, band.Letter)
		}
		if band.Point < 0 {
			return nil, fmt.Errorf("%w: %s band %q has negative point", ErrInvalidScale, name, band.Letter)
		}
		if band.Point > 0 {
			hasPoints = true
		}
	}
	if bands[len(bands)-1].MinPercentage != 0 {
		return nil, fmt.Errorf("%w: %s must end with a catch-all band at 0", ErrInvalidScale, name)
	}
	copied := make([]Band, len(bands))
	copy(copied, bands)
	return &Scale{name: name, bands: copied, hasPoints: hasPoints}, nil
}

func mustScale(name string, bands []Band) *Scale {
	scale, err := NewScale(name, bands)
	if err != nil {
		panic(err)
	}
	return scale
}

// PercentageScale returns the letter-only scale used by the simple dialect.
func PercentageScale() *Scale {
	return mustScale(ScalePercentage, []Band{
		{MinPercentage: 90, Letter: "A+"},
		{MinPercentage: 80, Letter: "A"},
		{MinPercentage: 70, Letter: "B+"},
		{MinPercentage: 60, Letter: "B"},
		{MinPercentage: 50, Letter: "C+"},
		{MinPercentage: 40, Letter: "C"},
		{MinPercentage: 0, Letter: "F"},
	})
}

// TenPointScale returns the S..F scale with grade points used by the credit dialect.
func TenPointScale() *Scale {
	return mustScale(ScaleTenPoint, []Band{
		{MinPercentage: 90, Letter: "S", Point: 10},
		{MinPercentage: 80, Letter: "A", Point: 9},
		{MinPercentage: 70, Letter: "B", Point: 8},
		{MinPercentage: 60, Letter: "C", Point: 7},
		{MinPercentage: 55, Letter: "D", Point: 6},
		{MinPercentage: 50, Letter: "E", Point: 5},
		{MinPercentage: 0, Letter: "F", Point: 0},
	})
}

// ScaleByName resolves a preset scale.
func ScaleByName(name string) (*Scale, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case ScalePercentage, "":
		return PercentageScale(), nil
	case ScaleTenPoint, "tenpoint", "10":
		return TenPointScale(), nil
	default:
		return nil, fmt.Errorf("%w: unknown preset %q", ErrInvalidScale, name)
	}
}

// Name returns the scale identifier.
func (s *Scale) Name() string { return s.name }

// HasPoints reports whether bands carry grade points.
func (s *Scale) HasPoints() bool { return s.hasPoints }

// Bands returns a copy of the band table.
func (s *Scale) Bands() []Band {
	out := make([]Band, len(s.bands))
	copy(out, s.bands)
	return out
}

// FailingLetter is the letter of the catch-all band.
func (s *Scale) FailingLetter() string { return s.bands[len(s.bands)-1].Letter }

// Grade converts score out of fullMarks into a letter and grade point.
func (s *Scale) Grade(score, fullMarks float64) (string, float64, error) {
	if fullMarks <= 0 || math.IsNaN(fullMarks) {
		return "", 0, ErrInvalidFullMarks
	}
	letter, point := s.GradeForPercentage(score / fullMarks * 100)
	return letter, point, nil
}

// GradeForPercentage returns the first band whose lower bound is at or below p.
func (s *Scale) GradeForPercentage(p float64) (string, float64) {
	for _, band := range s.bands {
		if p >= band.MinPercentage {
			return band.Letter, band.Point
		}
	}
	last := s.bands[len(s.bands)-1]
	return last.Letter, last.Point
}

// GradeForPoint maps an average grade point back to a letter.
func (s *Scale) GradeForPoint(gpa float64) string {
	for _, band := range s.bands {
		if gpa >= band.Point {
			return band.Letter
		}
	}
	return s.FailingLetter()
}
