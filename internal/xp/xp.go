// Package xp credits experience points for finished quiz attempts.
package xp

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/victornm/quizxp/internal/domain"
)

var (
	hundred        = decimal.NewFromInt(100)
	multiplierHard = decimal.RequireFromString("1.3")
	multiplierEasy = decimal.RequireFromString("0.8")
)

// Compute returns the XP earned by an attempt: the score, clamped to [0, 1],
// as a rounded percentage, scaled by the difficulty multiplier and rounded
// again. Halves round away from zero. The score is read at its shortest
// decimal form, so 0.145 is 14.5 and rounds to 15.
func Compute(score float64, difficulty domain.Difficulty) int64 {
	base := decimal.NewFromFloat(clamp(score)).Mul(hundred).Round(0)
	return base.Mul(multiplier(difficulty)).Round(0).IntPart()
}

func multiplier(d domain.Difficulty) decimal.Decimal {
	switch d {
	case domain.DifficultyHard:
		return multiplierHard
	case domain.DifficultyEasy:
		return multiplierEasy
	default:
		return decimal.NewFromInt(1)
	}
}

func clamp(score float64) float64 {
	if math.IsNaN(score) {
		return 0
	}

	return math.Max(0, math.Min(1, score))
}
