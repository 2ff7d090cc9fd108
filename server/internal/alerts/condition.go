package alerts

import "math"

// equalsTolerance is the absolute tolerance used by Equals.
const equalsTolerance = 0.01

// Holds reports whether value violates threshold under c.
// Unknown conditions never hold.
func (c Condition) Holds(value, threshold float64) bool {
	switch c {
	case GreaterThan:
		return value > threshold
	case LessThan:
		return value < threshold
	case Equals:
		return math.Abs(value-threshold) < equalsTolerance
	default:
		return false
	}
}
