package models

// Counter names an account credit counter.
type Counter string

const (
	CounterCredits  Counter = "credits"
	CounterFreeUsed Counter = "free_credits_used"
)

// GuardOp is the comparison a guarded adjustment checks against the counter's
// current value before applying.
type GuardOp int

const (
	GuardNone GuardOp = iota
	GuardGreaterThan
	GuardLessThan
)

// CreditAdjustment adds Delta to Counter, and one to the total-generated
// counter when CountGeneration is set, in a single atomic step that only takes
// effect when the guard holds.
type CreditAdjustment struct {
	Counter         Counter
	Delta           int
	Guard           GuardOp
	GuardValue      int
	CountGeneration bool
}

// Holds reports whether the guard is satisfied by the current counter value.
func (a CreditAdjustment) Holds(current int) bool {
	switch a.Guard {
	case GuardGreaterThan:
		return current > a.GuardValue
	case GuardLessThan:
		return current < a.GuardValue
	default:
		return true
	}
}
