// Package funnel defines the checkout funnel taxonomy.
//
// The five-step funnel is fixed platform-wide: cart, login, profile,
// shipping, payment. Typical dwell times per step calibrate stall
// detection in risk scoring.
package funnel

import "time"

// Step is a stage of the checkout funnel, in order.
type Step string

const (
	StepCart     Step = "cart"
	StepLogin    Step = "login"
	StepProfile  Step = "profile"
	StepShipping Step = "shipping"
	StepPayment  Step = "payment"
)

// Steps lists the funnel stages in checkout order.
var Steps = []Step{StepCart, StepLogin, StepProfile, StepShipping, StepPayment}

// Index returns the zero-based position of a step in the funnel,
// or -1 for an unknown step.
func Index(s Step) int {
	for i, step := range Steps {
		if step == s {
			return i
		}
	}
	return -1
}

// Valid reports whether s names a funnel step.
func Valid(s Step) bool { return Index(s) >= 0 }

// TypicalDuration returns the expected dwell time on a step, used to
// detect sessions stalled far longer than normal.
func TypicalDuration(s Step) time.Duration {
	switch s {
	case StepCart:
		return 60 * time.Second
	case StepLogin:
		return 45 * time.Second
	case StepProfile:
		return 90 * time.Second
	case StepShipping:
		return 75 * time.Second
	case StepPayment:
		return 120 * time.Second
	default:
		return 60 * time.Second
	}
}

// TypicalCheckoutDuration is the expected end-to-end checkout time, the
// sum of every step's typical duration.
func TypicalCheckoutDuration() time.Duration {
	var total time.Duration
	for _, s := range Steps {
		total += TypicalDuration(s)
	}
	return total
}
