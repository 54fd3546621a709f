package models

import (
	"errors"
	"fmt"
	"time"
)

// Step is one of the five fixed stages of order fulfillment
type Step string

// Timeline steps in their fixed order
const (
	StepOrderPlaced     Step = "orderPlaced"
	StepOnboardingForm  Step = "onboardingForm"
	StepOrderInProgress Step = "orderInProgress"
	StepReviewDelivery  Step = "reviewDelivery"
	StepOrderComplete   Step = "orderComplete"
)

// Steps lists the timeline steps in order
var Steps = []Step{
	StepOrderPlaced,
	StepOnboardingForm,
	StepOrderInProgress,
	StepReviewDelivery,
	StepOrderComplete,
}

var stepLabels = map[Step]string{
	StepOrderPlaced:     "Order Placed",
	StepOnboardingForm:  "Onboarding Form",
	StepOrderInProgress: "Order In Progress",
	StepReviewDelivery:  "Review & Delivery",
	StepOrderComplete:   "Order Complete",
}

// Step statuses
const (
	StepPending         = "pending"
	StepPendingApproval = "pending_approval"
	StepCompleted       = "completed"
)

// ProgressPerStep is the progress gained by each completed step
const ProgressPerStep = 20

var (
	ErrUnknownStep       = errors.New("unknown timeline step")
	ErrInvalidTransition = errors.New("invalid timeline transition")
)

// transitions maps a step to the allowed status changes (from -> to)
var transitions = map[Step]map[string][]string{
	StepOrderPlaced:     {StepPending: {StepCompleted}},
	StepOnboardingForm:  {StepPending: {StepPendingApproval}, StepPendingApproval: {StepCompleted, StepPending}},
	StepOrderInProgress: {StepPending: {StepCompleted}},
	StepReviewDelivery:  {StepPending: {StepCompleted}},
	StepOrderComplete:   {StepPending: {StepCompleted}},
}

// ParseStep validates a step name
func ParseStep(name string) (Step, error) {
	step := Step(name)
	if _, ok := stepLabels[step]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownStep, name)
	}
	return step, nil
}

// Label returns the human readable step name
func (s Step) Label() string {
	return stepLabels[s]
}

// StepState is the state of a single timeline step
type StepState struct {
	Status    string     `json:"status"`
	Date      *time.Time `json:"date"`
	Completed bool       `json:"completed"`
}

// OrderTimeline is the five step fulfillment timeline of an order
type OrderTimeline struct {
	OrderPlaced     StepState `json:"orderPlaced"`
	OnboardingForm  StepState `json:"onboardingForm"`
	OrderInProgress StepState `json:"orderInProgress"`
	ReviewDelivery  StepState `json:"reviewDelivery"`
	OrderComplete   StepState `json:"orderComplete"`
}

// NewOrderTimeline returns a timeline with every step pending
func NewOrderTimeline() OrderTimeline {
	pending := StepState{Status: StepPending}
	return OrderTimeline{
		OrderPlaced:     pending,
		OnboardingForm:  pending,
		OrderInProgress: pending,
		ReviewDelivery:  pending,
		OrderComplete:   pending,
	}
}

// Clone returns a copy that shares no mutable state
func (t OrderTimeline) Clone() OrderTimeline {
	out := t
	for _, step := range Steps {
		st := out.state(step)
		if st.Date != nil {
			d := *st.Date
			st.Date = &d
		}
	}
	return out
}

func (t *OrderTimeline) state(step Step) *StepState {
	switch step {
	case StepOrderPlaced:
		return &t.OrderPlaced
	case StepOnboardingForm:
		return &t.OnboardingForm
	case StepOrderInProgress:
		return &t.OrderInProgress
	case StepReviewDelivery:
		return &t.ReviewDelivery
	case StepOrderComplete:
		return &t.OrderComplete
	}
	return nil
}

// State returns the state of a step
func (t OrderTimeline) State(step Step) (StepState, error) {
	st := t.state(step)
	if st == nil {
		return StepState{}, fmt.Errorf("%w: %q", ErrUnknownStep, step)
	}
	return *st, nil
}

// Transition moves a step to a new status. A step can only be completed
// once every earlier step is completed.
func (t *OrderTimeline) Transition(step Step, to string, at time.Time) error {
	st := t.state(step)
	if st == nil {
		return fmt.Errorf("%w: %q", ErrUnknownStep, step)
	}

	allowed := false
	for _, target := range transitions[step][st.Status] {
		if target == to {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("%w: %s %s -> %s", ErrInvalidTransition, step, st.Status, to)
	}

	if to == StepCompleted {
		for _, prev := range Steps {
			if prev == step {
				break
			}
			if !t.state(prev).Completed {
				return fmt.Errorf("%w: %s before %s", ErrInvalidTransition, step, prev)
			}
		}
	}

	st.Status = to
	st.Completed = to == StepCompleted
	if to == StepPending {
		st.Date = nil
	} else {
		d := at
		st.Date = &d
	}
	return nil
}

// CompletedCount returns the number of completed steps
func (t OrderTimeline) CompletedCount() int {
	n := 0
	for _, step := range Steps {
		if t.state(step).Completed {
			n++
		}
	}
	return n
}

// Progress returns min(20 x completed steps, 100)
func (t OrderTimeline) Progress() int {
	p := ProgressPerStep * t.CompletedCount()
	if p > 100 {
		p = 100
	}
	return p
}

// IsComplete reports whether every step is completed
func (t OrderTimeline) IsComplete() bool {
	return t.CompletedCount() == len(Steps)
}

// Phase returns the label of the first unfinished step and of the step after it
func (t OrderTimeline) Phase() (current, next string) {
	for i, step := range Steps {
		if t.state(step).Completed {
			continue
		}
		current = step.Label()
		if i+1 < len(Steps) {
			next = Steps[i+1].Label()
		}
		return current, next
	}
	return StepOrderComplete.Label(), ""
}

// ApplyTimeline recomputes the derived project fields from its milestones
func (p *CustomerProject) ApplyTimeline() {
	p.Progress = p.Milestones.Progress()
	p.CurrentPhase, p.NextMilestone = p.Milestones.Phase()
}
