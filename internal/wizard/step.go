// Package wizard implements the shared-schedule selection wizard and its conflict recovery.
package wizard

// Step identifies a wizard state.
type Step string

const (
	StepVerification Step = "whatsapp-validation"
	StepAccessDenied Step = "access-denied"
	StepPatient      Step = "select-patient"
	StepService      Step = "select-service"
	StepLocation     Step = "select-location"
	StepCompany      Step = "select-company"
	StepSlot         Step = "select-slot"
	StepConfirmation Step = "confirmation"
	StepSuccess      Step = "success"
)

// selectionOrder is the full path after verification, before any skipping.
var selectionOrder = []Step{
	StepPatient,
	StepService,
	StepLocation,
	StepCompany,
	StepSlot,
	StepConfirmation,
}

// Terminal reports whether no transition leaves the step.
func (s Step) Terminal() bool {
	return s == StepAccessDenied || s == StepSuccess
}

// Cardinalities are the candidate set sizes of a schedule.
type Cardinalities struct {
	Services  int
	Locations int
	Companies int
}

// Skips reports whether step is collapsed because its candidate set has exactly one member.
func (c Cardinalities) Skips(step Step) bool {
	switch step {
	case StepService:
		return c.Services == 1
	case StepLocation:
		return c.Locations == 1
	case StepCompany:
		return c.Companies == 1
	}
	return false
}

func indexOf(step Step) int {
	for i, s := range selectionOrder {
		if s == step {
			return i
		}
	}
	return -1
}

// NextStep returns the step that follows step on the path compressed by c.
// Terminal steps return themselves.
func NextStep(step Step, c Cardinalities) Step {
	switch step {
	case StepVerification:
		return StepPatient
	case StepConfirmation:
		return StepSuccess
	}
	i := indexOf(step)
	if i < 0 {
		return step
	}
	for j := i + 1; j < len(selectionOrder); j++ {
		if !c.Skips(selectionOrder[j]) {
			return selectionOrder[j]
		}
	}
	return step
}

// PrevStep mirrors NextStep. It never lands on a skipped step and returns step unchanged
// where going back is not possible.
func PrevStep(step Step, c Cardinalities) Step {
	i := indexOf(step)
	if i <= 0 {
		return step
	}
	for j := i - 1; j >= 0; j-- {
		if !c.Skips(selectionOrder[j]) {
			return selectionOrder[j]
		}
	}
	return step
}

// Path lists the selection steps that will actually be shown.
func Path(c Cardinalities) []Step {
	path := make([]Step, 0, len(selectionOrder))
	for _, s := range selectionOrder {
		if !c.Skips(s) {
			path = append(path, s)
		}
	}
	return path
}

// Progress returns the 1-based position of step on the compressed path and the path length.
// Verification and access-denied report 0; success reports the total.
func Progress(step Step, c Cardinalities) (stepNumber, totalSteps int) {
	path := Path(c)
	totalSteps = len(path)

	switch step {
	case StepVerification, StepAccessDenied:
		return 0, totalSteps
	case StepSuccess:
		return totalSteps, totalSteps
	}

	i := indexOf(step)
	if i < 0 {
		return 0, totalSteps
	}
	for _, s := range selectionOrder[:i+1] {
		if !c.Skips(s) {
			stepNumber++
		}
	}
	return stepNumber, totalSteps
}
