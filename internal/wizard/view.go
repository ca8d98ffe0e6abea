package wizard

import (
	"time"

	"respirakids/internal/model"
)

// View is the step-specific payload of a Snapshot. Exactly one variant exists per Step.
type View interface {
	Step() Step
}

// PhoneStep is shown while the responsible party verifies their phone.
type PhoneStep struct {
	Phone             string    `json:"phone,omitempty"`
	CodeSent          bool      `json:"code_sent"`
	ExpiresAt         time.Time `json:"expires_at,omitempty"`
	AttemptsRemaining int       `json:"attempts_remaining,omitempty"`
}

// AccessDeniedStep closes the wizard for unknown phones and parties without patients.
type AccessDeniedStep struct {
	Reason string `json:"reason"`
}

// PatientStep lists the patients owned by the verified party.
type PatientStep struct {
	Patients []model.Person `json:"patients"`
	Selected string         `json:"selected,omitempty"`
}

// ServiceStep lists the schedule's services.
type ServiceStep struct {
	Services []model.Option `json:"services"`
	Selected string         `json:"selected,omitempty"`
}

// LocationStep lists the schedule's locations.
type LocationStep struct {
	Locations []model.Option `json:"locations"`
	Selected  string         `json:"selected,omitempty"`
}

// CompanyStep lists the schedule's billing companies.
type CompanyStep struct {
	Companies []model.Option `json:"companies"`
	Selected  string         `json:"selected,omitempty"`
}

// SlotStep lists the live available slots. Loaded is false while the list could not be fetched.
type SlotStep struct {
	Slots    []model.Slot `json:"slots"`
	Loaded   bool         `json:"loaded"`
	Selected string       `json:"selected,omitempty"`
}

// ConfirmationStep summarizes the Booking Request before submission.
type ConfirmationStep struct {
	Summary Summary `json:"summary"`
}

// SuccessStep is the terminal booked state.
type SuccessStep struct {
	AppointmentID string `json:"appointment_id"`
}

func (PhoneStep) Step() Step        { return StepVerification }
func (AccessDeniedStep) Step() Step { return StepAccessDenied }
func (PatientStep) Step() Step      { return StepPatient }
func (ServiceStep) Step() Step      { return StepService }
func (LocationStep) Step() Step     { return StepLocation }
func (CompanyStep) Step() Step      { return StepCompany }
func (SlotStep) Step() Step         { return StepSlot }
func (ConfirmationStep) Step() Step { return StepConfirmation }
func (SuccessStep) Step() Step      { return StepSuccess }

// Summary is the human-readable Booking Request.
type Summary struct {
	Professional string    `json:"professional"`
	Patient      string    `json:"patient"`
	Service      string    `json:"service"`
	Location     string    `json:"location,omitempty"`
	Company      string    `json:"company"`
	StartsAt     time.Time `json:"starts_at"`
}

// Notice is a user-facing message produced by the last operation.
type Notice struct {
	Level   string `json:"level"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

const (
	LevelInfo    = "info"
	LevelWarning = "warning"
	LevelError   = "error"
)

// Snapshot is a read-only copy of the wizard for rendering.
type Snapshot struct {
	SessionID  string   `json:"session_id"`
	ScheduleID string   `json:"schedule_id"`
	Step       Step     `json:"step"`
	Prompt     string   `json:"prompt"`
	StepNumber int      `json:"step_number"`
	TotalSteps int      `json:"total_steps"`
	CanGoBack  bool     `json:"can_go_back"`
	Submitting bool     `json:"submitting"`
	View       View     `json:"view"`
	Notices    []Notice `json:"notices,omitempty"`
}
