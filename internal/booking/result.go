package booking

import "errors"

// ErrSlotUnavailable is returned by a Store when the slot was already claimed.
var ErrSlotUnavailable = errors.New("slot is no longer available")

// FailureReason classifies a failed booking for control flow. Error text is for display only.
type FailureReason string

const (
	ReasonSlotUnavailable FailureReason = "slot_unavailable"
	ReasonInvalidRequest  FailureReason = "invalid_request"
	ReasonInternal        FailureReason = "internal"
)

// ResultData is the payload of a successful booking.
type ResultData struct {
	AppointmentID string `json:"appointment_id"`
}

// Result is the structured outcome of BookSlot.
type Result struct {
	Success bool          `json:"success"`
	Data    *ResultData   `json:"data,omitempty"`
	Error   string        `json:"error,omitempty"`
	Reason  FailureReason `json:"reason,omitempty"`
}

// Conflict reports whether the slot was lost to a concurrent booking.
func (r Result) Conflict() bool {
	return !r.Success && r.Reason == ReasonSlotUnavailable
}

// AppointmentID returns the created appointment id or "".
func (r Result) AppointmentID() string {
	if r.Data == nil {
		return ""
	}
	return r.Data.AppointmentID
}

func succeeded(appointmentID string) Result {
	return Result{Success: true, Data: &ResultData{AppointmentID: appointmentID}}
}

func failed(reason FailureReason, message string) Result {
	return Result{Success: false, Error: message, Reason: reason}
}
