package model

import (
	"strings"
	"time"
)

// Status keys seeded into the status tables.
const (
	AppointmentStatusScheduled = "scheduled"
	PaymentStatusPending       = "pending"
)

// BookingRequest accumulates the wizard selections.
type BookingRequest struct {
	ScheduleID       string `json:"schedule_id"`
	SlotID           string `json:"slot_id"`
	PatientID        string `json:"patient_id"`
	ResponsibleID    string `json:"responsible_id"`
	ResponsiblePhone string `json:"responsible_phone"`
	ServiceID        string `json:"service_id"`
	LocationID       string `json:"location_id,omitempty"`
	CompanyID        string `json:"company_id"`
}

// MissingFields lists required fields that are still empty. LocationID is optional.
func (r BookingRequest) MissingFields() []string {
	var missing []string
	check := func(name, value string) {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, name)
		}
	}
	check("schedule_id", r.ScheduleID)
	check("slot_id", r.SlotID)
	check("patient_id", r.PatientID)
	check("responsible_id", r.ResponsibleID)
	check("responsible_phone", r.ResponsiblePhone)
	check("service_id", r.ServiceID)
	check("company_id", r.CompanyID)
	return missing
}

// StatusIDs are the initial status identifiers assigned to a new appointment.
type StatusIDs struct {
	Scheduled      string `json:"scheduled"`
	PendingPayment string `json:"pending_payment"`
}

// Complete reports whether both ids were resolved.
func (s StatusIDs) Complete() bool {
	return s.Scheduled != "" && s.PendingPayment != ""
}

// Appointment is the record created by a successful slot claim.
type Appointment struct {
	ID               string    `json:"id"`
	ScheduleID       string    `json:"schedule_id"`
	SlotID           string    `json:"slot_id"`
	PatientID        string    `json:"patient_id"`
	ResponsibleID    string    `json:"responsible_id"`
	ResponsiblePhone string    `json:"responsible_phone"`
	ServiceID        string    `json:"service_id"`
	LocationID       string    `json:"location_id,omitempty"`
	CompanyID        string    `json:"company_id"`
	StatusID         string    `json:"status_id"`
	PaymentStatusID  string    `json:"payment_status_id"`
	CreatedAt        time.Time `json:"created_at"`
}
