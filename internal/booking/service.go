// Package booking implements the atomic "claim slot + create appointment" transaction.
package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"respirakids/internal/events"
	"respirakids/internal/metrics"
	"respirakids/internal/model"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("respirakids.internal.booking")

// Claim is everything a Store needs to flip a slot and insert the appointment.
type Claim struct {
	AppointmentID string
	Request       model.BookingRequest
	Statuses      model.StatusIDs
	CreatedAt     time.Time
}

// Store is the Slot Store side of the transaction.
//
// ClaimSlot must flip the slot from available to unavailable with a conditional write and insert the
// appointment in the same atomic unit. When the slot is not available at write time it returns
// ErrSlotUnavailable and leaves no trace.
type Store interface {
	ClaimSlot(ctx context.Context, claim Claim) error
	ResolveStatusIDs(ctx context.Context, appointmentKey, paymentKey string) (model.StatusIDs, error)
}

// Publisher receives domain events.
type Publisher interface {
	Publish(event events.Event) error
}

// BookedPayload is the body of the appointment.booked event.
type BookedPayload struct {
	AppointmentID string    `json:"appointment_id"`
	ScheduleID    string    `json:"schedule_id"`
	SlotID        string    `json:"slot_id"`
	PatientID     string    `json:"patient_id"`
	ResponsibleID string    `json:"responsible_id"`
	BookedAt      time.Time `json:"booked_at"`
}

// Service runs booking transactions against a Store.
type Service struct {
	store     Store
	publisher Publisher
	logger    zerolog.Logger

	scheduledKey string
	pendingKey   string

	now   func() time.Time
	newID func() string
}

// NewService creates a booking service. publisher may be nil.
func NewService(store Store, publisher Publisher, logger *zerolog.Logger) *Service {
	return &Service{
		store:        store,
		publisher:    publisher,
		logger:       logger.With().Str("component", "booking").Logger(),
		scheduledKey: model.AppointmentStatusScheduled,
		pendingKey:   model.PaymentStatusPending,
		now:          time.Now,
		newID:        uuid.NewString,
	}
}

// SetStatusKeys overrides the status keys looked up by ResolveStatuses.
func (s *Service) SetStatusKeys(scheduled, pending string) {
	if scheduled != "" {
		s.scheduledKey = scheduled
	}
	if pending != "" {
		s.pendingKey = pending
	}
}

// ResolveStatuses looks up the initial appointment and payment status identifiers.
func (s *Service) ResolveStatuses(ctx context.Context) (model.StatusIDs, error) {
	ids, err := s.store.ResolveStatusIDs(ctx, s.scheduledKey, s.pendingKey)
	if err != nil {
		return model.StatusIDs{}, fmt.Errorf("resolve statuses %s/%s: %w", s.scheduledKey, s.pendingKey, err)
	}
	if !ids.Complete() {
		return model.StatusIDs{}, fmt.Errorf("resolve statuses %s/%s: %w", s.scheduledKey, s.pendingKey, model.ErrNotFound)
	}
	return ids, nil
}

// BookSlot claims the requested slot and creates the appointment. It never returns an error:
// every losing or failing path is a Result with Success=false and a Reason.
func (s *Service) BookSlot(ctx context.Context, req model.BookingRequest, statuses model.StatusIDs) Result {
	ctx, span := tracer.Start(ctx, "booking.BookSlot")
	defer span.End()
	span.SetAttributes(
		attribute.String("booking.schedule_id", req.ScheduleID),
		attribute.String("booking.slot_id", req.SlotID),
	)

	started := time.Now()
	defer func() { metrics.ObserveBookingDuration(time.Since(started).Seconds()) }()

	log := s.logger.With().Str("schedule_id", req.ScheduleID).Str("slot_id", req.SlotID).Logger()

	if missing := req.MissingFields(); len(missing) > 0 {
		metrics.IncBookingAttempt(string(ReasonInvalidRequest))
		return failed(ReasonInvalidRequest, "missing fields: "+strings.Join(missing, ", "))
	}
	if !statuses.Complete() {
		metrics.IncBookingAttempt(string(ReasonInvalidRequest))
		return failed(ReasonInvalidRequest, "status identifiers are not resolved")
	}

	claim := Claim{
		AppointmentID: s.newID(),
		Request:       req,
		Statuses:      statuses,
		CreatedAt:     s.now().UTC(),
	}

	err := s.store.ClaimSlot(ctx, claim)
	switch {
	case errors.Is(err, ErrSlotUnavailable):
		span.SetAttributes(attribute.Bool("booking.conflict", true))
		metrics.IncBookingAttempt(string(ReasonSlotUnavailable))
		log.Info().Msg("slot lost to a concurrent booking")
		return failed(ReasonSlotUnavailable, ErrSlotUnavailable.Error())
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, "claim slot")
		metrics.IncBookingAttempt(string(ReasonInternal))
		log.Error().Err(err).Msg("claim slot failed")
		return failed(ReasonInternal, "could not create the appointment, try again")
	}

	span.SetAttributes(attribute.String("booking.appointment_id", claim.AppointmentID))
	metrics.IncBookingAttempt("success")
	log.Info().Str("appointment_id", claim.AppointmentID).Str("patient_id", req.PatientID).Msg("appointment booked")

	s.publishBooked(claim, &log)

	return succeeded(claim.AppointmentID)
}

func (s *Service) publishBooked(claim Claim, log *zerolog.Logger) {
	if s.publisher == nil {
		return
	}
	ev, err := events.NewEvent(events.AppointmentBooked, BookedPayload{
		AppointmentID: claim.AppointmentID,
		ScheduleID:    claim.Request.ScheduleID,
		SlotID:        claim.Request.SlotID,
		PatientID:     claim.Request.PatientID,
		ResponsibleID: claim.Request.ResponsibleID,
		BookedAt:      claim.CreatedAt,
	})
	if err == nil {
		err = s.publisher.Publish(ev)
	}
	if err != nil {
		log.Warn().Err(err).Msg("publish appointment.booked failed")
	}
}
