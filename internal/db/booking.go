package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"respirakids/internal/booking"
	"respirakids/internal/model"

	"github.com/mattn/go-sqlite3"
)

// ClaimSlot flips the slot to unavailable and inserts the appointment in one transaction.
// The flip is conditional on available = 1, so of N concurrent claims exactly one affects a row.
func (db *DB) ClaimSlot(ctx context.Context, c booking.Claim) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin claim: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	req := c.Request
	res, err := tx.ExecContext(ctx, `
        UPDATE slots SET available = 0, updated_at = ?
        WHERE id = ? AND schedule_id = ? AND available = 1`,
		c.CreatedAt, req.SlotID, req.ScheduleID,
	)
	if err != nil {
		return fmt.Errorf("flip slot %s: %w", req.SlotID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("flip slot %s: %w", req.SlotID, err)
	}
	if n == 0 {
		return booking.ErrSlotUnavailable
	}

	_, err = tx.ExecContext(ctx, `
        INSERT INTO appointments (
            id, slot_id, schedule_id, patient_id, responsible_id, responsible_phone,
            service_id, location_id, company_id, status_id, payment_status_id, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.AppointmentID, req.SlotID, req.ScheduleID, req.PatientID, req.ResponsibleID, req.ResponsiblePhone,
		req.ServiceID, nullString(req.LocationID), req.CompanyID, c.Statuses.Scheduled, c.Statuses.PendingPayment, c.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return booking.ErrSlotUnavailable
		}
		return fmt.Errorf("insert appointment: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit claim: %w", err)
	}
	return nil
}

// ResolveStatusIDs looks up the appointment and payment statuses by code.
func (db *DB) ResolveStatusIDs(ctx context.Context, appointmentKey, paymentKey string) (model.StatusIDs, error) {
	var ids model.StatusIDs

	err := db.QueryRowContext(ctx, `SELECT id FROM appointment_statuses WHERE code = ?`, appointmentKey).Scan(&ids.Scheduled)
	if errors.Is(err, sql.ErrNoRows) {
		return ids, fmt.Errorf("appointment status %q: %w", appointmentKey, model.ErrNotFound)
	}
	if err != nil {
		return ids, fmt.Errorf("appointment status %q: %w", appointmentKey, err)
	}

	err = db.QueryRowContext(ctx, `SELECT id FROM payment_statuses WHERE code = ?`, paymentKey).Scan(&ids.PendingPayment)
	if errors.Is(err, sql.ErrNoRows) {
		return ids, fmt.Errorf("payment status %q: %w", paymentKey, model.ErrNotFound)
	}
	if err != nil {
		return ids, fmt.Errorf("payment status %q: %w", paymentKey, err)
	}

	return ids, nil
}

// GetAppointmentBySlot returns the appointment holding a slot.
func (db *DB) GetAppointmentBySlot(ctx context.Context, slotID string) (*model.Appointment, error) {
	var (
		a        model.Appointment
		location sql.NullString
	)
	err := db.QueryRowContext(ctx, `
        SELECT id, slot_id, schedule_id, patient_id, responsible_id, responsible_phone,
               service_id, location_id, company_id, status_id, payment_status_id, created_at
        FROM appointments WHERE slot_id = ?`, slotID,
	).Scan(&a.ID, &a.SlotID, &a.ScheduleID, &a.PatientID, &a.ResponsibleID, &a.ResponsiblePhone,
		&a.ServiceID, &location, &a.CompanyID, &a.StatusID, &a.PaymentStatusID, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get appointment by slot: %w", err)
	}
	a.LocationID = location.String
	return &a, nil
}

// SlotAvailable reports the availability flag of a slot.
func (db *DB) SlotAvailable(ctx context.Context, slotID string) (bool, error) {
	var available bool
	err := db.QueryRowContext(ctx, `SELECT available FROM slots WHERE id = ?`, slotID).Scan(&available)
	if errors.Is(err, sql.ErrNoRows) {
		return false, model.ErrNotFound
	}
	return available, err
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
