package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"respirakids/internal/model"
)

// GetSchedule loads a shared schedule with its active candidate sets.
func (db *DB) GetSchedule(ctx context.Context, id string) (*model.Schedule, error) {
	var (
		s         model.Schedule
		specialty sql.NullString
	)
	err := db.QueryRowContext(ctx, `
        SELECT id, title, professional_id, professional_name, specialty, is_active
        FROM shared_schedules
        WHERE id = ?`, id,
	).Scan(&s.ID, &s.Title, &s.ProfessionalID, &s.ProfessionalName, &specialty, &s.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("schedule %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get schedule %s: %w", id, err)
	}
	s.Specialty = specialty.String

	if s.Services, err = db.listOptions(ctx, "services", "schedule_services", "service_id", id); err != nil {
		return nil, err
	}
	if s.Locations, err = db.listOptions(ctx, "locations", "schedule_locations", "location_id", id); err != nil {
		return nil, err
	}
	if s.Companies, err = db.listOptions(ctx, "companies", "schedule_companies", "company_id", id); err != nil {
		return nil, err
	}

	return &s, nil
}

// listOptions reads one candidate set. Table names are package constants, never user input.
func (db *DB) listOptions(ctx context.Context, table, joinTable, fk, scheduleID string) ([]model.Option, error) {
	query := fmt.Sprintf(`
        SELECT o.id, o.name, COALESCE(o.detail, '')
        FROM %s o
        JOIN %s j ON j.%s = o.id
        WHERE j.schedule_id = ? AND o.is_active = 1
        ORDER BY o.name`, table, joinTable, fk)

	rows, err := db.QueryContext(ctx, query, scheduleID)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", table, err)
	}
	defer rows.Close()

	var options []model.Option
	for rows.Next() {
		var o model.Option
		if err := rows.Scan(&o.ID, &o.Name, &o.Detail); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		options = append(options, o)
	}
	return options, rows.Err()
}

// ListAvailableSlots returns the schedule's slots still available and starting after from.
func (db *DB) ListAvailableSlots(ctx context.Context, scheduleID string, from time.Time) ([]model.Slot, error) {
	rows, err := db.QueryContext(ctx, `
        SELECT id, schedule_id, starts_at, available
        FROM slots
        WHERE schedule_id = ? AND available = 1 AND starts_at > ?
        ORDER BY starts_at`, scheduleID, from.UTC())
	if err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}
	defer rows.Close()

	var result []model.Slot
	for rows.Next() {
		var s model.Slot
		if err := rows.Scan(&s.ID, &s.ScheduleID, &s.StartsAt, &s.Available); err != nil {
			return nil, fmt.Errorf("scan slot: %w", err)
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

// FindResponsibleByPhone resolves a normalized phone to an active person.
func (db *DB) FindResponsibleByPhone(ctx context.Context, phone string) (*model.Person, error) {
	var p model.Person
	err := db.QueryRowContext(ctx, `
        SELECT id, name, phone FROM people
        WHERE phone = ? AND is_active = 1`, phone,
	).Scan(&p.ID, &p.Name, &p.Phone)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find responsible: %w", err)
	}
	return &p, nil
}

// ListPatients returns the active patients owned by a responsible party.
func (db *DB) ListPatients(ctx context.Context, responsibleID string) ([]model.Person, error) {
	rows, err := db.QueryContext(ctx, `
        SELECT p.id, p.name
        FROM people p
        JOIN patient_responsibles pr ON pr.patient_id = p.id
        WHERE pr.responsible_id = ? AND p.is_active = 1
        ORDER BY p.name`, responsibleID)
	if err != nil {
		return nil, fmt.Errorf("list patients: %w", err)
	}
	defer rows.Close()

	var patients []model.Person
	for rows.Next() {
		var p model.Person
		if err := rows.Scan(&p.ID, &p.Name); err != nil {
			return nil, fmt.Errorf("scan patient: %w", err)
		}
		patients = append(patients, p)
	}
	return patients, rows.Err()
}

// PruneSlots deletes available slots that started before cutoff. Claimed slots are kept with their
// appointments.
func (db *DB) PruneSlots(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := db.ExecContext(ctx, `
        DELETE FROM slots
        WHERE available = 1 AND starts_at < ?
          AND NOT EXISTS (SELECT 1 FROM appointments a WHERE a.slot_id = slots.id)`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune slots: %w", err)
	}
	return res.RowsAffected()
}
