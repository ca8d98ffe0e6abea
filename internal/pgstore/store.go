// Package pgstore is the PostgreSQL Slot Store.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"respirakids/internal/booking"
	"respirakids/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

// querier is satisfied by *pgxpool.Pool and pgxmock pools.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements the slot store on PostgreSQL.
type Store struct {
	pool querier
}

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn string) (*pgxpool.Pool, *Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("pgstore: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("pgstore: ping: %w", err)
	}
	return pool, New(pool), nil
}

// New wraps an existing pool.
func New(pool *pgxpool.Pool) *Store {
	if pool == nil {
		panic("pgstore: pgx pool required")
	}
	return &Store{pool: pool}
}

func newStoreWithQuerier(q querier) *Store {
	if q == nil {
		panic("pgstore: querier required")
	}
	return &Store{pool: q}
}

// ClaimSlot flips the slot and inserts the appointment in a single statement.
// The INSERT only sees a row when the conditional UPDATE matched, so exactly one concurrent claim wins.
func (s *Store) ClaimSlot(ctx context.Context, c booking.Claim) error {
	req := c.Request
	query := `
		WITH claimed AS (
			UPDATE slots SET available = false, updated_at = $12
			WHERE id = $1 AND schedule_id = $2 AND available = true
			RETURNING id
		)
		INSERT INTO appointments (
			id, slot_id, schedule_id, patient_id, responsible_id, responsible_phone,
			service_id, location_id, company_id, status_id, payment_status_id, created_at)
		SELECT $3, claimed.id, $2, $4, $5, $6, $7, $8, $9, $10, $11, $12
		FROM claimed
	`
	var location *string
	if req.LocationID != "" {
		location = &req.LocationID
	}

	ct, err := s.pool.Exec(ctx, query,
		req.SlotID, req.ScheduleID, c.AppointmentID, req.PatientID, req.ResponsibleID, req.ResponsiblePhone,
		req.ServiceID, location, req.CompanyID, c.Statuses.Scheduled, c.Statuses.PendingPayment, c.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return booking.ErrSlotUnavailable
		}
		return fmt.Errorf("pgstore: claim slot: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return booking.ErrSlotUnavailable
	}
	return nil
}

// ResolveStatusIDs looks up the appointment and payment statuses by code.
func (s *Store) ResolveStatusIDs(ctx context.Context, appointmentKey, paymentKey string) (model.StatusIDs, error) {
	var ids model.StatusIDs
	if err := s.pool.QueryRow(ctx, `SELECT id FROM appointment_statuses WHERE code = $1`, appointmentKey).Scan(&ids.Scheduled); err != nil {
		return ids, notFound(fmt.Sprintf("appointment status %q", appointmentKey), err)
	}
	if err := s.pool.QueryRow(ctx, `SELECT id FROM payment_statuses WHERE code = $1`, paymentKey).Scan(&ids.PendingPayment); err != nil {
		return ids, notFound(fmt.Sprintf("payment status %q", paymentKey), err)
	}
	return ids, nil
}

// GetSchedule loads a shared schedule with its active candidate sets.
func (s *Store) GetSchedule(ctx context.Context, id string) (*model.Schedule, error) {
	var (
		sched     model.Schedule
		specialty *string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, title, professional_id, professional_name, specialty, is_active
		FROM shared_schedules WHERE id = $1`, id,
	).Scan(&sched.ID, &sched.Title, &sched.ProfessionalID, &sched.ProfessionalName, &specialty, &sched.IsActive)
	if err != nil {
		return nil, notFound("schedule "+id, err)
	}
	if specialty != nil {
		sched.Specialty = *specialty
	}

	for _, set := range []struct {
		query string
		dst   *[]model.Option
	}{
		{listServices, &sched.Services},
		{listLocations, &sched.Locations},
		{listCompanies, &sched.Companies},
	} {
		if *set.dst, err = s.listOptions(ctx, set.query, id); err != nil {
			return nil, err
		}
	}
	return &sched, nil
}

const (
	listServices = `
		SELECT o.id, o.name, COALESCE(o.detail, '') FROM services o
		JOIN schedule_services j ON j.service_id = o.id
		WHERE j.schedule_id = $1 AND o.is_active ORDER BY o.name`
	listLocations = `
		SELECT o.id, o.name, COALESCE(o.detail, '') FROM locations o
		JOIN schedule_locations j ON j.location_id = o.id
		WHERE j.schedule_id = $1 AND o.is_active ORDER BY o.name`
	listCompanies = `
		SELECT o.id, o.name, COALESCE(o.detail, '') FROM companies o
		JOIN schedule_companies j ON j.company_id = o.id
		WHERE j.schedule_id = $1 AND o.is_active ORDER BY o.name`
)

func (s *Store) listOptions(ctx context.Context, query, scheduleID string) ([]model.Option, error) {
	rows, err := s.pool.Query(ctx, query, scheduleID)
	if err != nil {
		return nil, fmt.Errorf("pgstore: list options: %w", err)
	}
	defer rows.Close()

	var options []model.Option
	for rows.Next() {
		var o model.Option
		if err := rows.Scan(&o.ID, &o.Name, &o.Detail); err != nil {
			return nil, fmt.Errorf("pgstore: scan option: %w", err)
		}
		options = append(options, o)
	}
	return options, rows.Err()
}

// ListAvailableSlots returns the schedule's slots still available and starting after from.
func (s *Store) ListAvailableSlots(ctx context.Context, scheduleID string, from time.Time) ([]model.Slot, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, schedule_id, starts_at, available FROM slots
		WHERE schedule_id = $1 AND available AND starts_at > $2
		ORDER BY starts_at`, scheduleID, from.UTC())
	if err != nil {
		return nil, fmt.Errorf("pgstore: list slots: %w", err)
	}
	defer rows.Close()

	var result []model.Slot
	for rows.Next() {
		var sl model.Slot
		if err := rows.Scan(&sl.ID, &sl.ScheduleID, &sl.StartsAt, &sl.Available); err != nil {
			return nil, fmt.Errorf("pgstore: scan slot: %w", err)
		}
		result = append(result, sl)
	}
	return result, rows.Err()
}

// FindResponsibleByPhone resolves a normalized phone to an active person.
func (s *Store) FindResponsibleByPhone(ctx context.Context, phone string) (*model.Person, error) {
	var p model.Person
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, phone FROM people WHERE phone = $1 AND is_active`, phone,
	).Scan(&p.ID, &p.Name, &p.Phone)
	if err != nil {
		return nil, notFound("responsible", err)
	}
	return &p, nil
}

// ListPatients returns the active patients owned by a responsible party.
func (s *Store) ListPatients(ctx context.Context, responsibleID string) ([]model.Person, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT p.id, p.name FROM people p
		JOIN patient_responsibles pr ON pr.patient_id = p.id
		WHERE pr.responsible_id = $1 AND p.is_active
		ORDER BY p.name`, responsibleID)
	if err != nil {
		return nil, fmt.Errorf("pgstore: list patients: %w", err)
	}
	defer rows.Close()

	var patients []model.Person
	for rows.Next() {
		var p model.Person
		if err := rows.Scan(&p.ID, &p.Name); err != nil {
			return nil, fmt.Errorf("pgstore: scan patient: %w", err)
		}
		patients = append(patients, p)
	}
	return patients, rows.Err()
}

func notFound(what string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("pgstore: %s: %w", what, model.ErrNotFound)
	}
	return fmt.Errorf("pgstore: %s: %w", what, err)
}
