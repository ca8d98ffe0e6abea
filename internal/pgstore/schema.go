package pgstore

import (
	"context"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS services (
		id TEXT PRIMARY KEY, name TEXT NOT NULL, detail TEXT,
		is_active BOOLEAN NOT NULL DEFAULT true,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(), updated_at TIMESTAMPTZ NOT NULL DEFAULT now())`,
	`CREATE TABLE IF NOT EXISTS locations (
		id TEXT PRIMARY KEY, name TEXT NOT NULL, detail TEXT,
		is_active BOOLEAN NOT NULL DEFAULT true,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(), updated_at TIMESTAMPTZ NOT NULL DEFAULT now())`,
	`CREATE TABLE IF NOT EXISTS companies (
		id TEXT PRIMARY KEY, name TEXT NOT NULL, detail TEXT,
		is_active BOOLEAN NOT NULL DEFAULT true,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(), updated_at TIMESTAMPTZ NOT NULL DEFAULT now())`,
	`CREATE TABLE IF NOT EXISTS shared_schedules (
		id TEXT PRIMARY KEY, title TEXT NOT NULL,
		professional_id TEXT NOT NULL, professional_name TEXT NOT NULL, specialty TEXT,
		is_active BOOLEAN NOT NULL DEFAULT true,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(), updated_at TIMESTAMPTZ NOT NULL DEFAULT now())`,
	`CREATE TABLE IF NOT EXISTS schedule_services (
		schedule_id TEXT NOT NULL REFERENCES shared_schedules(id),
		service_id TEXT NOT NULL REFERENCES services(id),
		PRIMARY KEY (schedule_id, service_id))`,
	`CREATE TABLE IF NOT EXISTS schedule_locations (
		schedule_id TEXT NOT NULL REFERENCES shared_schedules(id),
		location_id TEXT NOT NULL REFERENCES locations(id),
		PRIMARY KEY (schedule_id, location_id))`,
	`CREATE TABLE IF NOT EXISTS schedule_companies (
		schedule_id TEXT NOT NULL REFERENCES shared_schedules(id),
		company_id TEXT NOT NULL REFERENCES companies(id),
		PRIMARY KEY (schedule_id, company_id))`,
	`CREATE TABLE IF NOT EXISTS slots (
		id TEXT PRIMARY KEY,
		schedule_id TEXT NOT NULL REFERENCES shared_schedules(id),
		starts_at TIMESTAMPTZ NOT NULL,
		available BOOLEAN NOT NULL DEFAULT true,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(), updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (schedule_id, starts_at))`,
	`CREATE TABLE IF NOT EXISTS people (
		id TEXT PRIMARY KEY, name TEXT NOT NULL, phone TEXT UNIQUE,
		is_active BOOLEAN NOT NULL DEFAULT true,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(), updated_at TIMESTAMPTZ NOT NULL DEFAULT now())`,
	`CREATE TABLE IF NOT EXISTS patient_responsibles (
		patient_id TEXT NOT NULL REFERENCES people(id),
		responsible_id TEXT NOT NULL REFERENCES people(id),
		PRIMARY KEY (patient_id, responsible_id))`,
	`CREATE TABLE IF NOT EXISTS appointment_statuses (
		id TEXT PRIMARY KEY, code TEXT UNIQUE NOT NULL, label TEXT NOT NULL)`,
	`CREATE TABLE IF NOT EXISTS payment_statuses (
		id TEXT PRIMARY KEY, code TEXT UNIQUE NOT NULL, label TEXT NOT NULL)`,
	`CREATE TABLE IF NOT EXISTS appointments (
		id TEXT PRIMARY KEY,
		slot_id TEXT NOT NULL UNIQUE REFERENCES slots(id),
		schedule_id TEXT NOT NULL,
		patient_id TEXT NOT NULL,
		responsible_id TEXT NOT NULL,
		responsible_phone TEXT NOT NULL,
		service_id TEXT NOT NULL,
		location_id TEXT,
		company_id TEXT NOT NULL,
		status_id TEXT NOT NULL REFERENCES appointment_statuses(id),
		payment_status_id TEXT NOT NULL REFERENCES payment_statuses(id),
		created_at TIMESTAMPTZ NOT NULL DEFAULT now())`,
	`INSERT INTO appointment_statuses (id, code, label) VALUES
		('st-scheduled', 'scheduled', 'Agendado'),
		('st-confirmed', 'confirmed', 'Confirmado'),
		('st-cancelled', 'cancelled', 'Cancelado')
		ON CONFLICT DO NOTHING`,
	`INSERT INTO payment_statuses (id, code, label) VALUES
		('pay-pending', 'pending', 'Pendente'),
		('pay-paid', 'paid', 'Pago')
		ON CONFLICT DO NOTHING`,
	`CREATE INDEX IF NOT EXISTS idx_slots_schedule_available ON slots(schedule_id, available, starts_at)`,
	`CREATE INDEX IF NOT EXISTS idx_patient_responsibles_responsible ON patient_responsibles(responsible_id)`,
}

// EnsureSchema creates the tables and seeds the status rows.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for i, q := range schema {
		if _, err := s.pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("pgstore: schema step %d: %w", i, err)
		}
	}
	return nil
}
