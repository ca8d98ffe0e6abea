// Package db is the SQLite Slot Store.
package db

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps sql.DB for the booking service.
type DB struct {
	*sql.DB
}

// dsnParams enables WAL, waits on locks instead of failing and makes every transaction take the
// write lock at BEGIN so concurrent claims serialize.
const dsnParams = "_foreign_keys=on&_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_txlock=immediate"

// NewDB opens database at path and runs migrations.
func NewDB(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", buildDSN(path))
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(10)

	if err := createTables(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &DB{db}, nil
}

// buildDSN appends every default key the path does not set itself.
func buildDSN(path string) string {
	base, query, _ := strings.Cut(path, "?")
	set := make(map[string]bool)
	for _, kv := range strings.Split(query, "&") {
		if key, _, _ := strings.Cut(kv, "="); key != "" {
			set[key] = true
		}
	}

	params := make([]string, 0, 8)
	if query != "" {
		params = append(params, query)
	}
	for _, kv := range strings.Split(dsnParams, "&") {
		key, _, _ := strings.Cut(kv, "=")
		if !set[key] {
			params = append(params, kv)
		}
	}
	return base + "?" + strings.Join(params, "&")
}

func createTables(db *sql.DB) error {
	queries := []string{
		// Catalog
		`CREATE TABLE IF NOT EXISTS services (
            id TEXT PRIMARY KEY,
            name TEXT NOT NULL,
            detail TEXT,
            is_active BOOLEAN NOT NULL DEFAULT 1,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
        )`,
		`CREATE TABLE IF NOT EXISTS locations (
            id TEXT PRIMARY KEY,
            name TEXT NOT NULL,
            detail TEXT,
            is_active BOOLEAN NOT NULL DEFAULT 1,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
        )`,
		`CREATE TABLE IF NOT EXISTS companies (
            id TEXT PRIMARY KEY,
            name TEXT NOT NULL,
            detail TEXT,
            is_active BOOLEAN NOT NULL DEFAULT 1,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
        )`,

		// Shared schedules and their candidate sets
		`CREATE TABLE IF NOT EXISTS shared_schedules (
            id TEXT PRIMARY KEY,
            title TEXT NOT NULL,
            professional_id TEXT NOT NULL,
            professional_name TEXT NOT NULL,
            specialty TEXT,
            is_active BOOLEAN NOT NULL DEFAULT 1,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
        )`,
		`CREATE TABLE IF NOT EXISTS schedule_services (
            schedule_id TEXT NOT NULL,
            service_id TEXT NOT NULL,
            PRIMARY KEY (schedule_id, service_id),
            FOREIGN KEY (schedule_id) REFERENCES shared_schedules(id),
            FOREIGN KEY (service_id) REFERENCES services(id)
        )`,
		`CREATE TABLE IF NOT EXISTS schedule_locations (
            schedule_id TEXT NOT NULL,
            location_id TEXT NOT NULL,
            PRIMARY KEY (schedule_id, location_id),
            FOREIGN KEY (schedule_id) REFERENCES shared_schedules(id),
            FOREIGN KEY (location_id) REFERENCES locations(id)
        )`,
		`CREATE TABLE IF NOT EXISTS schedule_companies (
            schedule_id TEXT NOT NULL,
            company_id TEXT NOT NULL,
            PRIMARY KEY (schedule_id, company_id),
            FOREIGN KEY (schedule_id) REFERENCES shared_schedules(id),
            FOREIGN KEY (company_id) REFERENCES companies(id)
        )`,

		// Slots
		`CREATE TABLE IF NOT EXISTS slots (
            id TEXT PRIMARY KEY,
            schedule_id TEXT NOT NULL,
            starts_at DATETIME NOT NULL,
            available BOOLEAN NOT NULL DEFAULT 1,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            UNIQUE (schedule_id, starts_at),
            FOREIGN KEY (schedule_id) REFERENCES shared_schedules(id)
        )`,

		// People
		`CREATE TABLE IF NOT EXISTS people (
            id TEXT PRIMARY KEY,
            name TEXT NOT NULL,
            phone TEXT UNIQUE,
            is_active BOOLEAN NOT NULL DEFAULT 1,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
        )`,
		`CREATE TABLE IF NOT EXISTS patient_responsibles (
            patient_id TEXT NOT NULL,
            responsible_id TEXT NOT NULL,
            PRIMARY KEY (patient_id, responsible_id),
            FOREIGN KEY (patient_id) REFERENCES people(id),
            FOREIGN KEY (responsible_id) REFERENCES people(id)
        )`,

		// Statuses
		`CREATE TABLE IF NOT EXISTS appointment_statuses (
            id TEXT PRIMARY KEY,
            code TEXT UNIQUE NOT NULL,
            label TEXT NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS payment_statuses (
            id TEXT PRIMARY KEY,
            code TEXT UNIQUE NOT NULL,
            label TEXT NOT NULL
        )`,

		// Appointments; one per slot
		`CREATE TABLE IF NOT EXISTS appointments (
            id TEXT PRIMARY KEY,
            slot_id TEXT NOT NULL UNIQUE,
            schedule_id TEXT NOT NULL,
            patient_id TEXT NOT NULL,
            responsible_id TEXT NOT NULL,
            responsible_phone TEXT NOT NULL,
            service_id TEXT NOT NULL,
            location_id TEXT,
            company_id TEXT NOT NULL,
            status_id TEXT NOT NULL,
            payment_status_id TEXT NOT NULL,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            FOREIGN KEY (slot_id) REFERENCES slots(id),
            FOREIGN KEY (status_id) REFERENCES appointment_statuses(id),
            FOREIGN KEY (payment_status_id) REFERENCES payment_statuses(id)
        )`,

		// Seeds
		`INSERT OR IGNORE INTO appointment_statuses (id, code, label) VALUES
            ('st-scheduled', 'scheduled', 'Agendado'),
            ('st-confirmed', 'confirmed', 'Confirmado'),
            ('st-cancelled', 'cancelled', 'Cancelado')`,
		`INSERT OR IGNORE INTO payment_statuses (id, code, label) VALUES
            ('pay-pending', 'pending', 'Pendente'),
            ('pay-paid', 'paid', 'Pago')`,

		// Indexes
		`CREATE INDEX IF NOT EXISTS idx_slots_schedule_available ON slots(schedule_id, available, starts_at)`,
		`CREATE INDEX IF NOT EXISTS idx_people_phone ON people(phone)`,
		`CREATE INDEX IF NOT EXISTS idx_patient_responsibles_responsible ON patient_responsibles(responsible_id)`,
		`CREATE INDEX IF NOT EXISTS idx_appointments_schedule ON appointments(schedule_id)`,
	}

	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			return fmt.Errorf("exec migration %s: %w", trimSQL(q), err)
		}
	}
	return nil
}

func trimSQL(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 60 {
		return s[:60] + "..."
	}
	return s
}
