package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"respirakids/internal/config"
	"respirakids/internal/slots"
)

// SyncStats summarizes one SyncSchedulesFromConfig run.
type SyncStats struct {
	Schedules    int
	Responsibles int
	SlotsCreated int
}

// SyncSchedulesFromConfig applies schedules.yaml to the database.
// It upserts the catalog, schedules and people, marks rows missing from config inactive and
// materializes slots for horizonDays starting at from. Existing slots keep their availability.
func (db *DB) SyncSchedulesFromConfig(
	ctx context.Context,
	cfg *config.SchedulesConfig,
	from time.Time,
	horizonDays int,
) (SyncStats, error) {
	var stats SyncStats
	if cfg == nil {
		return stats, fmt.Errorf("schedules config is nil")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return stats, fmt.Errorf("begin sync: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()

	catalog := []struct {
		table   string
		options []config.OptionConfig
	}{
		{"services", cfg.Services},
		{"locations", cfg.Locations},
		{"companies", cfg.Companies},
	}
	for _, c := range catalog {
		if err := syncOptions(ctx, tx, c.table, c.options, now); err != nil {
			return stats, err
		}
	}

	if _, err := tx.ExecContext(ctx, `UPDATE shared_schedules SET is_active = 0, updated_at = ?`, now); err != nil {
		return stats, fmt.Errorf("deactivate schedules: %w", err)
	}
	for _, s := range cfg.Schedules {
		if err := syncSchedule(ctx, tx, s, now); err != nil {
			return stats, fmt.Errorf("sync schedule %s: %w", s.ID, err)
		}
		stats.Schedules++
	}

	if _, err := tx.ExecContext(ctx, `UPDATE people SET is_active = 0, updated_at = ?`, now); err != nil {
		return stats, fmt.Errorf("deactivate people: %w", err)
	}
	for _, r := range cfg.Responsibles {
		if err := syncResponsible(ctx, tx, r, now); err != nil {
			return stats, fmt.Errorf("sync responsible %s: %w", r.ID, err)
		}
		stats.Responsibles++
	}

	from = from.In(cfg.Location())
	closed := func(date time.Time) bool {
		holiday, _ := cfg.IsHoliday(date)
		return holiday
	}
	for _, s := range cfg.Schedules {
		if !s.IsActive || s.Hours == nil {
			continue
		}
		created, err := materializeSlots(ctx, tx, s, from, horizonDays, closed, now)
		if err != nil {
			return stats, fmt.Errorf("materialize slots for %s: %w", s.ID, err)
		}
		stats.SlotsCreated += created
	}

	if err := tx.Commit(); err != nil {
		return stats, fmt.Errorf("commit sync: %w", err)
	}
	return stats, nil
}

func syncOptions(ctx context.Context, tx *sql.Tx, table string, options []config.OptionConfig, now time.Time) error {
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET is_active = 0, updated_at = ?`, table), now); err != nil {
		return fmt.Errorf("deactivate %s: %w", table, err)
	}

	upsert := fmt.Sprintf(`
        INSERT INTO %s (id, name, detail, is_active, created_at, updated_at)
        VALUES (?, ?, ?, 1, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            name = excluded.name,
            detail = excluded.detail,
            is_active = 1,
            updated_at = excluded.updated_at`, table)

	for _, o := range options {
		if _, err := tx.ExecContext(ctx, upsert, o.ID, o.Name, nullString(o.Detail), now, now); err != nil {
			return fmt.Errorf("sync %s %s: %w", table, o.ID, err)
		}
	}
	return nil
}

func syncSchedule(ctx context.Context, tx *sql.Tx, s config.ScheduleConfig, now time.Time) error {
	isActive := 0
	if s.IsActive {
		isActive = 1
	}

	_, err := tx.ExecContext(ctx, `
        INSERT INTO shared_schedules (id, title, professional_id, professional_name, specialty, is_active, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            title = excluded.title,
            professional_id = excluded.professional_id,
            professional_name = excluded.professional_name,
            specialty = excluded.specialty,
            is_active = excluded.is_active,
            updated_at = excluded.updated_at`,
		s.ID, s.Title, s.ProfessionalID, s.ProfessionalName, nullString(s.Specialty), isActive, now, now,
	)
	if err != nil {
		return err
	}

	sets := []struct {
		table string
		fk    string
		ids   []string
	}{
		{"schedule_services", "service_id", s.Services},
		{"schedule_locations", "location_id", s.Locations},
		{"schedule_companies", "company_id", s.Companies},
	}
	for _, set := range sets {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE schedule_id = ?`, set.table), s.ID); err != nil {
			return fmt.Errorf("reset %s: %w", set.table, err)
		}
		insert := fmt.Sprintf(`INSERT INTO %s (schedule_id, %s) VALUES (?, ?)`, set.table, set.fk)
		for _, id := range set.ids {
			if _, err := tx.ExecContext(ctx, insert, s.ID, id); err != nil {
				return fmt.Errorf("link %s %s: %w", set.table, id, err)
			}
		}
	}
	return nil
}

func syncResponsible(ctx context.Context, tx *sql.Tx, r config.ResponsibleConfig, now time.Time) error {
	upsert := `
        INSERT INTO people (id, name, phone, is_active, created_at, updated_at)
        VALUES (?, ?, ?, 1, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            name = excluded.name,
            phone = excluded.phone,
            is_active = 1,
            updated_at = excluded.updated_at`

	if _, err := tx.ExecContext(ctx, upsert, r.ID, r.Name, config.DigitsOnly(r.Phone), now, now); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM patient_responsibles WHERE responsible_id = ?`, r.ID); err != nil {
		return fmt.Errorf("reset patients: %w", err)
	}
	for _, p := range r.Patients {
		if _, err := tx.ExecContext(ctx, upsert, p.ID, p.Name, nil, now, now); err != nil {
			return fmt.Errorf("sync patient %s: %w", p.ID, err)
		}
		if _, err := tx.ExecContext(ctx, `
            INSERT OR IGNORE INTO patient_responsibles (patient_id, responsible_id) VALUES (?, ?)`,
			p.ID, r.ID,
		); err != nil {
			return fmt.Errorf("link patient %s: %w", p.ID, err)
		}
	}
	return nil
}

func materializeSlots(
	ctx context.Context,
	tx *sql.Tx,
	s config.ScheduleConfig,
	from time.Time,
	horizonDays int,
	closed slots.ClosedFunc,
	now time.Time,
) (int, error) {
	info := slots.ScheduleInfo{
		StartTime:    s.Hours.StartTime,
		EndTime:      s.Hours.EndTime,
		LunchStart:   s.Hours.LunchStart,
		LunchEnd:     s.Hours.LunchEnd,
		SlotDuration: s.Hours.SlotDurationMinutes,
		Weekdays:     s.Hours.Weekdays,
	}

	starts, err := slots.Window(from, horizonDays, info, closed)
	if err != nil {
		return 0, err
	}

	created := 0
	for _, start := range starts {
		res, err := tx.ExecContext(ctx, `
            INSERT OR IGNORE INTO slots (id, schedule_id, starts_at, available, created_at, updated_at)
            VALUES (?, ?, ?, 1, ?, ?)`,
			slots.SlotID(s.ID, start), s.ID, start.UTC(), now, now,
		)
		if err != nil {
			return created, err
		}
		if n, _ := res.RowsAffected(); n > 0 {
			created++
		}
	}
	return created, nil
}
