package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// OptionConfig is a service, location or company offered by schedules.
type OptionConfig struct {
	ID     string `yaml:"id"`
	Name   string `yaml:"name"`
	Detail string `yaml:"detail,omitempty"`
}

// WorkingHoursConfig describes the weekly slot grid of a schedule.
type WorkingHoursConfig struct {
	StartTime           string `yaml:"start_time"`            // "08:00"
	EndTime             string `yaml:"end_time"`              // "18:00"
	SlotDurationMinutes int    `yaml:"slot_duration_minutes"` // 40
	LunchStart          string `yaml:"lunch_start,omitempty"` // "12:00"
	LunchEnd            string `yaml:"lunch_end,omitempty"`   // "13:00"
	Weekdays            []int  `yaml:"weekdays,omitempty"`    // 1=Mon, 7=Sun
}

// ScheduleConfig is a shared schedule and its candidate sets.
type ScheduleConfig struct {
	ID               string              `yaml:"id"`
	Title            string              `yaml:"title"`
	ProfessionalID   string              `yaml:"professional_id"`
	ProfessionalName string              `yaml:"professional_name"`
	Specialty        string              `yaml:"specialty,omitempty"`
	IsActive         bool                `yaml:"is_active"`
	Services         []string            `yaml:"services"`
	Locations        []string            `yaml:"locations"`
	Companies        []string            `yaml:"companies"`
	Hours            *WorkingHoursConfig `yaml:"hours,omitempty"`
}

// PatientConfig is a patient owned by a responsible party.
type PatientConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// ResponsibleConfig is a responsible party known by phone.
type ResponsibleConfig struct {
	ID       string          `yaml:"id"`
	Name     string          `yaml:"name"`
	Phone    string          `yaml:"phone"` // international digits, e.g. 5561999990000
	Patients []PatientConfig `yaml:"patients"`
}

// HolidayConfig represents a holiday configuration.
type HolidayConfig struct {
	Date string `yaml:"date"` // "2026-12-25"
	Name string `yaml:"name"`
}

// DefaultsConfig represents global default settings.
type DefaultsConfig struct {
	Hours    *WorkingHoursConfig `yaml:"hours"`
	DaysOff  []int               `yaml:"days_off"` // 1=Mon, 7=Sun
	Timezone string              `yaml:"timezone"` // "America/Sao_Paulo"
}

// SchedulesConfig is the root configuration for schedules.yaml.
type SchedulesConfig struct {
	Services     []OptionConfig      `yaml:"services"`
	Locations    []OptionConfig      `yaml:"locations"`
	Companies    []OptionConfig      `yaml:"companies"`
	Schedules    []ScheduleConfig    `yaml:"schedules"`
	Responsibles []ResponsibleConfig `yaml:"responsibles"`
	Defaults     DefaultsConfig      `yaml:"defaults"`
	Holidays     []HolidayConfig     `yaml:"holidays"`
}

// LoadSchedulesConfig loads and validates schedules configuration from YAML file.
func LoadSchedulesConfig(path string) (*SchedulesConfig, error) {
	if path == "" {
		path = "configs/schedules.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schedules config: %w", err)
	}

	return ParseSchedulesConfig(data)
}

// ParseSchedulesConfig decodes, validates and applies defaults.
func ParseSchedulesConfig(data []byte) (*SchedulesConfig, error) {
	var cfg SchedulesConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse schedules config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate schedules config: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// Validate checks the configuration for errors.
func (c *SchedulesConfig) Validate() error {
	if len(c.Schedules) == 0 {
		return fmt.Errorf("no schedules defined")
	}

	services, err := optionIDs("services", c.Services)
	if err != nil {
		return err
	}
	locations, err := optionIDs("locations", c.Locations)
	if err != nil {
		return err
	}
	companies, err := optionIDs("companies", c.Companies)
	if err != nil {
		return err
	}

	ids := make(map[string]bool)
	for i, s := range c.Schedules {
		prefix := fmt.Sprintf("schedule[%d]", i)
		if s.ID == "" {
			return fmt.Errorf("%s: id is required", prefix)
		}
		if ids[s.ID] {
			return fmt.Errorf("%s: duplicate id '%s'", prefix, s.ID)
		}
		ids[s.ID] = true

		if s.Title == "" {
			return fmt.Errorf("%s: title is required", prefix)
		}
		if s.ProfessionalID == "" {
			return fmt.Errorf("%s: professional_id is required", prefix)
		}

		if err := checkRefs(prefix+".services", s.Services, services); err != nil {
			return err
		}
		if err := checkRefs(prefix+".locations", s.Locations, locations); err != nil {
			return err
		}
		if err := checkRefs(prefix+".companies", s.Companies, companies); err != nil {
			return err
		}

		if s.Hours != nil {
			if err := validateHours(s.Hours, prefix+".hours"); err != nil {
				return err
			}
		}
	}

	if c.Defaults.Hours != nil {
		if err := validateHours(c.Defaults.Hours, "defaults.hours"); err != nil {
			return err
		}
	}

	people := make(map[string]bool)
	phones := make(map[string]bool)
	for i, r := range c.Responsibles {
		prefix := fmt.Sprintf("responsible[%d]", i)
		if r.ID == "" || people[r.ID] {
			return fmt.Errorf("%s: missing or duplicate id '%s'", prefix, r.ID)
		}
		people[r.ID] = true

		phone := DigitsOnly(r.Phone)
		if len(phone) < 12 || len(phone) > 15 {
			return fmt.Errorf("%s: phone '%s' must have 12-15 digits including country code", prefix, r.Phone)
		}
		if phones[phone] {
			return fmt.Errorf("%s: duplicate phone '%s'", prefix, r.Phone)
		}
		phones[phone] = true

		for j, p := range r.Patients {
			if p.ID == "" || p.Name == "" {
				return fmt.Errorf("%s.patients[%d]: id and name are required", prefix, j)
			}
		}
	}

	for i, h := range c.Holidays {
		if h.Date == "" {
			return fmt.Errorf("holiday[%d]: date is required", i)
		}
		if _, err := time.Parse("2006-01-02", h.Date); err != nil {
			return fmt.Errorf("holiday[%d]: invalid date format '%s', expected YYYY-MM-DD", i, h.Date)
		}
	}

	for i, d := range c.Defaults.DaysOff {
		if d < 1 || d > 7 {
			return fmt.Errorf("defaults.days_off[%d]: invalid day %d, must be 1-7 (1=Mon, 7=Sun)", i, d)
		}
	}

	if c.Defaults.Timezone != "" {
		if _, err := time.LoadLocation(c.Defaults.Timezone); err != nil {
			return fmt.Errorf("defaults.timezone: %w", err)
		}
	}

	return nil
}

func optionIDs(kind string, options []OptionConfig) (map[string]bool, error) {
	ids := make(map[string]bool, len(options))
	for i, o := range options {
		if o.ID == "" {
			return nil, fmt.Errorf("%s[%d]: id is required", kind, i)
		}
		if o.Name == "" {
			return nil, fmt.Errorf("%s[%d]: name is required", kind, i)
		}
		if ids[o.ID] {
			return nil, fmt.Errorf("%s[%d]: duplicate id '%s'", kind, i, o.ID)
		}
		ids[o.ID] = true
	}
	return ids, nil
}

// checkRefs requires at least one reference and every reference to exist.
func checkRefs(prefix string, refs []string, known map[string]bool) error {
	if len(refs) == 0 {
		return fmt.Errorf("%s: at least one entry is required", prefix)
	}
	for _, id := range refs {
		if !known[id] {
			return fmt.Errorf("%s: unknown id '%s'", prefix, id)
		}
	}
	return nil
}

// validateHours checks a working hours configuration for errors.
func validateHours(h *WorkingHoursConfig, prefix string) error {
	if h.StartTime == "" {
		return fmt.Errorf("%s.start_time is required", prefix)
	}
	if h.EndTime == "" {
		return fmt.Errorf("%s.end_time is required", prefix)
	}

	startTime, err := time.Parse("15:04", h.StartTime)
	if err != nil {
		return fmt.Errorf("%s.start_time: invalid format '%s', expected HH:MM", prefix, h.StartTime)
	}

	endTime, err := time.Parse("15:04", h.EndTime)
	if err != nil {
		return fmt.Errorf("%s.end_time: invalid format '%s', expected HH:MM", prefix, h.EndTime)
	}

	if !endTime.After(startTime) {
		return fmt.Errorf("%s: end_time must be after start_time", prefix)
	}

	if h.SlotDurationMinutes <= 0 {
		return fmt.Errorf("%s.slot_duration_minutes must be positive", prefix)
	}

	if h.LunchStart != "" && h.LunchEnd != "" {
		lunchStart, err := time.Parse("15:04", h.LunchStart)
		if err != nil {
			return fmt.Errorf("%s.lunch_start: invalid format '%s', expected HH:MM", prefix, h.LunchStart)
		}

		lunchEnd, err := time.Parse("15:04", h.LunchEnd)
		if err != nil {
			return fmt.Errorf("%s.lunch_end: invalid format '%s', expected HH:MM", prefix, h.LunchEnd)
		}

		if !lunchEnd.After(lunchStart) {
			return fmt.Errorf("%s: lunch_end must be after lunch_start", prefix)
		}

		if lunchStart.Before(startTime) || lunchEnd.After(endTime) {
			return fmt.Errorf("%s: lunch break must be within working hours", prefix)
		}
	}

	for i, d := range h.Weekdays {
		if d < 1 || d > 7 {
			return fmt.Errorf("%s.weekdays[%d]: invalid day %d, must be 1-7", prefix, i, d)
		}
	}

	return nil
}

// applyDefaults fills schedules without explicit hours and weekdays.
func (c *SchedulesConfig) applyDefaults() {
	off := make(map[int]bool, len(c.Defaults.DaysOff))
	for _, d := range c.Defaults.DaysOff {
		off[d] = true
	}

	for i := range c.Schedules {
		if c.Schedules[i].Hours == nil && c.Defaults.Hours != nil {
			h := *c.Defaults.Hours
			c.Schedules[i].Hours = &h
		}
		h := c.Schedules[i].Hours
		if h == nil || len(h.Weekdays) > 0 {
			continue
		}
		for d := 1; d <= 7; d++ {
			if !off[d] {
				h.Weekdays = append(h.Weekdays, d)
			}
		}
	}
}

// Location returns the timezone slots are generated in.
func (c *SchedulesConfig) Location() *time.Location {
	if c.Defaults.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Defaults.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// GetSchedule returns schedule config by ID.
func (c *SchedulesConfig) GetSchedule(id string) *ScheduleConfig {
	for i := range c.Schedules {
		if c.Schedules[i].ID == id {
			return &c.Schedules[i]
		}
	}
	return nil
}

// IsHoliday checks if a date is a holiday.
func (c *SchedulesConfig) IsHoliday(date time.Time) (bool, string) {
	dateStr := date.Format("2006-01-02")
	for _, h := range c.Holidays {
		if h.Date == dateStr {
			return true, h.Name
		}
	}
	return false, ""
}

// DigitsOnly strips every non-digit rune.
func DigitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
