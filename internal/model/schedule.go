package model

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by stores when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Option is one member of a schedule candidate set (service, location or company).
type Option struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Detail string `json:"detail,omitempty"`
}

// Schedule is a shared schedule published by a professional.
type Schedule struct {
	ID               string   `json:"id"`
	Title            string   `json:"title"`
	ProfessionalID   string   `json:"professional_id"`
	ProfessionalName string   `json:"professional_name"`
	Specialty        string   `json:"specialty,omitempty"`
	IsActive         bool     `json:"is_active"`
	Services         []Option `json:"services"`
	Locations        []Option `json:"locations"`
	Companies        []Option `json:"companies"`
}

// Bookable reports whether every candidate set has at least one option.
func (s *Schedule) Bookable() error {
	if !s.IsActive {
		return fmt.Errorf("schedule %s is inactive", s.ID)
	}
	switch {
	case len(s.Services) == 0:
		return fmt.Errorf("schedule %s has no services", s.ID)
	case len(s.Locations) == 0:
		return fmt.Errorf("schedule %s has no locations", s.ID)
	case len(s.Companies) == 0:
		return fmt.Errorf("schedule %s has no companies", s.ID)
	}
	return nil
}

// FindOption looks an option up by id.
func FindOption(options []Option, id string) (Option, bool) {
	for _, o := range options {
		if o.ID == id {
			return o, true
		}
	}
	return Option{}, false
}

// Slot is a bookable point in time of a schedule.
type Slot struct {
	ID         string    `json:"id"`
	ScheduleID string    `json:"schedule_id"`
	StartsAt   time.Time `json:"starts_at"`
	Available  bool      `json:"available"`
}

// FindSlot looks a slot up by id.
func FindSlot(slots []Slot, id string) (Slot, bool) {
	for _, s := range slots {
		if s.ID == id {
			return s, true
		}
	}
	return Slot{}, false
}

// Person is a responsible party or a patient.
type Person struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Phone string `json:"phone,omitempty"`
}

// FindPerson looks a person up by id.
func FindPerson(people []Person, id string) (Person, bool) {
	for _, p := range people {
		if p.ID == id {
			return p, true
		}
	}
	return Person{}, false
}
