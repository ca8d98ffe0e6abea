package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSchedule_Bookable(t *testing.T) {
	opts := []Option{{ID: "a", Name: "A"}}

	tests := []struct {
		name    string
		sched   Schedule
		wantErr bool
	}{
		{"complete", Schedule{ID: "s", IsActive: true, Services: opts, Locations: opts, Companies: opts}, false},
		{"inactive", Schedule{ID: "s", Services: opts, Locations: opts, Companies: opts}, true},
		{"no services", Schedule{ID: "s", IsActive: true, Locations: opts, Companies: opts}, true},
		{"no locations", Schedule{ID: "s", IsActive: true, Services: opts, Companies: opts}, true},
		{"no companies", Schedule{ID: "s", IsActive: true, Services: opts, Locations: opts}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.sched.Bookable()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestBookingRequest_MissingFields(t *testing.T) {
	req := BookingRequest{
		ScheduleID:       "sched",
		SlotID:           "slot",
		PatientID:        "p1",
		ResponsibleID:    "r1",
		ResponsiblePhone: "5561999990000",
		ServiceID:        "svc",
		CompanyID:        "co",
	}
	assert.Empty(t, req.MissingFields(), "location is optional")

	req.SlotID = " "
	req.CompanyID = ""
	assert.Equal(t, []string{"slot_id", "company_id"}, req.MissingFields())
}

func TestFinders(t *testing.T) {
	_, ok := FindOption([]Option{{ID: "x"}}, "y")
	assert.False(t, ok)

	s, ok := FindSlot([]Slot{{ID: "t1"}, {ID: "t2"}}, "t2")
	assert.True(t, ok)
	assert.Equal(t, "t2", s.ID)

	p, ok := FindPerson([]Person{{ID: "p1", Name: "Ana"}}, "p1")
	assert.True(t, ok)
	assert.Equal(t, "Ana", p.Name)
}

func TestStatusIDs_Complete(t *testing.T) {
	assert.False(t, StatusIDs{Scheduled: "a"}.Complete())
	assert.True(t, StatusIDs{Scheduled: "a", PendingPayment: "b"}.Complete())
}
