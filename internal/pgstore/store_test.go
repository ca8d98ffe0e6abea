package pgstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"respirakids/internal/booking"
	"respirakids/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return newStoreWithQuerier(mock), mock
}

func testClaim() booking.Claim {
	return booking.Claim{
		AppointmentID: "appt-1",
		Request: model.BookingRequest{
			ScheduleID:       "sched-ana",
			SlotID:           "slot-1",
			PatientID:        "pat-1",
			ResponsibleID:    "resp-1",
			ResponsiblePhone: "5561999990000",
			ServiceID:        "svc-resp",
			CompanyID:        "co-clinic",
		},
		Statuses:  model.StatusIDs{Scheduled: "st-scheduled", PendingPayment: "pay-pending"},
		CreatedAt: time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC),
	}
}

func claimArgs() []any {
	args := make([]any, 12)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	args[0] = "slot-1"
	args[1] = "sched-ana"
	args[2] = "appt-1"
	return args
}

func TestClaimSlot_Wins(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("WITH claimed AS").
		WithArgs(claimArgs()...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.ClaimSlot(context.Background(), testClaim()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimSlot_NothingClaimed(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("WITH claimed AS").
		WithArgs(claimArgs()...).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	err := store.ClaimSlot(context.Background(), testClaim())
	assert.ErrorIs(t, err, booking.ErrSlotUnavailable)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimSlot_UniqueViolationIsConflict(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("WITH claimed AS").
		WithArgs(claimArgs()...).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "appointments_slot_id_key"})

	err := store.ClaimSlot(context.Background(), testClaim())
	assert.ErrorIs(t, err, booking.ErrSlotUnavailable)
}

func TestClaimSlot_OtherErrorIsWrapped(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("WITH claimed AS").
		WithArgs(claimArgs()...).
		WillReturnError(errors.New("connection reset"))

	err := store.ClaimSlot(context.Background(), testClaim())
	require.Error(t, err)
	assert.NotErrorIs(t, err, booking.ErrSlotUnavailable)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestResolveStatusIDs(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery("SELECT id FROM appointment_statuses").WithArgs("scheduled").
			WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("st-scheduled"))
		mock.ExpectQuery("SELECT id FROM payment_statuses").WithArgs("pending").
			WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("pay-pending"))

		ids, err := store.ResolveStatusIDs(context.Background(), "scheduled", "pending")
		require.NoError(t, err)
		assert.Equal(t, model.StatusIDs{Scheduled: "st-scheduled", PendingPayment: "pay-pending"}, ids)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery("SELECT id FROM appointment_statuses").WithArgs("scheduled").
			WillReturnError(pgx.ErrNoRows)

		_, err := store.ResolveStatusIDs(context.Background(), "scheduled", "pending")
		assert.ErrorIs(t, err, model.ErrNotFound)
	})
}

func TestGetSchedule(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("FROM shared_schedules").WithArgs("sched-ana").
		WillReturnRows(pgxmock.NewRows([]string{"id", "title", "professional_id", "professional_name", "specialty", "is_active"}).
			AddRow("sched-ana", "Agenda Dra. Ana", "prof-ana", "Ana Souza", nil, true))
	mock.ExpectQuery("FROM services").WithArgs("sched-ana").
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "detail"}).
			AddRow("svc-motor", "Fisioterapia motora", "").
			AddRow("svc-resp", "Fisioterapia respiratória", ""))
	mock.ExpectQuery("FROM locations").WithArgs("sched-ana").
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "detail"}).AddRow("loc-asa-sul", "Unidade Asa Sul", ""))
	mock.ExpectQuery("FROM companies").WithArgs("sched-ana").
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "detail"}).AddRow("co-clinic", "Respira Kids", ""))

	s, err := store.GetSchedule(context.Background(), "sched-ana")
	require.NoError(t, err)
	assert.Equal(t, "Ana Souza", s.ProfessionalName)
	assert.Len(t, s.Services, 2)
	assert.NoError(t, s.Bookable())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindResponsibleByPhone_NotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("FROM people").WithArgs("5561000000000").WillReturnError(pgx.ErrNoRows)

	_, err := store.FindResponsibleByPhone(context.Background(), "5561000000000")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestEnsureSchema(t *testing.T) {
	store, mock := newMockStore(t)
	for range schema {
		mock.ExpectExec(".").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	}
	require.NoError(t, store.EnsureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
