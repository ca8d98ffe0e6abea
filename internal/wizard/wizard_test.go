package wizard

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"respirakids/internal/booking"
	"respirakids/internal/identity"
	"respirakids/internal/model"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockIdentity struct {
	mock.Mock
}

func (m *mockIdentity) Validate(ctx context.Context, phone string) (identity.ValidateResult, error) {
	args := m.Called(ctx, phone)
	return args.Get(0).(identity.ValidateResult), args.Error(1)
}

func (m *mockIdentity) SendCode(ctx context.Context, handle string) (identity.SendCodeResult, error) {
	args := m.Called(ctx, handle)
	return args.Get(0).(identity.SendCodeResult), args.Error(1)
}

func (m *mockIdentity) ValidateCode(ctx context.Context, handle, code string) (identity.CodeCheckResult, error) {
	args := m.Called(ctx, handle, code)
	return args.Get(0).(identity.CodeCheckResult), args.Error(1)
}

type mockCatalog struct {
	mock.Mock
}

func (m *mockCatalog) LoadSchedule(ctx context.Context, id string) (*model.Schedule, error) {
	args := m.Called(ctx, id)
	if s := args.Get(0); s != nil {
		return s.(*model.Schedule), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockCatalog) LoadAvailableSlots(ctx context.Context, scheduleID string) ([]model.Slot, error) {
	args := m.Called(ctx, scheduleID)
	return args.Get(0).([]model.Slot), args.Error(1)
}

func (m *mockCatalog) LoadPatients(ctx context.Context, responsibleID string) ([]model.Person, error) {
	args := m.Called(ctx, responsibleID)
	return args.Get(0).([]model.Person), args.Error(1)
}

type mockBooker struct {
	mock.Mock
}

func (m *mockBooker) ResolveStatuses(ctx context.Context) (model.StatusIDs, error) {
	args := m.Called(ctx)
	return args.Get(0).(model.StatusIDs), args.Error(1)
}

func (m *mockBooker) BookSlot(ctx context.Context, req model.BookingRequest, statuses model.StatusIDs) booking.Result {
	return m.Called(ctx, req, statuses).Get(0).(booking.Result)
}

const (
	testPhone  = "(61) 99999-0000"
	testDigits = "5561999990000"
	testHandle = testDigits + "@s.whatsapp.net"
)

var (
	statusIDs = model.StatusIDs{Scheduled: "st-scheduled", PendingPayment: "pay-pending"}
	slotTime  = time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)
)

func options(prefix string, n int) []model.Option {
	out := make([]model.Option, n)
	for i := range out {
		id := prefix + string(rune('1'+i))
		out[i] = model.Option{ID: id, Name: id}
	}
	return out
}

func scheduleWith(services, locations, companies int) *model.Schedule {
	return &model.Schedule{
		ID:               "sched-ana",
		Title:            "Agenda Dra. Ana",
		ProfessionalName: "Ana Souza",
		IsActive:         true,
		Services:         options("svc-", services),
		Locations:        options("loc-", locations),
		Companies:        options("co-", companies),
	}
}

func slotList(ids ...string) []model.Slot {
	out := make([]model.Slot, len(ids))
	for i, id := range ids {
		out[i] = model.Slot{ID: id, ScheduleID: "sched-ana", StartsAt: slotTime.Add(time.Duration(i) * 40 * time.Minute), Available: true}
	}
	return out
}

type harness struct {
	identity *mockIdentity
	catalog  *mockCatalog
	booker   *mockBooker
	wizard   *Wizard

	mu      sync.Mutex
	success []string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		identity: new(mockIdentity),
		catalog:  new(mockCatalog),
		booker:   new(mockBooker),
	}
	logger := zerolog.New(io.Discard)
	h.wizard = New("session-1", "sched-ana", Dependencies{
		Identity: h.identity,
		Catalog:  h.catalog,
		Booker:   h.booker,
		Logger:   &logger,
	}, func(id string) {
		h.mu.Lock()
		h.success = append(h.success, id)
		h.mu.Unlock()
	})
	return h
}

func (h *harness) knownPhone() {
	h.identity.On("Validate", mock.Anything, testPhone).Return(identity.ValidateResult{
		IsValid: true, PersonExists: true, PersonID: "resp-1", Phone: testDigits, WhatsappJID: testHandle,
	}, nil)
	h.identity.On("SendCode", mock.Anything, testHandle).Return(identity.SendCodeResult{
		Success: true, ExpiresAt: time.Now().Add(5 * time.Minute),
	}, nil)
	h.identity.On("ValidateCode", mock.Anything, testHandle, "123456").Return(identity.CodeCheckResult{Valid: true}, nil)
}

// verified drives the wizard to select-patient for the given schedule shape.
func (h *harness) verified(t *testing.T, sched *model.Schedule) {
	t.Helper()
	h.knownPhone()
	h.catalog.On("LoadPatients", mock.Anything, "resp-1").
		Return([]model.Person{{ID: "pat-1", Name: "João"}, {ID: "pat-2", Name: "Lia"}}, nil)
	h.catalog.On("LoadSchedule", mock.Anything, "sched-ana").Return(sched, nil)

	ctx := context.Background()
	_, err := h.wizard.SubmitPhone(ctx, testPhone)
	require.NoError(t, err)
	snap, err := h.wizard.VerifyCode(ctx, "123456")
	require.NoError(t, err)
	require.Equal(t, StepPatient, snap.Step)
}

// atConfirmation drives a 1/1/1 schedule to confirmation with slot t1 selected.
func (h *harness) atConfirmation(t *testing.T) {
	t.Helper()
	h.verified(t, scheduleWith(1, 1, 1))
	h.catalog.On("LoadAvailableSlots", mock.Anything, "sched-ana").Return(slotList("t1", "t2", "t3"), nil).Once()

	ctx := context.Background()
	_, err := h.wizard.Select("pat-1")
	require.NoError(t, err)
	snap, err := h.wizard.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, StepSlot, snap.Step)
	_, err = h.wizard.Select("t1")
	require.NoError(t, err)
	snap, err = h.wizard.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, StepConfirmation, snap.Step)
}

func hasNotice(snap Snapshot, code string) bool {
	for _, n := range snap.Notices {
		if n.Code == code {
			return true
		}
	}
	return false
}

func TestWizard_StartsAtVerification(t *testing.T) {
	h := newHarness(t)
	snap := h.wizard.Snapshot()

	assert.Equal(t, StepVerification, snap.Step)
	assert.Equal(t, 0, snap.StepNumber)
	assert.IsType(t, PhoneStep{}, snap.View)
	assert.False(t, snap.CanGoBack)
}

func TestWizard_UnknownPhoneDeniesWithoutReferenceData(t *testing.T) {
	h := newHarness(t)
	h.identity.On("Validate", mock.Anything, testPhone).Return(identity.ValidateResult{
		IsValid: true, PersonExists: false, Phone: testDigits,
	}, nil)

	snap, err := h.wizard.SubmitPhone(context.Background(), testPhone)
	require.NoError(t, err)

	assert.Equal(t, StepAccessDenied, snap.Step)
	assert.Equal(t, AccessDeniedStep{Reason: CodeUnknownPhone}, snap.View)
	assert.True(t, hasNotice(snap, CodeUnknownPhone))
	h.identity.AssertNotCalled(t, "SendCode", mock.Anything, mock.Anything)
	h.catalog.AssertNotCalled(t, "LoadPatients", mock.Anything, mock.Anything)
	h.catalog.AssertNotCalled(t, "LoadSchedule", mock.Anything, mock.Anything)
	h.catalog.AssertNotCalled(t, "LoadAvailableSlots", mock.Anything, mock.Anything)

	_, err = h.wizard.Next(context.Background())
	assert.ErrorIs(t, err, ErrWrongStep)
}

func TestWizard_NoPatientsDenies(t *testing.T) {
	h := newHarness(t)
	h.knownPhone()
	h.catalog.On("LoadPatients", mock.Anything, "resp-1").Return([]model.Person{}, nil)
	ctx := context.Background()

	_, err := h.wizard.SubmitPhone(ctx, testPhone)
	require.NoError(t, err)
	snap, err := h.wizard.VerifyCode(ctx, "123456")
	require.NoError(t, err)

	assert.Equal(t, StepAccessDenied, snap.Step)
	assert.Equal(t, AccessDeniedStep{Reason: CodeNoPatients}, snap.View)
	h.catalog.AssertNotCalled(t, "LoadSchedule", mock.Anything, mock.Anything)
}

func TestWizard_InvalidPhone(t *testing.T) {
	h := newHarness(t)
	h.identity.On("Validate", mock.Anything, "123").Return(identity.ValidateResult{IsValid: false}, nil)

	snap, err := h.wizard.SubmitPhone(context.Background(), "123")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "phone", verr.Field)
	assert.Equal(t, StepVerification, snap.Step)
	assert.True(t, hasNotice(snap, CodeInvalidPhone))
}

func TestWizard_WrongCodeThenBlockedReturnsToPhoneEntry(t *testing.T) {
	h := newHarness(t)
	h.knownPhone()
	h.identity.On("ValidateCode", mock.Anything, testHandle, "000000").
		Return(identity.CodeCheckResult{AttemptsRemaining: 1}, nil).Once()
	h.identity.On("ValidateCode", mock.Anything, testHandle, "000000").
		Return(identity.CodeCheckResult{Blocked: true}, nil).Once()
	ctx := context.Background()

	_, err := h.wizard.SubmitPhone(ctx, testPhone)
	require.NoError(t, err)

	snap, err := h.wizard.VerifyCode(ctx, "000000")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, 1, snap.View.(PhoneStep).AttemptsRemaining)

	snap, err = h.wizard.VerifyCode(ctx, "000000")
	require.NoError(t, err)
	assert.Equal(t, StepVerification, snap.Step)
	assert.False(t, snap.View.(PhoneStep).CodeSent)
	assert.True(t, hasNotice(snap, CodeCodeBlocked))
	assert.Empty(t, h.wizard.Request().ResponsibleID)

	_, err = h.wizard.VerifyCode(ctx, "123456")
	assert.ErrorIs(t, err, ErrWrongStep, "phone must be entered again")
}

func TestWizard_IdentityFailureIsNotice(t *testing.T) {
	h := newHarness(t)
	h.identity.On("Validate", mock.Anything, testPhone).Return(identity.ValidateResult{}, errors.New("redis down"))

	snap, err := h.wizard.SubmitPhone(context.Background(), testPhone)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, StepVerification, snap.Step)
	assert.True(t, hasNotice(snap, CodeIdentityFailed))
}

func TestWizard_SkipCorrectness(t *testing.T) {
	h := newHarness(t)
	h.verified(t, scheduleWith(1, 3, 1))
	h.catalog.On("LoadAvailableSlots", mock.Anything, "sched-ana").Return(slotList("t1"), nil)
	ctx := context.Background()

	_, err := h.wizard.Select("pat-1")
	require.NoError(t, err)
	snap, err := h.wizard.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, StepLocation, snap.Step)
	assert.Equal(t, 2, snap.StepNumber)
	assert.Equal(t, 4, snap.TotalSteps)

	req := h.wizard.Request()
	assert.Equal(t, "svc-1", req.ServiceID, "single service auto-assigned")
	assert.Equal(t, "co-1", req.CompanyID, "single company auto-assigned")

	_, err = h.wizard.Select("loc-2")
	require.NoError(t, err)
	snap, err = h.wizard.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, StepSlot, snap.Step)

	snap, err = h.wizard.Back(ctx)
	require.NoError(t, err)
	assert.Equal(t, StepLocation, snap.Step)
	assert.Equal(t, LocationStep{Locations: options("loc-", 3), Selected: "loc-2"}, snap.View)

	snap, err = h.wizard.Back(ctx)
	require.NoError(t, err)
	assert.Equal(t, StepPatient, snap.Step)
	assert.False(t, snap.CanGoBack)

	_, err = h.wizard.Back(ctx)
	assert.ErrorIs(t, err, ErrWrongStep)
}

func TestWizard_GuardRejectsMissingSelection(t *testing.T) {
	h := newHarness(t)
	h.verified(t, scheduleWith(2, 1, 1))

	snap, err := h.wizard.Next(context.Background())
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "patient_id", verr.Field)
	assert.Equal(t, StepPatient, snap.Step)
	assert.True(t, hasNotice(snap, CodeSelectionRequired))

	snap, err = h.wizard.Select("pat-9")
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "patient_id", verr.Field)
	assert.True(t, hasNotice(snap, CodeInvalidOption))
	assert.Empty(t, h.wizard.Request().PatientID)
}

func TestWizard_InactiveScheduleBlocksPatientStep(t *testing.T) {
	h := newHarness(t)
	sched := scheduleWith(1, 1, 1)
	sched.IsActive = false
	h.verified(t, sched)

	snap := h.wizard.Snapshot()
	assert.True(t, hasNotice(snap, CodeScheduleClosed))

	_, err := h.wizard.Select("pat-1")
	require.NoError(t, err)
	snap, err = h.wizard.Next(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, StepPatient, snap.Step)
}

func TestWizard_SlotLoadFailureBlocksUntilReload(t *testing.T) {
	h := newHarness(t)
	h.verified(t, scheduleWith(1, 1, 1))
	h.catalog.On("LoadAvailableSlots", mock.Anything, "sched-ana").Return([]model.Slot(nil), errors.New("timeout")).Once()
	h.catalog.On("LoadAvailableSlots", mock.Anything, "sched-ana").Return(slotList("t1", "t2"), nil).Once()
	ctx := context.Background()

	_, err := h.wizard.Select("pat-1")
	require.NoError(t, err)
	snap, err := h.wizard.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, StepSlot, snap.Step)
	assert.False(t, snap.View.(SlotStep).Loaded)
	assert.True(t, hasNotice(snap, CodeReferenceData))

	_, err = h.wizard.Next(ctx)
	assert.ErrorIs(t, err, ErrUnavailable)

	snap, err = h.wizard.Reload(ctx)
	require.NoError(t, err)
	assert.Len(t, snap.View.(SlotStep).Slots, 2)
}

func TestWizard_ConfirmSuccessCallsOnSuccessOnce(t *testing.T) {
	h := newHarness(t)
	h.atConfirmation(t)

	snap := h.wizard.Snapshot()
	assert.Equal(t, Summary{
		Professional: "Ana Souza",
		Patient:      "João",
		Service:      "svc-1",
		Location:     "loc-1",
		Company:      "co-1",
		StartsAt:     slotTime,
	}, snap.View.(ConfirmationStep).Summary)

	want := model.BookingRequest{
		ScheduleID:       "sched-ana",
		SlotID:           "t1",
		PatientID:        "pat-1",
		ResponsibleID:    "resp-1",
		ResponsiblePhone: testDigits,
		ServiceID:        "svc-1",
		LocationID:       "loc-1",
		CompanyID:        "co-1",
	}
	h.booker.On("ResolveStatuses", mock.Anything).Return(statusIDs, nil)
	h.booker.On("BookSlot", mock.Anything, want, statusIDs).
		Return(booking.Result{Success: true, Data: &booking.ResultData{AppointmentID: "appt-1"}}).Once()

	snap, err := h.wizard.Confirm(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StepSuccess, snap.Step)
	assert.Equal(t, SuccessStep{AppointmentID: "appt-1"}, snap.View)
	assert.Equal(t, snap.TotalSteps, snap.StepNumber)

	_, err = h.wizard.Confirm(context.Background())
	assert.ErrorIs(t, err, ErrWrongStep)
	assert.Equal(t, []string{"appt-1"}, h.success)
	h.booker.AssertNumberOfCalls(t, "BookSlot", 1)
}

func TestWizard_ConflictRecovery(t *testing.T) {
	h := newHarness(t)
	h.atConfirmation(t)
	h.booker.On("ResolveStatuses", mock.Anything).Return(statusIDs, nil)
	h.booker.On("BookSlot", mock.Anything, mock.Anything, statusIDs).
		Return(booking.Result{Error: booking.ErrSlotUnavailable.Error(), Reason: booking.ReasonSlotUnavailable}).Once()
	h.catalog.On("LoadAvailableSlots", mock.Anything, "sched-ana").Return(slotList("t2", "t3"), nil).Once()

	snap, err := h.wizard.Confirm(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StepSlot, snap.Step)
	assert.True(t, hasNotice(snap, CodeSlotUnavailable))
	assert.Equal(t, SlotStep{Slots: slotList("t2", "t3"), Loaded: true}, snap.View, "refreshed list replaces the stale one")
	assert.Empty(t, h.wizard.Request().SlotID)
	assert.Empty(t, h.success)
	h.booker.AssertNumberOfCalls(t, "BookSlot", 1)

	// The user must choose again before moving on.
	_, err = h.wizard.Next(context.Background())
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)

	_, err = h.wizard.Select("t1")
	assert.ErrorAs(t, err, &verr, "the lost slot is no longer offered")
}

func TestWizard_OtherBookingFailureStaysOnConfirmation(t *testing.T) {
	h := newHarness(t)
	h.atConfirmation(t)
	h.booker.On("ResolveStatuses", mock.Anything).Return(statusIDs, nil)
	h.booker.On("BookSlot", mock.Anything, mock.Anything, statusIDs).
		Return(booking.Result{Error: "could not create the appointment, try again", Reason: booking.ReasonInternal}).Once()

	before := h.wizard.Request()
	snap, err := h.wizard.Confirm(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, StepConfirmation, snap.Step)
	assert.True(t, hasNotice(snap, CodeBookingFailed))
	assert.Equal(t, before, h.wizard.Request())
}

func TestWizard_StatusLookupFailureStaysOnConfirmation(t *testing.T) {
	h := newHarness(t)
	h.atConfirmation(t)
	h.booker.On("ResolveStatuses", mock.Anything).Return(model.StatusIDs{}, model.ErrNotFound)

	snap, err := h.wizard.Confirm(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, StepConfirmation, snap.Step)
	h.booker.AssertNotCalled(t, "BookSlot", mock.Anything, mock.Anything, mock.Anything)
}

func TestWizard_SubmitInFlightRejectsDuplicates(t *testing.T) {
	h := newHarness(t)
	h.atConfirmation(t)

	entered := make(chan struct{})
	release := make(chan struct{})
	h.booker.On("ResolveStatuses", mock.Anything).Return(statusIDs, nil)
	h.booker.On("BookSlot", mock.Anything, mock.Anything, statusIDs).
		Run(func(mock.Arguments) {
			close(entered)
			<-release
		}).
		Return(booking.Result{Success: true, Data: &booking.ResultData{AppointmentID: "appt-1"}}).Once()

	done := make(chan error, 1)
	go func() {
		_, err := h.wizard.Confirm(context.Background())
		done <- err
	}()
	<-entered

	snap := h.wizard.Snapshot()
	assert.True(t, snap.Submitting)
	assert.False(t, snap.CanGoBack)

	_, err := h.wizard.Confirm(context.Background())
	assert.ErrorIs(t, err, ErrSubmitInFlight)
	_, err = h.wizard.Back(context.Background())
	assert.ErrorIs(t, err, ErrSubmitInFlight)
	_, err = h.wizard.Select("t2")
	assert.ErrorIs(t, err, ErrSubmitInFlight)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, StepSuccess, h.wizard.Snapshot().Step)
	assert.Equal(t, []string{"appt-1"}, h.success)
	h.booker.AssertNumberOfCalls(t, "BookSlot", 1)
}

func TestWizard_BackFromConfirmationRefreshesSlots(t *testing.T) {
	h := newHarness(t)
	h.atConfirmation(t)
	h.catalog.On("LoadAvailableSlots", mock.Anything, "sched-ana").Return(slotList("t1", "t3"), nil).Once()

	snap, err := h.wizard.Back(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StepSlot, snap.Step)
	assert.Equal(t, "t1", snap.View.(SlotStep).Selected, "selection kept while still available")
	h.catalog.AssertNumberOfCalls(t, "LoadAvailableSlots", 2)
}

func TestWizard_SubmitPhoneReturnsSentCode(t *testing.T) {
	h := newHarness(t)
	h.knownPhone()

	snap, err := h.wizard.SubmitPhone(context.Background(), testPhone)
	require.NoError(t, err)

	assert.Equal(t, StepVerification, snap.Step)
	view := snap.View.(PhoneStep)
	assert.True(t, view.CodeSent)
	assert.False(t, view.ExpiresAt.IsZero())
	assert.True(t, hasNotice(snap, CodeCodeSent))
}

func TestWizard_SendCode(t *testing.T) {
	tests := []struct {
		name     string
		result   identity.SendCodeResult
		err      error
		wantErr  error
		codeSent bool
		notice   string
	}{
		{
			name:     "sent",
			result:   identity.SendCodeResult{Success: true, ExpiresAt: time.Now().Add(5 * time.Minute)},
			codeSent: true,
			notice:   CodeCodeSent,
		},
		{
			name:   "throttled",
			result: identity.SendCodeResult{Success: false, Error: "Aguarde para reenviar."},
			notice: CodeResendThrottled,
		},
		{
			name:    "gateway down",
			err:     errors.New("whatsapp: 503"),
			wantErr: ErrUnavailable,
			notice:  CodeIdentityFailed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.identity.On("Validate", mock.Anything, testPhone).Return(identity.ValidateResult{
				IsValid: true, PersonExists: true, PersonID: "resp-1", Phone: testDigits, WhatsappJID: testHandle,
			}, nil)
			h.identity.On("SendCode", mock.Anything, testHandle).Return(tt.result, tt.err)

			snap, err := h.wizard.SubmitPhone(context.Background(), testPhone)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, StepVerification, snap.Step)
			assert.Equal(t, tt.codeSent, snap.View.(PhoneStep).CodeSent)
			assert.True(t, hasNotice(snap, tt.notice))
		})
	}
}

func TestWizard_ResendCode(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.wizard.ResendCode(ctx)
	assert.ErrorIs(t, err, ErrWrongStep, "no phone submitted yet")

	h.identity.On("Validate", mock.Anything, testPhone).Return(identity.ValidateResult{
		IsValid: true, PersonExists: true, PersonID: "resp-1", Phone: testDigits, WhatsappJID: testHandle,
	}, nil)
	h.identity.On("SendCode", mock.Anything, testHandle).Return(identity.SendCodeResult{
		Success: true, ExpiresAt: time.Now().Add(5 * time.Minute),
	}, nil).Once()
	h.identity.On("SendCode", mock.Anything, testHandle).Return(identity.SendCodeResult{
		Success: false, Error: "Aguarde para reenviar.",
	}, nil).Once()
	h.identity.On("SendCode", mock.Anything, testHandle).Return(identity.SendCodeResult{}, errors.New("timeout")).Once()

	_, err = h.wizard.SubmitPhone(ctx, testPhone)
	require.NoError(t, err)

	snap, err := h.wizard.ResendCode(ctx)
	require.NoError(t, err)
	assert.True(t, hasNotice(snap, CodeResendThrottled))
	assert.False(t, hasNotice(snap, CodeCodeSent), "notices describe the latest operation only")
	assert.True(t, snap.View.(PhoneStep).CodeSent, "earlier code is still valid")

	snap, err = h.wizard.ResendCode(ctx)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.True(t, hasNotice(snap, CodeIdentityFailed))
	h.identity.AssertNumberOfCalls(t, "SendCode", 3)
}

func TestWizard_ScheduleTransportFailureAfterInactiveIsRetryable(t *testing.T) {
	h := newHarness(t)
	h.knownPhone()
	h.catalog.On("LoadPatients", mock.Anything, "resp-1").Return([]model.Person{{ID: "pat-1", Name: "João"}}, nil)
	inactive := scheduleWith(1, 1, 1)
	inactive.IsActive = false
	h.catalog.On("LoadSchedule", mock.Anything, "sched-ana").Return(inactive, nil).Once()
	h.catalog.On("LoadSchedule", mock.Anything, "sched-ana").Return(nil, errors.New("connection reset")).Once()
	h.catalog.On("LoadSchedule", mock.Anything, "sched-ana").Return(scheduleWith(1, 1, 1), nil).Once()
	ctx := context.Background()

	_, err := h.wizard.SubmitPhone(ctx, testPhone)
	require.NoError(t, err)
	snap, err := h.wizard.VerifyCode(ctx, "123456")
	require.NoError(t, err)
	require.True(t, hasNotice(snap, CodeScheduleClosed))

	snap, err = h.wizard.Reload(ctx)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.True(t, hasNotice(snap, CodeReferenceData))
	assert.False(t, hasNotice(snap, CodeScheduleClosed))

	_, err = h.wizard.Reload(ctx)
	require.NoError(t, err)
	h.catalog.On("LoadAvailableSlots", mock.Anything, "sched-ana").Return(slotList("t1"), nil)
	_, err = h.wizard.Select("pat-1")
	require.NoError(t, err)
	snap, err = h.wizard.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, StepSlot, snap.Step)
}
