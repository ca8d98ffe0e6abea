package wizard

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"respirakids/internal/booking"
	"respirakids/internal/identity"
	"respirakids/internal/metrics"
	"respirakids/internal/model"

	"github.com/rs/zerolog"
)

var (
	ErrWrongStep      = errors.New("operation not allowed at the current step")
	ErrSubmitInFlight = errors.New("a booking is already being submitted")
	ErrUnavailable    = errors.New("dependency unavailable")
)

// ValidationError rejects a transition because the step's input is missing or invalid.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// IdentityVerifier is the phone verification contract.
type IdentityVerifier interface {
	Validate(ctx context.Context, phone string) (identity.ValidateResult, error)
	SendCode(ctx context.Context, handle string) (identity.SendCodeResult, error)
	ValidateCode(ctx context.Context, handle, code string) (identity.CodeCheckResult, error)
}

// Catalog provides reference data.
type Catalog interface {
	LoadSchedule(ctx context.Context, id string) (*model.Schedule, error)
	LoadAvailableSlots(ctx context.Context, scheduleID string) ([]model.Slot, error)
	LoadPatients(ctx context.Context, responsibleID string) ([]model.Person, error)
}

// Booker runs the Booking Transaction.
type Booker interface {
	ResolveStatuses(ctx context.Context) (model.StatusIDs, error)
	BookSlot(ctx context.Context, req model.BookingRequest, statuses model.StatusIDs) booking.Result
}

// Dependencies are the collaborators of a wizard.
type Dependencies struct {
	Identity IdentityVerifier
	Catalog  Catalog
	Booker   Booker
	Logger   *zerolog.Logger
}

// Wizard is one booking session. Operations are serialized; only Confirm releases the lock while
// the Booking Transaction runs, with the submit-in-flight flag set.
type Wizard struct {
	mu sync.Mutex

	id         string
	scheduleID string
	deps       Dependencies
	logger     zerolog.Logger
	onSuccess  func(appointmentID string)
	now        func() time.Time

	step      Step
	request   model.BookingRequest
	updatedAt time.Time

	// verification
	phone             string
	handle            string
	codeSent          bool
	expiresAt         time.Time
	attemptsRemaining int
	deniedReason      string

	// reference data
	patients       []model.Person
	patientsLoaded bool
	schedule       *model.Schedule
	scheduleClosed bool
	slots          []model.Slot
	slotsLoaded    bool

	submitting      bool
	appointmentID   string
	successNotified bool
	notices         []Notice
}

// New creates a wizard at whatsapp-validation. onSuccess may be nil.
func New(id, scheduleID string, deps Dependencies, onSuccess func(appointmentID string)) *Wizard {
	logger := zerolog.Nop()
	if deps.Logger != nil {
		logger = *deps.Logger
	}
	return &Wizard{
		id:         id,
		scheduleID: scheduleID,
		deps:       deps,
		logger:     logger.With().Str("component", "wizard").Str("session_id", id).Str("schedule_id", scheduleID).Logger(),
		onSuccess:  onSuccess,
		now:        time.Now,
		step:       StepVerification,
		request:    model.BookingRequest{ScheduleID: scheduleID},
		updatedAt:  time.Now(),
	}
}

// ID returns the session id.
func (w *Wizard) ID() string { return w.id }

// Expired reports whether the wizard has been idle longer than timeout.
func (w *Wizard) Expired(timeout time.Duration) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return !w.submitting && w.now().Sub(w.updatedAt) > timeout
}

// Request returns a copy of the Booking Request.
func (w *Wizard) Request() model.BookingRequest {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.request
}

// Snapshot returns the current state for rendering.
func (w *Wizard) Snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.snapshotLocked()
}

// SubmitPhone validates the phone and sends a verification code to known responsible parties.
// Unknown phones close the wizard at access-denied before any reference data is read.
func (w *Wizard) SubmitPhone(ctx context.Context, phone string) (Snapshot, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.begin()

	if w.step != StepVerification {
		return w.snapshotLocked(), ErrWrongStep
	}

	res, err := w.deps.Identity.Validate(ctx, phone)
	if err != nil {
		w.logger.Error().Err(err).Msg("phone validation failed")
		w.notify(LevelError, CodeIdentityFailed, msgIdentityFailed)
		return w.snapshotLocked(), fmt.Errorf("%w: validate phone: %v", ErrUnavailable, err)
	}
	if !res.IsValid {
		w.notify(LevelWarning, CodeInvalidPhone, msgInvalidPhone)
		return w.snapshotLocked(), &ValidationError{Field: "phone", Message: msgInvalidPhone}
	}

	w.phone = res.Phone
	w.codeSent = false
	if !res.PersonExists {
		w.deny(CodeUnknownPhone, msgUnknownPhone)
		return w.snapshotLocked(), nil
	}

	w.request.ResponsibleID = res.PersonID
	w.request.ResponsiblePhone = res.Phone
	w.handle = res.WhatsappJID
	if w.handle == "" {
		w.handle = identity.JID(res.Phone)
	}

	err = w.sendCode(ctx)
	return w.snapshotLocked(), err
}

// ResendCode issues a new code for the phone already submitted.
func (w *Wizard) ResendCode(ctx context.Context) (Snapshot, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.begin()

	if w.step != StepVerification || w.handle == "" {
		return w.snapshotLocked(), ErrWrongStep
	}
	err := w.sendCode(ctx)
	return w.snapshotLocked(), err
}

func (w *Wizard) sendCode(ctx context.Context) error {
	res, err := w.deps.Identity.SendCode(ctx, w.handle)
	if err != nil {
		w.logger.Error().Err(err).Msg("send code failed")
		w.notify(LevelError, CodeIdentityFailed, msgIdentityFailed)
		return fmt.Errorf("%w: send code: %v", ErrUnavailable, err)
	}
	if !res.Success {
		w.notify(LevelWarning, CodeResendThrottled, res.Error)
		return nil
	}
	w.codeSent = true
	w.expiresAt = res.ExpiresAt
	w.attemptsRemaining = 0
	w.notify(LevelInfo, CodeCodeSent, msgCodeSent(res.ExpiresAt))
	return nil
}

// VerifyCode checks the one-time code. A valid code loads the party's patients and the schedule;
// a blocked challenge sends the user back to phone entry.
func (w *Wizard) VerifyCode(ctx context.Context, code string) (Snapshot, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.begin()

	if w.step != StepVerification || !w.codeSent {
		return w.snapshotLocked(), ErrWrongStep
	}

	res, err := w.deps.Identity.ValidateCode(ctx, w.handle, strings.TrimSpace(code))
	if err != nil {
		w.logger.Error().Err(err).Msg("code validation failed")
		w.notify(LevelError, CodeIdentityFailed, msgIdentityFailed)
		return w.snapshotLocked(), fmt.Errorf("%w: validate code: %v", ErrUnavailable, err)
	}

	switch {
	case res.Valid:
		w.codeSent = false
		w.logger.Info().Str("responsible_id", w.request.ResponsibleID).Msg("responsible verified")
		w.enterPatientStep(ctx)
		return w.snapshotLocked(), nil
	case res.Blocked:
		w.resetIdentity()
		w.notify(LevelWarning, CodeCodeBlocked, msgCodeBlocked)
		return w.snapshotLocked(), nil
	case res.Expired:
		w.notify(LevelWarning, CodeExpiredCode, msgExpiredCode)
		return w.snapshotLocked(), &ValidationError{Field: "code", Message: msgExpiredCode}
	default:
		w.attemptsRemaining = res.AttemptsRemaining
		msg := msgInvalidCode(res.AttemptsRemaining)
		w.notify(LevelWarning, CodeInvalidCode, msg)
		return w.snapshotLocked(), &ValidationError{Field: "code", Message: msg}
	}
}

// Select records the choice for the current step. Selecting a slot reserves nothing.
func (w *Wizard) Select(id string) (Snapshot, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.submitting {
		return w.snapshotLocked(), ErrSubmitInFlight
	}
	w.begin()

	var (
		field string
		found bool
	)
	switch w.step {
	case StepPatient:
		field = "patient_id"
		if _, found = model.FindPerson(w.patients, id); found {
			w.request.PatientID = id
		}
	case StepService, StepLocation, StepCompany:
		if w.schedule == nil {
			w.notifyMissingSchedule()
			return w.snapshotLocked(), fmt.Errorf("%w: schedule not loaded", ErrUnavailable)
		}
		switch w.step {
		case StepService:
			field = "service_id"
			if _, found = model.FindOption(w.schedule.Services, id); found {
				w.request.ServiceID = id
			}
		case StepLocation:
			field = "location_id"
			if _, found = model.FindOption(w.schedule.Locations, id); found {
				w.request.LocationID = id
			}
		default:
			field = "company_id"
			if _, found = model.FindOption(w.schedule.Companies, id); found {
				w.request.CompanyID = id
			}
		}
	case StepSlot:
		field = "slot_id"
		if _, found = model.FindSlot(w.slots, id); found {
			w.request.SlotID = id
		}
	default:
		return w.snapshotLocked(), ErrWrongStep
	}

	if !found {
		w.notify(LevelWarning, CodeInvalidOption, msgInvalidOption)
		return w.snapshotLocked(), &ValidationError{Field: field, Message: msgInvalidOption}
	}
	return w.snapshotLocked(), nil
}

// Next validates the current step's selection and moves forward, skipping steps whose candidate
// set has exactly one member.
func (w *Wizard) Next(ctx context.Context) (Snapshot, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.submitting {
		return w.snapshotLocked(), ErrSubmitInFlight
	}
	w.begin()

	switch w.step {
	case StepPatient, StepService, StepLocation, StepCompany, StepSlot:
	default:
		return w.snapshotLocked(), ErrWrongStep
	}

	if err := w.guard(); err != nil {
		return w.snapshotLocked(), err
	}

	w.enter(ctx, NextStep(w.step, w.cardinalities()))
	return w.snapshotLocked(), nil
}

// Back returns to the previous visible step. Selections are kept.
func (w *Wizard) Back(ctx context.Context) (Snapshot, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.submitting {
		return w.snapshotLocked(), ErrSubmitInFlight
	}
	w.begin()

	prev := PrevStep(w.step, w.cardinalities())
	if prev == w.step {
		return w.snapshotLocked(), ErrWrongStep
	}

	w.enter(ctx, prev)
	return w.snapshotLocked(), nil
}

// Reload retries the reference data of the current step.
func (w *Wizard) Reload(ctx context.Context) (Snapshot, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.submitting {
		return w.snapshotLocked(), ErrSubmitInFlight
	}
	w.begin()

	ok := true
	switch w.step {
	case StepPatient:
		if !w.patientsLoaded {
			ok = w.loadPatients(ctx)
			if w.step == StepAccessDenied {
				return w.snapshotLocked(), nil
			}
		}
		if w.schedule == nil {
			ok = w.loadSchedule(ctx) && ok
		}
	case StepService, StepLocation, StepCompany:
		if w.schedule == nil {
			ok = w.loadSchedule(ctx)
		}
	case StepSlot:
		ok = w.loadSlots(ctx)
	default:
		return w.snapshotLocked(), ErrWrongStep
	}

	if !ok {
		return w.snapshotLocked(), fmt.Errorf("%w: reload %s", ErrUnavailable, w.step)
	}
	return w.snapshotLocked(), nil
}

// Confirm submits the Booking Request. A lost race runs the conflict recovery; any other failure
// keeps the wizard on confirmation with every selection intact.
func (w *Wizard) Confirm(ctx context.Context) (Snapshot, error) {
	w.mu.Lock()
	if w.submitting {
		snap := w.snapshotLocked()
		w.mu.Unlock()
		return snap, ErrSubmitInFlight
	}
	w.begin()

	if w.step != StepConfirmation {
		snap := w.snapshotLocked()
		w.mu.Unlock()
		return snap, ErrWrongStep
	}
	if missing := w.request.MissingFields(); len(missing) > 0 {
		msg := "campos obrigatórios ausentes: " + strings.Join(missing, ", ")
		w.notify(LevelError, CodeSelectionRequired, msg)
		snap := w.snapshotLocked()
		w.mu.Unlock()
		return snap, &ValidationError{Field: missing[0], Message: msg}
	}

	w.submitting = true
	req := w.request
	w.mu.Unlock()

	var res booking.Result
	statuses, statusErr := w.deps.Booker.ResolveStatuses(ctx)
	if statusErr == nil {
		res = w.deps.Booker.BookSlot(ctx, req, statuses)
	}

	w.mu.Lock()
	w.submitting = false
	w.updatedAt = w.now()

	var (
		callback func(string)
		outErr   error
	)
	switch {
	case statusErr != nil:
		w.logger.Error().Err(statusErr).Msg("resolve statuses failed")
		w.notify(LevelError, CodeBookingFailed, msgBookingFailed)
		outErr = fmt.Errorf("%w: resolve statuses: %v", ErrUnavailable, statusErr)
	case res.Success:
		w.appointmentID = res.AppointmentID()
		w.step = StepSuccess
		metrics.IncStepEntered(string(StepSuccess))
		w.logger.Info().Str("appointment_id", w.appointmentID).Msg("wizard completed")
		if !w.successNotified {
			w.successNotified = true
			callback = w.onSuccess
		}
	case res.Reason == booking.ReasonSlotUnavailable:
		w.recoverFromConflict(ctx)
	default:
		w.logger.Warn().Str("reason", string(res.Reason)).Str("error", res.Error).Msg("booking failed")
		w.notify(LevelError, CodeBookingFailed, msgBookingFailed)
		outErr = fmt.Errorf("%w: %s", ErrUnavailable, res.Error)
	}

	snap := w.snapshotLocked()
	id := w.appointmentID
	w.mu.Unlock()

	if callback != nil {
		callback(id)
	}
	return snap, outErr
}

// begin starts an operation: notices describe only the latest one.
func (w *Wizard) begin() {
	w.notices = nil
	w.updatedAt = w.now()
}

func (w *Wizard) notify(level, code, message string) {
	w.notices = append(w.notices, Notice{Level: level, Code: code, Message: message})
}

func (w *Wizard) notifyMissingSchedule() {
	if w.scheduleClosed {
		w.notify(LevelError, CodeScheduleClosed, msgScheduleClosed)
		return
	}
	w.notify(LevelError, CodeReferenceData, msgReferenceData)
}

func (w *Wizard) deny(reason, message string) {
	w.step = StepAccessDenied
	w.deniedReason = reason
	w.notify(LevelError, reason, message)
	metrics.IncAccessDenied(reason)
	metrics.IncStepEntered(string(StepAccessDenied))
	w.logger.Info().Str("reason", reason).Msg("access denied")
}

func (w *Wizard) resetIdentity() {
	w.handle = ""
	w.codeSent = false
	w.expiresAt = time.Time{}
	w.attemptsRemaining = 0
	w.request.ResponsibleID = ""
	w.request.ResponsiblePhone = ""
}

// cardinalities are zero until the schedule is loaded, so nothing is skipped before that.
func (w *Wizard) cardinalities() Cardinalities {
	if w.schedule == nil {
		return Cardinalities{}
	}
	return Cardinalities{
		Services:  len(w.schedule.Services),
		Locations: len(w.schedule.Locations),
		Companies: len(w.schedule.Companies),
	}
}

func (w *Wizard) enter(ctx context.Context, step Step) {
	w.logger.Debug().Str("from", string(w.step)).Str("to", string(step)).Msg("step")
	w.step = step
	metrics.IncStepEntered(string(step))
	if step == StepSlot {
		w.loadSlots(ctx)
	}
}

func (w *Wizard) enterPatientStep(ctx context.Context) {
	w.loadPatients(ctx)
	if w.step == StepAccessDenied {
		return
	}
	w.enter(ctx, StepPatient)
	w.loadSchedule(ctx)
}

func (w *Wizard) loadPatients(ctx context.Context) bool {
	patients, err := w.deps.Catalog.LoadPatients(ctx, w.request.ResponsibleID)
	if err != nil {
		w.logger.Error().Err(err).Msg("load patients failed")
		w.patientsLoaded = false
		w.notify(LevelError, CodeReferenceData, msgReferenceData)
		return false
	}
	if len(patients) == 0 {
		w.deny(CodeNoPatients, msgNoPatients)
		return false
	}
	w.patients = patients
	w.patientsLoaded = true
	if _, ok := model.FindPerson(patients, w.request.PatientID); !ok {
		w.request.PatientID = ""
	}
	return true
}

func (w *Wizard) loadSchedule(ctx context.Context) bool {
	w.scheduleClosed = false
	s, err := w.deps.Catalog.LoadSchedule(ctx, w.scheduleID)
	if err == nil {
		if err = s.Bookable(); err != nil {
			w.scheduleClosed = true
		}
	}
	if err != nil {
		w.logger.Error().Err(err).Msg("load schedule failed")
		w.schedule = nil
		w.notifyMissingSchedule()
		return false
	}

	w.schedule = s
	w.request.ServiceID = pick(s.Services, w.request.ServiceID)
	w.request.LocationID = pick(s.Locations, w.request.LocationID)
	w.request.CompanyID = pick(s.Companies, w.request.CompanyID)
	return true
}

// pick auto-assigns single-member sets and drops a selection that is no longer offered.
func pick(options []model.Option, current string) string {
	if len(options) == 1 {
		return options[0].ID
	}
	if _, ok := model.FindOption(options, current); ok {
		return current
	}
	return ""
}

// loadSlots replaces the slot list with a fresh query. On failure the list is emptied so no stale
// slot can be chosen.
func (w *Wizard) loadSlots(ctx context.Context) bool {
	slots, err := w.deps.Catalog.LoadAvailableSlots(ctx, w.scheduleID)
	if err != nil {
		w.logger.Error().Err(err).Msg("load slots failed")
		w.slots = nil
		w.slotsLoaded = false
		w.request.SlotID = ""
		w.notify(LevelError, CodeReferenceData, msgReferenceData)
		return false
	}
	w.slots = slots
	w.slotsLoaded = true
	if _, ok := model.FindSlot(slots, w.request.SlotID); !ok {
		w.request.SlotID = ""
	}
	return true
}

// guard checks that the current step's data is loaded and its Booking Request field is set.
func (w *Wizard) guard() error {
	var (
		loaded bool
		field  string
		value  string
	)
	switch w.step {
	case StepPatient:
		loaded, field, value = w.patientsLoaded && w.schedule != nil, "patient_id", w.request.PatientID
	case StepService:
		loaded, field, value = w.schedule != nil, "service_id", w.request.ServiceID
	case StepLocation:
		loaded, field, value = w.schedule != nil, "location_id", w.request.LocationID
	case StepCompany:
		loaded, field, value = w.schedule != nil, "company_id", w.request.CompanyID
	case StepSlot:
		loaded, field, value = w.slotsLoaded, "slot_id", w.request.SlotID
	}

	if !loaded {
		if w.step != StepSlot && w.patientsLoaded {
			w.notifyMissingSchedule()
		} else {
			w.notify(LevelError, CodeReferenceData, msgReferenceData)
		}
		return fmt.Errorf("%w: %s data not loaded", ErrUnavailable, w.step)
	}
	if value == "" {
		msg := selectionRequired[w.step]
		w.notify(LevelWarning, CodeSelectionRequired, msg)
		return &ValidationError{Field: field, Message: msg}
	}
	return nil
}

func (w *Wizard) summary() Summary {
	s := Summary{}
	if p, ok := model.FindPerson(w.patients, w.request.PatientID); ok {
		s.Patient = p.Name
	}
	if sl, ok := model.FindSlot(w.slots, w.request.SlotID); ok {
		s.StartsAt = sl.StartsAt
	}
	if w.schedule == nil {
		return s
	}
	s.Professional = w.schedule.ProfessionalName
	if o, ok := model.FindOption(w.schedule.Services, w.request.ServiceID); ok {
		s.Service = o.Name
	}
	if o, ok := model.FindOption(w.schedule.Locations, w.request.LocationID); ok {
		s.Location = o.Name
	}
	if o, ok := model.FindOption(w.schedule.Companies, w.request.CompanyID); ok {
		s.Company = o.Name
	}
	return s
}

func (w *Wizard) view() View {
	switch w.step {
	case StepVerification:
		return PhoneStep{
			Phone:             w.phone,
			CodeSent:          w.codeSent,
			ExpiresAt:         w.expiresAt,
			AttemptsRemaining: w.attemptsRemaining,
		}
	case StepAccessDenied:
		return AccessDeniedStep{Reason: w.deniedReason}
	case StepPatient:
		return PatientStep{Patients: append([]model.Person(nil), w.patients...), Selected: w.request.PatientID}
	case StepService:
		return ServiceStep{Services: w.options(func(s *model.Schedule) []model.Option { return s.Services }), Selected: w.request.ServiceID}
	case StepLocation:
		return LocationStep{Locations: w.options(func(s *model.Schedule) []model.Option { return s.Locations }), Selected: w.request.LocationID}
	case StepCompany:
		return CompanyStep{Companies: w.options(func(s *model.Schedule) []model.Option { return s.Companies }), Selected: w.request.CompanyID}
	case StepSlot:
		return SlotStep{Slots: append([]model.Slot(nil), w.slots...), Loaded: w.slotsLoaded, Selected: w.request.SlotID}
	case StepConfirmation:
		return ConfirmationStep{Summary: w.summary()}
	case StepSuccess:
		return SuccessStep{AppointmentID: w.appointmentID}
	}
	return nil
}

func (w *Wizard) options(set func(*model.Schedule) []model.Option) []model.Option {
	if w.schedule == nil {
		return nil
	}
	return append([]model.Option(nil), set(w.schedule)...)
}

func (w *Wizard) snapshotLocked() Snapshot {
	c := w.cardinalities()
	n, total := Progress(w.step, c)
	return Snapshot{
		SessionID:  w.id,
		ScheduleID: w.scheduleID,
		Step:       w.step,
		Prompt:     StepPrompts[w.step],
		StepNumber: n,
		TotalSteps: total,
		CanGoBack:  !w.submitting && PrevStep(w.step, c) != w.step,
		Submitting: w.submitting,
		View:       w.view(),
		Notices:    append([]Notice(nil), w.notices...),
	}
}
