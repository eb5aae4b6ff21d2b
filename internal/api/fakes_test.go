package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/logging"
	"github.com/hackgods/clinic-scheduling/internal/waitlist"
)

var (
	testClinic = uuid.MustParse("7d0b6a5e-3c3f-4d7e-9a55-0c5f1f4b2a10")
	testStart  = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
)

func sampleAppointment(clinicID uuid.UUID) *appointment.Appointment {
	return &appointment.Appointment{
		ID:          uuid.New(),
		ClinicID:    clinicID,
		DoctorID:    uuid.New(),
		DoctorName:  "Dr. X",
		SpecialtyID: uuid.New(),
		Patient:     appointment.Patient{Name: "Maria", Phone: "+5511999990001"},
		StartsAt:    testStart,
		EndsAt:      testStart.Add(time.Hour),
		Status:      appointment.StatusPending,
		Source:      appointment.SourceDirect,
	}
}

type call struct {
	op       string
	clinicID uuid.UUID
	id       uuid.UUID
	actor    appointment.Actor
	reason   string
	token    string
	phone    string
	body     string
}

// fakeAppointments records calls and answers with err when set.
type fakeAppointments struct {
	calls  []call
	err    error
	slots  *appointment.SlotSet
	query  appointment.SlotQuery
	booked appointment.BookingRequest
	reply  *appointment.ReplyResult
}

func (f *fakeAppointments) result(c call) (*appointment.Appointment, error) {
	f.calls = append(f.calls, c)
	if f.err != nil {
		return nil, f.err
	}
	appt := sampleAppointment(c.clinicID)
	if c.id != uuid.Nil {
		appt.ID = c.id
	}
	return appt, nil
}

func (f *fakeAppointments) ComputeSlots(_ context.Context, q appointment.SlotQuery) (*appointment.SlotSet, error) {
	f.query = q
	if f.err != nil {
		return nil, f.err
	}
	return f.slots, nil
}

func (f *fakeAppointments) Book(_ context.Context, req appointment.BookingRequest) (*appointment.Appointment, error) {
	f.booked = req
	return f.result(call{op: "book", clinicID: req.ClinicID})
}

func (f *fakeAppointments) GetAppointment(_ context.Context, clinicID, id uuid.UUID) (*appointment.Appointment, error) {
	return f.result(call{op: "get", clinicID: clinicID, id: id})
}

func (f *fakeAppointments) Confirm(_ context.Context, clinicID, id uuid.UUID, actor appointment.Actor) (*appointment.Appointment, error) {
	return f.result(call{op: "confirm", clinicID: clinicID, id: id, actor: actor})
}

func (f *fakeAppointments) Cancel(_ context.Context, clinicID, id uuid.UUID, actor appointment.Actor, reason string) (*appointment.Appointment, error) {
	return f.result(call{op: "cancel", clinicID: clinicID, id: id, actor: actor, reason: reason})
}

func (f *fakeAppointments) MarkNoShow(_ context.Context, clinicID, id uuid.UUID) (*appointment.Appointment, error) {
	return f.result(call{op: "no_show", clinicID: clinicID, id: id})
}

func (f *fakeAppointments) ConfirmByLink(_ context.Context, clinicID, id uuid.UUID, token string) (*appointment.LinkResult, error) {
	appt, err := f.result(call{op: "confirm_link", clinicID: clinicID, id: id, token: token})
	if err != nil {
		return nil, err
	}
	appt.Status = appointment.StatusConfirmed
	return &appointment.LinkResult{Appointment: appt}, nil
}

func (f *fakeAppointments) CancelByLink(_ context.Context, clinicID, id uuid.UUID, token, reason string) (*appointment.LinkResult, error) {
	appt, err := f.result(call{op: "cancel_link", clinicID: clinicID, id: id, token: token, reason: reason})
	if err != nil {
		return nil, err
	}
	appt.Status = appointment.StatusCancelled
	return &appointment.LinkResult{Appointment: appt, AlreadyApplied: true}, nil
}

func (f *fakeAppointments) HandleReply(_ context.Context, clinicID uuid.UUID, phone, body string) (*appointment.ReplyResult, error) {
	f.calls = append(f.calls, call{op: "reply", clinicID: clinicID, phone: phone, body: body})
	if f.err != nil {
		return nil, f.err
	}
	if f.reply != nil {
		return f.reply, nil
	}
	return &appointment.ReplyResult{Action: appointment.ReplyIgnored}, nil
}

func (f *fakeAppointments) Links(appt *appointment.Appointment) appointment.LinkSet {
	return appointment.LinkSet{
		ConfirmURL: "https://clinic.test/confirm/" + appt.ID.String(),
		CancelURL:  "https://clinic.test/cancel/" + appt.ID.String(),
	}
}

type fakeWaitlist struct {
	calls   []call
	err     error
	added   waitlist.AddRequest
	filter  waitlist.Filter
	entries []waitlist.Entry
	outcome *waitlist.ReplyOutcome
}

func (f *fakeWaitlist) entry(clinicID, id uuid.UUID, status waitlist.Status) *waitlist.Entry {
	return &waitlist.Entry{
		ID:          id,
		ClinicID:    clinicID,
		SpecialtyID: uuid.New(),
		WindowStart: testStart,
		WindowEnd:   testStart.Add(48 * time.Hour),
		Patient:     appointment.Patient{Name: "Joao", Phone: "+5511999990002"},
		Status:      status,
	}
}

func (f *fakeWaitlist) Add(_ context.Context, req waitlist.AddRequest) (*waitlist.Entry, error) {
	f.added = req
	if f.err != nil {
		return nil, f.err
	}
	return f.entry(req.ClinicID, uuid.New(), waitlist.StatusWaiting), nil
}

func (f *fakeWaitlist) List(_ context.Context, clinicID uuid.UUID, filter waitlist.Filter) ([]waitlist.Entry, error) {
	f.calls = append(f.calls, call{op: "list", clinicID: clinicID})
	f.filter = filter
	return f.entries, f.err
}

func (f *fakeWaitlist) Accept(_ context.Context, clinicID, id uuid.UUID, token string) (*waitlist.AcceptResult, error) {
	f.calls = append(f.calls, call{op: "accept", clinicID: clinicID, id: id, token: token})
	if f.err != nil {
		return nil, f.err
	}
	appt := sampleAppointment(clinicID)
	appt.Source = appointment.SourceWaitlist
	return &waitlist.AcceptResult{Entry: f.entry(clinicID, id, waitlist.StatusAccepted), Appointment: appt}, nil
}

func (f *fakeWaitlist) Decline(_ context.Context, clinicID, id uuid.UUID, token string) (*waitlist.Entry, error) {
	f.calls = append(f.calls, call{op: "decline", clinicID: clinicID, id: id, token: token})
	if f.err != nil {
		return nil, f.err
	}
	return f.entry(clinicID, id, waitlist.StatusDeclined), nil
}

func (f *fakeWaitlist) HandleReply(_ context.Context, clinicID uuid.UUID, phone, body string) (*waitlist.ReplyOutcome, error) {
	f.calls = append(f.calls, call{op: "reply", clinicID: clinicID, phone: phone, body: body})
	if f.outcome != nil {
		return f.outcome, nil
	}
	return &waitlist.ReplyOutcome{}, nil
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

type harness struct {
	appts   *fakeAppointments
	wl      *fakeWaitlist
	handler http.Handler
}

func newHarness(t *testing.T, mutate ...func(*RouterConfig)) *harness {
	t.Helper()
	h := &harness{appts: &fakeAppointments{}, wl: &fakeWaitlist{}}
	cfg := RouterConfig{
		Appointments: h.appts,
		Waitlist:     h.wl,
		Postgres:     fakePinger{},
		Logger:       logging.Discard(),
		Env:          "test",

		WhatsAppAppSecret: testAppSecret,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	h.handler = NewRouter(cfg)
	return h
}

// do sends a request scoped to testClinic unless the path is public.
func (h *harness) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(ClinicHeader, testClinic.String())
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

var errDatabaseDown = errors.New("database down")
