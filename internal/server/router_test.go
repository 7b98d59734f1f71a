package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/DanishBukhari/servicem8-ghl-integ/internal/intake"
	"github.com/DanishBukhari/servicem8-ghl-integ/internal/polling"
	"github.com/DanishBukhari/servicem8-ghl-integ/internal/remote"
	"github.com/DanishBukhari/servicem8-ghl-integ/internal/tokenstore"
	"github.com/gin-gonic/gin"
)

type stubTokens struct {
	exchangedCode string
	exchangeErr   error
}

func (s *stubTokens) AuthCodeURL(state string) string {
	return "https://marketplace.example.com/oauth/chooselocation?state=" + url.QueryEscape(state)
}

func (s *stubTokens) Exchange(_ context.Context, code string) (*tokenstore.Credential, error) {
	s.exchangedCode = code
	if s.exchangeErr != nil {
		return nil, s.exchangeErr
	}
	return &tokenstore.Credential{AccessToken: "access", LocationID: "loc-1", ExpiresIn: 86399}, nil
}

type stubStates struct {
	consumeErr error
	consumed   []string
}

func (s *stubStates) Issue() (string, error) {
	return "signed-state", nil
}

func (s *stubStates) Consume(state string) error {
	s.consumed = append(s.consumed, state)
	return s.consumeErr
}

type stubJobIntake struct {
	requests []intake.JobRequest
	result   intake.JobResult
	err      error
}

func (s *stubJobIntake) Handle(_ context.Context, request intake.JobRequest) (intake.JobResult, error) {
	s.requests = append(s.requests, request)
	return s.result, s.err
}

type stubAppointments struct {
	requests []intake.AppointmentRequest
	result   intake.AppointmentResult
	err      error
}

func (s *stubAppointments) Handle(_ context.Context, request intake.AppointmentRequest) (intake.AppointmentResult, error) {
	s.requests = append(s.requests, request)
	return s.result, s.err
}

type stubTasks struct {
	triggered []string
	ran       bool
	err       error
}

func (s *stubTasks) Trigger(_ context.Context, name string) (bool, error) {
	s.triggered = append(s.triggered, name)
	return s.ran, s.err
}

type stubContacts struct {
	err error
}

func (s *stubContacts) GetContactRaw(_ context.Context, contactID string) (json.RawMessage, error) {
	if s.err != nil {
		return nil, s.err
	}
	return json.RawMessage(`{"contact":{"id":"` + contactID + `"}}`), nil
}

func (s *stubContacts) Me(context.Context) (json.RawMessage, error) {
	return json.RawMessage(`{"id":"user-1"}`), s.err
}

type testRouter struct {
	handler      http.Handler
	tokens       *stubTokens
	states       *stubStates
	jobs         *stubJobIntake
	appointments *stubAppointments
	tasks        *stubTasks
	contacts     *stubContacts
}

func newTestRouter(t *testing.T) *testRouter {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := &testRouter{
		tokens:       &stubTokens{},
		states:       &stubStates{},
		jobs:         &stubJobIntake{},
		appointments: &stubAppointments{},
		tasks:        &stubTasks{ran: true},
		contacts:     &stubContacts{},
	}
	handler, err := NewHTTPHandler(Dependencies{
		Tokens:          router.tokens,
		States:          router.states,
		JobIntake:       router.jobs,
		AppointmentSync: router.appointments,
		Tasks:           router.tasks,
		Contacts:        router.contacts,
	})
	if err != nil {
		t.Fatalf("unexpected handler error: %v", err)
	}
	router.handler = handler
	return router
}

func (r *testRouter) serve(request *http.Request) *httptest.ResponseRecorder {
	recorder := httptest.NewRecorder()
	r.handler.ServeHTTP(recorder, request)
	return recorder
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &body); err != nil {
		t.Fatalf("response is not json: %v (%s)", err, recorder.Body.String())
	}
	return body
}

func TestNewHTTPHandlerRequiresDependencies(t *testing.T) {
	if _, err := NewHTTPHandler(Dependencies{}); !errors.Is(err, errMissingJobIntake) {
		t.Fatalf("expected missing job intake error, got %v", err)
	}
}

func TestOAuthRoutesRequireTokenManager(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler, err := NewHTTPHandler(Dependencies{
		JobIntake:       &stubJobIntake{},
		AppointmentSync: &stubAppointments{},
		Tasks:           &stubTasks{},
		Contacts:        &stubContacts{},
	})
	if err != nil {
		t.Fatalf("unexpected handler error: %v", err)
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/auth", http.NoBody))
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without token manager, got %d", recorder.Code)
	}
}

func TestAuthRedirectCarriesSignedState(t *testing.T) {
	router := newTestRouter(t)
	recorder := router.serve(httptest.NewRequest(http.MethodGet, "/auth", http.NoBody))

	if recorder.Code != http.StatusFound {
		t.Fatalf("expected redirect, got %d", recorder.Code)
	}
	location := recorder.Header().Get("Location")
	if !strings.Contains(location, "state=signed-state") {
		t.Fatalf("expected state in redirect, got %q", location)
	}
}

func TestCallbackFlow(t *testing.T) {
	router := newTestRouter(t)

	recorder := router.serve(httptest.NewRequest(http.MethodGet, "/callback", http.NoBody))
	if recorder.Code != http.StatusBadRequest || decodeBody(t, recorder)["error"] != "No code provided!" {
		t.Fatalf("unexpected response for missing code: %d %s", recorder.Code, recorder.Body.String())
	}

	recorder = router.serve(httptest.NewRequest(http.MethodGet, "/callback?code=abc&state=signed-state", http.NoBody))
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected success, got %d %s", recorder.Code, recorder.Body.String())
	}
	if router.tokens.exchangedCode != "abc" {
		t.Fatalf("expected code to be exchanged, got %q", router.tokens.exchangedCode)
	}
	if len(router.states.consumed) != 1 || router.states.consumed[0] != "signed-state" {
		t.Fatalf("expected state to be consumed, got %v", router.states.consumed)
	}

	router.tokens.exchangeErr = errors.New("invalid code")
	recorder = router.serve(httptest.NewRequest(http.MethodGet, "/callback?code=abc&state=signed-state", http.NoBody))
	if recorder.Code != http.StatusInternalServerError {
		t.Fatalf("expected exchange failure status, got %d", recorder.Code)
	}
}

func TestCallbackRejectsBadState(t *testing.T) {
	router := newTestRouter(t)
	router.states.consumeErr = errors.New("expired")

	recorder := router.serve(httptest.NewRequest(http.MethodGet, "/callback?code=abc&state=old", http.NoBody))
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected bad request, got %d", recorder.Code)
	}
	if router.tokens.exchangedCode != "" {
		t.Fatalf("expected no exchange for a rejected state")
	}
}

func TestCreateJobAcceptsMultipartWithPhotos(t *testing.T) {
	router := newTestRouter(t)
	router.jobs.result = intake.JobResult{JobUUID: "job-1", PhotosAttached: 1}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for field, value := range map[string]string{
		"firstName":    "Jane",
		"lastName":     "Citizen",
		"email":        "jane@example.com",
		"ghlContactId": "abc123",
	} {
		if err := writer.WriteField(field, value); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	part, err := writer.CreateFormFile("photos", "roof.png")
	if err != nil {
		t.Fatalf("create file: %v", err)
	}
	if _, err := part.Write([]byte("\x89PNG\r\n\x1a\n")); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	request := httptest.NewRequest(http.MethodPost, "/ghl-create-job", &body)
	request.Header.Set("Content-Type", writer.FormDataContentType())
	recorder := router.serve(request)

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected success, got %d %s", recorder.Code, recorder.Body.String())
	}
	response := decodeBody(t, recorder)
	if response["message"] != "Job created successfully" || response["jobUuid"] != "job-1" {
		t.Fatalf("unexpected response %v", response)
	}
	if len(router.jobs.requests) != 1 {
		t.Fatalf("expected one intake call, got %d", len(router.jobs.requests))
	}
	received := router.jobs.requests[0]
	if received.GHLContactID != "abc123" || received.FirstName != "Jane" {
		t.Fatalf("unexpected bound request %+v", received)
	}
	if len(received.Photos) != 1 || received.Photos[0].Filename != "roof.png" {
		t.Fatalf("expected uploaded photo, got %+v", received.Photos)
	}
}

func TestCreateJobSkipsOversizedPhotos(t *testing.T) {
	gin.SetMode(gin.TestMode)
	jobs := &stubJobIntake{result: intake.JobResult{JobUUID: "job-1", PhotosAttached: 1, PhotosFailed: 1}}
	handler, err := NewHTTPHandler(Dependencies{
		JobIntake:       jobs,
		AppointmentSync: &stubAppointments{},
		Tasks:           &stubTasks{},
		Contacts:        &stubContacts{},
		MaxUploadBytes:  16,
	})
	if err != nil {
		t.Fatalf("unexpected handler error: %v", err)
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for field, value := range map[string]string{
		"firstName":    "Jane",
		"lastName":     "Citizen",
		"email":        "jane@example.com",
		"ghlContactId": "abc123",
	} {
		if err := writer.WriteField(field, value); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	for name, size := range map[string]int{"small.png": 8, "big.png": 64} {
		part, err := writer.CreateFormFile("photos", name)
		if err != nil {
			t.Fatalf("create file: %v", err)
		}
		if _, err := part.Write(bytes.Repeat([]byte{0x89}, size)); err != nil {
			t.Fatalf("write file: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	request := httptest.NewRequest(http.MethodPost, "/ghl-create-job", &body)
	request.Header.Set("Content-Type", writer.FormDataContentType())
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected success, got %d %s", recorder.Code, recorder.Body.String())
	}
	if len(jobs.requests) != 1 {
		t.Fatalf("expected one intake call, got %d", len(jobs.requests))
	}
	received := jobs.requests[0]
	if len(received.Photos) != 1 || received.Photos[0].Filename != "small.png" {
		t.Fatalf("expected only the small photo, got %+v", received.Photos)
	}
	if received.PhotosRejected != 1 {
		t.Fatalf("expected one rejected photo, got %d", received.PhotosRejected)
	}
	if response := decodeBody(t, recorder); response["photosFailed"] != float64(1) {
		t.Fatalf("unexpected response %v", response)
	}
}

func TestCreateJobResponses(t *testing.T) {
	testCases := []struct {
		name       string
		result     intake.JobResult
		err        error
		wantStatus int
		wantKey    string
		wantValue  string
	}{
		{name: "duplicate", result: intake.JobResult{Duplicate: true}, wantStatus: http.StatusOK, wantKey: "message", wantValue: "Job creation skipped (duplicate request)"},
		{name: "missing fields", err: &intake.MissingFieldsError{Fields: []string{"email"}}, wantStatus: http.StatusBadRequest, wantKey: "error", wantValue: "Missing required fields"},
		{name: "failure", err: errors.New("servicem8 down"), wantStatus: http.StatusInternalServerError, wantKey: "error", wantValue: "Failed to create job"},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			router := newTestRouter(t)
			router.jobs.result = testCase.result
			router.jobs.err = testCase.err

			form := url.Values{"firstName": {"Jane"}, "lastName": {"Citizen"}, "email": {"jane@example.com"}, "ghlContactId": {"abc123"}}
			request := httptest.NewRequest(http.MethodPost, "/ghl-create-job", strings.NewReader(form.Encode()))
			request.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			recorder := router.serve(request)

			if recorder.Code != testCase.wantStatus {
				t.Fatalf("expected status %d, got %d", testCase.wantStatus, recorder.Code)
			}
			if got := decodeBody(t, recorder)[testCase.wantKey]; got != testCase.wantValue {
				t.Fatalf("expected %s %q, got %v", testCase.wantKey, testCase.wantValue, got)
			}
		})
	}
}

func TestAppointmentSyncResponses(t *testing.T) {
	testCases := []struct {
		name       string
		body       string
		result     intake.AppointmentResult
		err        error
		wantStatus int
		wantKey    string
		wantValue  string
	}{
		{name: "synced", body: `{"appointment":{"id":"a1","contactId":"c1","startTime":"x"}}`, result: intake.AppointmentResult{State: intake.StateDone, JobUUID: "job-1", ActivityUUID: "act-1"}, wantStatus: http.StatusOK, wantKey: "activityUuid", wantValue: "act-1"},
		{name: "already synced", body: `{"id":"a1","contactId":"c1","startTime":"x"}`, result: intake.AppointmentResult{State: intake.StateAlreadySynced}, wantStatus: http.StatusOK, wantKey: "message", wantValue: "Appointment already synced"},
		{name: "no slot", body: `{"id":"a1","contactId":"c1","startTime":"x"}`, result: intake.AppointmentResult{State: intake.StateNoSlotAvailable, JobUUID: "job-1"}, wantStatus: http.StatusOK, wantKey: "state", wantValue: "no_slot_available"},
		{name: "missing", body: `{"id":"a1"}`, err: &intake.MissingFieldsError{Fields: []string{"contactId"}}, wantStatus: http.StatusBadRequest, wantKey: "error", wantValue: "Missing appointment data"},
		{name: "bad date", body: `{"id":"a1","contactId":"c1","startTime":"x"}`, err: intake.ErrInvalidDateFormat, wantStatus: http.StatusBadRequest, wantKey: "error", wantValue: "Invalid date format"},
		{name: "malformed json", body: `{`, wantStatus: http.StatusBadRequest, wantKey: "error", wantValue: "Missing appointment data"},
		{name: "failure", body: `{"id":"a1","contactId":"c1","startTime":"x"}`, err: errors.New("boom"), wantStatus: http.StatusInternalServerError, wantKey: "error", wantValue: "Failed to sync appointment"},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			router := newTestRouter(t)
			router.appointments.result = testCase.result
			router.appointments.err = testCase.err

			request := httptest.NewRequest(http.MethodPost, "/ghl-appointment-sync", strings.NewReader(testCase.body))
			request.Header.Set("Content-Type", "application/json")
			recorder := router.serve(request)

			if recorder.Code != testCase.wantStatus {
				t.Fatalf("expected status %d, got %d (%s)", testCase.wantStatus, recorder.Code, recorder.Body.String())
			}
			if got := decodeBody(t, recorder)[testCase.wantKey]; got != testCase.wantValue {
				t.Fatalf("expected %s %q, got %v", testCase.wantKey, testCase.wantValue, got)
			}
		})
	}
}

func TestDiagnosticTriggers(t *testing.T) {
	router := newTestRouter(t)

	recorder := router.serve(httptest.NewRequest(http.MethodGet, "/test-payment-check", http.NoBody))
	if recorder.Code != http.StatusOK || decodeBody(t, recorder)["message"] != "Payment check triggered" {
		t.Fatalf("unexpected payment check response: %d %s", recorder.Code, recorder.Body.String())
	}
	recorder = router.serve(httptest.NewRequest(http.MethodGet, "/test-contact-check", http.NoBody))
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected contact check status: %d", recorder.Code)
	}
	if strings.Join(router.tasks.triggered, ",") != polling.CompletionSyncTask+","+polling.ContactSyncTask {
		t.Fatalf("unexpected triggered tasks %v", router.tasks.triggered)
	}

	router.tasks.ran = false
	recorder = router.serve(httptest.NewRequest(http.MethodGet, "/test-contact-check", http.NoBody))
	if recorder.Code != http.StatusConflict {
		t.Fatalf("expected conflict for an overlapping run, got %d", recorder.Code)
	}
}

func TestTestContactPassesThroughJSON(t *testing.T) {
	router := newTestRouter(t)

	recorder := router.serve(httptest.NewRequest(http.MethodGet, "/test-contact/abc123", http.NoBody))
	if recorder.Code != http.StatusOK || !strings.Contains(recorder.Body.String(), `"id":"abc123"`) {
		t.Fatalf("unexpected response: %d %s", recorder.Code, recorder.Body.String())
	}

	router.contacts.err = &remote.APIError{Service: "ghl", Method: http.MethodGet, Path: "contacts/abc123", Status: http.StatusNotFound}
	recorder = router.serve(httptest.NewRequest(http.MethodGet, "/me", http.NoBody))
	if recorder.Code != http.StatusInternalServerError {
		t.Fatalf("expected failure status, got %d", recorder.Code)
	}
	if status := decodeBody(t, recorder)["status"]; status != float64(http.StatusNotFound) {
		t.Fatalf("expected remote status in body, got %v", status)
	}
}

func TestCORSAllowsConfiguredOrigin(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(corsMiddleware("https://app.example.com"))
	router.POST("/ghl-create-job", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	request := httptest.NewRequest(http.MethodOptions, "/ghl-create-job", http.NoBody)
	request.Header.Set("Origin", "https://app.example.com")
	request.Header.Set("Access-Control-Request-Method", http.MethodPost)
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected status %d, got %d", http.StatusNoContent, recorder.Code)
	}
	if recorder.Header().Get("Access-Control-Allow-Origin") != "https://app.example.com" {
		t.Fatalf("unexpected allow origin %q", recorder.Header().Get("Access-Control-Allow-Origin"))
	}
}
