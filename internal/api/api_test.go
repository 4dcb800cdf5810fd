package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"studiobook/internal/auth"
	"studiobook/internal/booking"
	"studiobook/internal/calendar"
	"studiobook/internal/database"
	"studiobook/internal/events"
	"studiobook/internal/ledger"
	"studiobook/internal/models"
	"studiobook/internal/notify"
	"studiobook/internal/report"
	"studiobook/internal/users"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const operatorEmail = "ops@studio.test"

type nopNotifier struct{}

func (nopNotifier) NotifyBooking(notify.Kind, *models.Booking, string) {}

type stubMailer struct {
	sendErr error
}

func (stubMailer) NotifyAccountCreated(string, string, string) {}

func (m stubMailer) SendLoginDetails(context.Context, string, string) error { return m.sendErr }

type testEnv struct {
	server    *httptest.Server
	db        *database.DB
	opToken   string
	dinaToken string
	dinaUID   string
	ready     error
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zerolog.Nop()
	ctx := context.Background()

	db, err := database.NewDB(filepath.Join(t.TempDir(), "api.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	env := &testEnv{db: db}
	tokens := auth.NewTokens("test-secret", time.Hour, "studiobook")

	hash, err := auth.HashPassword("dina-pass")
	require.NoError(t, err)
	dina := &models.Account{Email: "dina@example.com", DisplayName: "Dina", PasswordHash: hash}
	require.NoError(t, db.CreateAccount(ctx, dina))
	op := &models.Account{Email: operatorEmail, DisplayName: "Operator", PasswordHash: hash}
	require.NoError(t, db.CreateAccount(ctx, op))

	env.dinaUID = dina.UID
	env.dinaToken, err = tokens.Issue(dina.UID, dina.Email)
	require.NoError(t, err)
	env.opToken, err = tokens.Issue(op.UID, op.Email)
	require.NoError(t, err)

	bookings := booking.NewService(db, db, calendar.Disabled{}, nopNotifier{}, events.NewEventBus(logger), nil,
		booking.Config{Prices: models.NewPriceList(200000, 0, 0, nil)}, logger)

	srv := NewServer(Config{RequestTimeout: 5 * time.Second}, Deps{
		Gate:        auth.NewGate(tokens, db, operatorEmail, logger),
		Bookings:    bookings,
		Users:       users.NewService(db, stubMailer{}, operatorEmail, logger),
		Credits:     ledger.NewCredits(db, logger),
		Maintenance: ledger.NewMaintenance(db, nil, logger),
		Exporter:    report.NewExporter(bookings),
		Checks: []Check{
			{Name: "database", Probe: db.Ping},
			{Name: "stub", Probe: func(context.Context) error { return env.ready }},
		},
	}, logger)

	env.server = httptest.NewServer(srv.Handler())
	t.Cleanup(env.server.Close)
	return env
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) (int, []byte) {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != nil {
		switch b := body.(type) {
		case string:
			reader = bytes.NewBufferString(b)
		default:
			data, err := json.Marshal(b)
			require.NoError(t, err)
			reader = bytes.NewReader(data)
		}
	}
	req, err := http.NewRequest(method, e.server.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(data, &v), string(data))
	return v
}

func bookingPayload() map[string]any {
	return map[string]any{
		"bookingData": map[string]any{
			"date":     "2024-05-01",
			"time":     "18:00",
			"duration": 2,
			"total":    1,
		},
		"userName": "Dina",
	}
}

func (e *testEnv) createBooking(t *testing.T) string {
	t.Helper()
	status, data := e.do(t, http.MethodPost, "/api/confirm-booking", e.dinaToken, bookingPayload())
	require.Equal(t, http.StatusOK, status, string(data))
	id := decode[map[string]any](t, data)["bookingId"].(string)
	require.NotEmpty(t, id)
	return id
}

func TestAPI_Unauthenticated(t *testing.T) {
	env := newTestEnv(t)

	routes := []struct{ method, path string }{
		{http.MethodPost, "/api/confirm-booking"},
		{http.MethodPost, "/api/cancel-booking"},
		{http.MethodGet, "/api/check-booked-slots?date=2024-05-01"},
		{http.MethodPost, "/api/confirm-payment"},
		{http.MethodPost, "/api/update-profile"},
		{http.MethodGet, "/api/my-bookings"},
		{http.MethodGet, "/api/admin/bookings"},
		{http.MethodPost, "/api/admin/decline-booking"},
		{http.MethodPost, "/api/admin/add-credits"},
	}
	for _, rt := range routes {
		t.Run(rt.method+" "+rt.path, func(t *testing.T) {
			status, data := env.do(t, rt.method, rt.path, "", bookingPayload())
			assert.Equal(t, http.StatusUnauthorized, status)
			assert.Equal(t, "Unauthorized", decode[map[string]string](t, data)["error"])

			status, _ = env.do(t, rt.method, rt.path, "not-a-token", bookingPayload())
			assert.Equal(t, http.StatusUnauthorized, status)
		})
	}
}

func TestAPI_AdminRoutesForbidNonAdmins(t *testing.T) {
	env := newTestEnv(t)

	routes := []struct{ method, path string }{
		{http.MethodGet, "/api/admin/bookings"},
		{http.MethodGet, "/api/admin/bookings/finished"},
		{http.MethodGet, "/api/admin/bookings/export"},
		{http.MethodGet, "/api/admin/users"},
		{http.MethodPost, "/api/admin/bookings"},
		{http.MethodPost, "/api/admin/bookings/finish"},
		{http.MethodPost, "/api/admin/confirm-booking"},
		{http.MethodPost, "/api/admin/confirm-booking-status"},
		{http.MethodPost, "/api/admin/decline-booking"},
		{http.MethodPost, "/api/admin/create-user"},
		{http.MethodPost, "/api/admin/send-login-details"},
		{http.MethodPost, "/api/admin/add-credits"},
		{http.MethodPost, "/api/admin/maintenance-mode"},
		{http.MethodPost, "/api/cancel-booking"},
	}
	for _, rt := range routes {
		t.Run(rt.method+" "+rt.path, func(t *testing.T) {
			status, data := env.do(t, rt.method, rt.path, env.dinaToken, map[string]any{})
			assert.Equal(t, http.StatusForbidden, status)
			assert.Equal(t, "Forbidden", decode[map[string]string](t, data)["error"])
		})
	}
}

func TestAPI_BookingLifecycle(t *testing.T) {
	env := newTestEnv(t)
	id := env.createBooking(t)

	status, data := env.do(t, http.MethodGet, "/api/my-bookings", env.dinaToken, nil)
	require.Equal(t, http.StatusOK, status)
	mine := decode[[]models.BookingView](t, data)
	require.Len(t, mine, 1)
	assert.Equal(t, int64(400000), mine[0].Total)
	assert.Equal(t, models.StatusWaitingForConfirmation, mine[0].Status)
	assert.Equal(t, models.PaymentPending, mine[0].PaymentStatus)
	assert.Empty(t, mine[0].CalendarEventID)

	status, data = env.do(t, http.MethodGet, "/api/check-booked-slots?date=2024-05-01", env.dinaToken, nil)
	require.Equal(t, http.StatusOK, status)
	slots := decode[map[string][]models.BookedSlot](t, data)["bookedSlots"]
	assert.Equal(t, []models.BookedSlot{{Date: "2024-05-01", Time: "18:00", DurationHours: 2, Status: models.StatusWaitingForConfirmation}}, slots)

	status, _ = env.do(t, http.MethodGet, "/api/check-booked-slots", env.dinaToken, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	for i := 0; i < 2; i++ {
		status, data = env.do(t, http.MethodPost, "/api/confirm-payment", env.dinaToken, map[string]any{"bookingId": id})
		require.Equal(t, http.StatusOK, status, string(data))
	}

	status, _ = env.do(t, http.MethodPost, "/api/admin/decline-booking", env.opToken,
		map[string]any{"bookingId": id, "userId": env.dinaUID})
	assert.Equal(t, http.StatusBadRequest, status)

	status, data = env.do(t, http.MethodPost, "/api/admin/decline-booking", env.opToken,
		map[string]any{"bookingId": id, "userId": env.dinaUID, "reason": "double-booked"})
	require.Equal(t, http.StatusOK, status, string(data))

	status, _ = env.do(t, http.MethodPost, "/api/admin/confirm-booking-status", env.opToken,
		map[string]any{"bookingId": id, "userId": env.dinaUID})
	assert.Equal(t, http.StatusConflict, status)

	stored, err := env.db.GetBooking(context.Background(), env.dinaUID, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDeclined, stored.Status)
	assert.Equal(t, "double-booked", stored.DeclineReason)
	assert.Equal(t, models.PaymentPaid, stored.PaymentStatus)

	status, _ = env.do(t, http.MethodPost, "/api/cancel-booking", env.opToken, map[string]any{"bookingId": id})
	require.Equal(t, http.StatusOK, status)

	status, data = env.do(t, http.MethodGet, "/api/my-bookings", env.dinaToken, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, decode[[]models.BookingView](t, data))

	status, _ = env.do(t, http.MethodPost, "/api/cancel-booking", env.opToken, map[string]any{"bookingId": id})
	assert.Equal(t, http.StatusNotFound, status)
}

func TestAPI_AdminEditAndStatus(t *testing.T) {
	env := newTestEnv(t)
	id := env.createBooking(t)

	edit := map[string]any{
		"bookingData":      map[string]any{"duration": 3, "status": "booking_confirmed"},
		"editingBookingId": id,
		"userId":           env.dinaUID,
		"userName":         "Dina R.",
	}

	status, _ := env.do(t, http.MethodPost, "/api/confirm-booking", env.dinaToken, edit)
	assert.Equal(t, http.StatusForbidden, status)

	status, data := env.do(t, http.MethodPost, "/api/admin/confirm-booking", env.opToken, edit)
	require.Equal(t, http.StatusOK, status, string(data))

	stored, err := env.db.GetBooking(context.Background(), env.dinaUID, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, stored.Status)
	assert.Equal(t, 3, stored.DurationHours)
	assert.Equal(t, int64(600000), stored.Total)
	assert.Equal(t, "Dina R.", stored.UserName)

	status, data = env.do(t, http.MethodGet, "/api/admin/bookings", env.opToken, nil)
	require.Equal(t, http.StatusOK, status)
	open := decode[[]models.BookingView](t, data)
	require.Len(t, open, 1)
	assert.Equal(t, "dina@example.com", open[0].OwnerEmail)

	status, _ = env.do(t, http.MethodPost, "/api/admin/bookings/finish", env.opToken,
		map[string]any{"bookingId": id, "userId": env.dinaUID})
	require.Equal(t, http.StatusOK, status)

	status, data = env.do(t, http.MethodGet, "/api/admin/bookings/finished", env.opToken, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, decode[[]models.BookingView](t, data), 1)

	hours := map[string]any{"bookingData": map[string]any{"duration": 1}, "editingBookingId": id}
	status, _ = env.do(t, http.MethodPost, "/api/confirm-booking", env.dinaToken, hours)
	assert.Equal(t, http.StatusConflict, status)

	decline := map[string]any{
		"bookingData":      map[string]any{"status": "declined"},
		"editingBookingId": id,
		"userId":           env.dinaUID,
	}
	status, _ = env.do(t, http.MethodPost, "/api/admin/confirm-booking", env.opToken, decline)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestAPI_EditEchoingStatus(t *testing.T) {
	env := newTestEnv(t)
	id := env.createBooking(t)

	status, _ := env.do(t, http.MethodPost, "/api/admin/confirm-booking-status", env.opToken,
		map[string]any{"bookingId": id, "userId": env.dinaUID})
	require.Equal(t, http.StatusOK, status)

	echo := map[string]any{
		"bookingData":      map[string]any{"duration": 4, "status": "booking_confirmed"},
		"editingBookingId": id,
		"userId":           env.dinaUID,
	}
	status, data := env.do(t, http.MethodPost, "/api/admin/confirm-booking", env.opToken, echo)
	require.Equal(t, http.StatusOK, status, string(data))

	stored, err := env.db.GetBooking(context.Background(), env.dinaUID, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, stored.Status)
	assert.Equal(t, 4, stored.DurationHours)

	back := map[string]any{
		"bookingData":      map[string]any{"duration": 1, "status": "waiting_for_confirmation"},
		"editingBookingId": id,
		"userId":           env.dinaUID,
	}
	status, _ = env.do(t, http.MethodPost, "/api/admin/confirm-booking", env.opToken, back)
	assert.Equal(t, http.StatusConflict, status)

	stored, err = env.db.GetBooking(context.Background(), env.dinaUID, id)
	require.NoError(t, err)
	assert.Equal(t, 4, stored.DurationHours)
}

func TestAPI_EditRejectsInvalidTransitionBeforeEditing(t *testing.T) {
	env := newTestEnv(t)
	id := env.createBooking(t)

	skip := map[string]any{
		"bookingData":      map[string]any{"duration": 5, "status": "finished"},
		"editingBookingId": id,
		"userId":           env.dinaUID,
	}
	status, _ := env.do(t, http.MethodPost, "/api/admin/confirm-booking", env.opToken, skip)
	assert.Equal(t, http.StatusConflict, status)

	stored, err := env.db.GetBooking(context.Background(), env.dinaUID, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusWaitingForConfirmation, stored.Status)
	assert.Equal(t, 2, stored.DurationHours)
	assert.Equal(t, int64(1), stored.Version)

	status, _ = env.do(t, http.MethodPost, "/api/admin/confirm-booking", env.opToken, map[string]any{
		"bookingData":      map[string]any{"status": "archived"},
		"editingBookingId": id,
		"userId":           env.dinaUID,
	})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestAPI_UserCannotRedirectNotifications(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	payload := bookingPayload()
	payload["userEmail"] = "victim@elsewhere.test"
	status, data := env.do(t, http.MethodPost, "/api/confirm-booking", env.dinaToken, payload)
	require.Equal(t, http.StatusOK, status, string(data))
	id := decode[map[string]any](t, data)["bookingId"].(string)

	stored, err := env.db.GetBooking(ctx, env.dinaUID, id)
	require.NoError(t, err)
	assert.Equal(t, "dina@example.com", stored.UserEmail)

	status, data = env.do(t, http.MethodPost, "/api/confirm-booking", env.dinaToken, map[string]any{
		"bookingData":      map[string]any{"duration": 3},
		"editingBookingId": id,
		"userEmail":        "victim@elsewhere.test",
	})
	require.Equal(t, http.StatusOK, status, string(data))

	stored, err = env.db.GetBooking(ctx, env.dinaUID, id)
	require.NoError(t, err)
	assert.Equal(t, 3, stored.DurationHours)
	assert.Equal(t, "dina@example.com", stored.UserEmail)
}

func TestAPI_CancelAcceptsCalendarEventID(t *testing.T) {
	env := newTestEnv(t)
	id := env.createBooking(t)

	status, data := env.do(t, http.MethodPost, "/api/cancel-booking", env.opToken,
		map[string]any{"bookingId": id, "userId": env.dinaUID, "calendarEventId": "evt-from-client"})
	require.Equal(t, http.StatusOK, status, string(data))

	_, err := env.db.GetBooking(context.Background(), env.dinaUID, id)
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestAPI_OperatorEmailIsReserved(t *testing.T) {
	env := newTestEnv(t)

	status, _ := env.do(t, http.MethodPost, "/api/update-profile", env.dinaToken,
		map[string]string{"displayName": "Dina", "email": operatorEmail})
	assert.Equal(t, http.StatusForbidden, status)

	status, data := env.do(t, http.MethodPost, "/api/login", "", map[string]string{"email": operatorEmail, "password": "dina-pass"})
	require.Equal(t, http.StatusOK, status, string(data))
	res := decode[map[string]any](t, data)
	assert.NotEqual(t, env.dinaUID, res["uid"])
	assert.Equal(t, true, res["isAdmin"])

	status, _ = env.do(t, http.MethodPost, "/api/update-profile", env.opToken,
		map[string]string{"displayName": "Operator", "email": "front-desk@studio.test"})
	assert.Equal(t, http.StatusForbidden, status)
}

func TestAPI_AdminCreateBooking(t *testing.T) {
	env := newTestEnv(t)

	payload := bookingPayload()
	payload["userEmail"] = "dina@example.com"
	status, data := env.do(t, http.MethodPost, "/api/admin/bookings", env.opToken, payload)
	require.Equal(t, http.StatusOK, status, string(data))
	id := decode[map[string]any](t, data)["bookingId"].(string)

	stored, err := env.db.GetBooking(context.Background(), env.dinaUID, id)
	require.NoError(t, err)
	assert.Equal(t, env.dinaUID, stored.OwnerID)

	payload["userEmail"] = "ghost@example.com"
	status, _ = env.do(t, http.MethodPost, "/api/admin/bookings", env.opToken, payload)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestAPI_RejectsBadBodies(t *testing.T) {
	env := newTestEnv(t)

	status, _ := env.do(t, http.MethodPost, "/api/confirm-booking", env.dinaToken, `{"bookingData":{"date":"2024-05-01"},"surprise":1}`)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = env.do(t, http.MethodPost, "/api/confirm-booking", env.dinaToken, `{not json`)
	assert.Equal(t, http.StatusBadRequest, status)

	bad := bookingPayload()
	bad["bookingData"].(map[string]any)["duration"] = 0
	status, _ = env.do(t, http.MethodPost, "/api/confirm-booking", env.dinaToken, bad)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestAPI_Login(t *testing.T) {
	env := newTestEnv(t)

	status, data := env.do(t, http.MethodPost, "/api/login", "", map[string]string{"email": "dina@example.com", "password": "dina-pass"})
	require.Equal(t, http.StatusOK, status, string(data))
	res := decode[map[string]any](t, data)
	assert.Equal(t, env.dinaUID, res["uid"])
	assert.Equal(t, false, res["isAdmin"])

	status, _ = env.do(t, http.MethodGet, "/api/my-bookings", res["token"].(string), nil)
	assert.Equal(t, http.StatusOK, status)

	status, _ = env.do(t, http.MethodPost, "/api/login", "", map[string]string{"email": "dina@example.com", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestAPI_UsersAndCredits(t *testing.T) {
	env := newTestEnv(t)

	status, data := env.do(t, http.MethodPost, "/api/admin/create-user", env.opToken,
		map[string]string{"email": "rafi@example.com", "password": "pw", "displayName": "Rafi"})
	require.Equal(t, http.StatusCreated, status, string(data))
	created := decode[map[string]string](t, data)
	assert.Equal(t, "rafi@example.com", created["email"])

	status, _ = env.do(t, http.MethodPost, "/api/admin/create-user", env.opToken,
		map[string]string{"email": "rafi@example.com", "password": "pw"})
	assert.Equal(t, http.StatusConflict, status)

	status, _ = env.do(t, http.MethodPost, "/api/admin/add-credits", env.opToken, map[string]any{"userId": created["uid"], "amount": 0})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = env.do(t, http.MethodPost, "/api/admin/add-credits", env.opToken, map[string]any{"userId": "ghost", "amount": 5})
	assert.Equal(t, http.StatusNotFound, status)

	status, data = env.do(t, http.MethodPost, "/api/admin/add-credits", env.opToken, map[string]any{"userId": created["uid"], "amount": 5})
	require.Equal(t, http.StatusOK, status, string(data))
	assert.Equal(t, float64(5), decode[map[string]any](t, data)["credits"])

	status, data = env.do(t, http.MethodGet, "/api/admin/users", env.opToken, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, decode[[]models.UserProfile](t, data), 3)

	status, _ = env.do(t, http.MethodPost, "/api/update-profile", env.dinaToken, map[string]string{"displayName": " "})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = env.do(t, http.MethodPost, "/api/update-profile", env.dinaToken, map[string]string{"displayName": "Dina R."})
	assert.Equal(t, http.StatusOK, status)

	status, _ = env.do(t, http.MethodPost, "/api/admin/send-login-details", env.opToken,
		map[string]string{"userEmail": "rafi@example.com", "password": "pw"})
	assert.Equal(t, http.StatusOK, status)
}

func TestAPI_Maintenance(t *testing.T) {
	env := newTestEnv(t)

	status, data := env.do(t, http.MethodGet, "/api/maintenance-status", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, decode[map[string]any](t, data)["isEnabled"])

	status, _ = env.do(t, http.MethodPost, "/api/admin/maintenance-mode", env.opToken,
		map[string]any{"isEnabled": true, "message": "Back at noon"})
	require.Equal(t, http.StatusOK, status)

	status, data = env.do(t, http.MethodGet, "/api/maintenance-status", "", nil)
	require.Equal(t, http.StatusOK, status)
	m := decode[map[string]any](t, data)
	assert.Equal(t, true, m["isEnabled"])
	assert.Equal(t, "Back at noon", m["message"])
}

func TestAPI_Export(t *testing.T) {
	env := newTestEnv(t)
	env.createBooking(t)

	status, data := env.do(t, http.MethodGet, "/api/admin/bookings/export", env.opToken, nil)
	require.Equal(t, http.StatusOK, status)
	// xlsx files are zip archives.
	assert.True(t, bytes.HasPrefix(data, []byte("PK")))
}

func TestAPI_Health(t *testing.T) {
	env := newTestEnv(t)

	status, _ := env.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, status)

	status, _ = env.do(t, http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusOK, status)

	env.ready = errors.New("redis unreachable")
	status, data := env.do(t, http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Contains(t, string(data), "redis unreachable")
}
