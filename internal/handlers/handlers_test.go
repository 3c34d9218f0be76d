package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"mar-engine/internal/auth"
	"mar-engine/internal/database"
	"mar-engine/internal/models"
	"mar-engine/internal/repository"
	"mar-engine/internal/services"
)

type testServer struct {
	handler http.Handler
	stores  repository.Stores
	user    *models.ServiceUser
	med     *models.Medication
	admin   string
	staff   string
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// setupServer serves the API over a fresh database with one service user
// whose medication is due at 08:00 and 20:00. The clock reads 2024-06-01 07:45 UTC.
func setupServer(t *testing.T) *testServer {
	t.Helper()
	return setupServerWith(t, nil)
}

// setupServerWith is setupServer with the engine's stores passed through wrap.
// Seeding still goes straight to the database.
func setupServerWith(t *testing.T, wrap func(repository.Stores) repository.Stores) *testServer {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if _, err := db.RunMigrations(ctx); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	stores := repository.NewSQLiteStores(db)
	engineStores := stores
	if wrap != nil {
		engineStores = wrap(stores)
	}
	now := time.Date(2024, 6, 1, 7, 45, 0, 0, time.UTC)
	engine := services.NewEngine(engineStores, services.Options{
		Location:        time.UTC,
		Clock:           func() time.Time { return now },
		ThresholdBefore: 30,
		ThresholdAfter:  30,
		StockAlertDays:  10,
		Metrics:         services.NewMetrics(),
		Logger:          zerolog.Nop(),
	})

	jwtManager := auth.NewJWTManager("handlers-test-secret-0123456789abc", time.Hour)
	router, limiter := NewRouter(engine, jwtManager, RouterConfig{
		Location:          time.UTC,
		RateLimitRequests: 1000,
		RateLimitWindow:   time.Minute,
		Health:            db.PingContext,
	}, zerolog.Nop())
	t.Cleanup(limiter.Stop)

	user := &models.ServiceUser{Name: "Test Resident"}
	if err := repository.NewDirectoryRepository(db).CreateServiceUser(ctx, user); err != nil {
		t.Fatalf("Failed to create service user: %v", err)
	}
	med := &models.Medication{
		ServiceUserID:       user.ID,
		Name:                "Paracetamol",
		Dosage:              models.Dosage{Amount: 500, Unit: "mg"},
		QuantityInStock:     30,
		QuantityPerDose:     1,
		DosesPerDay:         2,
		AdministrationTimes: []string{"08:00", "20:00"},
		StartDate:           time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		IsActive:            true,
	}
	if err := stores.Medications.Create(ctx, med); err != nil {
		t.Fatalf("Failed to create medication: %v", err)
	}

	admin, _ := jwtManager.GenerateToken(1, "matron", auth.RoleAdmin)
	staff, _ := jwtManager.GenerateToken(7, "carer", auth.RoleStaff)

	return &testServer{handler: router, stores: stores, user: user, med: med, admin: admin, staff: staff}
}

func (s *testServer) do(t *testing.T, method, path, token string, body interface{}) (int, envelope) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)

	var env envelope
	if strings.HasPrefix(rr.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
			t.Fatalf("Failed to decode response %q: %v", rr.Body.String(), err)
		}
	}
	return rr.Code, env
}

func decodeData(t *testing.T, env envelope, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(env.Data, v); err != nil {
		t.Fatalf("Failed to decode data %s: %v", env.Data, err)
	}
}

func TestAuthRequired(t *testing.T) {
	s := setupServer(t)

	if code, _ := s.do(t, http.MethodGet, "/api/mar/settings/current", "", nil); code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without a token, got %d", code)
	}
	if code, _ := s.do(t, http.MethodGet, "/health", "", nil); code != http.StatusOK {
		t.Errorf("Expected /health to be public, got %d", code)
	}
}

func TestSettingsRoutes(t *testing.T) {
	s := setupServer(t)

	code, env := s.do(t, http.MethodGet, "/api/mar/settings/current", s.staff, nil)
	if code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}
	var current SettingsResponse
	decodeData(t, env, &current)
	if !current.IsDefault || current.ThresholdBefore != 30 || current.ThresholdAfter != 30 {
		t.Errorf("Expected default 30/30, got %+v", current)
	}

	tests := []struct {
		name  string
		token string
		body  interface{}
		want  int
	}{
		{"staff may not change settings", s.staff, map[string]int{"thresholdBefore": 10, "thresholdAfter": 10}, http.StatusForbidden},
		{"missing thresholds", s.admin, map[string]string{"scope": "global"}, http.StatusBadRequest},
		{"negative threshold", s.admin, map[string]int{"thresholdBefore": -1, "thresholdAfter": 10}, http.StatusUnprocessableEntity},
		{"group scope without group", s.admin, map[string]interface{}{"scope": "group", "thresholdBefore": 5, "thresholdAfter": 5}, http.StatusUnprocessableEntity},
		{"unknown group", s.admin, map[string]interface{}{"scope": "group", "groupId": 999, "thresholdBefore": 5, "thresholdAfter": 5}, http.StatusNotFound},
		{"malformed body", s.admin, "{", http.StatusBadRequest},
		{"global update", s.admin, map[string]int{"thresholdBefore": 10, "thresholdAfter": 20}, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if code, env := s.do(t, http.MethodPut, "/api/mar/settings", tt.token, tt.body); code != tt.want {
				t.Errorf("Expected %d, got %d (%s)", tt.want, code, env.Message)
			}
		})
	}

	_, env = s.do(t, http.MethodGet, "/api/mar/settings/current", s.staff, nil)
	decodeData(t, env, &current)
	if current.IsDefault || current.ThresholdBefore != 10 || current.ThresholdAfter != 20 {
		t.Errorf("Expected stored 10/20, got %+v", current)
	}
}

func TestAvailabilityRoute(t *testing.T) {
	s := setupServer(t)

	code, env := s.do(t, http.MethodGet, "/api/mar/1/availability?now=2024-06-01T12:00:00Z", s.staff, nil)
	if code != http.StatusOK {
		t.Fatalf("Expected 200, got %d (%s)", code, env.Message)
	}
	var result AvailabilityResponse
	decodeData(t, env, &result)
	if len(result.Medications) != 1 {
		t.Fatalf("Expected 1 medication, got %d", len(result.Medications))
	}
	m := result.Medications[0]
	if m.Availability != services.AvailabilityUpcoming || m.NextWindow == nil || m.NextWindow.ScheduledTime != "20:00" {
		t.Errorf("Expected upcoming 20:00, got %+v", m)
	}
	if len(m.Windows) != 2 {
		t.Errorf("Expected 2 windows, got %d", len(m.Windows))
	}

	if code, _ := s.do(t, http.MethodGet, "/api/mar/1/availability?date=June", s.staff, nil); code != http.StatusBadRequest {
		t.Errorf("Expected 400 for a bad date, got %d", code)
	}
	if code, _ := s.do(t, http.MethodGet, "/api/mar/999/availability", s.staff, nil); code != http.StatusNotFound {
		t.Errorf("Expected 404 for an unknown service user, got %d", code)
	}
}

type conflictingAdministrations struct {
	repository.AdministrationStore
}

func (conflictingAdministrations) Create(context.Context, *models.MedicationAdministration, bool) (*repository.StockMovement, error) {
	return nil, repository.ErrConflict
}

func TestDispenseRoute_Conflict(t *testing.T) {
	s := setupServerWith(t, func(stores repository.Stores) repository.Stores {
		stores.Administrations = conflictingAdministrations{AdministrationStore: stores.Administrations}
		return stores
	})

	code, env := s.do(t, http.MethodPost, "/api/mar/"+strconv.FormatInt(s.user.ID, 10)+"/dispense", s.staff, map[string]interface{}{
		"medicationId": s.med.ID,
		"quantity":     1,
		"timestamp":    "2024-06-01T07:45:00Z",
	})
	if code != http.StatusConflict {
		t.Fatalf("Expected 409, got %d (%s)", code, env.Message)
	}
	if env.Success {
		t.Error("Expected success=false")
	}

	med, err := s.stores.Medications.GetByID(context.Background(), s.med.ID)
	if err != nil {
		t.Fatalf("Failed to get medication: %v", err)
	}
	if med.QuantityInStock != 30 {
		t.Errorf("Expected stock unchanged at 30, got %v", med.QuantityInStock)
	}
}

func TestDispenseRoute(t *testing.T) {
	s := setupServer(t)
	path := "/api/mar/1/dispense"
	body := map[string]interface{}{
		"medicationId": s.med.ID,
		"quantity":     1,
		"timestamp":    "2024-06-01T07:45:00Z",
		"notes":        "Taken with water",
	}

	code, env := s.do(t, http.MethodPost, path, s.staff, body)
	if code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d (%s)", code, env.Message)
	}
	var result DispenseResponse
	decodeData(t, env, &result)
	if result.Status != services.StatusOnTime || !result.StockDecreased {
		t.Errorf("Unexpected dispense result %+v", result)
	}
	if result.Administration.ScheduledTime != "08:00" || result.Administration.AdministeredBy != 7 {
		t.Errorf("Unexpected administration %+v", result.Administration)
	}
	if result.Medication == nil || result.Medication.QuantityInStock != 29 {
		t.Errorf("Expected stock 29, got %+v", result.Medication)
	}
	if result.Ledger == nil || result.Ledger.Totals[models.CategoryQuantityAdministered] != 1 {
		t.Errorf("Expected ledger total 1, got %+v", result.Ledger)
	}

	// Same slot again
	code, env = s.do(t, http.MethodPost, path, s.staff, body)
	if code != http.StatusForbidden {
		t.Fatalf("Expected 403 for a repeat, got %d", code)
	}
	var rejected ValidationResponse
	decodeData(t, env, &rejected)
	if rejected.Valid || rejected.Rule != services.RuleAlreadyRecorded || rejected.Existing == nil {
		t.Errorf("Expected already-recorded rejection with the existing record, got %+v", rejected)
	}

	tests := []struct {
		name string
		body interface{}
		want int
	}{
		{"outside window", map[string]interface{}{"medicationId": s.med.ID, "quantity": 1, "timestamp": "2024-06-01T12:00:00Z"}, http.StatusForbidden},
		{"unknown medication", map[string]interface{}{"medicationId": 999, "quantity": 1, "timestamp": "2024-06-01T20:00:00Z"}, http.StatusNotFound},
		{"missing quantity", map[string]interface{}{"medicationId": s.med.ID}, http.StatusBadRequest},
		{"missing medication", map[string]interface{}{"quantity": 1}, http.StatusBadRequest},
		{"negative quantity", map[string]interface{}{"medicationId": s.med.ID, "quantity": -1, "timestamp": "2024-06-01T20:00:00Z"}, http.StatusUnprocessableEntity},
		{"unknown field", map[string]interface{}{"medicationId": s.med.ID, "quantity": 1, "dose": 2}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if code, env := s.do(t, http.MethodPost, path, s.staff, tt.body); code != tt.want {
				t.Errorf("Expected %d, got %d (%s)", tt.want, code, env.Message)
			}
		})
	}

	med, err := s.stores.Medications.GetByID(context.Background(), s.med.ID)
	if err != nil {
		t.Fatalf("Failed to get medication: %v", err)
	}
	if med.QuantityInStock != 29 {
		t.Errorf("Expected rejected attempts to leave stock at 29, got %v", med.QuantityInStock)
	}
}

func TestValidateRoute(t *testing.T) {
	s := setupServer(t)

	code, env := s.do(t, http.MethodPost, "/api/mar/1/validate", s.staff, map[string]interface{}{
		"medicationId": s.med.ID,
		"timestamp":    "2024-06-01T19:29:00Z",
	})
	if code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}
	var result ValidationResponse
	decodeData(t, env, &result)
	if result.Valid || result.Rule != services.RuleOutsideWindow || len(result.Windows) != 2 {
		t.Errorf("Expected outside-window with the day's windows, got %+v", result)
	}

	_, env = s.do(t, http.MethodPost, "/api/mar/1/validate", s.staff, map[string]interface{}{
		"medicationId": s.med.ID,
		"timestamp":    "2024-06-01T19:30:00Z",
	})
	decodeData(t, env, &result)
	if !result.Valid || result.Window == nil || result.Window.ScheduledTime != "20:00" {
		t.Errorf("Expected the window start to be accepted, got %+v", result)
	}
}

func TestChartRoute(t *testing.T) {
	s := setupServer(t)

	if code, _ := s.do(t, http.MethodGet, "/api/mar/1/chart?startDate=2024-06-01", s.staff, nil); code != http.StatusBadRequest {
		t.Errorf("Expected 400 without endDate, got %d", code)
	}
	if code, _ := s.do(t, http.MethodGet, "/api/mar/1/chart?startDate=2024-06-05&endDate=2024-06-01", s.staff, nil); code != http.StatusUnprocessableEntity {
		t.Errorf("Expected 422 for a reversed range, got %d", code)
	}

	code, env := s.do(t, http.MethodGet, "/api/mar/1/chart?startDate=2024-06-01&endDate=2024-06-07", s.staff, nil)
	if code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}
	var chart ChartResponse
	decodeData(t, env, &chart)
	if len(chart.Medications) != 1 || len(chart.Medications[0].Days) != 7 {
		t.Errorf("Expected one medication over 7 days, got %+v", chart)
	}
}

func TestStockRoutes(t *testing.T) {
	s := setupServer(t)
	path := "/api/stock/1/changes"

	code, env := s.do(t, http.MethodPost, path, s.staff, map[string]interface{}{
		"changeType": "from pharmacy",
		"quantity":   -28,
		"note":       "Monthly delivery",
	})
	if code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d (%s)", code, env.Message)
	}
	var change StockChangeResult
	decodeData(t, env, &change)
	if change.Category != models.CategoryFromPharmacy || change.Ledger.Totals[models.CategoryFromPharmacy] != 28 {
		t.Errorf("Expected the absolute quantity under fromPharmacy, got %+v", change)
	}
	if len(change.Ledger.Changes) != 1 || change.Ledger.Changes[0].Type != models.ChangeFromPharmacy {
		t.Errorf("Expected the canonical change type, got %+v", change.Ledger.Changes)
	}

	tests := []struct {
		name string
		body interface{}
		want int
	}{
		{"unknown type", map[string]interface{}{"changeType": "Gift", "quantity": 1}, http.StatusUnprocessableEntity},
		{"no type without inference", map[string]interface{}{"quantity": 1, "note": "received from pharmacy"}, http.StatusUnprocessableEntity},
		{"missing quantity", map[string]interface{}{"changeType": "Lost"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if code, env := s.do(t, http.MethodPost, path, s.staff, tt.body); code != tt.want {
				t.Errorf("Expected %d, got %d (%s)", tt.want, code, env.Message)
			}
		})
	}

	code, env = s.do(t, http.MethodGet, "/api/stock/1/history?startDate=2024-06-01&endDate=2024-06-01", s.staff, nil)
	if code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}
	var history StockHistoryResponse
	decodeData(t, env, &history)
	if len(history.Entries) != 1 || history.InitialStock != 0 {
		t.Errorf("Unexpected history %+v", history)
	}

	dailyTests := []struct {
		name  string
		query string
		want  int
	}{
		{"today", "", http.StatusOK},
		{"explicit day", "?date=2024-06-01", http.StatusOK},
		{"no entry", "?date=2024-05-01", http.StatusNotFound},
		{"bad date", "?date=01/06/2024", http.StatusBadRequest},
	}
	for _, tt := range dailyTests {
		t.Run("daily "+tt.name, func(t *testing.T) {
			code, env := s.do(t, http.MethodGet, "/api/stock/1/daily"+tt.query, s.staff, nil)
			if code != tt.want {
				t.Fatalf("Expected %d, got %d (%s)", tt.want, code, env.Message)
			}
			if code != http.StatusOK {
				return
			}
			var daily DailyStockResponse
			decodeData(t, env, &daily)
			if daily.Date != "2024-06-01" || daily.Totals[models.CategoryFromPharmacy] != 28 {
				t.Errorf("Unexpected daily entry %+v", daily)
			}
		})
	}

	if code, _ := s.do(t, http.MethodPost, "/api/stock/snapshot", s.staff, nil); code != http.StatusForbidden {
		t.Errorf("Expected staff to be refused the snapshot, got %d", code)
	}
	if code, _ := s.do(t, http.MethodPost, "/api/stock/snapshot", s.admin, nil); code != http.StatusOK {
		t.Errorf("Expected admin snapshot to succeed, got %d", code)
	}
}

func TestStockAlertRoutes(t *testing.T) {
	s := setupServer(t)
	ctx := context.Background()
	if _, err := s.stores.Medications.AdjustStock(ctx, s.med.ID, 4-s.med.QuantityInStock, 1); err != nil {
		t.Fatalf("Failed to adjust stock: %v", err)
	}

	code, env := s.do(t, http.MethodPost, "/api/stock/alerts/check", s.admin, nil)
	if code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}
	var created map[string]int
	decodeData(t, env, &created)
	if created["created"] != 1 {
		t.Errorf("Expected 1 alert, got %v", created)
	}

	_, env = s.do(t, http.MethodGet, "/api/stock/alerts", s.staff, nil)
	var alerts []NotificationResponse
	decodeData(t, env, &alerts)
	if len(alerts) != 1 || alerts[0].Severity != "critical" {
		t.Fatalf("Expected one critical alert, got %+v", alerts)
	}

	if code, _ := s.do(t, http.MethodPut, "/api/stock/alerts/999/read", s.staff, nil); code != http.StatusNotFound {
		t.Errorf("Expected 404 for an unknown alert, got %d", code)
	}
}

func TestSummaryRoutes(t *testing.T) {
	s := setupServer(t)

	if code, env := s.do(t, http.MethodPost, "/api/stock/1/changes", s.staff, map[string]interface{}{
		"changeType": "from pharmacy",
		"quantity":   28,
	}); code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d (%s)", code, env.Message)
	}

	june := map[string]string{"startDate": "2024-06-01", "endDate": "2024-06-01"}
	generateTests := []struct {
		name  string
		token string
		body  interface{}
		want  int
	}{
		{"staff", s.staff, june, http.StatusForbidden},
		{"bad body", s.admin, "{", http.StatusBadRequest},
		{"bad date", s.admin, map[string]string{"startDate": "01/06/2024", "endDate": "2024-06-01"}, http.StatusBadRequest},
		{"missing end", s.admin, map[string]string{"startDate": "2024-06-01"}, http.StatusBadRequest},
		{"reversed", s.admin, map[string]string{"startDate": "2024-06-02", "endDate": "2024-06-01"}, http.StatusUnprocessableEntity},
	}
	for _, tt := range generateTests {
		t.Run("generate "+tt.name, func(t *testing.T) {
			if code, env := s.do(t, http.MethodPost, "/api/summaries/", tt.token, tt.body); code != tt.want {
				t.Errorf("Expected %d, got %d (%s)", tt.want, code, env.Message)
			}
		})
	}

	code, env := s.do(t, http.MethodPost, "/api/summaries/", s.admin, june)
	if code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d (%s)", code, env.Message)
	}
	var summary SummaryResponse
	decodeData(t, env, &summary)
	if summary.CreatedBy != 1 || len(summary.Entries) != 1 {
		t.Fatalf("Unexpected summary %+v", summary)
	}
	entry := summary.Entries[0]
	if entry.ServiceUser.Name != "Test Resident" || entry.Medication.ID != s.med.ID {
		t.Errorf("Unexpected entry %+v", entry)
	}
	if entry.StockLevels.Initial != 0 || entry.StockLevels.Final != 30 || entry.StockLevels.DaysRemaining != 15 {
		t.Errorf("Unexpected stock levels %+v", entry.StockLevels)
	}
	if entry.CumulativeChanges[models.CategoryFromPharmacy] != 28 || len(entry.Changes) != 1 {
		t.Errorf("Expected the delivery in the summary, got %v %+v", entry.CumulativeChanges, entry.Changes)
	}

	id := strconv.FormatInt(summary.ID, 10)
	getTests := []struct {
		name string
		path string
		want int
	}{
		{"stored", "/api/summaries/" + id, http.StatusOK},
		{"unknown", "/api/summaries/999", http.StatusNotFound},
		{"bad id", "/api/summaries/abc", http.StatusBadRequest},
	}
	for _, tt := range getTests {
		t.Run("get "+tt.name, func(t *testing.T) {
			if code, env := s.do(t, http.MethodGet, tt.path, s.staff, nil); code != tt.want {
				t.Errorf("Expected %d, got %d (%s)", tt.want, code, env.Message)
			}
		})
	}

	const june30 = "?startDate=2024-06-01&endDate=2024-06-30"
	serviceUser := strconv.FormatInt(s.user.ID, 10)
	listTests := []struct {
		name  string
		path  string
		want  int
		count int
	}{
		{"range", "/api/summaries/" + june30, http.StatusOK, 1},
		{"earlier range", "/api/summaries/?startDate=2024-05-01&endDate=2024-05-31", http.StatusOK, 0},
		{"missing dates", "/api/summaries/", http.StatusBadRequest, 0},
		{"missing end", "/api/summaries/?startDate=2024-06-01", http.StatusBadRequest, 0},
		{"medication", "/api/summaries/medication/1" + june30, http.StatusOK, 1},
		{"other medication", "/api/summaries/medication/999" + june30, http.StatusOK, 0},
		{"service user", "/api/summaries/service-user/" + serviceUser + june30, http.StatusOK, 1},
		{"bad service user", "/api/summaries/service-user/x" + june30, http.StatusBadRequest, 0},
	}
	for _, tt := range listTests {
		t.Run("list "+tt.name, func(t *testing.T) {
			code, env := s.do(t, http.MethodGet, tt.path, s.staff, nil)
			if code != tt.want {
				t.Fatalf("Expected %d, got %d (%s)", tt.want, code, env.Message)
			}
			if code != http.StatusOK {
				return
			}
			var list []SummaryResponse
			decodeData(t, env, &list)
			if len(list) != tt.count {
				t.Errorf("Expected %d summaries, got %d", tt.count, len(list))
			}
		})
	}
}

func TestUpdateRoutes(t *testing.T) {
	s := setupServer(t)

	if code, env := s.do(t, http.MethodPost, "/api/mar/1/dispense", s.staff, map[string]interface{}{
		"medicationId": s.med.ID,
		"quantity":     1,
		"timestamp":    "2024-06-01T07:45:00Z",
	}); code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d (%s)", code, env.Message)
	}

	code, env := s.do(t, http.MethodGet, "/api/updates/medication/1", s.staff, nil)
	if code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}
	var updates []UpdateResponse
	decodeData(t, env, &updates)
	if len(updates) != 1 || updates[0].UpdateType != services.UpdateStockDecrease {
		t.Fatalf("Expected one stock decrease, got %+v", updates)
	}
	if updates[0].Category != models.CategoryQuantitative || updates[0].Medication.QuantityInStock != 29 {
		t.Errorf("Unexpected update %+v", updates[0])
	}

	tests := []struct {
		name  string
		token string
		query string
		want  int
	}{
		{"staff", s.staff, "?before=2024-05-01T00:00:00Z", http.StatusForbidden},
		{"missing cutoff", s.admin, "", http.StatusBadRequest},
		{"future cutoff", s.admin, "?before=2030-01-01T00:00:00Z", http.StatusUnprocessableEntity},
		{"past cutoff", s.admin, "?before=2024-05-01T00:00:00Z", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if code, env := s.do(t, http.MethodDelete, "/api/updates/"+tt.query, tt.token, nil); code != tt.want {
				t.Errorf("Expected %d, got %d (%s)", tt.want, code, env.Message)
			}
		})
	}

	_, env = s.do(t, http.MethodGet, "/api/updates/", s.staff, nil)
	decodeData(t, env, &updates)
	if len(updates) != 1 {
		t.Errorf("Expected the recent entry to survive the purge, got %d", len(updates))
	}
}

func TestMedicationRoutes(t *testing.T) {
	s := setupServer(t)

	create := map[string]interface{}{
		"serviceUserId":       s.user.ID,
		"medicationName":      "Ibuprofen",
		"dosage":              map[string]interface{}{"amount": 200, "unit": "mg"},
		"quantityInStock":     20,
		"quantityPerDose":     1,
		"dosesPerDay":         3,
		"administrationTimes": []string{"08:00", "14:00", "20:00"},
		"startDate":           "2024-06-01",
	}
	if code, _ := s.do(t, http.MethodPost, "/api/medications/", s.staff, create); code != http.StatusForbidden {
		t.Errorf("Expected staff to be refused, got %d", code)
	}

	code, env := s.do(t, http.MethodPost, "/api/medications/", s.admin, create)
	if code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d (%s)", code, env.Message)
	}
	var created MedicationChangeResponse
	decodeData(t, env, &created)
	if created.Update == nil || created.Update.UpdateType != services.UpdateNewMedication {
		t.Errorf("Expected a New Medication audit entry, got %+v", created.Update)
	}
	id := created.Medication.ID
	path := "/api/medications/" + strconv.FormatInt(id, 10)

	code, env = s.do(t, http.MethodPatch, path, s.admin, map[string]interface{}{"quantityInStock": 30})
	if code != http.StatusUnprocessableEntity {
		t.Errorf("Expected a stock change without a type to be rejected, got %d (%s)", code, env.Message)
	}

	code, env = s.do(t, http.MethodPatch, path, s.admin, map[string]interface{}{
		"quantityInStock": 30,
		"stockChangeType": "From Pharmacy",
		"stockChangeNote": "Received from pharmacy",
	})
	if code != http.StatusOK {
		t.Fatalf("Expected 200, got %d (%s)", code, env.Message)
	}
	var updated MedicationChangeResponse
	decodeData(t, env, &updated)
	if updated.Medication.QuantityInStock != 30 || updated.Update.UpdateType != services.UpdateStockIncrease {
		t.Errorf("Unexpected update %+v", updated)
	}
	if updated.Ledger == nil || updated.Ledger.Totals[models.CategoryFromPharmacy] != 10 {
		t.Errorf("Expected 10 from pharmacy in the ledger, got %+v", updated.Ledger)
	}

	if code, _ := s.do(t, http.MethodPut, path+"/deactivate", s.admin, nil); code != http.StatusOK {
		t.Errorf("Expected deactivate to succeed, got %d", code)
	}
	if code, _ := s.do(t, http.MethodDelete, path, s.admin, nil); code != http.StatusOK {
		t.Errorf("Expected delete to succeed, got %d", code)
	}
	if code, _ := s.do(t, http.MethodDelete, path, s.admin, nil); code != http.StatusNotFound {
		t.Errorf("Expected a second delete to 404, got %d", code)
	}

	_, env = s.do(t, http.MethodGet, "/api/updates/medication/"+strconv.FormatInt(id, 10), s.staff, nil)
	var history []UpdateResponse
	decodeData(t, env, &history)
	if len(history) != 4 || history[0].UpdateType != services.UpdateDeleted {
		t.Errorf("Expected the audit trail to outlive the medication, got %+v", history)
	}
}

func TestMetricsRoute(t *testing.T) {
	s := setupServer(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "go_goroutines") {
		t.Error("Expected Go runtime metrics in the exposition")
	}
}

func TestHandleHealth_Unreachable(t *testing.T) {
	handler := HandleHealth(func(context.Context) error { return errors.New("connection refused") })

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", rr.Code)
	}
}
