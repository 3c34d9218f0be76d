package services

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"mar-engine/internal/database"
	"mar-engine/internal/models"
	"mar-engine/internal/repository"
)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) Set(t time.Time) { c.now = t }

type fixture struct {
	db     *database.DB
	stores repository.Stores
	engine *Engine
	clock  *testClock
	user   *models.ServiceUser
	med    *models.Medication
}

// setupEngine migrates a fresh database and seeds one service user with one
// medication scheduled at 08:00 and 20:00, one unit per dose, twice a day
func setupEngine(t *testing.T, stock float64) *fixture {
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
	clock := &testClock{now: time.Date(2024, 6, 1, 7, 45, 0, 0, time.UTC)}

	f := &fixture{db: db, stores: stores, clock: clock}
	f.engine = f.engineOver(stores)
	f.user = f.addServiceUser(t, 0)
	f.med = f.addMedication(t, f.user.ID, stock, []string{"08:00", "20:00"})
	return f
}

// engineOver builds an engine with the fixture's clock and thresholds on top of stores
func (f *fixture) engineOver(stores repository.Stores) *Engine {
	return NewEngine(stores, Options{
		Location:        time.UTC,
		Clock:           f.clock.Now,
		ThresholdBefore: 30,
		ThresholdAfter:  30,
		StockAlertDays:  10,
		Metrics:         NewMetrics(),
		Logger:          zerolog.Nop(),
	})
}

func (f *fixture) addServiceUser(t *testing.T, groupID int64) *models.ServiceUser {
	t.Helper()
	user := &models.ServiceUser{Name: "Test Resident"}
	if groupID != 0 {
		user.GroupID.Int64, user.GroupID.Valid = groupID, true
	}
	if err := repository.NewDirectoryRepository(f.db).CreateServiceUser(context.Background(), user); err != nil {
		t.Fatalf("Failed to create service user: %v", err)
	}
	return user
}

func (f *fixture) addGroup(t *testing.T) *models.Group {
	t.Helper()
	group := &models.Group{Name: "North Wing"}
	if err := repository.NewDirectoryRepository(f.db).CreateGroup(context.Background(), group); err != nil {
		t.Fatalf("Failed to create group: %v", err)
	}
	return group
}

func (f *fixture) addMedication(t *testing.T, serviceUserID int64, stock float64, times []string) *models.Medication {
	t.Helper()
	med := &models.Medication{
		ServiceUserID:       serviceUserID,
		Name:                "Paracetamol",
		Dosage:              models.Dosage{Amount: 500, Unit: "mg"},
		QuantityInStock:     stock,
		QuantityPerDose:     1,
		DosesPerDay:         2,
		Frequency:           "Twice daily",
		AdministrationTimes: times,
		StartDate:           time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		PrescribedBy:        "Dr Smith",
		IsActive:            true,
	}
	if err := f.stores.Medications.Create(context.Background(), med); err != nil {
		t.Fatalf("Failed to create medication: %v", err)
	}
	return med
}

func (f *fixture) stock(t *testing.T, medicationID int64) float64 {
	t.Helper()
	med, err := f.stores.Medications.GetByID(context.Background(), medicationID)
	if err != nil {
		t.Fatalf("Failed to get medication: %v", err)
	}
	return med.QuantityInStock
}

// concurrentMedications commits a stock adjustment right after the first
// read of a medication, as a dispense landing mid-edit would
type concurrentMedications struct {
	repository.MedicationStore
	delta float64
	fired bool
}

func (m *concurrentMedications) GetByID(ctx context.Context, id int64) (*models.Medication, error) {
	med, err := m.MedicationStore.GetByID(ctx, id)
	if err != nil || m.fired {
		return med, err
	}
	m.fired = true
	if _, err := m.MedicationStore.AdjustStock(ctx, id, m.delta, 99); err != nil {
		return nil, err
	}
	return med, nil
}

type failingRefreshLedger struct {
	repository.LedgerStore
}

func (failingRefreshLedger) RefreshSnapshots(context.Context, string, int64) (int, error) {
	return 0, errors.New("database is locked")
}

// conflictingAdministrations loses every insert to a concurrent writer
type conflictingAdministrations struct {
	repository.AdministrationStore
}

func (conflictingAdministrations) Create(context.Context, *models.MedicationAdministration, bool) (*repository.StockMovement, error) {
	return nil, repository.ErrConflict
}

// trailingWriteAdministrations commits a stock adjustment right after each insert
type trailingWriteAdministrations struct {
	repository.AdministrationStore
	medications repository.MedicationStore
	delta       float64
}

func (a trailingWriteAdministrations) Create(ctx context.Context, record *models.MedicationAdministration, decrementStock bool) (*repository.StockMovement, error) {
	movement, err := a.AdministrationStore.Create(ctx, record, decrementStock)
	if err != nil {
		return nil, err
	}
	if _, err := a.medications.AdjustStock(ctx, record.MedicationID, a.delta, 99); err != nil {
		return nil, err
	}
	return movement, nil
}
