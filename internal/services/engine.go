package services

import (
	"time"

	"github.com/rs/zerolog"

	"mar-engine/internal/repository"
)

// Options configures an Engine
type Options struct {
	Location        *time.Location
	Clock           Clock
	ThresholdBefore int
	ThresholdAfter  int
	StockAlertDays  int
	InferFromNotes  bool
	Metrics         *Metrics
	Logger          zerolog.Logger
}

// Engine wires every service over one set of stores
type Engine struct {
	Settings       *SettingsService
	Availability   *AvailabilityService
	Administration *AdministrationService
	Ledger         *StockLedger
	Updates        *UpdateRecorder
	Medications    *MedicationService
	Chart          *ChartService
	Alerts         *StockAlertService
	Summaries      *SummaryService
	Metrics        *Metrics
}

// NewEngine builds the services. A nil Location means UTC and a nil Clock means time.Now.
func NewEngine(stores repository.Stores, opts Options) *Engine {
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	log := opts.Logger

	settings := NewSettingsService(stores.Settings, stores.Directory, opts.ThresholdBefore, opts.ThresholdAfter,
		log.With().Str("component", "settings").Logger())
	ledger := NewStockLedger(stores.Ledger, loc, now, opts.InferFromNotes, opts.Metrics,
		log.With().Str("component", "ledger").Logger())
	recorder := NewUpdateRecorder(stores.Updates, now, log.With().Str("component", "updates").Logger())

	return &Engine{
		Settings: settings,
		Availability: NewAvailabilityService(settings, stores.Directory, stores.Medications, loc, now,
			log.With().Str("component", "availability").Logger()),
		Administration: NewAdministrationService(AdministrationDeps{
			Settings:        settings,
			Directory:       stores.Directory,
			Medications:     stores.Medications,
			Administrations: stores.Administrations,
			Ledger:          ledger,
			Recorder:        recorder,
			Metrics:         opts.Metrics,
			Location:        loc,
			Clock:           now,
			Logger:          log.With().Str("component", "administration").Logger(),
		}),
		Ledger:  ledger,
		Updates: recorder,
		Medications: NewMedicationService(stores.Medications, stores.Directory, ledger, recorder,
			log.With().Str("component", "medications").Logger()),
		Chart: NewChartService(settings, stores.Directory, stores.Medications, stores.Administrations, stores.Ledger, loc,
			log.With().Str("component", "chart").Logger()),
		Alerts: NewStockAlertService(stores.Medications, stores.Notifications, opts.StockAlertDays, now,
			log.With().Str("component", "alerts").Logger()),
		Summaries: NewSummaryService(stores.Summaries, stores.Medications, stores.Directory, ledger, loc, now,
			log.With().Str("component", "summaries").Logger()),
		Metrics: opts.Metrics,
	}
}
