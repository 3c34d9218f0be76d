package repository

import "mar-engine/internal/database"

// Stores is the set of stores the engine runs on
type Stores struct {
	Settings        SettingsStore
	Directory       DirectoryStore
	Medications     MedicationStore
	Administrations AdministrationStore
	Ledger          LedgerStore
	Updates         UpdateStore
	Notifications   NotificationStore
	Summaries       SummaryStore
}

// NewSQLiteStores wires every SQLite repository to db
func NewSQLiteStores(db *database.DB) Stores {
	return Stores{
		Settings:        NewSettingsRepository(db),
		Directory:       NewDirectoryRepository(db),
		Medications:     NewMedicationRepository(db),
		Administrations: NewAdministrationRepository(db),
		Ledger:          NewDailyStockRepository(db),
		Updates:         NewMedicationUpdateRepository(db),
		Notifications:   NewNotificationRepository(db),
		Summaries:       NewSummaryRepository(db),
	}
}
