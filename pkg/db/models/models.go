package models

// All lists every model, in dependency order, for gorm AutoMigrate on sqlite.
func All() []any {
	return []any{
		&User{},
		&UserPreferences{},
		&Notification{},
	}
}
