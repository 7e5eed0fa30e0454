package postgres

import (
	"gorm.io/gorm"
)

// OwnerScope returns a GORM scope that filters by user_id.
// Must be applied to every owner-checked query in every repository
// method so absent and foreign-owned rows are indistinguishable.
func OwnerScope(userID string) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("user_id = ?", userID)
	}
}
