package models

import "time"

// ScanHistory is one append-only ledger entry: user U looked up product P at
// time T. Entries are never updated or deduplicated.
type ScanHistory struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`

	UserID    uint      `json:"user_id" gorm:"index;not null"`
	ProductID uint      `json:"product_id" gorm:"index;not null"`
	ScannedAt time.Time `json:"scanned_at" gorm:"index"`

	Product *Product `json:"product,omitempty" gorm:"foreignKey:ProductID"`
}

// TableName sets the explicit table name for GORM.
func (ScanHistory) TableName() string {
	return "scan_histories"
}
