package models

import "time"

// TerminalCredentialKey is the fixed primary key of the single credential
// row. The terminal's identity outlives app sessions, so it lives in the
// store rather than in memory.
const TerminalCredentialKey = "terminal"

// TerminalCredential holds the backend-issued terminal id and bearer token.
type TerminalCredential struct {
	Key          string    `gorm:"column:key;primaryKey" json:"key"`
	TerminalID   string    `gorm:"column:terminal_id;not null" json:"terminal_id"`
	TenantID     string    `gorm:"column:tenant_id;not null" json:"tenant_id"`
	StoreID      string    `gorm:"column:store_id;not null" json:"store_id"`
	Token        string    `gorm:"column:token" json:"-"`
	RegisteredAt time.Time `gorm:"column:registered_at;not null" json:"registered_at"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (TerminalCredential) TableName() string {
	return "terminal_credentials"
}
