package identity

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tillpoint/terminald/pkg/db/models"
)

// Repository persists the single terminal credential row. The fixed key
// keeps the identity stable across app sessions.
type Repository struct {
	db *gorm.DB
}

// NewRepository builds a credential repository bound to the provided DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Get loads the stored credential, or nil when the terminal has never
// registered.
func (r *Repository) Get(ctx context.Context) (*models.TerminalCredential, error) {
	var row models.TerminalCredential
	err := r.db.WithContext(ctx).
		Where("key = ?", models.TerminalCredentialKey).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// SaveTx upserts the credential row under the fixed key.
func (r *Repository) SaveTx(tx *gorm.DB, cred *models.TerminalCredential) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	cred.Key = models.TerminalCredentialKey
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		UpdateAll: true,
	}).Create(cred).Error
}
