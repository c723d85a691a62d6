package ingest

import (
	"context"
	"errors"
	"fmt"

	"omnichat-gateway/internal/models"

	"gorm.io/gorm"
)

// TenantResolver maps a platform account identifier to the organization that
// owns it. Only an exact (platform, external id, active) match resolves;
// there is deliberately no fallback to "any active account for this
// platform", which would route one tenant's messages into another tenant's
// data.
type TenantResolver struct {
	db *gorm.DB
}

func NewTenantResolver(db *gorm.DB) *TenantResolver {
	return &TenantResolver{db: db}
}

// Resolve returns the owning account row for a platform + external account id.
func (r *TenantResolver) Resolve(ctx context.Context, platform, accountExternalID string) (*models.PlatformAccount, error) {
	var account models.PlatformAccount
	err := r.db.WithContext(ctx).
		Where("platform = ? AND external_id = ? AND active = ?", platform, accountExternalID, true).
		First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &ConfigurationError{
			Reason: fmt.Sprintf("no active %s account for external id %q", platform, accountExternalID),
		}
	}
	if err != nil {
		return nil, storageErr(err)
	}
	return &account, nil
}
