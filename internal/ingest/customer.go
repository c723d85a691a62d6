package ingest

import (
	"context"
	"errors"
	"log"
	"time"

	"omnichat-gateway/internal/enrichment"
	"omnichat-gateway/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CustomerResolver finds or creates the customer behind a platform identity.
// Creation never waits on profile enrichment: the identity is written with
// the bare external id first, and enrichment runs in the background.
type CustomerResolver struct {
	db      *gorm.DB
	fetcher enrichment.ProfileFetcher
	timeout time.Duration
}

func NewCustomerResolver(db *gorm.DB, fetcher enrichment.ProfileFetcher, timeout time.Duration) *CustomerResolver {
	return &CustomerResolver{db: db, fetcher: fetcher, timeout: timeout}
}

// Resolve returns the identity row for (organization, platform, external id),
// creating the customer and identity on first contact. displayName, when the
// payload itself carried one, is applied without an enrichment round-trip.
func (r *CustomerResolver) Resolve(ctx context.Context, account *models.PlatformAccount, platform, externalID, displayName string) (*models.CustomerIdentity, error) {
	var identity models.CustomerIdentity
	err := r.db.WithContext(ctx).
		Where("organization_id = ? AND platform = ? AND external_id = ?",
			account.OrganizationID, platform, externalID).
		First(&identity).Error

	switch {
	case err == nil:
		if identity.DisplayName == "" && displayName != "" {
			// The payload itself carried a name (WhatsApp contacts block).
			if err := r.db.WithContext(ctx).Model(&identity).
				Update("display_name", displayName).Error; err != nil {
				log.Printf("Updating display name for %s/%s failed: %v", platform, externalID, err)
			} else {
				identity.DisplayName = displayName
			}
		}
		r.maybeEnrich(account, &identity)
		return &identity, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		// fall through to create
	default:
		return nil, storageErr(err)
	}

	created, err := r.create(ctx, account, platform, externalID, displayName)
	if err != nil {
		return nil, err
	}
	r.maybeEnrich(account, created)
	return created, nil
}

func (r *CustomerResolver) create(ctx context.Context, account *models.PlatformAccount, platform, externalID, displayName string) (*models.CustomerIdentity, error) {
	customer := models.Customer{
		ID:             uuid.NewString(),
		OrganizationID: account.OrganizationID,
	}
	identity := models.CustomerIdentity{
		CustomerID:     customer.ID,
		OrganizationID: account.OrganizationID,
		Platform:       platform,
		ExternalID:     externalID,
		DisplayName:    displayName,
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&customer).Error; err != nil {
			return err
		}
		// A concurrent delivery may have created the identity between our
		// read and this insert; the unique key decides the winner.
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&identity)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrDuplicatedKey
		}
		return nil
	})

	if errors.Is(err, gorm.ErrDuplicatedKey) {
		// Lost the race: the whole transaction rolled back, so re-read the
		// identity the concurrent delivery created.
		var winner models.CustomerIdentity
		if err := r.db.WithContext(ctx).
			Where("organization_id = ? AND platform = ? AND external_id = ?",
				account.OrganizationID, platform, externalID).
			First(&winner).Error; err != nil {
			return nil, storageErr(err)
		}
		return &winner, nil
	}
	if err != nil {
		return nil, storageErr(err)
	}
	return &identity, nil
}

// maybeEnrich starts a background profile fetch when the identity still lacks
// a display name. Failures are logged and swallowed; the triggering event is
// never affected.
func (r *CustomerResolver) maybeEnrich(account *models.PlatformAccount, identity *models.CustomerIdentity) {
	if r.fetcher == nil || identity.DisplayName != "" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		if err := r.Enrich(ctx, account, identity); err != nil {
			log.Printf("Profile enrichment for %s/%s failed: %v",
				identity.Platform, identity.ExternalID, err)
		}
	}()
}

// Enrich fetches the profile for an identity and stores whatever came back.
func (r *CustomerResolver) Enrich(ctx context.Context, account *models.PlatformAccount, identity *models.CustomerIdentity) error {
	profile, err := r.fetcher.FetchProfile(ctx, identity.Platform, identity.ExternalID, account.AccessToken)
	if err != nil {
		return &EnrichmentError{Err: err}
	}

	now := time.Now().UTC()
	updates := map[string]interface{}{
		"display_name": profile.DisplayName,
		"avatar_url":   profile.AvatarURL,
		"locale":       profile.Locale,
		"timezone":     profile.Timezone,
		"enriched_at":  &now,
	}
	if err := r.db.WithContext(ctx).
		Model(&models.CustomerIdentity{}).
		Where("id = ?", identity.ID).
		Updates(updates).Error; err != nil {
		return &EnrichmentError{Err: err}
	}
	return nil
}
