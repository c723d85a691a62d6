package ingest

import (
	"context"
	"errors"
	"testing"

	"omnichat-gateway/internal/enrichment"
	"omnichat-gateway/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubFetcher struct {
	profile *enrichment.Profile
	err     error
	calls   int
}

func (f *stubFetcher) FetchProfile(_ context.Context, _, _, _ string) (*enrichment.Profile, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.profile, nil
}

func TestCustomerCreatedBareThenEnriched(t *testing.T) {
	db := newTestDB(t)
	account := seedAccount(t, db, "org-1", models.PlatformFacebook, "PAGE1")
	fetcher := &stubFetcher{profile: &enrichment.Profile{
		DisplayName: "Grace Hopper",
		AvatarURL:   "https://cdn/avatar.jpg",
		Locale:      "en_US",
	}}
	resolver := NewCustomerResolver(db, nil, 0)

	identity, err := resolver.Resolve(context.Background(), account, models.PlatformFacebook, "U1", "")
	require.NoError(t, err)
	assert.Empty(t, identity.DisplayName, "creation must not wait on enrichment")
	assert.NotEmpty(t, identity.CustomerID)

	// Enrichment runs afterwards, keyed by the account's credentials.
	enriching := NewCustomerResolver(db, fetcher, 0)
	require.NoError(t, enriching.Enrich(context.Background(), account, identity))

	var got models.CustomerIdentity
	require.NoError(t, db.First(&got, identity.ID).Error)
	assert.Equal(t, "Grace Hopper", got.DisplayName)
	assert.Equal(t, "en_US", got.Locale)
	require.NotNil(t, got.EnrichedAt)
}

func TestEnrichmentFailureIsSwallowedAsEnrichmentError(t *testing.T) {
	db := newTestDB(t)
	account := seedAccount(t, db, "org-1", models.PlatformLine, "BOT1")
	fetcher := &stubFetcher{err: errors.New("rate limited")}
	resolver := NewCustomerResolver(db, fetcher, 0)

	identity, err := resolver.Resolve(context.Background(), account, models.PlatformLine, "Uabc", "")
	require.NoError(t, err, "a failing fetcher never fails the resolve")

	enrichErr := resolver.Enrich(context.Background(), account, identity)
	require.Error(t, enrichErr)
	var typed *EnrichmentError
	assert.ErrorAs(t, enrichErr, &typed)
}

func TestResolveReusesIdentityAcrossEvents(t *testing.T) {
	db := newTestDB(t)
	account := seedAccount(t, db, "org-1", models.PlatformWhatsApp, "PN1")
	resolver := NewCustomerResolver(db, nil, 0)

	first, err := resolver.Resolve(context.Background(), account, models.PlatformWhatsApp, "15557772222", "")
	require.NoError(t, err)
	second, err := resolver.Resolve(context.Background(), account, models.PlatformWhatsApp, "15557772222", "")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.CustomerID, second.CustomerID)

	var customerCount int64
	require.NoError(t, db.Model(&models.Customer{}).Count(&customerCount).Error)
	assert.Equal(t, int64(1), customerCount)
}

func TestResolveAppliesPayloadDisplayName(t *testing.T) {
	db := newTestDB(t)
	account := seedAccount(t, db, "org-1", models.PlatformWhatsApp, "PN1")
	resolver := NewCustomerResolver(db, nil, 0)

	// First contact arrives without a name, a later one carries it.
	_, err := resolver.Resolve(context.Background(), account, models.PlatformWhatsApp, "15557772222", "")
	require.NoError(t, err)
	identity, err := resolver.Resolve(context.Background(), account, models.PlatformWhatsApp, "15557772222", "Ada")
	require.NoError(t, err)
	assert.Equal(t, "Ada", identity.DisplayName)

	var got models.CustomerIdentity
	require.NoError(t, db.First(&got, identity.ID).Error)
	assert.Equal(t, "Ada", got.DisplayName)
}

func TestSamePersonDifferentOrgsStaysSeparate(t *testing.T) {
	db := newTestDB(t)
	accountA := seedAccount(t, db, "org-1", models.PlatformFacebook, "PAGE1")
	accountB := seedAccount(t, db, "org-2", models.PlatformFacebook, "PAGE2")
	resolver := NewCustomerResolver(db, nil, 0)

	a, err := resolver.Resolve(context.Background(), accountA, models.PlatformFacebook, "U1", "")
	require.NoError(t, err)
	b, err := resolver.Resolve(context.Background(), accountB, models.PlatformFacebook, "U1", "")
	require.NoError(t, err)

	assert.NotEqual(t, a.CustomerID, b.CustomerID, "identities are scoped per organization")
}
