package matching

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/pkg/errors"
	"github.com/Ramsey-B/clover/pkg/events"
	"github.com/Ramsey-B/clover/pkg/models"
)

type matcherFixture struct {
	matcher  *Matcher
	products *fakeProducts
	mappings *fakeMappings
	recorder *events.Recorder
}

func newMatcherFixture(config Config, products ...models.MasterProduct) *matcherFixture {
	f := &matcherFixture{
		products: &fakeProducts{products: products},
		mappings: newFakeMappings(),
		recorder: events.NewRecorder(),
	}
	hooks := events.NewHooks(testLogger, f.recorder, f.recorder, f.recorder)
	finder := NewCandidateFinder(f.products, FinderConfig{}, testLogger)
	f.matcher = NewMatcher(finder, NewConfidenceEngine(nil), f.mappings, hooks, config, testLogger)
	return f
}

func TestMatchRecord_AutoAccepts(t *testing.T) {
	f := newMatcherFixture(DefaultConfig(), product("MP-1", "Apple iPhone 14", "Apple", "Phones"))

	record := models.SourceRecord{ExternalSKU: "SKU-1", Source: "internal", Name: "Apple iPhone 14", Brand: "Apple", Category: "Phones"}
	result, err := f.matcher.MatchRecord(context.Background(), record)
	require.NoError(t, err)

	assert.False(t, result.Duplicate)
	assert.Equal(t, models.VerificationStatusAuto, result.Mapping.VerificationStatus)
	require.NotNil(t, result.Mapping.MasterID)
	assert.Equal(t, "MP-1", *result.Mapping.MasterID)
	assert.Equal(t, 1.0, result.Mapping.ConfidenceScore)

	audits := f.recorder.Audits()
	require.Len(t, audits, 1)
	assert.Equal(t, models.AuditActionAutoMatched, audits[0].Action)
	assert.Equal(t, models.SystemActor, audits[0].Actor)
	assert.False(t, audits[0].Timestamp.IsZero())

	assert.ElementsMatch(t, []models.Invalidation{
		{EntityType: models.EntityTypeMapping, ID: result.Mapping.ID},
		{EntityType: models.EntityTypeMasterProduct, ID: "MP-1"},
	}, f.recorder.Invalidations())
	assert.Empty(t, f.recorder.Notifications())
}

func TestMatchRecord_LowConfidenceGoesToReview(t *testing.T) {
	config := DefaultConfig()
	config.PendingAlertThreshold = 1
	f := newMatcherFixture(config, product("MP-1", "Apple iPhone 14", "Apple", "Phones"))

	record := models.SourceRecord{ExternalSKU: "OZ-1", Source: "ozon", Name: "Apple iPhone 14"}
	result, err := f.matcher.MatchRecord(context.Background(), record)
	require.NoError(t, err)

	assert.Equal(t, models.VerificationStatusPending, result.Mapping.VerificationStatus)
	require.NotNil(t, result.Mapping.MasterID)
	assert.Equal(t, "MP-1", *result.Mapping.MasterID)
	assert.InDelta(t, 0.49, result.Mapping.ConfidenceScore, 1e-9)

	audits := f.recorder.Audits()
	require.Len(t, audits, 1)
	assert.Equal(t, models.AuditActionQueued, audits[0].Action)

	notifications := f.recorder.Notifications()
	require.Len(t, notifications, 2)
	assert.Equal(t, models.MetricLowConfidenceMapping, notifications[0].Metric)
	assert.Equal(t, 0.5, notifications[0].Threshold)
	assert.Equal(t, models.MetricPendingQueueSize, notifications[1].Metric)
	assert.Equal(t, 1.0, notifications[1].Value)
}

func TestMatchRecord_NoCandidates(t *testing.T) {
	f := newMatcherFixture(DefaultConfig())

	result, err := f.matcher.MatchRecord(context.Background(), models.SourceRecord{ExternalSKU: "WB-9", Source: "wildberries", Name: "Коврик для йоги"})
	require.NoError(t, err)

	assert.Equal(t, models.VerificationStatusPending, result.Mapping.VerificationStatus)
	assert.Nil(t, result.Mapping.MasterID)
	assert.Zero(t, result.Mapping.ConfidenceScore)
	assert.Empty(t, result.Candidates)
	assert.Equal(t, []models.Invalidation{{EntityType: models.EntityTypeMapping, ID: result.Mapping.ID}}, f.recorder.Invalidations())
}

func TestMatchRecord_DuplicateReturnsExisting(t *testing.T) {
	f := newMatcherFixture(DefaultConfig(), product("MP-1", "Apple iPhone 14", "Apple", "Phones"))
	record := models.SourceRecord{ExternalSKU: "SKU-1", Source: "internal", Name: "Apple iPhone 14", Brand: "Apple", Category: "Phones"}

	first, err := f.matcher.MatchRecord(context.Background(), record)
	require.NoError(t, err)
	second, err := f.matcher.MatchRecord(context.Background(), record)
	require.NoError(t, err)

	assert.True(t, second.Duplicate)
	assert.Equal(t, first.Mapping.ID, second.Mapping.ID)
	assert.Len(t, f.recorder.Audits(), 1)
}

func TestRematch_UpdatesPendingSuggestion(t *testing.T) {
	f := newMatcherFixture(DefaultConfig())
	ctx := context.Background()

	created, err := f.matcher.MatchRecord(ctx, models.SourceRecord{ExternalSKU: "OZ-2", Source: "ozon", Name: "Apple iPhone 14", Brand: "Apple"})
	require.NoError(t, err)
	require.Nil(t, created.Mapping.MasterID)

	f.products.products = append(f.products.products, product("MP-7", "Apple iPhone 14", "Apple", "Phones"))

	result, err := f.matcher.Rematch(ctx, created.Mapping.ID)
	require.NoError(t, err)
	require.NotNil(t, result.Mapping.MasterID)
	assert.Equal(t, "MP-7", *result.Mapping.MasterID)
	assert.InDelta(t, 0.79, result.Mapping.ConfidenceScore, 1e-9)
	// rematch never promotes, even above the auto-accept threshold
	assert.Equal(t, models.VerificationStatusPending, result.Mapping.VerificationStatus)

	audits := f.recorder.Audits()
	require.Len(t, audits, 2)
	assert.Equal(t, models.AuditActionRematched, audits[1].Action)
	assert.Equal(t, "MP-7", audits[1].MasterID)
}

func TestRematch_LeavesReviewedMappingAlone(t *testing.T) {
	f := newMatcherFixture(DefaultConfig(), product("MP-1", "Apple iPhone 14", "Apple", "Phones"))
	ctx := context.Background()

	created, err := f.matcher.MatchRecord(ctx, models.SourceRecord{ExternalSKU: "SKU-1", Source: "internal", Name: "Apple iPhone 14", Brand: "Apple", Category: "Phones"})
	require.NoError(t, err)
	require.Equal(t, models.VerificationStatusAuto, created.Mapping.VerificationStatus)

	result, err := f.matcher.Rematch(ctx, created.Mapping.ID)
	require.NoError(t, err)
	assert.Equal(t, created.Mapping.ID, result.Mapping.ID)
	assert.Empty(t, result.Candidates)
	assert.Len(t, f.recorder.Audits(), 1)
}

func TestFindSimilarProducts(t *testing.T) {
	f := newMatcherFixture(DefaultConfig(),
		product("MP-2", "Apple iPhone 15", "Apple", "Phones"),
		product("MP-1", "Apple iPhone 14", "Apple", "Phones"),
	)
	ctx := context.Background()

	created, err := f.matcher.MatchRecord(ctx, models.SourceRecord{ExternalSKU: "OZ-3", Source: "ozon", Name: "Apple iPhone 14"})
	require.NoError(t, err)

	candidates, err := f.matcher.FindSimilarProducts(ctx, created.Mapping.ID, 5)
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	assert.Equal(t, "MP-1", candidates[0].MasterID)
	for _, c := range candidates {
		require.NotNil(t, c.Confidence)
	}
	assert.GreaterOrEqual(t, candidates[0].MatchScore, candidates[1].MatchScore)

	_, err = f.matcher.FindSimilarProducts(ctx, "missing", 5)
	assert.True(t, errors.IsKind(err, errors.KindNotFound))
}

func TestMatchRecord_ExactNameOutranksBrandCategory(t *testing.T) {
	f := newMatcherFixture(DefaultConfig(),
		product("MP-EXACT", "Apple iPhone 14", "", ""),
		product("MP-CASE", "Silicone Case MagSafe", "Apple", "Phones"),
	)
	ctx := context.Background()

	record := models.SourceRecord{ExternalSKU: "OZ-5", Source: "ozon", Name: "Apple iPhone 14", Brand: "Apple", Category: "Phones"}
	result, err := f.matcher.MatchRecord(ctx, record)
	require.NoError(t, err)

	require.NotNil(t, result.Mapping.MasterID)
	assert.Equal(t, "MP-EXACT", *result.Mapping.MasterID)
	assert.Equal(t, models.VerificationStatusPending, result.Mapping.VerificationStatus)
	assert.InDelta(t, 0.49, result.Mapping.ConfidenceScore, 1e-9)

	candidates, err := f.matcher.FindSimilarProducts(ctx, result.Mapping.ID, 5)
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	assert.Equal(t, "MP-EXACT", candidates[0].MasterID)
	assert.Equal(t, models.MatchTypeExactName, candidates[0].MatchType)
	assert.Equal(t, "MP-CASE", candidates[1].MasterID)
	assert.Equal(t, models.MatchTypeBrandCategory, candidates[1].MatchType)
	// the brand/category candidate scores higher on confidence but still ranks second
	assert.Greater(t, *candidates[1].Confidence, *candidates[0].Confidence)
}

func TestBestCandidate(t *testing.T) {
	conf := func(v float64) *float64 { return &v }

	tests := []struct {
		name       string
		candidates []models.MatchCandidate
		want       string
	}{
		{"empty", nil, ""},
		{"highest match score wins", []models.MatchCandidate{
			{MasterID: "MP-1", MatchScore: 0.95, Confidence: conf(0.4)},
			{MasterID: "MP-2", MatchScore: 0.8, Confidence: conf(0.9)},
		}, "MP-1"},
		{"confidence breaks ties", []models.MatchCandidate{
			{MasterID: "MP-1", MatchScore: 0.95, Confidence: conf(0.4)},
			{MasterID: "MP-2", MatchScore: 0.95, Confidence: conf(0.7)},
			{MasterID: "MP-3", MatchScore: 0.6, Confidence: conf(1)},
		}, "MP-2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			best, ok := bestCandidate(tt.candidates)
			assert.Equal(t, tt.want != "", ok)
			assert.Equal(t, tt.want, best.MasterID)
		})
	}
}

func TestMatchRecord_BacklogAlertFiresOncePerCrossing(t *testing.T) {
	config := DefaultConfig()
	config.PendingAlertThreshold = 2
	f := newMatcherFixture(config)
	ctx := context.Background()

	for _, sku := range []string{"WB-1", "WB-2", "WB-3", "WB-4"} {
		_, err := f.matcher.MatchRecord(ctx, models.SourceRecord{ExternalSKU: sku, Source: "wildberries", Name: "Коврик для йоги"})
		require.NoError(t, err)
	}

	var backlog []models.Notification
	for _, n := range f.recorder.Notifications() {
		if n.Metric == models.MetricPendingQueueSize {
			backlog = append(backlog, n)
		}
	}
	require.Len(t, backlog, 1)
	assert.Equal(t, 2.0, backlog[0].Value)
}
