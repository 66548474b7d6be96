package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to VerificationStatus
		want     bool
	}{
		{VerificationStatusPending, VerificationStatusManual, true},
		{VerificationStatusAuto, VerificationStatusManual, true},
		{VerificationStatusRejected, VerificationStatusManual, true},
		{VerificationStatusPending, VerificationStatusRejected, true},
		{VerificationStatusManual, VerificationStatusRejected, true},
		{VerificationStatusRejected, VerificationStatusRejected, false},
		{VerificationStatusPending, VerificationStatusAuto, false},
		{VerificationStatusManual, VerificationStatusPending, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestDecodePayload(t *testing.T) {
	raw, err := EncodePayload(MatchSKUPayload{Record: SourceRecord{ExternalSKU: "WB-1", Source: "wildberries", Name: "Коврик для йоги"}})
	require.NoError(t, err)

	job := &QueueJob{JobType: JobTypeMatchSKU}
	job.Payload.Data = raw

	payload, err := job.Decode()
	require.NoError(t, err)
	match, ok := payload.(MatchSKUPayload)
	require.True(t, ok)
	assert.Equal(t, "WB-1", match.Record.ExternalSKU)
	assert.Equal(t, JobTypeMatchSKU, match.JobType())

	_, err = DecodePayload("resize_image", json.RawMessage(`{}`))
	assert.Error(t, err)

	_, err = DecodePayload(JobTypeRematchMapping, json.RawMessage(`{"mapping_id": 42}`))
	assert.Error(t, err)
}

func TestConfidenceBandRange(t *testing.T) {
	min, max, ok := ConfidenceBandHigh.Range()
	require.True(t, ok)
	assert.Equal(t, 0.8, min)
	assert.Nil(t, max)

	min, max, ok = ConfidenceBandMedium.Range()
	require.True(t, ok)
	assert.Equal(t, 0.5, min)
	require.NotNil(t, max)
	assert.Equal(t, 0.8, *max)

	_, _, ok = ConfidenceBand("bogus").Range()
	assert.False(t, ok)
}

func TestPlaceholderValuesAreAbsent(t *testing.T) {
	brand, category := "Unknown Brand", "uncategorized"
	p := &MasterProduct{CanonicalBrand: &brand, CanonicalCategory: &category}
	assert.Empty(t, p.Brand())
	assert.Empty(t, p.Category())

	r := SourceRecord{Brand: " Nike ", Category: "UNCATEGORIZED"}
	assert.Equal(t, "Nike", r.BrandValue())
	assert.Empty(t, r.CategoryValue())
}

func TestSkuMappingRecord(t *testing.T) {
	record := SourceRecord{ExternalSKU: "OZ-7", Source: "ozon", Name: "Apple iPhone 14", Brand: "Apple"}
	m := NewSkuMapping(record, nil, 0.42, VerificationStatusPending)

	assert.False(t, m.HasMaster())
	assert.Nil(t, m.SourceCategory)
	assert.Equal(t, record.ExternalSKU, m.Record().ExternalSKU)
	assert.Equal(t, "Apple", m.Record().Brand)
}

func TestPagination(t *testing.T) {
	page, size := NormalizePage(0, 1000)
	assert.Equal(t, 1, page)
	assert.Equal(t, MaxPageSize, size)

	p := NewPagination(2, 20, 41)
	assert.Equal(t, 3, p.TotalPages)
}
