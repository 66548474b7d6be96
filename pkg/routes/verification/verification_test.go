package verification

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/pkg/errors"
	"github.com/Ramsey-B/clover/pkg/inject"
	"github.com/Ramsey-B/clover/pkg/middleware"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/verification"
)

type fakeWorkflow struct {
	actor    models.Actor
	filter   models.PendingFilter
	page     int
	pageSize int
	masterID string
	reason   string
	fields   models.MasterFields
	bulkIDs  []string
	err      error
}

func mapping(id string, status models.VerificationStatus) *models.SkuMapping {
	m := models.NewSkuMapping(models.SourceRecord{ExternalSKU: "WB-1", Source: "wildberries", Name: "Коврик для йоги"}, nil, 0.42, status)
	m.ID = id
	return m
}

func (f *fakeWorkflow) GetPendingItems(_ context.Context, filter models.PendingFilter, page, pageSize int) (*verification.PendingPage, error) {
	f.filter, f.page, f.pageSize = filter, page, pageSize
	return &verification.PendingPage{
		Items:      []verification.PendingItem{{Mapping: *mapping("m-1", models.VerificationStatusPending)}},
		Pagination: models.NewPagination(page, pageSize, 1),
	}, nil
}

func (f *fakeWorkflow) FindSimilarProducts(_ context.Context, mappingID string, limit int) ([]models.MatchCandidate, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []models.MatchCandidate{{MasterID: "MP-1"}}, nil
}

func (f *fakeWorkflow) Approve(_ context.Context, actor models.Actor, mappingID, masterID string) (*models.SkuMapping, error) {
	f.actor, f.masterID = actor, masterID
	if f.err != nil {
		return nil, f.err
	}
	return mapping(mappingID, models.VerificationStatusManual), nil
}

func (f *fakeWorkflow) Reject(_ context.Context, actor models.Actor, mappingID, reason string) (*models.SkuMapping, error) {
	f.actor, f.reason = actor, reason
	return mapping(mappingID, models.VerificationStatusRejected), nil
}

func (f *fakeWorkflow) CreateNewMaster(_ context.Context, actor models.Actor, mappingID string, fields models.MasterFields) (*models.SkuMapping, *models.MasterProduct, error) {
	f.actor, f.fields = actor, fields
	return mapping(mappingID, models.VerificationStatusManual), &models.MasterProduct{MasterID: "MP-ABC", CanonicalName: fields.CanonicalName}, nil
}

func (f *fakeWorkflow) BulkApprove(_ context.Context, actor models.Actor, ids []string) ([]models.BulkResult, error) {
	f.actor, f.bulkIDs = actor, ids
	results := make([]models.BulkResult, 0, len(ids))
	for i, id := range ids {
		results = append(results, models.BulkResult{MappingID: id, Success: i == 0, Skipped: i != 0})
	}
	return results, nil
}

func newServer(t *testing.T, wf *fakeWorkflow) *echo.Echo {
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	id := "verification-" + uuid.NewString()
	container, err := inject.NewContainer(id)
	require.NoError(t, err)
	require.NoError(t, inject.Provide[Workflow](container, wf))
	require.NoError(t, inject.Provide(container, logger))

	e := echo.New()
	e.HTTPErrorHandler = middleware.Error(logger)
	e.Use(middleware.Context())
	e.Use(middleware.Container(id))
	Register(e.Group("/verification"))
	return e
}

func do(e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	req.Header.Set(middleware.HeaderUserID, "reviewer-7")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestListPending_ParsesFilter(t *testing.T) {
	wf := &fakeWorkflow{}
	rec := do(newServer(t, wf), http.MethodGet, "/verification/pending?band=medium&source=ozon&page=2&page_size=50&min_confidence=0.3", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.ConfidenceBandMedium, wf.filter.Band)
	assert.Equal(t, "ozon", wf.filter.Source)
	require.NotNil(t, wf.filter.MinConfidence)
	assert.Equal(t, 0.3, *wf.filter.MinConfidence)
	assert.Nil(t, wf.filter.MaxConfidence)
	assert.Equal(t, 2, wf.page)
	assert.Equal(t, 50, wf.pageSize)

	var page verification.PendingPage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Len(t, page.Items, 1)
	assert.Equal(t, "m-1", page.Items[0].Mapping.ID)
}

func TestListPending_BadQuery(t *testing.T) {
	rec := do(newServer(t, &fakeWorkflow{}), http.MethodGet, "/verification/pending?page=two", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestApprove_UsesRequestActor(t *testing.T) {
	wf := &fakeWorkflow{}
	rec := do(newServer(t, wf), http.MethodPost, "/verification/m-1/approve", `{"master_id":"MP-2"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "reviewer-7", wf.actor.ActorID)
	assert.Equal(t, "MP-2", wf.masterID)
}

func TestApprove_DomainErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"missing master", errors.New(errors.KindMissingMasterID, "mapping has no master"), http.StatusUnprocessableEntity},
		{"not found", errors.New(errors.KindNotFound, "sku mapping not found"), http.StatusNotFound},
		{"transient", errors.New(errors.KindTransientStoreFailure, "deadlock detected"), http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(newServer(t, &fakeWorkflow{err: tt.err}), http.MethodPost, "/verification/m-1/approve", "")
			assert.Equal(t, tt.code, rec.Code)
		})
	}
}

func TestReject(t *testing.T) {
	wf := &fakeWorkflow{}
	rec := do(newServer(t, wf), http.MethodPost, "/verification/m-1/reject", `{"reason":"not our product"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "not our product", wf.reason)
	assert.Contains(t, rec.Body.String(), `"verification_status":"rejected"`)
}

func TestCreateNewMaster(t *testing.T) {
	wf := &fakeWorkflow{}
	rec := do(newServer(t, wf), http.MethodPost, "/verification/m-1/new-master", `{"canonical_name":"Коврик для йоги Demix"}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "Коврик для йоги Demix", wf.fields.CanonicalName)
	assert.Contains(t, rec.Body.String(), `"MP-ABC"`)
}

func TestBulkApprove(t *testing.T) {
	wf := &fakeWorkflow{}
	rec := do(newServer(t, wf), http.MethodPost, "/verification/bulk-approve", `{"mapping_ids":["m-1","m-2","m-3"]}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"m-1", "m-2", "m-3"}, wf.bulkIDs)

	var resp bulkApproveResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Succeeded)
	assert.Equal(t, 2, resp.Failed)
}

func TestBulkApprove_RequiresIDs(t *testing.T) {
	wf := &fakeWorkflow{}
	rec := do(newServer(t, wf), http.MethodPost, "/verification/bulk-approve", `{"mapping_ids":[]}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Nil(t, wf.bulkIDs)
}

func TestCandidates(t *testing.T) {
	rec := do(newServer(t, &fakeWorkflow{}), http.MethodGet, "/verification/m-1/candidates?limit=5", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"MP-1"`)
}

func TestHandlers_ServiceUnavailableWithoutWorkflow(t *testing.T) {
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	id := "verification-" + uuid.NewString()
	_, err := inject.NewContainer(id)
	require.NoError(t, err)

	e := echo.New()
	e.HTTPErrorHandler = middleware.Error(logger)
	e.Use(middleware.Container(id))
	Register(e.Group("/verification"))

	rec := do(e, http.MethodGet, "/verification/m-1/candidates", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
