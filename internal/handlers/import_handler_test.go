package handlers

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eboekhouden-importer/internal/config"
	"eboekhouden-importer/internal/eboekhouden"
	"eboekhouden-importer/internal/importer"
	"eboekhouden-importer/internal/models"
	"eboekhouden-importer/internal/repositories"
	"eboekhouden-importer/internal/staging"
)

type stubDocRepo struct {
	docs map[string]*models.LedgerDocument
}

func (s *stubDocRepo) CreateDocument(doc *models.LedgerDocument) error {
	s.docs[doc.ExternalMutationID] = doc
	return nil
}

func (s *stubDocRepo) InsertDocument(tx *sql.Tx, doc *models.LedgerDocument) error {
	s.docs[doc.ExternalMutationID] = doc
	return nil
}

func (s *stubDocRepo) ExistsByMutationID(id string) (models.DocumentKind, bool, error) {
	doc, ok := s.docs[id]
	if !ok {
		return "", false, nil
	}
	return doc.Kind, true, nil
}

func (s *stubDocRepo) GetDocumentByMutationID(id string) (*models.LedgerDocument, error) {
	doc, ok := s.docs[id]
	if !ok {
		return nil, repositories.ErrDocumentNotFound
	}
	return doc, nil
}

func (s *stubDocRepo) DeleteByMutationID(tx *sql.Tx, id string) error {
	delete(s.docs, id)
	return nil
}

type stubCacheRepo struct {
	cached      map[int64]*models.CachedMutation
	unprocessed []*models.CachedMutation
}

func (s *stubCacheRepo) GetCachedMutation(id int64) (*models.CachedMutation, error) {
	c, ok := s.cached[id]
	if !ok {
		return nil, repositories.ErrCacheMiss
	}
	return c, nil
}

func (s *stubCacheRepo) InsertCachedMutation(c *models.CachedMutation) error {
	if _, ok := s.cached[c.ExternalID]; !ok {
		s.cached[c.ExternalID] = c
	}
	return nil
}

func (s *stubCacheRepo) DeleteCachedMutation(tx *sql.Tx, id int64) error {
	delete(s.cached, id)
	return nil
}

func (s *stubCacheRepo) ListUnprocessed(limit int) ([]*models.CachedMutation, error) {
	if limit > 0 && len(s.unprocessed) > limit {
		return s.unprocessed[:limit], nil
	}
	return s.unprocessed, nil
}

func (s *stubCacheRepo) ListCachedRange(fromDate, toDate string) ([]*models.CachedMutation, error) {
	return nil, nil
}

func (s *stubCacheRepo) MaxExternalID() (int64, error) {
	return 0, nil
}

type stubBatchRepo struct {
	batches map[string]*models.ImportBatch
	errors  map[string][]models.ImportError
}

func (s *stubBatchRepo) InsertBatch(b *models.ImportBatch) error {
	s.batches[b.BatchID] = b
	return nil
}

func (s *stubBatchRepo) FinishBatch(b *models.ImportBatch) error {
	s.batches[b.BatchID] = b
	return nil
}

func (s *stubBatchRepo) GetBatchByBatchID(batchID string) (*models.ImportBatch, error) {
	b, ok := s.batches[batchID]
	if !ok {
		return nil, repositories.ErrBatchNotFound
	}
	return b, nil
}

func (s *stubBatchRepo) InsertBatchError(batchID string, e models.ImportError) error {
	s.errors[batchID] = append(s.errors[batchID], e)
	return nil
}

func (s *stubBatchRepo) GetBatchErrors(batchID string) ([]models.ImportError, error) {
	return s.errors[batchID], nil
}

type stubMappingRepo struct {
	mappings []*models.LedgerMapping
}

func (s *stubMappingRepo) GetAllMappings() ([]*models.LedgerMapping, error) {
	return s.mappings, nil
}

func (s *stubMappingRepo) GetMappingByLedgerID(id string) (*models.LedgerMapping, error) {
	for _, m := range s.mappings {
		if m.ExternalLedgerID == id {
			return m, nil
		}
	}
	return nil, models.ErrMappingNotFound
}

func (s *stubMappingRepo) InsertMapping(m *models.LedgerMapping) error {
	s.mappings = append(s.mappings, m)
	return nil
}

type stubPartyRepo struct {
	parties []*models.Party
	nextID  int64
}

func (s *stubPartyRepo) GetPartyByRelationID(relationID string, kind models.PartyKind) (*models.Party, error) {
	for _, p := range s.parties {
		if p.ExternalRelationID == relationID && p.Kind == kind {
			return p, nil
		}
	}
	return nil, repositories.ErrPartyNotFound
}

func (s *stubPartyRepo) GetPartyByName(name string, kind models.PartyKind) (*models.Party, error) {
	for _, p := range s.parties {
		if p.Name == name && p.Kind == kind {
			return p, nil
		}
	}
	return nil, repositories.ErrPartyNotFound
}

func (s *stubPartyRepo) InsertParty(p *models.Party) error {
	s.nextID++
	p.ID = s.nextID
	s.parties = append(s.parties, p)
	return nil
}

type stubAPIClient struct {
	mutations []*models.Mutation
}

func (c *stubAPIClient) FetchMutations(dateFrom, dateTo string) ([]*models.Mutation, error) {
	return c.mutations, nil
}

func (c *stubAPIClient) FetchMutation(id int64) (*models.Mutation, error) {
	for _, m := range c.mutations {
		if m.ExternalID == id {
			return m, nil
		}
	}
	return nil, eboekhouden.ErrNotFound
}

func (c *stubAPIClient) FetchRelation(relationID string) (*eboekhouden.Relation, error) {
	return nil, eboekhouden.ErrNotFound
}

type handlerFixture struct {
	router  http.Handler
	batches *stubBatchRepo
}

func newHandlerFixture(mutations []*models.Mutation, unprocessed []*models.CachedMutation) *handlerFixture {
	mappings := &stubMappingRepo{mappings: []*models.LedgerMapping{
		{ExternalLedgerID: "1300", AccountID: "Debtors - TC", AccountType: models.AccountReceivable, RootType: models.RootAsset},
		{ExternalLedgerID: "8000", AccountID: "Sales - TC", AccountType: models.AccountIncome, RootType: models.RootIncome},
	}}
	accounts := config.AccountsConfig{
		Suspense:             "Suspense - TC",
		OpeningBalanceEquity: "Opening Equity - TC",
		FallbackExpense:      "Misc Expenses - TC",
		DefaultCash:          "Cash - TC",
		Receivable:           "Debtors - TC",
		Payable:              "Creditors - TC",
	}

	docs := &stubDocRepo{docs: make(map[string]*models.LedgerDocument)}
	cacheRepo := &stubCacheRepo{cached: make(map[int64]*models.CachedMutation), unprocessed: unprocessed}
	batches := &stubBatchRepo{batches: make(map[string]*models.ImportBatch), errors: make(map[string][]models.ImportError)}
	client := &stubAPIClient{mutations: mutations}
	cache := staging.NewCache(cacheRepo, client, 5, zerolog.Nop())

	imp := importer.NewImporter(nil, docs, cacheRepo, batches, mappings, &stubPartyRepo{}, cache, client, accounts, "Test Company", zerolog.Nop())
	handler := NewImportHandler(imp, cache, batches)
	return &handlerFixture{
		router:  SetupRouter(handler, zerolog.Nop()),
		batches: batches,
	}
}

func (f *handlerFixture) do(method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestStartImport(t *testing.T) {
	f := newHandlerFixture([]*models.Mutation{
		{
			ExternalID: 1,
			Type:       models.MutationSalesInvoice,
			Date:       "2023-03-01",
			Amount:     decimal.RequireFromString("121.00"),
			RelationID: "R1",
			LedgerID:   "8000",
		},
	}, nil)

	rec := f.do(http.MethodPost, "/api/v1/imports", `{"from_date":"2023-01-01","to_date":"2023-12-31"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var result models.ImportBatchResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&result))
	assert.Equal(t, 1, result.TotalFound)
	assert.Equal(t, 1, result.Imported)
	assert.NotEmpty(t, result.BatchID)
}

func TestStartImportValidation(t *testing.T) {
	f := newHandlerFixture(nil, nil)

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{`},
		{"bad from_date", `{"from_date":"01-01-2023"}`},
		{"bad to_date", `{"to_date":"2023-13-99"}`},
		{"negative max", `{"max_mutations":-1}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := f.do(http.MethodPost, "/api/v1/imports", tc.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestExportUnprocessed(t *testing.T) {
	f := newHandlerFixture(nil, []*models.CachedMutation{
		{ExternalID: 9, Type: models.MutationMemorial, Date: "2023-02-01", Amount: decimal.NewFromInt(5), LedgerID: "1000"},
	})

	rec := f.do(http.MethodGet, "/api/v1/imports/unprocessed", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var response struct {
		Count     int                          `json:"count"`
		Mutations []models.UnprocessedMutation `json:"mutations"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&response))
	assert.Equal(t, 1, response.Count)
	require.Len(t, response.Mutations, 1)
	assert.Equal(t, int64(9), response.Mutations[0].MutationID)

	rec = f.do(http.MethodGet, "/api/v1/imports/unprocessed?limit=0", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestForceReimportRejectsBadID(t *testing.T) {
	f := newHandlerFixture(nil, nil)

	rec := f.do(http.MethodPost, "/api/v1/imports/force-reimport/abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodPost, "/api/v1/imports/force-reimport/-5", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetBatchStatus(t *testing.T) {
	f := newHandlerFixture(nil, nil)
	f.batches.batches["b-1"] = &models.ImportBatch{BatchID: "b-1", Company: "Test Company", Imported: 3}

	rec := f.do(http.MethodGet, "/api/v1/imports/batches/b-1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var response struct {
		Batch models.ImportBatch `json:"batch"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&response))
	assert.Equal(t, "b-1", response.Batch.BatchID)
	assert.Equal(t, 3, response.Batch.Imported)

	rec = f.do(http.MethodGet, "/api/v1/imports/batches/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthEndpoint(t *testing.T) {
	f := newHandlerFixture(nil, nil)

	rec := f.do(http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())
}
