package staging

import (
	"database/sql"
	"encoding/json"
	"sort"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eboekhouden-importer/internal/eboekhouden"
	"eboekhouden-importer/internal/models"
	"eboekhouden-importer/internal/repositories"
)

type memoryCacheRepo struct {
	cached      map[int64]*models.CachedMutation
	unprocessed []*models.CachedMutation
}

func newMemoryCacheRepo() *memoryCacheRepo {
	return &memoryCacheRepo{cached: make(map[int64]*models.CachedMutation)}
}

func (r *memoryCacheRepo) GetCachedMutation(externalID int64) (*models.CachedMutation, error) {
	c, ok := r.cached[externalID]
	if !ok {
		return nil, repositories.ErrCacheMiss
	}
	return c, nil
}

func (r *memoryCacheRepo) InsertCachedMutation(c *models.CachedMutation) error {
	if _, ok := r.cached[c.ExternalID]; !ok {
		r.cached[c.ExternalID] = c
	}
	return nil
}

func (r *memoryCacheRepo) DeleteCachedMutation(tx *sql.Tx, externalID int64) error {
	delete(r.cached, externalID)
	return nil
}

func (r *memoryCacheRepo) ListUnprocessed(limit int) ([]*models.CachedMutation, error) {
	if limit > 0 && len(r.unprocessed) > limit {
		return r.unprocessed[:limit], nil
	}
	return r.unprocessed, nil
}

func (r *memoryCacheRepo) ListCachedRange(fromDate, toDate string) ([]*models.CachedMutation, error) {
	var out []*models.CachedMutation
	for _, c := range r.cached {
		if c.Date >= fromDate && c.Date <= toDate {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ExternalID < out[b].ExternalID })
	return out, nil
}

func (r *memoryCacheRepo) MaxExternalID() (int64, error) {
	var max int64
	for id := range r.cached {
		if id > max {
			max = id
		}
	}
	return max, nil
}

type scanClient struct {
	mutations map[int64]*models.Mutation
	fetches   int
	lists     int
}

func (c *scanClient) FetchMutations(dateFrom, dateTo string) ([]*models.Mutation, error) {
	c.lists++
	var out []*models.Mutation
	for _, m := range c.mutations {
		out = append(out, m)
	}
	return out, nil
}

func (c *scanClient) FetchMutation(externalID int64) (*models.Mutation, error) {
	c.fetches++
	m, ok := c.mutations[externalID]
	if !ok {
		return nil, eboekhouden.ErrNotFound
	}
	return m, nil
}

func (c *scanClient) FetchRelation(relationID string) (*eboekhouden.Relation, error) {
	return nil, eboekhouden.ErrNotFound
}

func mutation(id int64, typ models.MutationType, amount string) *models.Mutation {
	return &models.Mutation{
		ExternalID: id,
		Type:       typ,
		Date:       "2023-02-01",
		Amount:     decimal.RequireFromString(amount),
		LedgerID:   "1000",
	}
}

func TestGetOrFetchCachesOnMiss(t *testing.T) {
	repo := newMemoryCacheRepo()
	client := &scanClient{mutations: map[int64]*models.Mutation{
		7: mutation(7, models.MutationSalesInvoice, "10.00"),
	}}
	cache := NewCache(repo, client, 5, zerolog.Nop())

	m, err := cache.GetOrFetch(7)
	require.NoError(t, err)
	assert.Equal(t, int64(7), m.ExternalID)
	assert.Equal(t, 1, client.fetches)

	// Second lookup is served from the cache.
	m, err = cache.GetOrFetch(7)
	require.NoError(t, err)
	assert.Equal(t, int64(7), m.ExternalID)
	assert.Equal(t, 1, client.fetches)

	_, err = cache.GetOrFetch(8)
	assert.ErrorIs(t, err, eboekhouden.ErrNotFound)
}

func TestGetOrFetchRoundTripsRows(t *testing.T) {
	repo := newMemoryCacheRepo()
	m := mutation(9, models.MutationMemorial, "30.00")
	m.Rows = []models.MutationRow{
		{LedgerID: "4000", Amount: decimal.NewFromInt(30)},
		{LedgerID: "8000", Amount: decimal.NewFromInt(-30)},
	}
	client := &scanClient{mutations: map[int64]*models.Mutation{9: m}}
	cache := NewCache(repo, client, 5, zerolog.Nop())

	_, err := cache.GetOrFetch(9)
	require.NoError(t, err)

	// Rehydrate from the cached row, not the client.
	client.mutations = nil
	got, err := cache.GetOrFetch(9)
	require.NoError(t, err)
	require.Len(t, got.Rows, 2)
	assert.Equal(t, "4000", got.Rows[0].LedgerID)
	assert.True(t, got.Rows[1].Amount.Equal(decimal.NewFromInt(-30)))
}

func TestFetchNewMutationsStopsAfterConsecutiveMisses(t *testing.T) {
	repo := newMemoryCacheRepo()
	client := &scanClient{mutations: map[int64]*models.Mutation{
		1: mutation(1, models.MutationSalesInvoice, "10.00"),
		2: mutation(2, models.MutationSalesInvoice, "20.00"),
		4: mutation(4, models.MutationSalesInvoice, "40.00"), // gap at 3
	}}
	cache := NewCache(repo, client, 2, zerolog.Nop())

	fetched, err := cache.FetchNewMutations()
	require.NoError(t, err)

	// The single-id gap does not end the scan; two consecutive misses do.
	require.Len(t, fetched, 3)
	assert.Equal(t, int64(4), fetched[2].ExternalID)
	// ids 1-6 probed: three hits, one gap, two trailing misses.
	assert.Equal(t, 6, client.fetches)

	maxID, err := repo.MaxExternalID()
	require.NoError(t, err)
	assert.Equal(t, int64(4), maxID)
}

func TestFetchNewMutationsResumesFromHighestCachedID(t *testing.T) {
	repo := newMemoryCacheRepo()
	client := &scanClient{mutations: map[int64]*models.Mutation{
		5: mutation(5, models.MutationSalesInvoice, "10.00"),
		6: mutation(6, models.MutationSalesInvoice, "20.00"),
	}}
	cache := NewCache(repo, client, 2, zerolog.Nop())

	seeded, err := models.NewCachedMutation(mutation(5, models.MutationSalesInvoice, "10.00"))
	require.NoError(t, err)
	require.NoError(t, repo.InsertCachedMutation(seeded))

	fetched, err := cache.FetchNewMutations()
	require.NoError(t, err)
	require.Len(t, fetched, 1)
	assert.Equal(t, int64(6), fetched[0].ExternalID)
}

func TestLoadRangeColdCacheFetchesFullRange(t *testing.T) {
	repo := newMemoryCacheRepo()
	client := &scanClient{mutations: map[int64]*models.Mutation{
		1: mutation(1, models.MutationSalesInvoice, "10.00"),
		2: mutation(2, models.MutationSalesInvoice, "20.00"),
	}}
	cache := NewCache(repo, client, 2, zerolog.Nop())

	mutations, err := cache.LoadRange("2023-01-01", "2023-12-31")
	require.NoError(t, err)
	assert.Len(t, mutations, 2)
	assert.Equal(t, 1, client.lists)
	assert.Len(t, repo.cached, 2)
}

func TestLoadRangeWarmCacheSkipsFullFetch(t *testing.T) {
	repo := newMemoryCacheRepo()
	late := mutation(3, models.MutationSalesInvoice, "30.00")
	late.Date = "2024-05-01"
	client := &scanClient{mutations: map[int64]*models.Mutation{
		1: mutation(1, models.MutationSalesInvoice, "10.00"),
		2: mutation(2, models.MutationSalesInvoice, "20.00"),
		3: late,
	}}
	cache := NewCache(repo, client, 2, zerolog.Nop())

	seeded, err := models.NewCachedMutation(mutation(1, models.MutationSalesInvoice, "10.00"))
	require.NoError(t, err)
	require.NoError(t, repo.InsertCachedMutation(seeded))

	mutations, err := cache.LoadRange("2023-01-01", "2023-12-31")
	require.NoError(t, err)

	// The cached mutation is served locally; the scan finds ids 2 and 3 but
	// only 2 falls inside the requested range. No full list fetch happens.
	require.Len(t, mutations, 2)
	assert.Equal(t, int64(1), mutations[0].ExternalID)
	assert.Equal(t, int64(2), mutations[1].ExternalID)
	assert.Equal(t, 0, client.lists)

	// The out-of-range mutation is still cached for later runs.
	assert.Len(t, repo.cached, 3)
}

func TestLoadRangeDefaultsOpenEndedBounds(t *testing.T) {
	repo := newMemoryCacheRepo()
	client := &scanClient{mutations: map[int64]*models.Mutation{}}
	cache := NewCache(repo, client, 2, zerolog.Nop())

	seeded, err := models.NewCachedMutation(mutation(4, models.MutationMemorial, "5.00"))
	require.NoError(t, err)
	require.NoError(t, repo.InsertCachedMutation(seeded))

	mutations, err := cache.LoadRange("", "")
	require.NoError(t, err)
	require.Len(t, mutations, 1)
	assert.Equal(t, int64(4), mutations[0].ExternalID)
}

func TestListUnprocessedDiagnosesIssues(t *testing.T) {
	repo := newMemoryCacheRepo()
	repo.unprocessed = []*models.CachedMutation{
		{
			ExternalID: 1,
			Type:       models.MutationType(42),
			Date:       "2023-02-01",
			Amount:     decimal.NewFromInt(10),
			LedgerID:   "1000",
		},
		{
			ExternalID: 2,
			Type:       models.MutationSalesInvoice,
			Date:       "2023-02-02",
			Amount:     decimal.Zero,
			RowsJSON:   json.RawMessage("[]"),
		},
		{
			ExternalID: 3,
			Type:       models.MutationMemorial,
			Date:       "2023-02-03",
			Amount:     decimal.NewFromInt(5),
			RowsJSON:   json.RawMessage(`[{"ledger_id":"4000","amount":"5"}]`),
			LedgerID:   "1000",
		},
	}
	cache := NewCache(repo, &scanClient{}, 5, zerolog.Nop())

	unprocessed, err := cache.ListUnprocessed(0)
	require.NoError(t, err)
	require.Len(t, unprocessed, 3)

	assert.Contains(t, unprocessed[0].Issues, "unknown mutation type")
	assert.Contains(t, unprocessed[1].Issues, "zero amount without rows")
	assert.Contains(t, unprocessed[1].Issues, "missing relation id")
	assert.Contains(t, unprocessed[1].Issues, "missing main ledger")
	assert.Empty(t, unprocessed[2].Issues)
}
