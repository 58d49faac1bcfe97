package party

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eboekhouden-importer/internal/eboekhouden"
	"eboekhouden-importer/internal/models"
	"eboekhouden-importer/internal/repositories"
)

type memoryPartyRepo struct {
	parties []*models.Party
	nextID  int64
	inserts int
}

func (r *memoryPartyRepo) GetPartyByRelationID(relationID string, kind models.PartyKind) (*models.Party, error) {
	for _, p := range r.parties {
		if p.ExternalRelationID == relationID && p.Kind == kind {
			return p, nil
		}
	}
	return nil, repositories.ErrPartyNotFound
}

func (r *memoryPartyRepo) GetPartyByName(name string, kind models.PartyKind) (*models.Party, error) {
	for _, p := range r.parties {
		if p.Name == name && p.Kind == kind {
			return p, nil
		}
	}
	return nil, repositories.ErrPartyNotFound
}

func (r *memoryPartyRepo) InsertParty(p *models.Party) error {
	r.nextID++
	r.inserts++
	p.ID = r.nextID
	r.parties = append(r.parties, p)
	return nil
}

type stubClient struct {
	relations map[string]*eboekhouden.Relation
}

func (c *stubClient) FetchMutations(dateFrom, dateTo string) ([]*models.Mutation, error) {
	return nil, nil
}

func (c *stubClient) FetchMutation(externalID int64) (*models.Mutation, error) {
	return nil, eboekhouden.ErrNotFound
}

func (c *stubClient) FetchRelation(relationID string) (*eboekhouden.Relation, error) {
	rel, ok := c.relations[relationID]
	if !ok {
		return nil, eboekhouden.ErrNotFound
	}
	return rel, nil
}

func newTestResolver(relations map[string]*eboekhouden.Relation) (*Resolver, *memoryPartyRepo) {
	repo := &memoryPartyRepo{}
	return NewResolver(repo, &stubClient{relations: relations}, "Test Company", zerolog.Nop()), repo
}

func TestResolveRelationUsesFetchedName(t *testing.T) {
	r, repo := newTestResolver(map[string]*eboekhouden.Relation{
		"R1": {ID: "R1", CompanyName: "Jansen BV"},
		"R2": {ID: "R2", Name: "P. de Vries"},
	})

	p, err := r.ResolveOrCreate("R1", models.PartyCustomer, "")
	require.NoError(t, err)
	assert.Equal(t, "Jansen BV", p.Name)
	assert.False(t, p.Generic)

	// Person relations without a company name use the contact name.
	p, err = r.ResolveOrCreate("R2", models.PartySupplier, "")
	require.NoError(t, err)
	assert.Equal(t, "P. de Vries", p.Name)
	assert.False(t, p.Generic)

	// Second resolution hits the repo, not the client.
	again, err := r.ResolveOrCreate("R1", models.PartyCustomer, "")
	require.NoError(t, err)
	assert.Equal(t, "Jansen BV", again.Name)
	assert.Equal(t, int64(1), again.ID)
	assert.Equal(t, 2, repo.inserts)
}

func TestResolveRelationFetchFailureIsDeterministic(t *testing.T) {
	r, repo := newTestResolver(nil)

	first, err := r.ResolveOrCreate("R9", models.PartyCustomer, "")
	require.NoError(t, err)
	assert.Equal(t, "Relation R9", first.Name)
	assert.True(t, first.Generic)

	// A retry resolves by relation id and never duplicates the record.
	second, err := r.ResolveOrCreate("R9", models.PartyCustomer, "")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, repo.inserts)
}

func TestResolveGenericNameReusedAcrossRelationLookups(t *testing.T) {
	r, repo := newTestResolver(nil)

	// A generic party created by name earlier is reused instead of inserting
	// a duplicate with the same name.
	require.NoError(t, repo.InsertParty(&models.Party{
		Name:    "Relation R9",
		Kind:    models.PartyCustomer,
		Generic: true,
	}))

	p, err := r.ResolveOrCreate("R9", models.PartyCustomer, "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), p.ID)
	assert.Equal(t, 1, repo.inserts)
}

func TestCompanyPartySingleton(t *testing.T) {
	r, repo := newTestResolver(nil)

	first, err := r.ResolveOrCreate("", models.PartyCustomer, "some booking")
	require.NoError(t, err)
	assert.Equal(t, "Test Company (Internal Customer)", first.Name)

	second, err := r.ResolveOrCreate("", models.PartyCustomer, "another booking")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, repo.inserts)

	// Customer and supplier singletons are distinct records.
	supplier, err := r.ResolveOrCreate("", models.PartySupplier, "")
	require.NoError(t, err)
	assert.Equal(t, "Test Company (Internal Supplier)", supplier.Name)
	assert.NotEqual(t, first.ID, supplier.ID)
}

func TestDescriptionPartyFallback(t *testing.T) {
	repo := &memoryPartyRepo{}
	r := NewResolver(repo, &stubClient{}, "", zerolog.Nop())

	long := strings.Repeat("x", 60)
	p, err := r.ResolveOrCreate("", models.PartySupplier, long)
	require.NoError(t, err)
	assert.Equal(t, "Unresolved: "+strings.Repeat("x", 40), p.Name)
	assert.True(t, p.Generic)

	// Same description resolves to the same record.
	again, err := r.ResolveOrCreate("", models.PartySupplier, long)
	require.NoError(t, err)
	assert.Equal(t, p.ID, again.ID)

	empty, err := r.ResolveOrCreate("", models.PartyCustomer, "")
	require.NoError(t, err)
	assert.Equal(t, "Unresolved: no description", empty.Name)
}

func TestDescriptionPartyTruncatesOnRunes(t *testing.T) {
	repo := &memoryPartyRepo{}
	r := NewResolver(repo, &stubClient{}, "", zerolog.Nop())

	// A multibyte character sitting on the cut must not be split.
	desc := strings.Repeat("a", 39) + "é betaling aan café"
	p, err := r.ResolveOrCreate("", models.PartySupplier, desc)
	require.NoError(t, err)

	assert.True(t, utf8.ValidString(p.Name))
	assert.Equal(t, "Unresolved: "+strings.Repeat("a", 39)+"é", p.Name)
}
