// Package eboekhouden is the HTTP client for the e-Boekhouden REST API. It
// only knows how to fetch; caching and import decisions live elsewhere.
package eboekhouden

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"eboekhouden-importer/internal/config"
	"eboekhouden-importer/internal/models"
)

const (
	pageSize = 500

	// maxMutations bounds pagination against a runaway or looping API.
	maxMutations = 50000
)

// ErrNotFound means the API has no record for the requested id.
var ErrNotFound = errors.New("not found in e-boekhouden")

// Client is the minimal API surface the importer needs.
type Client interface {
	FetchMutations(dateFrom, dateTo string) ([]*models.Mutation, error)
	FetchMutation(externalID int64) (*models.Mutation, error)
	FetchRelation(relationID string) (*Relation, error)
}

// Relation is the external system's business-partner record.
type Relation struct {
	ID          string `json:"id"`
	CompanyName string `json:"companyName"`
	Name        string `json:"name"`
}

type client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	log        zerolog.Logger
}

func NewClient(cfg config.EBoekhoudenConfig, log zerolog.Logger) Client {
	timeout := time.Duration(cfg.FetchTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &client{
		baseURL:    cfg.BaseURL,
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: timeout},
		log:        log,
	}
}

type mutationPayload struct {
	ID            int64              `json:"id"`
	Type          int                `json:"type"`
	Date          string             `json:"date"`
	Description   string             `json:"description"`
	Amount        json.Number        `json:"amount"`
	RelationID    string             `json:"relationId"`
	InvoiceNumber string             `json:"invoiceNumber"`
	LedgerID      string             `json:"ledgerId"`
	Rows          []mutationRowDatum `json:"rows"`
}

type mutationRowDatum struct {
	LedgerID    string      `json:"ledgerId"`
	Amount      json.Number `json:"amount"`
	Description string      `json:"description"`
}

type mutationListResponse struct {
	Items []mutationPayload `json:"items"`
}

// FetchMutations pages through the mutation list for a date range. The API
// pages at 500 records; a full page means there may be more.
func (c *client) FetchMutations(dateFrom, dateTo string) ([]*models.Mutation, error) {
	var mutations []*models.Mutation
	offset := 0

	for {
		params := url.Values{}
		params.Set("limit", strconv.Itoa(pageSize))
		params.Set("offset", strconv.Itoa(offset))
		if dateFrom != "" {
			params.Set("dateFrom", dateFrom)
		}
		if dateTo != "" {
			params.Set("dateTo", dateTo)
		}

		var page mutationListResponse
		if err := c.getJSON("/v1/mutation?"+params.Encode(), &page); err != nil {
			return nil, &models.FetchError{Op: "mutation list", Err: err}
		}

		for _, p := range page.Items {
			m, err := p.toMutation()
			if err != nil {
				return nil, &models.FetchError{Op: fmt.Sprintf("mutation %d", p.ID), Err: err}
			}
			mutations = append(mutations, m)
		}

		if len(page.Items) < pageSize {
			break
		}
		offset += pageSize
		if offset >= maxMutations {
			c.log.Warn().Int("cap", maxMutations).Msg("mutation pagination hit hard cap")
			break
		}
	}

	return mutations, nil
}

func (c *client) FetchMutation(externalID int64) (*models.Mutation, error) {
	var payload mutationPayload
	err := c.getJSON(fmt.Sprintf("/v1/mutation/%d", externalID), &payload)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, &models.FetchError{Op: fmt.Sprintf("mutation %d", externalID), Err: err}
	}
	m, err := payload.toMutation()
	if err != nil {
		return nil, &models.FetchError{Op: fmt.Sprintf("mutation %d", externalID), Err: err}
	}
	return m, nil
}

func (c *client) FetchRelation(relationID string) (*Relation, error) {
	var rel Relation
	err := c.getJSON("/v1/relation/"+url.PathEscape(relationID), &rel)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, &models.FetchError{Op: "relation " + relationID, Err: err}
	}
	return &rel, nil
}

func (c *client) getJSON(path string, out interface{}) error {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

func decimalFromNumber(n json.Number) (decimal.Decimal, error) {
	if n == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(n.String())
}

func (p *mutationPayload) toMutation() (*models.Mutation, error) {
	amount, err := decimalFromNumber(p.Amount)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", p.Amount, err)
	}
	m := &models.Mutation{
		ExternalID:    p.ID,
		Type:          models.MutationType(p.Type),
		Date:          p.Date,
		Description:   p.Description,
		Amount:        amount,
		RelationID:    p.RelationID,
		InvoiceNumber: p.InvoiceNumber,
		LedgerID:      p.LedgerID,
	}
	for _, r := range p.Rows {
		rowAmount, err := decimalFromNumber(r.Amount)
		if err != nil {
			return nil, fmt.Errorf("invalid row amount %q: %w", r.Amount, err)
		}
		m.Rows = append(m.Rows, models.MutationRow{
			LedgerID:    r.LedgerID,
			Amount:      rowAmount,
			Description: r.Description,
		})
	}
	return m, nil
}
