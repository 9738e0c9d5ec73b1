package store

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
)

// BillMatch is one semantic-search hit from the embeddings RPC.
type BillMatch struct {
	Content    string        `json:"content"`
	Similarity float64       `json:"similarity"`
	Metadata   MatchMetadata `json:"metadata"`
}

// MatchMetadata is the denormalized bill context stored with each embedding.
type MatchMetadata struct {
	BillNumber         string `json:"bill_number"`
	SessionYear        int    `json:"session_year"`
	SessionCode        string `json:"session_code"`
	ContentType        string `json:"content_type"`
	PrimarySponsorName string `json:"primary_sponsor_name"`
}

// Session identifies a legislative session.
type Session struct {
	ID          string `json:"id"`
	Year        int    `json:"year"`
	SessionCode string `json:"session_code"`
}

// Bill is the detailed record for a single bill.
type Bill struct {
	ID                    string  `json:"id"`
	BillNumber            string  `json:"bill_number"`
	Title                 string  `json:"title"`
	Description           string  `json:"description"`
	LRNumber              string  `json:"lr_number"`
	LastAction            string  `json:"last_action"`
	ProposedEffectiveDate string  `json:"proposed_effective_date"`
	Session               Session `json:"sessions"`
}

// Sponsor links a legislator to a bill.
type Sponsor struct {
	IsPrimary bool   `json:"is_primary"`
	Name      string `json:"-"`
	Party     string `json:"-"`
}

// Legislator is a member record.
type Legislator struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	LegislatorType string `json:"legislator_type"`
	Party          string `json:"party_affiliation"`
	YearElected    int    `json:"year_elected"`
	YearsServed    int    `json:"years_served"`
	IsActive       bool   `json:"is_active"`
}

// BillAction is one step in a bill's legislative timeline.
type BillAction struct {
	ActionDate    string `json:"action_date"`
	Description   string `json:"description"`
	SequenceOrder int    `json:"sequence_order"`
}

// Hearing is a scheduled committee hearing for a bill.
type Hearing struct {
	HearingDate     string `json:"hearing_date"`
	HearingTime     string `json:"hearing_time"`
	HearingTimeText string `json:"hearing_time_text"`
	Location        string `json:"location"`
	BillNumber      string `json:"-"`
	SessionYear     int    `json:"-"`
	SessionCode     string `json:"-"`
	Committee       string `json:"-"`
}

// BillSummary is the short listing form of a bill.
type BillSummary struct {
	BillNumber  string
	Title       string
	SessionYear int
	SessionCode string
}

const matchThreshold = 0.3

// MatchBillEmbeddings runs the semantic-similarity RPC against the bill
// embedding table.
func (c *Client) MatchBillEmbeddings(ctx context.Context, embedding []float64, limit int) ([]BillMatch, error) {
	payload := map[string]any{
		"query_embedding": embedding,
		"match_count":     limit,
		"match_threshold": matchThreshold,
	}

	var matches []BillMatch
	if err := c.rpc(ctx, "match_bill_embeddings", payload, &matches); err != nil {
		return nil, fmt.Errorf("match bill embeddings: %w", err)
	}
	return matches, nil
}

// SessionByYear resolves a legislative session by year.
func (c *Client) SessionByYear(ctx context.Context, year int) (*Session, error) {
	query := url.Values{}
	query.Set("year", "eq."+strconv.Itoa(year))
	query.Set("select", "id,year,session_code")

	var sessions []Session
	if err := c.get(ctx, c.tableURL("sessions", query), &sessions); err != nil {
		return nil, fmt.Errorf("lookup session %d: %w", year, err)
	}
	if len(sessions) == 0 {
		return nil, fmt.Errorf("session %d: %w", year, ErrNotFound)
	}
	return &sessions[0], nil
}

// GetBillByNumber fetches a bill (optionally scoped to a session year).
// billNumber must already be normalized to the "HB 1366" form.
func (c *Client) GetBillByNumber(ctx context.Context, billNumber string, sessionYear int) (*Bill, error) {
	query := url.Values{}
	query.Set("bill_number", "eq."+billNumber)
	query.Set("select", "id,bill_number,title,description,lr_number,last_action,proposed_effective_date,sessions(id,year,session_code)")

	if sessionYear != 0 {
		session, err := c.SessionByYear(ctx, sessionYear)
		if err != nil {
			return nil, err
		}
		query.Set("session_id", "eq."+session.ID)
	}

	var bills []Bill
	if err := c.get(ctx, c.tableURL("bills", query), &bills); err != nil {
		return nil, fmt.Errorf("lookup bill %s: %w", billNumber, err)
	}
	if len(bills) == 0 {
		return nil, fmt.Errorf("bill %s: %w", billNumber, ErrNotFound)
	}
	return &bills[0], nil
}

type sponsorRow struct {
	IsPrimary          bool `json:"is_primary"`
	SessionLegislators struct {
		Legislators struct {
			Name  string `json:"name"`
			Party string `json:"party_affiliation"`
		} `json:"legislators"`
	} `json:"session_legislators"`
}

// BillSponsors returns the sponsor list for a bill.
func (c *Client) BillSponsors(ctx context.Context, billID string) ([]Sponsor, error) {
	query := url.Values{}
	query.Set("bill_id", "eq."+billID)
	query.Set("select", "is_primary,session_legislators(legislators(name,party_affiliation))")

	var rows []sponsorRow
	if err := c.get(ctx, c.tableURL("bill_sponsors", query), &rows); err != nil {
		return nil, fmt.Errorf("lookup sponsors for bill %s: %w", billID, err)
	}

	sponsors := make([]Sponsor, 0, len(rows))
	for _, row := range rows {
		sponsors = append(sponsors, Sponsor{
			IsPrimary: row.IsPrimary,
			Name:      row.SessionLegislators.Legislators.Name,
			Party:     row.SessionLegislators.Legislators.Party,
		})
	}
	return sponsors, nil
}

// FindLegislators performs a case-insensitive partial name match.
func (c *Client) FindLegislators(ctx context.Context, name string) ([]Legislator, error) {
	query := url.Values{}
	query.Set("name", "ilike.*"+name+"*")
	query.Set("select", "id,name,legislator_type,party_affiliation,year_elected,years_served,is_active")

	var legislators []Legislator
	if err := c.get(ctx, c.tableURL("legislators", query), &legislators); err != nil {
		return nil, fmt.Errorf("lookup legislator %q: %w", name, err)
	}
	return legislators, nil
}

// BillTimeline returns a bill's actions in chronological order.
func (c *Client) BillTimeline(ctx context.Context, billID string) ([]BillAction, error) {
	query := url.Values{}
	query.Set("bill_id", "eq."+billID)
	query.Set("select", "action_date,description,sequence_order")
	query.Set("order", "sequence_order")

	var actions []BillAction
	if err := c.get(ctx, c.tableURL("bill_actions", query), &actions); err != nil {
		return nil, fmt.Errorf("lookup timeline for bill %s: %w", billID, err)
	}
	return actions, nil
}

// CommitteeByName performs a case-insensitive partial committee match.
func (c *Client) CommitteeByName(ctx context.Context, name string) (string, error) {
	query := url.Values{}
	query.Set("name", "ilike.*"+name+"*")
	query.Set("select", "id,name")

	var committees []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	if err := c.get(ctx, c.tableURL("committees", query), &committees); err != nil {
		return "", fmt.Errorf("lookup committee %q: %w", name, err)
	}
	if len(committees) == 0 {
		return "", fmt.Errorf("committee %q: %w", name, ErrNotFound)
	}
	return committees[0].ID, nil
}

type hearingRow struct {
	HearingDate     string `json:"hearing_date"`
	HearingTime     string `json:"hearing_time"`
	HearingTimeText string `json:"hearing_time_text"`
	Location        string `json:"location"`
	Bills           struct {
		BillNumber string  `json:"bill_number"`
		Sessions   Session `json:"sessions"`
	} `json:"bills"`
	Committees struct {
		Name string `json:"name"`
	} `json:"committees"`
}

// Hearings returns committee hearings filtered by bill and/or committee.
// Either filter may be empty; the caller guarantees at least one is set.
func (c *Client) Hearings(ctx context.Context, billID, committeeID string) ([]Hearing, error) {
	query := url.Values{}
	query.Set("select", "hearing_date,hearing_time,hearing_time_text,location,bills(bill_number,sessions(year,session_code)),committees(name)")
	if billID != "" {
		query.Set("bill_id", "eq."+billID)
	}
	if committeeID != "" {
		query.Set("committee_id", "eq."+committeeID)
	}

	var rows []hearingRow
	if err := c.get(ctx, c.tableURL("bill_hearings", query), &rows); err != nil {
		return nil, fmt.Errorf("lookup hearings: %w", err)
	}

	hearings := make([]Hearing, 0, len(rows))
	for _, row := range rows {
		hearings = append(hearings, Hearing{
			HearingDate:     row.HearingDate,
			HearingTime:     row.HearingTime,
			HearingTimeText: row.HearingTimeText,
			Location:        row.Location,
			BillNumber:      row.Bills.BillNumber,
			SessionYear:     row.Bills.Sessions.Year,
			SessionCode:     row.Bills.Sessions.SessionCode,
			Committee:       row.Committees.Name,
		})
	}
	return hearings, nil
}

type billListRow struct {
	BillNumber string  `json:"bill_number"`
	Title      string  `json:"title"`
	Sessions   Session `json:"sessions"`
}

// BillsByYear lists bills for a session year, capped at limit.
func (c *Client) BillsByYear(ctx context.Context, year, limit int) ([]BillSummary, error) {
	session, err := c.SessionByYear(ctx, year)
	if err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("session_id", "eq."+session.ID)
	query.Set("select", "bill_number,title,sessions(year,session_code)")
	query.Set("limit", strconv.Itoa(limit))

	var rows []billListRow
	if err := c.get(ctx, c.tableURL("bills", query), &rows); err != nil {
		return nil, fmt.Errorf("list bills for %d: %w", year, err)
	}

	bills := make([]BillSummary, 0, len(rows))
	for _, row := range rows {
		bills = append(bills, BillSummary{
			BillNumber:  row.BillNumber,
			Title:       row.Title,
			SessionYear: row.Sessions.Year,
			SessionCode: row.Sessions.SessionCode,
		})
	}
	return bills, nil
}
