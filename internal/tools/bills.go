package tools

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"billchat/internal/store"
)

const (
	defaultSearchLimit   = 5
	defaultListLimit     = 10
	maxHearingResults    = 10
	maxCosponsorsListed  = 5
	maxLegislatorMatches = 10
	snippetLength        = 300
)

// Embedder turns a search query into a vector. Satisfied by *llm.Client.
type Embedder interface {
	Embed(ctx context.Context, input string) ([]float64, error)
}

// BillStore is the dataset surface the tools query. Satisfied by
// *store.Client.
type BillStore interface {
	MatchBillEmbeddings(ctx context.Context, embedding []float64, limit int) ([]store.BillMatch, error)
	GetBillByNumber(ctx context.Context, billNumber string, sessionYear int) (*store.Bill, error)
	BillSponsors(ctx context.Context, billID string) ([]store.Sponsor, error)
	FindLegislators(ctx context.Context, name string) ([]store.Legislator, error)
	BillTimeline(ctx context.Context, billID string) ([]store.BillAction, error)
	CommitteeByName(ctx context.Context, name string) (string, error)
	Hearings(ctx context.Context, billID, committeeID string) ([]store.Hearing, error)
	BillsByYear(ctx context.Context, year, limit int) ([]store.BillSummary, error)
}

// Bills bundles the bill-dataset tools around a store and an embedder.
type Bills struct {
	store    BillStore
	embedder Embedder
}

// NewBills wires the bill tools.
func NewBills(st BillStore, embedder Embedder) (*Bills, error) {
	if st == nil {
		return nil, errors.New("bill store must not be nil")
	}
	if embedder == nil {
		return nil, errors.New("embedder must not be nil")
	}
	return &Bills{store: st, embedder: embedder}, nil
}

// Register adds every bill tool to the registry.
func (b *Bills) Register(r *Registry) {
	Add(r, "search_bills_semantic",
		"Search for bills using semantic similarity. Use this when the user asks about bill content, topics, or concepts.",
		b.searchBillsSemantic)
	Add(r, "get_bill_by_number",
		"Get detailed information about a specific bill. Use this when the user asks about a specific bill by number.",
		b.getBillByNumber)
	Add(r, "get_legislator_info",
		"Get information about a legislator. Use this when the user asks about a specific legislator or representative.",
		b.getLegislatorInfo)
	Add(r, "get_bill_timeline",
		"Get the legislative timeline and history for a bill. Use this when the user asks about a bill's progress or actions.",
		b.getBillTimeline)
	Add(r, "get_committee_hearings",
		"Get committee hearing information for a bill or a committee.",
		b.getCommitteeHearings)
	Add(r, "search_bills_by_year",
		"Search bills by legislative session year.",
		b.searchBillsByYear)
}

var billNumberPattern = regexp.MustCompile(`^([A-Z]+)(\d+)$`)

// normalizeBillNumber inserts the space the dataset stores between prefix
// and number: "HB1366" -> "HB 1366".
func normalizeBillNumber(billNumber string) string {
	billNumber = strings.ToUpper(strings.TrimSpace(billNumber))
	return billNumberPattern.ReplaceAllString(billNumber, "$1 $2")
}

type semanticSearchParams struct {
	Query string `json:"query" jsonschema:"required,description=Natural language search query"`
	Limit int    `json:"limit,omitempty" jsonschema:"description=Maximum number of results (default 5)"`
}

func (b *Bills) searchBillsSemantic(ctx context.Context, params semanticSearchParams) (string, error) {
	if strings.TrimSpace(params.Query) == "" {
		return "", errors.New("query must not be empty")
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	embedding, err := b.embedder.Embed(ctx, params.Query)
	if err != nil {
		return "", fmt.Errorf("embed search query: %w", err)
	}

	matches, err := b.store.MatchBillEmbeddings(ctx, embedding, limit)
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "No bills found matching that query.", nil
	}

	results := make([]string, 0, len(matches))
	for _, match := range matches {
		content := truncateSnippet(match.Content)
		results = append(results, strings.TrimSpace(fmt.Sprintf(
			"Bill: %s\nSession: %d %s\nDocument Type: %s\nSponsor: %s\nSimilarity: %.2f\nContent: %s\n---",
			orUnknown(match.Metadata.BillNumber),
			match.Metadata.SessionYear,
			match.Metadata.SessionCode,
			orUnknown(match.Metadata.ContentType),
			orUnknown(match.Metadata.PrimarySponsorName),
			match.Similarity,
			content,
		)))
	}
	return strings.Join(results, "\n\n"), nil
}

type billLookupParams struct {
	BillNumber  string `json:"bill_number" jsonschema:"required,description=Bill number such as HB1366 or HB 1366"`
	SessionYear int    `json:"session_year,omitempty" jsonschema:"description=Optional session year (defaults to most recent)"`
}

func (b *Bills) getBillByNumber(ctx context.Context, params billLookupParams) (string, error) {
	billNumber := normalizeBillNumber(params.BillNumber)
	if billNumber == "" {
		return "", errors.New("bill_number must not be empty")
	}

	bill, err := b.store.GetBillByNumber(ctx, billNumber, params.SessionYear)
	if errors.Is(err, store.ErrNotFound) {
		return notFoundMessage(billNumber, params.SessionYear), nil
	}
	if err != nil {
		return "", err
	}

	sponsors, err := b.store.BillSponsors(ctx, bill.ID)
	if err != nil {
		return "", err
	}

	var primary, cosponsors []string
	for _, sponsor := range sponsors {
		entry := sponsor.Name
		if sponsor.Party != "" {
			entry = fmt.Sprintf("%s (%s)", sponsor.Name, sponsor.Party)
		}
		if sponsor.IsPrimary {
			primary = append(primary, entry)
		} else {
			cosponsors = append(cosponsors, entry)
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Bill: %s\n", bill.BillNumber)
	fmt.Fprintf(&sb, "Session: %d %s\n", bill.Session.Year, bill.Session.SessionCode)
	fmt.Fprintf(&sb, "Title: %s\n", orNA(bill.Title))
	fmt.Fprintf(&sb, "Description: %s\n", orNA(bill.Description))
	fmt.Fprintf(&sb, "LR Number: %s\n", orNA(bill.LRNumber))
	fmt.Fprintf(&sb, "Last Action: %s\n", orNA(bill.LastAction))
	fmt.Fprintf(&sb, "Proposed Effective Date: %s\n\n", orNA(bill.ProposedEffectiveDate))
	fmt.Fprintf(&sb, "Primary Sponsor(s): %s\n", orNone(primary))

	listed := cosponsors
	if len(listed) > maxCosponsorsListed {
		listed = listed[:maxCosponsorsListed]
	}
	fmt.Fprintf(&sb, "Co-sponsors: %s", orNone(listed))
	if extra := len(cosponsors) - maxCosponsorsListed; extra > 0 {
		fmt.Fprintf(&sb, "\n(and %d more)", extra)
	}

	return sb.String(), nil
}

type legislatorParams struct {
	Name string `json:"name" jsonschema:"required,description=Legislator name (full or partial)"`
}

func (b *Bills) getLegislatorInfo(ctx context.Context, params legislatorParams) (string, error) {
	name := strings.TrimSpace(params.Name)
	if name == "" {
		return "", errors.New("name must not be empty")
	}

	legislators, err := b.store.FindLegislators(ctx, name)
	if err != nil {
		return "", err
	}
	if len(legislators) == 0 {
		return fmt.Sprintf("No legislator found matching '%s'.", name), nil
	}
	if len(legislators) > 1 {
		names := make([]string, 0, maxLegislatorMatches)
		for i, leg := range legislators {
			if i == maxLegislatorMatches {
				break
			}
			names = append(names, leg.Name)
		}
		return fmt.Sprintf("Multiple legislators found: %s. Please be more specific.", strings.Join(names, ", ")), nil
	}

	leg := legislators[0]
	status := "Inactive"
	if leg.IsActive {
		status = "Active"
	}
	return strings.TrimSpace(fmt.Sprintf(
		"Name: %s\nType: %s\nParty: %s\nYear Elected: %d\nYears Served: %d\nStatus: %s",
		leg.Name, orNA(leg.LegislatorType), orNA(leg.Party), leg.YearElected, leg.YearsServed, status,
	)), nil
}

func (b *Bills) getBillTimeline(ctx context.Context, params billLookupParams) (string, error) {
	billNumber := normalizeBillNumber(params.BillNumber)
	if billNumber == "" {
		return "", errors.New("bill_number must not be empty")
	}

	bill, err := b.store.GetBillByNumber(ctx, billNumber, params.SessionYear)
	if errors.Is(err, store.ErrNotFound) {
		return notFoundMessage(billNumber, params.SessionYear), nil
	}
	if err != nil {
		return "", err
	}

	actions, err := b.store.BillTimeline(ctx, bill.ID)
	if err != nil {
		return "", err
	}
	if len(actions) == 0 {
		return fmt.Sprintf("No actions found for %s.", billNumber), nil
	}

	lines := make([]string, 0, len(actions)+1)
	lines = append(lines, fmt.Sprintf("Timeline for %s (%d %s):", billNumber, bill.Session.Year, bill.Session.SessionCode))
	for _, action := range actions {
		lines = append(lines, fmt.Sprintf("%s: %s", action.ActionDate, action.Description))
	}
	return strings.Join(lines, "\n"), nil
}

type hearingParams struct {
	BillNumber    string `json:"bill_number,omitempty" jsonschema:"description=Optional bill number"`
	CommitteeName string `json:"committee_name,omitempty" jsonschema:"description=Optional committee name"`
}

func (b *Bills) getCommitteeHearings(ctx context.Context, params hearingParams) (string, error) {
	if strings.TrimSpace(params.BillNumber) == "" && strings.TrimSpace(params.CommitteeName) == "" {
		return "Please provide either a bill number or committee name.", nil
	}

	var billID string
	if params.BillNumber != "" {
		billNumber := normalizeBillNumber(params.BillNumber)
		bill, err := b.store.GetBillByNumber(ctx, billNumber, 0)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Sprintf("Bill %s not found.", billNumber), nil
		}
		if err != nil {
			return "", err
		}
		billID = bill.ID
	}

	var committeeID string
	if params.CommitteeName != "" {
		id, err := b.store.CommitteeByName(ctx, params.CommitteeName)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Sprintf("Committee matching '%s' not found.", params.CommitteeName), nil
		}
		if err != nil {
			return "", err
		}
		committeeID = id
	}

	hearings, err := b.store.Hearings(ctx, billID, committeeID)
	if err != nil {
		return "", err
	}
	if len(hearings) == 0 {
		return "No hearings found.", nil
	}
	if len(hearings) > maxHearingResults {
		hearings = hearings[:maxHearingResults]
	}

	results := make([]string, 0, len(hearings))
	for _, hearing := range hearings {
		hearingTime := hearing.HearingTimeText
		if hearingTime == "" {
			hearingTime = hearing.HearingTime
		}
		results = append(results, strings.TrimSpace(fmt.Sprintf(
			"Bill: %s (%d %s)\nCommittee: %s\nDate: %s\nTime: %s\nLocation: %s\n---",
			orUnknown(hearing.BillNumber),
			hearing.SessionYear,
			hearing.SessionCode,
			orUnknown(hearing.Committee),
			orTBD(hearing.HearingDate),
			orTBD(hearingTime),
			orTBD(hearing.Location),
		)))
	}
	return strings.Join(results, "\n\n"), nil
}

type yearSearchParams struct {
	SessionYear int `json:"session_year" jsonschema:"required,description=Legislative year such as 2026"`
	Limit       int `json:"limit,omitempty" jsonschema:"description=Maximum results (default 10)"`
}

func (b *Bills) searchBillsByYear(ctx context.Context, params yearSearchParams) (string, error) {
	if params.SessionYear == 0 {
		return "", errors.New("session_year must be provided")
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	bills, err := b.store.BillsByYear(ctx, params.SessionYear, limit)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Sprintf("No session found for year %d.", params.SessionYear), nil
	}
	if err != nil {
		return "", err
	}
	if len(bills) == 0 {
		return fmt.Sprintf("No bills found for %d.", params.SessionYear), nil
	}

	lines := make([]string, 0, len(bills))
	for _, bill := range bills {
		title := bill.Title
		if title == "" {
			title = "No title"
		}
		lines = append(lines, fmt.Sprintf("%s (%d %s): %s", bill.BillNumber, bill.SessionYear, bill.SessionCode, title))
	}
	return strings.Join(lines, "\n"), nil
}

// truncateSnippet caps a match excerpt at snippetLength bytes, backing up
// to a rune boundary so a multi-byte character is never split.
func truncateSnippet(content string) string {
	if len(content) <= snippetLength {
		return content
	}
	cut := snippetLength
	for cut > 0 && !utf8.RuneStart(content[cut]) {
		cut--
	}
	return content[:cut] + "..."
}

func notFoundMessage(billNumber string, sessionYear int) string {
	if sessionYear != 0 {
		return fmt.Sprintf("Bill %s not found for session %d.", billNumber, sessionYear)
	}
	return fmt.Sprintf("Bill %s not found.", billNumber)
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

func orTBD(s string) string {
	if s == "" {
		return "TBD"
	}
	return s
}

func orNone(entries []string) string {
	if len(entries) == 0 {
		return "None"
	}
	return strings.Join(entries, ", ")
}
