package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"billchat/internal/store"
)

type fakeEmbedder struct {
	calls int
}

func (f *fakeEmbedder) Embed(ctx context.Context, input string) ([]float64, error) {
	f.calls++
	return []float64{0.1, 0.2}, nil
}

type fakeStore struct {
	matches     []store.BillMatch
	bill        *store.Bill
	billErr     error
	sponsors    []store.Sponsor
	legislators []store.Legislator
	actions     []store.BillAction
	hearings    []store.Hearing
	bills       []store.BillSummary
	billsErr    error

	lastBillNumber  string
	lastSessionYear int
	lastMatchLimit  int
}

func (f *fakeStore) MatchBillEmbeddings(ctx context.Context, embedding []float64, limit int) ([]store.BillMatch, error) {
	f.lastMatchLimit = limit
	return f.matches, nil
}

func (f *fakeStore) GetBillByNumber(ctx context.Context, billNumber string, sessionYear int) (*store.Bill, error) {
	f.lastBillNumber = billNumber
	f.lastSessionYear = sessionYear
	if f.billErr != nil {
		return nil, f.billErr
	}
	return f.bill, nil
}

func (f *fakeStore) BillSponsors(ctx context.Context, billID string) ([]store.Sponsor, error) {
	return f.sponsors, nil
}

func (f *fakeStore) FindLegislators(ctx context.Context, name string) ([]store.Legislator, error) {
	return f.legislators, nil
}

func (f *fakeStore) BillTimeline(ctx context.Context, billID string) ([]store.BillAction, error) {
	return f.actions, nil
}

func (f *fakeStore) CommitteeByName(ctx context.Context, name string) (string, error) {
	return "com-1", nil
}

func (f *fakeStore) Hearings(ctx context.Context, billID, committeeID string) ([]store.Hearing, error) {
	return f.hearings, nil
}

func (f *fakeStore) BillsByYear(ctx context.Context, year, limit int) ([]store.BillSummary, error) {
	if f.billsErr != nil {
		return nil, f.billsErr
	}
	return f.bills, nil
}

func newBills(t *testing.T, st *fakeStore) (*Bills, *fakeEmbedder) {
	t.Helper()
	embedder := &fakeEmbedder{}
	bills, err := NewBills(st, embedder)
	require.NoError(t, err)
	return bills, embedder
}

func TestNormalizeBillNumber(t *testing.T) {
	assert.Equal(t, "HB 1366", normalizeBillNumber("HB1366"))
	assert.Equal(t, "HB 1366", normalizeBillNumber("hb1366"))
	assert.Equal(t, "HB 1366", normalizeBillNumber(" HB 1366 "))
	assert.Equal(t, "SB 42", normalizeBillNumber("sb42"))
}

func TestSearchBillsSemantic(t *testing.T) {
	st := &fakeStore{matches: []store.BillMatch{{
		Content:    "An act relating to pharmacy benefit managers",
		Similarity: 0.82,
		Metadata: store.MatchMetadata{
			BillNumber: "HB 1366", SessionYear: 2024, SessionCode: "R",
			ContentType: "summary", PrimarySponsorName: "Rep. Example",
		},
	}}}
	bills, embedder := newBills(t, st)

	out, err := bills.searchBillsSemantic(context.Background(), semanticSearchParams{Query: "healthcare bills"})
	require.NoError(t, err)
	assert.Equal(t, 1, embedder.calls)
	assert.Equal(t, defaultSearchLimit, st.lastMatchLimit)
	assert.Contains(t, out, "Bill: HB 1366")
	assert.Contains(t, out, "Similarity: 0.82")
}

func TestTruncateSnippetKeepsRunesWhole(t *testing.T) {
	// A two-byte rune straddles the byte cap; the cut must back up to the
	// rune boundary instead of emitting half of it.
	straddling := strings.Repeat("a", snippetLength-1) + "é and more"
	out := truncateSnippet(straddling)
	assert.True(t, utf8.ValidString(out))
	assert.Equal(t, strings.Repeat("a", snippetLength-1)+"...", out)

	short := "short content"
	assert.Equal(t, short, truncateSnippet(short))

	exact := strings.Repeat("b", snippetLength)
	assert.Equal(t, exact, truncateSnippet(exact))
}

func TestSearchBillsSemanticTruncatesLongContent(t *testing.T) {
	st := &fakeStore{matches: []store.BillMatch{{
		Content:  strings.Repeat("x", snippetLength+50),
		Metadata: store.MatchMetadata{BillNumber: "HB 1"},
	}}}
	bills, _ := newBills(t, st)

	out, err := bills.searchBillsSemantic(context.Background(), semanticSearchParams{Query: "anything"})
	require.NoError(t, err)
	assert.Contains(t, out, strings.Repeat("x", snippetLength)+"...")
	assert.NotContains(t, out, strings.Repeat("x", snippetLength+1))
}

func TestSearchBillsSemanticNoMatches(t *testing.T) {
	bills, _ := newBills(t, &fakeStore{})

	out, err := bills.searchBillsSemantic(context.Background(), semanticSearchParams{Query: "zoning"})
	require.NoError(t, err)
	assert.Equal(t, "No bills found matching that query.", out)
}

func TestGetBillByNumberNormalizesAndFormats(t *testing.T) {
	st := &fakeStore{
		bill: &store.Bill{
			ID: "b-1", BillNumber: "HB 1366", Title: "Pharmacy benefits",
			Session: store.Session{Year: 2024, SessionCode: "R"},
		},
		sponsors: []store.Sponsor{
			{IsPrimary: true, Name: "Jane Doe", Party: "R"},
			{Name: "A"}, {Name: "B"}, {Name: "C"}, {Name: "D"}, {Name: "E"}, {Name: "F"},
		},
	}
	bills, _ := newBills(t, st)

	out, err := bills.getBillByNumber(context.Background(), billLookupParams{BillNumber: "hb1366"})
	require.NoError(t, err)
	assert.Equal(t, "HB 1366", st.lastBillNumber)
	assert.Contains(t, out, "Primary Sponsor(s): Jane Doe (R)")
	assert.Contains(t, out, "(and 1 more)")
	assert.NotContains(t, out, "F")
}

func TestGetBillByNumberNotFound(t *testing.T) {
	st := &fakeStore{billErr: fmt.Errorf("bill HB 9999: %w", store.ErrNotFound)}
	bills, _ := newBills(t, st)

	out, err := bills.getBillByNumber(context.Background(), billLookupParams{BillNumber: "HB9999", SessionYear: 2024})
	require.NoError(t, err)
	assert.Equal(t, "Bill HB 9999 not found for session 2024.", out)
}

func TestGetLegislatorInfoDisambiguates(t *testing.T) {
	st := &fakeStore{legislators: []store.Legislator{
		{Name: "Jane Smith"}, {Name: "John Smith"},
	}}
	bills, _ := newBills(t, st)

	out, err := bills.getLegislatorInfo(context.Background(), legislatorParams{Name: "Smith"})
	require.NoError(t, err)
	assert.Contains(t, out, "Multiple legislators found: Jane Smith, John Smith")
}

func TestGetLegislatorInfoSingle(t *testing.T) {
	st := &fakeStore{legislators: []store.Legislator{{
		Name: "Jane Smith", LegislatorType: "House", Party: "D",
		YearElected: 2020, YearsServed: 5, IsActive: true,
	}}}
	bills, _ := newBills(t, st)

	out, err := bills.getLegislatorInfo(context.Background(), legislatorParams{Name: "Jane"})
	require.NoError(t, err)
	assert.Contains(t, out, "Name: Jane Smith")
	assert.Contains(t, out, "Status: Active")
}

func TestGetBillTimeline(t *testing.T) {
	st := &fakeStore{
		bill: &store.Bill{ID: "b-1", BillNumber: "HB 1366", Session: store.Session{Year: 2024, SessionCode: "R"}},
		actions: []store.BillAction{
			{ActionDate: "2024-01-03", Description: "Introduced"},
			{ActionDate: "2024-02-10", Description: "Referred to committee"},
		},
	}
	bills, _ := newBills(t, st)

	out, err := bills.getBillTimeline(context.Background(), billLookupParams{BillNumber: "HB1366"})
	require.NoError(t, err)
	assert.Contains(t, out, "Timeline for HB 1366 (2024 R):")
	assert.Contains(t, out, "2024-01-03: Introduced")
}

func TestGetCommitteeHearingsRequiresFilter(t *testing.T) {
	bills, _ := newBills(t, &fakeStore{})

	out, err := bills.getCommitteeHearings(context.Background(), hearingParams{})
	require.NoError(t, err)
	assert.Equal(t, "Please provide either a bill number or committee name.", out)
}

func TestGetCommitteeHearingsCapsResults(t *testing.T) {
	hearings := make([]store.Hearing, maxHearingResults+3)
	for i := range hearings {
		hearings[i] = store.Hearing{BillNumber: "HB 1", Committee: "Health", HearingDate: "2024-03-01"}
	}
	bills, _ := newBills(t, &fakeStore{hearings: hearings})

	out, err := bills.getCommitteeHearings(context.Background(), hearingParams{CommitteeName: "Health"})
	require.NoError(t, err)
	assert.Equal(t, maxHearingResults, strings.Count(out, "Committee: Health"))
}

func TestSearchBillsByYearUnknownSession(t *testing.T) {
	st := &fakeStore{billsErr: fmt.Errorf("session 1999: %w", store.ErrNotFound)}
	bills, _ := newBills(t, st)

	out, err := bills.searchBillsByYear(context.Background(), yearSearchParams{SessionYear: 1999})
	require.NoError(t, err)
	assert.Equal(t, "No session found for year 1999.", out)
}

func TestRegistryDispatch(t *testing.T) {
	st := &fakeStore{bills: []store.BillSummary{{BillNumber: "HB 100", Title: "Education", SessionYear: 2026, SessionCode: "R"}}}
	bills, _ := newBills(t, st)

	reg := NewRegistry()
	bills.Register(reg)

	defs := reg.Definitions()
	require.Len(t, defs, 6)
	names := make([]string, 0, len(defs))
	for _, def := range defs {
		require.NotEmpty(t, def.Parameters)
		names = append(names, def.Name)
	}
	assert.Contains(t, names, "search_bills_semantic")
	assert.Contains(t, names, "search_bills_by_year")

	out, err := reg.Execute(context.Background(), "search_bills_by_year", json.RawMessage(`{"session_year":2026}`))
	require.NoError(t, err)
	assert.Contains(t, out, "HB 100 (2026 R): Education")

	_, err = reg.Execute(context.Background(), "no_such_tool", nil)
	require.Error(t, err)
}

func TestRegistryRejectsMalformedArguments(t *testing.T) {
	bills, _ := newBills(t, &fakeStore{})

	reg := NewRegistry()
	bills.Register(reg)

	_, err := reg.Execute(context.Background(), "search_bills_by_year", json.RawMessage(`{"session_year":"oops"`))
	require.Error(t, err)
}

