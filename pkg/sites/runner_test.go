package sites

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeExecutor records queries and answers with a fixed result.
type fakeExecutor struct {
	site    SiteID
	queries []string
	result  *Result
	err     error
}

func (f *fakeExecutor) Query(ctx context.Context, query string, params ...any) (*Result, error) {
	f.queries = append(f.queries, query)
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeExecutor) Exec(ctx context.Context, query string, params ...any) (*Result, error) {
	return f.Query(ctx, query, params...)
}

func (f *fakeExecutor) Dialect() Dialect { return DialectSQLServer }

// fakeExecSource hands out one recording executor per site.
type fakeExecSource struct {
	execs map[SiteID]*fakeExecutor
}

func newFakeExecSource() *fakeExecSource {
	src := &fakeExecSource{execs: make(map[SiteID]*fakeExecutor)}
	for _, site := range AllSites() {
		src.execs[site] = &fakeExecutor{site: site, result: &Result{RowCount: 1}}
	}
	return src
}

func (f *fakeExecSource) Executor(ctx context.Context, site SiteID) (Executor, error) {
	return f.execs[site], nil
}

func newTestRunner(up *staticSnapshot) (*Runner, *fakeExecSource) {
	execs := newFakeExecSource()
	return NewRunner(execs, NewFailoverResolver(up), up, zap.NewNop()), execs
}

func TestQueryUsesPreferredSite(t *testing.T) {
	runner, execs := newTestRunner(allUp())

	res, err := runner.Query(context.Background(), SiteB, "SELECT 1")
	require.NoError(t, err)
	assert.Equal(t, 1, res.RowCount)
	assert.Len(t, execs.execs[SiteB].queries, 1)
	assert.Empty(t, execs.execs[SiteA].queries)
}

func TestQueryFailsOverWhenPreferredDown(t *testing.T) {
	snap := allUp()
	snap.up[SiteB] = false
	runner, execs := newTestRunner(snap)

	_, err := runner.Query(context.Background(), SiteB, "SELECT 1")
	require.NoError(t, err)
	assert.Empty(t, execs.execs[SiteB].queries)
	assert.Len(t, execs.execs[SiteA].queries, 1)
}

func TestExecNeverFailsOver(t *testing.T) {
	snap := allUp()
	snap.up[SiteB] = false
	runner, execs := newTestRunner(snap)
	execs.execs[SiteB].err = errors.New("connection refused")

	_, err := runner.Exec(context.Background(), SiteB, "DELETE FROM members")
	require.Error(t, err)
	assert.Empty(t, execs.execs[SiteA].queries)
}

func TestFanOutSkipsDownAndExcludedSites(t *testing.T) {
	snap := allUp()
	snap.up[SiteC] = false
	runner, execs := newTestRunner(snap)

	results := runner.FanOut(context.Background(), "SELECT 1", nil, SiteA)
	require.Len(t, results, 1)
	assert.Equal(t, SiteB, results[0].Site)
	assert.Empty(t, execs.execs[SiteA].queries)
	assert.Empty(t, execs.execs[SiteC].queries)
}

func TestFanOutReportsPerSiteErrors(t *testing.T) {
	runner, execs := newTestRunner(allUp())
	execs.execs[SiteB].err = errors.New("connection refused")

	results := runner.FanOut(context.Background(), "SELECT 1", nil)
	require.Len(t, results, 3)

	bySite := make(map[SiteID]SiteResult, len(results))
	for _, r := range results {
		bySite[r.Site] = r
	}
	assert.NoError(t, bySite[SiteA].Err)
	assert.Error(t, bySite[SiteB].Err)
	assert.NoError(t, bySite[SiteC].Err)
}

func TestRewritePlaceholders(t *testing.T) {
	got := RewritePlaceholders("SELECT * FROM t WHERE a = ? AND b = ?", func(n int) string {
		switch n {
		case 1:
			return "$1"
		case 2:
			return "$2"
		}
		t.Fatalf("unexpected index %d", n)
		return ""
	})
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b = $2", got)
}
