package sheets_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/ben-leadtech/etlkit"
	"github.com/ben-leadtech/etlkit/frame"
	"github.com/ben-leadtech/etlkit/sheets"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type write struct {
	a1     string
	values [][]any
}

type fakeWorkbook struct {
	existing string
	calls    []string
	writes   []write
	shared   []string
	shareErr error
}

func (w *fakeWorkbook) Find(_ context.Context, title string) (string, error) {
	w.calls = append(w.calls, "find "+title)
	return w.existing, nil
}

func (w *fakeWorkbook) Create(_ context.Context, title string) (string, error) {
	w.calls = append(w.calls, "create "+title)
	return "new-id", nil
}

func (w *fakeWorkbook) FirstSheet(_ context.Context, id string) (int64, string, error) {
	w.calls = append(w.calls, "first "+id)
	return 0, "Sheet1", nil
}

func (w *fakeWorkbook) Clear(_ context.Context, id, sheet string) error {
	w.calls = append(w.calls, "clear "+id+" "+sheet)
	return nil
}

func (w *fakeWorkbook) Resize(_ context.Context, id string, sheetID int64, rows, cols int) error {
	w.calls = append(w.calls, fmt.Sprintf("resize %s %d %dx%d", id, sheetID, rows, cols))
	return nil
}

func (w *fakeWorkbook) Write(_ context.Context, _ string, a1 string, values [][]any) error {
	w.writes = append(w.writes, write{a1: a1, values: values})
	return nil
}

func (w *fakeWorkbook) Share(_ context.Context, _ string, email string) error {
	if w.shareErr != nil {
		return w.shareErr
	}
	w.shared = append(w.shared, email)
	return nil
}

func (w *fakeWorkbook) URL(id string) string { return "https://sheets.test/" + id }

func config() *etlkit.Config {
	return etlkit.NewConfig(etlkit.Environment{Environment: "dev"}, etlkit.WithTableName("pipeline_report"))
}

func report(t *testing.T, n int) *frame.Frame {
	t.Helper()
	f := frame.New("Unique_ID", "Amount", "Closed", "When")
	for i := range n {
		var when any
		if i == 0 {
			when = time.Date(2024, 2, 1, 8, 0, 0, 0, time.UTC)
		}
		require.NoError(t, f.Append(fmt.Sprintf("u%d", i), float64(i)*1.5, i%2 == 0, when))
	}
	return f
}

func newLoader(wb sheets.Workbook, title string, opts ...sheets.Option) *sheets.Loader {
	return sheets.NewLoader(wb, title, append([]sheets.Option{
		sheets.WithRateLimit(1000, 100),
		sheets.WithLogger(quiet),
	}, opts...)...)
}

func TestLoader_CreatesSpreadsheet(t *testing.T) {
	wb := &fakeWorkbook{}
	ld := newLoader(wb, "", sheets.WithChunkSize(2), sheets.WithShareWith("ops@example.com", "sales@example.com"))

	require.NoError(t, ld.Load(context.Background(), report(t, 3), config()))

	require.Equal(t, []string{
		"find pipeline_report",
		"create pipeline_report",
		"first new-id",
		"resize new-id 0 5x4",
	}, wb.calls)

	require.Len(t, wb.writes, 3)
	require.Equal(t, write{a1: "'Sheet1'!A1", values: [][]any{
		{sheets.TimeZoneCell},
		{"Unique_ID", "Amount", "Closed", "When"},
	}}, wb.writes[0])
	require.Equal(t, write{a1: "'Sheet1'!A3", values: [][]any{
		{"u0", 0.0, true, "2024-02-01T08:00:00Z"},
		{"u1", 1.5, false, ""},
	}}, wb.writes[1])
	require.Equal(t, "'Sheet1'!A5", wb.writes[2].a1)

	require.Equal(t, []string{"ops@example.com", "sales@example.com"}, wb.shared)
}

func TestLoader_ClearsExistingSpreadsheet(t *testing.T) {
	wb := &fakeWorkbook{existing: "abc"}

	require.NoError(t, newLoader(wb, "Weekly Report").Load(context.Background(), report(t, 1), config()))
	require.Equal(t, []string{
		"find Weekly Report",
		"first abc",
		"clear abc Sheet1",
		"resize abc 0 3x4",
	}, wb.calls)
	require.Empty(t, wb.shared)
}

func TestLoader_ShareError(t *testing.T) {
	wb := &fakeWorkbook{shareErr: errors.New("insufficient permissions")}

	err := newLoader(wb, "r", sheets.WithShareWith("x@example.com")).Load(context.Background(), report(t, 1), config())
	require.ErrorContains(t, err, "share \"r\" with x@example.com: insufficient permissions")
}

func TestLoader_Batch(t *testing.T) {
	ld := newLoader(&fakeWorkbook{}, "r")
	require.Len(t, ld.Batch(report(t, 3).Rows()), 1)
	require.Equal(t, 1, ld.LoadWorkers())

	ld = newLoader(&fakeWorkbook{}, "r", sheets.WithChunkSize(1))
	require.Len(t, ld.Batch(report(t, 3).Rows()), 3)
}

func TestLoader_ThroughPipeline(t *testing.T) {
	wb := &fakeWorkbook{}
	ext := etlkit.ExtractorFunc(func(context.Context, *etlkit.Config) (*etlkit.Data, error) {
		data := etlkit.NewData()
		data.Add("df_report", report(t, 5))
		return data, nil
	})
	tx := etlkit.TransformerFunc(func(_ context.Context, d *etlkit.Data) (*frame.Frame, error) {
		f, _ := d.Frame("df_report")
		return f, nil
	})

	err := etlkit.New(ext, tx, newLoader(wb, "", sheets.WithChunkSize(2)), config()).
		WithLogger(quiet).
		Run(context.Background())
	require.NoError(t, err)

	var ranges []string
	for _, w := range wb.writes {
		ranges = append(ranges, w.a1)
	}
	require.Equal(t, []string{"'Sheet1'!A1", "'Sheet1'!A3", "'Sheet1'!A5", "'Sheet1'!A7"}, ranges)
}

// =============================================================================
// Google
// =============================================================================

func TestGoogle_FindEscapesTitle(t *testing.T) {
	queries := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		queries <- r.URL.Query().Get("q")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"files":[{"id":"1abc","name":"x"}]}`)
	}))
	t.Cleanup(srv.Close)

	g, err := sheets.NewGoogle(context.Background(), option.WithEndpoint(srv.URL+"/"), option.WithoutAuthentication())
	require.NoError(t, err)

	id, err := g.Find(context.Background(), `Q3 \ Ben's "pipeline"`)
	require.NoError(t, err)
	require.Equal(t, "1abc", id)
	require.Equal(t,
		`name = 'Q3 \\ Ben\'s "pipeline"' and mimeType = 'application/vnd.google-apps.spreadsheet' and trashed = false`,
		<-queries)
}
