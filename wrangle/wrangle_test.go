package wrangle_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ben-leadtech/etlkit"
	"github.com/ben-leadtech/etlkit/frame"
	"github.com/ben-leadtech/etlkit/wrangle"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func dataOf(frames map[string]*frame.Frame) *etlkit.Data {
	data := etlkit.NewData()
	for _, name := range []string{"df_opps", "df_fh", "df_accounts", "df_leads"} {
		if f, ok := frames[name]; ok {
			data.Add(name, f)
		}
	}
	return data
}

func build(t *testing.T, columns []string, rows ...[]any) *frame.Frame {
	t.Helper()
	f := frame.New(columns...)
	for _, r := range rows {
		require.NoError(t, f.Append(r...))
	}
	return f
}

// =============================================================================
// FieldHistory
// =============================================================================

func fieldHistoryData(t *testing.T) *etlkit.Data {
	opps := build(t, []string{"Id", "CreatedDate", "Partner_Lead_ID__c", "Amount"},
		[]any{"006A", "2024-01-01T10:00:00.000+0000", "PL1", int64(100)},
		[]any{"006B", "2024-01-05T00:00:00.000Z", "PL2", int64(200)},
		[]any{"006C", "2024-02-01T00:00:00Z", nil, int64(300)},
	)
	fh := build(t, []string{"Id", "OpportunityId", "NewValue", "OldValue", "CreatedDate"},
		[]any{"017a", "006A", "Qualified", nil, "2024-01-03T09:00:00.000+0000"},
		[]any{"017b", "006A", "Closed Won", "Qualified", "2024-01-10T10:00:00.000+0000"},
		[]any{"017c", "006A", "Qualified", nil, "2024-01-02T10:00:00.000+0000"},
		[]any{"017d", "006B", "Stage: Proposal/Quote", nil, "2024-01-04T12:00:00Z"},
		[]any{"017e", "006B", "", nil, "2024-01-06T00:00:00Z"},
		[]any{"017f", "006D", "Qualified", nil, "2024-01-01T00:00:00Z"},
	)
	return dataOf(map[string]*frame.Frame{"df_opps": opps, "df_fh": fh})
}

func TestFieldHistory(t *testing.T) {
	out, err := (&wrangle.FieldHistory{Logger: quiet}).Transform(context.Background(), fieldHistoryData(t))
	require.NoError(t, err)

	require.Equal(t, []string{
		"Id", "Created_Date", "Partner_Lead_ID", "Amount", "Unique_ID",
		"Closed Won", "Qualified", "Stage -Proposal Quote",
	}, out.Columns())

	require.Equal(t, []map[string]any{
		{
			"Id":                    "006A",
			"Created_Date":          time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC),
			"Partner_Lead_ID":       "PL1",
			"Amount":                int64(100),
			"Unique_ID":             "2024-01-0110:00:00+00:00_006A",
			"Closed Won":            9.0,
			"Qualified":             1.0,
			"Stage -Proposal Quote": nil,
		},
		{
			"Id":                    "006B",
			"Created_Date":          time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC),
			"Partner_Lead_ID":       "PL2",
			"Amount":                int64(200),
			"Unique_ID":             "2024-01-0500:00:00+00:00_006B",
			"Closed Won":            nil,
			"Qualified":             nil,
			"Stage -Proposal Quote": -1.0,
		},
	}, out.Records())

	ok, _, err := out.Unique(etlkit.UniqueIDColumn)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestFieldHistory_ValueCollidesWithOppColumn(t *testing.T) {
	opps := build(t, []string{"Id", "CreatedDate", "Amount"},
		[]any{"006A", "2024-01-01T00:00:00Z", int64(1)},
	)
	fh := build(t, []string{"OpportunityId", "NewValue", "CreatedDate"},
		[]any{"006A", "Amount", "2024-01-03T00:00:00Z"},
	)

	out, err := (&wrangle.FieldHistory{Logger: quiet}).Transform(context.Background(),
		dataOf(map[string]*frame.Frame{"df_opps": opps, "df_fh": fh}))
	require.NoError(t, err)

	amount, err := out.Value(0, "Amount")
	require.NoError(t, err)
	require.Equal(t, int64(1), amount)
	days, err := out.Value(0, "Amount_right")
	require.NoError(t, err)
	require.Equal(t, 2.0, days)
}

func TestFieldHistory_ValueNamedLikeKey(t *testing.T) {
	opps := build(t, []string{"Id", "CreatedDate"},
		[]any{"006A", "2024-01-01T00:00:00Z"},
	)
	fh := build(t, []string{"OpportunityId", "NewValue", "CreatedDate"},
		[]any{"006A", "Id", "2024-01-04T00:00:00Z"},
		[]any{"006A", "Qualified", "2024-01-02T00:00:00Z"},
	)

	out, err := (&wrangle.FieldHistory{Logger: quiet}).Transform(context.Background(),
		dataOf(map[string]*frame.Frame{"df_opps": opps, "df_fh": fh}))
	require.NoError(t, err)

	require.Equal(t, []string{"Id", "Created_Date", "Unique_ID", "Id_right", "Qualified"}, out.Columns())
	id, _ := out.Value(0, "Id")
	require.Equal(t, "006A", id)
	days, _ := out.Value(0, "Id_right")
	require.Equal(t, 3.0, days)
}

func TestFieldHistory_UniqueIDFractionalSeconds(t *testing.T) {
	opps := build(t, []string{"Id", "CreatedDate"},
		[]any{"006A", "2024-01-01T10:00:00.250+0000"},
		[]any{"006B", "2024-01-02T10:00:00.000+0000"},
	)
	fh := build(t, []string{"OpportunityId", "NewValue", "CreatedDate"},
		[]any{"006A", "Qualified", "2024-01-03T00:00:00Z"},
		[]any{"006B", "Qualified", "2024-01-03T00:00:00Z"},
	)

	out, err := (&wrangle.FieldHistory{Logger: quiet}).Transform(context.Background(),
		dataOf(map[string]*frame.Frame{"df_opps": opps, "df_fh": fh}))
	require.NoError(t, err)

	ids, _ := out.Column("Unique_ID")
	require.Equal(t, []any{
		"2024-01-0110:00:00.250000+00:00_006A",
		"2024-01-0210:00:00.000000+00:00_006B",
	}, ids)
}

func TestFieldHistory_MissingInputs(t *testing.T) {
	fh := build(t, []string{"OpportunityId", "NewValue", "CreatedDate"})

	_, err := (&wrangle.FieldHistory{Logger: quiet}).Transform(context.Background(),
		dataOf(map[string]*frame.Frame{"df_fh": fh}))
	require.ErrorIs(t, err, wrangle.ErrMissingFrame)
	require.ErrorContains(t, err, "df_opps")

	opps := build(t, []string{"Id"})
	_, err = (&wrangle.FieldHistory{Logger: quiet}).Transform(context.Background(),
		dataOf(map[string]*frame.Frame{"df_opps": opps, "df_fh": fh}))
	require.ErrorIs(t, err, wrangle.ErrMissingColumn)
	require.ErrorContains(t, err, "CreatedDate")
}

func TestFieldHistory_BadTimestamp(t *testing.T) {
	opps := build(t, []string{"Id", "CreatedDate"}, []any{"006A", "yesterday"})
	fh := build(t, []string{"OpportunityId", "NewValue", "CreatedDate"},
		[]any{"006A", "Qualified", "2024-01-03T00:00:00Z"},
	)

	_, err := (&wrangle.FieldHistory{Logger: quiet}).Transform(context.Background(),
		dataOf(map[string]*frame.Frame{"df_opps": opps, "df_fh": fh}))
	require.ErrorIs(t, err, wrangle.ErrBadTimestamp)
}

func TestValueColumnName(t *testing.T) {
	tests := map[string]string{
		"Closed Won":            "Closed Won",
		"Stage: Proposal/Quote": "Stage -Proposal Quote",
		"A & B":                 "A - B",
		"Needs_Analysis-2":      "Needs_Analysis-2",
		"Perception (Analysis)": "Perception -Analysis ",
	}
	for in, expected := range tests {
		require.Equal(t, expected, wrangle.ValueColumnName(in), in)
	}
}

// =============================================================================
// Passthrough
// =============================================================================

func TestPassthrough(t *testing.T) {
	accounts := build(t, []string{"Id", "Name"}, []any{"001A", "Acme"}, []any{"001B", "Globex"})
	data := dataOf(map[string]*frame.Frame{"df_accounts": accounts})

	out, err := (&wrangle.Passthrough{}).Transform(context.Background(), data)
	require.NoError(t, err)
	require.Equal(t, accounts.Records(), out.Records())

	out, err = (&wrangle.Passthrough{Frame: "accounts", UniqueIDFrom: []string{"Id", "Name"}}).
		Transform(context.Background(), data)
	require.NoError(t, err)
	require.Equal(t, []string{"Id", "Name", "Unique_ID"}, out.Columns())
	uid, _ := out.Value(1, "Unique_ID")
	require.Equal(t, "001B_Globex", uid)

	// The input frame is not modified.
	require.False(t, accounts.HasColumn("Unique_ID"))
}

func TestPassthrough_Errors(t *testing.T) {
	a := build(t, []string{"Id"}, []any{"1"})
	data := dataOf(map[string]*frame.Frame{"df_accounts": a, "df_leads": a})

	_, err := (&wrangle.Passthrough{}).Transform(context.Background(), data)
	require.ErrorContains(t, err, "needs a frame name")

	_, err = (&wrangle.Passthrough{Frame: "df_contacts"}).Transform(context.Background(), data)
	require.ErrorIs(t, err, wrangle.ErrMissingFrame)

	_, err = (&wrangle.Passthrough{Frame: "df_leads", UniqueIDFrom: []string{"Email"}}).Transform(context.Background(), data)
	require.ErrorIs(t, err, wrangle.ErrMissingColumn)
}

// =============================================================================
// Registry
// =============================================================================

func TestLookup(t *testing.T) {
	require.Equal(t, []string{"field-history", "passthrough"}, wrangle.Names())

	ctor, err := wrangle.Lookup("passthrough")
	require.NoError(t, err)
	tx, err := ctor(wrangle.Params{Frame: "df_leads", UniqueIDFrom: []string{"Id"}})
	require.NoError(t, err)
	require.Equal(t, &wrangle.Passthrough{Frame: "df_leads", UniqueIDFrom: []string{"Id"}}, tx)

	ctor, err = wrangle.Lookup("field-history")
	require.NoError(t, err)
	tx, err = ctor(wrangle.Params{Logger: quiet})
	require.NoError(t, err)
	require.IsType(t, &wrangle.FieldHistory{}, tx)

	_, err = wrangle.Lookup("pivot")
	require.ErrorIs(t, err, wrangle.ErrUnknown)
	require.ErrorContains(t, err, "field-history, passthrough")
}
