// Package sheets writes the transformed table to a Google Sheet.
package sheets

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/time/rate"

	"github.com/ben-leadtech/etlkit"
	"github.com/ben-leadtech/etlkit/frame"
)

const (
	// DefaultChunkSize is the number of rows written per request.
	DefaultChunkSize = 3000

	// TimeZoneCell is written to A1 ahead of the header row.
	TimeZoneCell = "Parameters:TimeZone=+0000"

	headerRows = 2
)

// Loader writes the table to the first worksheet of the spreadsheet titled
// SheetName, creating the spreadsheet if needed. Existing content is cleared.
// Row 1 holds TimeZoneCell, row 2 the header and data starts at row 3.
type Loader struct {
	workbook  Workbook
	title     string
	shareWith []string
	chunkSize int
	limiter   *rate.Limiter
	logger    *slog.Logger
}

var (
	_ etlkit.Loader             = (*Loader)(nil)
	_ etlkit.BatchLoader        = (*Loader)(nil)
	_ etlkit.LoadWorkers        = (*Loader)(nil)
	_ etlkit.Batcher[frame.Row] = (*Loader)(nil)
)

// Option configures a Loader.
type Option func(*Loader)

// WithShareWith grants writer access to each address at commit.
func WithShareWith(emails ...string) Option {
	return func(l *Loader) { l.shareWith = append(l.shareWith, emails...) }
}

// WithChunkSize sets the rows per write request.
func WithChunkSize(n int) Option {
	return func(l *Loader) {
		if n >= 1 {
			l.chunkSize = n
		}
	}
}

// WithRateLimit caps API requests at rps per second. The default is one
// request per second.
func WithRateLimit(rps float64, burst int) Option {
	return func(l *Loader) { l.limiter = rate.NewLimiter(rate.Limit(rps), max(1, burst)) }
}

func WithLogger(logger *slog.Logger) Option {
	return func(l *Loader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLoader returns a Loader for the spreadsheet titled title. An empty
// title uses the config's table name.
func NewLoader(wb Workbook, title string, opts ...Option) *Loader {
	l := &Loader{
		workbook:  wb,
		title:     title,
		chunkSize: DefaultChunkSize,
		limiter:   rate.NewLimiter(rate.Limit(1), 1),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Loader) LoadWorkers() int { return 1 }

// Batch splits rows into chunks of the configured size.
func (l *Loader) Batch(rows []frame.Row) [][]frame.Row {
	return etlkit.SizeBatcher[frame.Row](l.chunkSize).Batch(rows)
}

func (l *Loader) Load(ctx context.Context, f *frame.Frame, cfg *etlkit.Config) error {
	return etlkit.LoadAll(ctx, l, l, f, cfg)
}

// Begin finds or creates the spreadsheet, clears and resizes its first
// worksheet and writes the first two rows.
func (l *Loader) Begin(ctx context.Context, f *frame.Frame, cfg *etlkit.Config) (etlkit.LoadSession, error) {
	title := l.title
	if title == "" {
		title = cfg.TableName
	}

	s := &session{loader: l, title: title}

	var err error
	if err = l.wait(ctx); err != nil {
		return nil, err
	}
	if s.id, err = l.workbook.Find(ctx, title); err != nil {
		return nil, fmt.Errorf("sheets: find %q: %w", title, err)
	}

	existing := s.id != ""
	if !existing {
		if err = l.wait(ctx); err != nil {
			return nil, err
		}
		if s.id, err = l.workbook.Create(ctx, title); err != nil {
			return nil, fmt.Errorf("sheets: create %q: %w", title, err)
		}
		l.logger.Info("created spreadsheet", "title", title, "url", l.workbook.URL(s.id))
	}

	if err = l.wait(ctx); err != nil {
		return nil, err
	}
	sheetID, name, err := l.workbook.FirstSheet(ctx, s.id)
	if err != nil {
		return nil, fmt.Errorf("sheets: %q: %w", title, err)
	}
	s.sheet = name

	if existing {
		if err := l.wait(ctx); err != nil {
			return nil, err
		}
		if err := l.workbook.Clear(ctx, s.id, name); err != nil {
			return nil, fmt.Errorf("sheets: clear %q: %w", title, err)
		}
	}

	if err := l.wait(ctx); err != nil {
		return nil, err
	}
	cols := max(1, len(f.Columns()))
	if err := l.workbook.Resize(ctx, s.id, sheetID, f.Len()+headerRows, cols); err != nil {
		return nil, fmt.Errorf("sheets: resize %q: %w", title, err)
	}

	header := make([]any, 0, len(f.Columns()))
	for _, c := range f.Columns() {
		header = append(header, c)
	}
	if err := l.wait(ctx); err != nil {
		return nil, err
	}
	if err := l.workbook.Write(ctx, s.id, s.cell(1), [][]any{{TimeZoneCell}, header}); err != nil {
		return nil, fmt.Errorf("sheets: write header to %q: %w", title, err)
	}
	return s, nil
}

func (l *Loader) wait(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}

type session struct {
	loader *Loader
	title  string
	id     string
	sheet  string

	mu   sync.Mutex
	rows int
}

// cell returns the A1 reference of column A in the given 1-based row.
func (s *session) cell(row int) string {
	return fmt.Sprintf("%s!A%d", quoteSheet(s.sheet), row)
}

func (s *session) LoadBatch(ctx context.Context, rows []frame.Row) error {
	values := make([][]any, len(rows))
	for i, r := range rows {
		values[i] = make([]any, len(r.Values))
		for j, v := range r.Values {
			values[i][j] = cellValue(v)
		}
	}

	if err := s.loader.wait(ctx); err != nil {
		return err
	}
	start := rows[0].Index + headerRows + 1
	if err := s.loader.workbook.Write(ctx, s.id, s.cell(start), values); err != nil {
		return fmt.Errorf("sheets: write rows to %q: %w", s.title, err)
	}

	s.mu.Lock()
	s.rows += len(rows)
	s.mu.Unlock()
	return nil
}

// Commit shares the spreadsheet with every configured address.
func (s *session) Commit(ctx context.Context) error {
	url := s.loader.workbook.URL(s.id)
	for _, email := range s.loader.shareWith {
		if err := s.loader.wait(ctx); err != nil {
			return err
		}
		if err := s.loader.workbook.Share(ctx, s.id, email); err != nil {
			return fmt.Errorf("sheets: share %q with %s: %w", s.title, email, err)
		}
		s.loader.logger.Info("shared spreadsheet", "with", email, "url", url)
	}
	s.loader.logger.Info("loaded sheet", "title", s.title, "rows", s.rows, "url", url)
	return nil
}

// cellValue converts a frame cell to a RAW sheet value.
func cellValue(v any) any {
	switch v.(type) {
	case nil:
		return ""
	case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64, string:
		return v
	default:
		return frame.FormatValue(v)
	}
}
