package sheets

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
	gsheets "google.golang.org/api/sheets/v4"
)

// Scopes needed by Google.
var Scopes = []string{gsheets.SpreadsheetsScope, drive.DriveScope}

const spreadsheetMimeType = "application/vnd.google-apps.spreadsheet"

// driveEscaper escapes a string literal in a Drive files.list query.
var driveEscaper = strings.NewReplacer(`\`, `\\`, `'`, `\'`)

// Workbook is the part of the Sheets and Drive APIs the loader needs.
type Workbook interface {
	// Find returns the ID of the spreadsheet titled title, or "" if there is
	// none.
	Find(ctx context.Context, title string) (string, error)
	Create(ctx context.Context, title string) (string, error)
	// FirstSheet returns the ID and name of the first worksheet.
	FirstSheet(ctx context.Context, id string) (int64, string, error)
	Clear(ctx context.Context, id, sheet string) error
	Resize(ctx context.Context, id string, sheetID int64, rows, cols int) error
	Write(ctx context.Context, id, a1 string, values [][]any) error
	Share(ctx context.Context, id, email string) error
	URL(id string) string
}

// Google is the Workbook backed by the Sheets v4 and Drive v3 services.
type Google struct {
	sheets *gsheets.Service
	drive  *drive.Service
}

var _ Workbook = (*Google)(nil)

// NewGoogle creates the Sheets and Drive services. Pass credentials with
// the Scopes.
func NewGoogle(ctx context.Context, opts ...option.ClientOption) (*Google, error) {
	s, err := gsheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("sheets: new sheets service: %w", err)
	}
	d, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("sheets: new drive service: %w", err)
	}
	return &Google{sheets: s, drive: d}, nil
}

func (g *Google) Find(ctx context.Context, title string) (string, error) {
	q := fmt.Sprintf("name = '%s' and mimeType = '%s' and trashed = false",
		driveEscaper.Replace(title), spreadsheetMimeType)
	list, err := g.drive.Files.List().Q(q).Fields("files(id, name)").PageSize(1).Context(ctx).Do()
	if err != nil {
		return "", err
	}
	if len(list.Files) == 0 {
		return "", nil
	}
	return list.Files[0].Id, nil
}

func (g *Google) Create(ctx context.Context, title string) (string, error) {
	ss, err := g.sheets.Spreadsheets.Create(&gsheets.Spreadsheet{
		Properties: &gsheets.SpreadsheetProperties{Title: title},
	}).Context(ctx).Do()
	if err != nil {
		return "", err
	}
	return ss.SpreadsheetId, nil
}

func (g *Google) FirstSheet(ctx context.Context, id string) (int64, string, error) {
	ss, err := g.sheets.Spreadsheets.Get(id).Fields("sheets.properties").Context(ctx).Do()
	if err != nil {
		return 0, "", err
	}
	if len(ss.Sheets) == 0 || ss.Sheets[0].Properties == nil {
		return 0, "", fmt.Errorf("spreadsheet %s has no worksheets", id)
	}
	p := ss.Sheets[0].Properties
	return p.SheetId, p.Title, nil
}

func (g *Google) Clear(ctx context.Context, id, sheet string) error {
	_, err := g.sheets.Spreadsheets.Values.Clear(id, quoteSheet(sheet), &gsheets.ClearValuesRequest{}).Context(ctx).Do()
	return err
}

func (g *Google) Resize(ctx context.Context, id string, sheetID int64, rows, cols int) error {
	req := &gsheets.BatchUpdateSpreadsheetRequest{
		Requests: []*gsheets.Request{{
			UpdateSheetProperties: &gsheets.UpdateSheetPropertiesRequest{
				Properties: &gsheets.SheetProperties{
					SheetId:         sheetID,
					ForceSendFields: []string{"SheetId"},
					GridProperties: &gsheets.GridProperties{
						RowCount:    int64(rows),
						ColumnCount: int64(cols),
					},
				},
				Fields: "gridProperties(rowCount,columnCount)",
			},
		}},
	}
	_, err := g.sheets.Spreadsheets.BatchUpdate(id, req).Context(ctx).Do()
	return err
}

func (g *Google) Write(ctx context.Context, id, a1 string, values [][]any) error {
	_, err := g.sheets.Spreadsheets.Values.Update(id, a1, &gsheets.ValueRange{Values: values}).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	return err
}

func (g *Google) Share(ctx context.Context, id, email string) error {
	_, err := g.drive.Permissions.Create(id, &drive.Permission{
		Type:         "user",
		Role:         "writer",
		EmailAddress: email,
	}).SendNotificationEmail(false).Context(ctx).Do()
	return err
}

func (g *Google) URL(id string) string {
	return "https://docs.google.com/spreadsheets/d/" + id
}

// quoteSheet quotes a worksheet name for A1 notation.
func quoteSheet(name string) string {
	return "'" + strings.ReplaceAll(name, "'", "''") + "'"
}
