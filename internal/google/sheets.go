package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"mozzafiato/internal/config"
	"mozzafiato/internal/domain"
	"mozzafiato/internal/models"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

var (
	ErrNoHeader      = errors.New("sheet has no header row")
	ErrPayloadObject = errors.New("payload is not a JSON object")
)

// SheetsGateway reads and appends to the spreadsheet directly through the
// Sheets API, bypassing the web app. Stats and reports are computed by the
// web app only, so this gateway always reports them absent.
type SheetsGateway struct {
	service       *sheets.Service
	spreadsheetID string
	names         config.SheetsConfig
	reporter      domain.Reporter

	// Кэш строк-заголовков по имени листа
	headerMu sync.RWMutex
	headers  map[string][]string
}

func NewSheetsGateway(ctx context.Context, cfg config.GoogleConfig, reporter domain.Reporter) (*SheetsGateway, error) {
	// Читаем файл учетных данных сервисного аккаунта
	credentialsJSON, err := os.ReadFile(cfg.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read credentials file: %w", err)
	}

	jwt, err := google.JWTConfigFromJSON(credentialsJSON, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse credentials: %w", err)
	}

	srv, err := sheets.NewService(ctx, option.WithHTTPClient(jwt.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("unable to create Sheets service: %w", err)
	}

	return newSheetsGateway(srv, cfg, reporter), nil
}

func newSheetsGateway(srv *sheets.Service, cfg config.GoogleConfig, reporter domain.Reporter) *SheetsGateway {
	if reporter == nil {
		reporter = domain.NopReporter{}
	}
	return &SheetsGateway{
		service:       srv,
		spreadsheetID: cfg.SpreadsheetID,
		names:         cfg.Sheets,
		reporter:      reporter,
		headers:       make(map[string][]string),
	}
}

// TestConnection reads the first catalog cell.
func (s *SheetsGateway) TestConnection(ctx context.Context) bool {
	_, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, a1(s.names.Catalog, "A1")).Context(ctx).Do()
	if err != nil {
		s.reporter.Report(models.ActionTest, fmt.Errorf("connection test failed: %w", err))
		return false
	}
	return true
}

func (s *SheetsGateway) FetchCatalog(ctx context.Context) []models.Product {
	rows, err := s.readTable(ctx, s.names.Catalog)
	if err != nil {
		s.reporter.Report(models.ActionGetCatalog, err)
		return []models.Product{}
	}
	out := make([]models.Product, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.Product(r))
	}
	return out
}

func (s *SheetsGateway) FetchInventory(ctx context.Context) []models.InventoryItem {
	rows, err := s.readTable(ctx, s.names.Inventory)
	if err != nil {
		s.reporter.Report(models.ActionGetInventory, err)
		return []models.InventoryItem{}
	}
	out := make([]models.InventoryItem, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.InventoryItem(r))
	}
	return out
}

func (s *SheetsGateway) FetchStats(context.Context) models.Stats {
	return nil
}

func (s *SheetsGateway) FetchReports(context.Context) models.Reports {
	return nil
}

// SubmitBatch appends one row per record in a single values.append call,
// placing payload fields under the matching header columns.
func (s *SheetsGateway) SubmitBatch(ctx context.Context, category models.Category, records []models.PendingRecord) models.SyncResult {
	action := category.Action()
	sheet := s.sheetFor(category)
	if sheet == "" {
		err := fmt.Errorf("%w: %q", models.ErrUnknownCategory, category)
		s.reporter.Report("submitBatch", err)
		return models.SyncFailed(err.Error())
	}
	if len(records) == 0 {
		return models.SyncResult{Succeeded: true}
	}

	if err := s.appendRecords(ctx, sheet, records); err != nil {
		s.reporter.Report(action, err)
		return models.SyncFailed(err.Error())
	}
	return models.SyncResult{Succeeded: true}
}

func (s *SheetsGateway) appendRecords(ctx context.Context, sheet string, records []models.PendingRecord) error {
	header, err := s.header(ctx, sheet)
	if err != nil {
		return err
	}

	values := make([][]interface{}, 0, len(records))
	for _, r := range records {
		row, err := recordRow(header, r)
		if err != nil {
			return fmt.Errorf("record %s: %w", r.ID, err)
		}
		values = append(values, row)
	}

	_, err = s.service.Spreadsheets.Values.Append(s.spreadsheetID, a1(sheet, "A1"), &sheets.ValueRange{Values: values}).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("append to %s: %w", sheet, err)
	}
	return nil
}

func (s *SheetsGateway) sheetFor(category models.Category) string {
	switch category {
	case models.CategoryProduction:
		return s.names.Production
	case models.CategorySales:
		return s.names.Sales
	default:
		return ""
	}
}

// readTable returns every data row keyed by the header row.
func (s *SheetsGateway) readTable(ctx context.Context, sheet string) ([]map[string]any, error) {
	resp, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, a1(sheet, "")).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", sheet, err)
	}
	if len(resp.Values) == 0 {
		return nil, fmt.Errorf("%s: %w", sheet, ErrNoHeader)
	}

	header := cellStrings(resp.Values[0])
	s.setHeader(sheet, header)

	rows := make([]map[string]any, 0, len(resp.Values)-1)
	for _, raw := range resp.Values[1:] {
		if isBlank(raw) {
			continue
		}
		row := make(map[string]any, len(header))
		for i, name := range header {
			if name == "" || i >= len(raw) {
				continue
			}
			row[name] = raw[i]
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (s *SheetsGateway) header(ctx context.Context, sheet string) ([]string, error) {
	s.headerMu.RLock()
	h, ok := s.headers[sheet]
	s.headerMu.RUnlock()
	if ok {
		return h, nil
	}

	resp, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, a1(sheet, "1:1")).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read header of %s: %w", sheet, err)
	}
	if len(resp.Values) == 0 || isBlank(resp.Values[0]) {
		return nil, fmt.Errorf("%s: %w", sheet, ErrNoHeader)
	}
	h = cellStrings(resp.Values[0])
	s.setHeader(sheet, h)
	return h, nil
}

func (s *SheetsGateway) setHeader(sheet string, header []string) {
	s.headerMu.Lock()
	defer s.headerMu.Unlock()
	s.headers[sheet] = header
}

// recordRow lays the payload out under header. Keys match exactly first,
// then case-insensitively; client_id always lands in a column of that name
// when the sheet has one.
func recordRow(header []string, r models.PendingRecord) ([]interface{}, error) {
	var obj map[string]any
	if err := json.Unmarshal(r.Payload, &obj); err != nil || obj == nil {
		return nil, ErrPayloadObject
	}
	if _, ok := obj["client_id"]; !ok {
		obj["client_id"] = r.ID
	}

	folded := make(map[string]any, len(obj))
	for k, v := range obj {
		folded[strings.ToLower(k)] = v
	}

	row := make([]interface{}, len(header))
	for i, name := range header {
		v, ok := obj[name]
		if !ok {
			v, ok = folded[strings.ToLower(name)]
		}
		if !ok || v == nil {
			row[i] = ""
			continue
		}
		row[i] = cellValue(v)
	}
	return row, nil
}

func cellValue(v any) interface{} {
	switch t := v.(type) {
	case string, float64, bool:
		return t
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}

func cellStrings(row []interface{}) []string {
	out := make([]string, len(row))
	for i, c := range row {
		out[i] = strings.TrimSpace(fmt.Sprint(c))
	}
	return out
}

func isBlank(row []interface{}) bool {
	for _, c := range row {
		if strings.TrimSpace(fmt.Sprint(c)) != "" {
			return false
		}
	}
	return true
}

// a1 builds a quoted A1 range; sheet names here carry spaces and emoji.
func a1(sheet, cells string) string {
	quoted := "'" + strings.ReplaceAll(sheet, "'", "''") + "'"
	if cells == "" {
		return quoted
	}
	return quoted + "!" + cells
}
