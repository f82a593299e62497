package sheets

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/Veraticus/receipt-sentinel/internal/model"
)

func testReport() Report {
	day := time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)
	return Report{
		Day: day,
		Counts: []model.DailyCount{
			{Day: "2025-03-14", Status: model.StatusVerified, Count: 3},
			{Day: "2025-03-14", Status: model.StatusRepeat, Count: 1},
		},
		Transactions: []model.StoredTransaction{
			{ID: "801000000001", Status: model.StatusVerified, SenderName: "Abebe", Amount: 150, UpdatedAt: day.Add(9 * time.Hour), FirstSeenAt: day.Add(9 * time.Hour)},
			{ID: "801000000002", Status: model.StatusVerified, SenderName: "Kebede", Amount: 70, UpdatedAt: day.Add(11 * time.Hour), RepeatCount: 1, Imported: true},
		},
	}
}

func TestPrepareReportData(t *testing.T) {
	r := testReport()
	values := prepareReportData(r)

	assert.Equal(t, []any{"Receipt Verification Report", "Mar 14, 2025"}, values[0])
	assert.Equal(t, []any{"Verified", 3}, values[4])
	assert.Equal(t, []any{"Repeat", 1}, values[5])
	assert.Equal(t, []any{"Total", 4}, values[6])
	assert.Equal(t, transactionHeader, values[summaryRows(r)])

	rows := values[summaryRows(r)+1:]
	require.Len(t, rows, 2)
	// Newest first.
	assert.Equal(t, "'801000000002", rows[0][0])
	assert.Equal(t, "yes", rows[0][10])
	assert.Equal(t, "", rows[0][7])
	assert.Equal(t, "'801000000001", rows[1][0])
	assert.Equal(t, "2025-03-14 09:00:00", rows[1][8])
}

func TestPrepareReportDataEmpty(t *testing.T) {
	r := Report{Day: time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)}
	values := prepareReportData(r)
	assert.Equal(t, []any{"Total", 0}, values[4])
	assert.Len(t, values, summaryRows(r)+1)
}

// fakeSheetsAPI serves the handful of Sheets v4 endpoints the writer calls.
type fakeSheetsAPI struct {
	sheets      map[string]int64
	updates     map[string][][]any
	calls       []string
	failUpdates int
	mu          sync.Mutex
}

func newFakeSheetsAPI(existing ...string) *fakeSheetsAPI {
	f := &fakeSheetsAPI{sheets: map[string]int64{}, updates: map[string][][]any{}}
	for i, title := range existing {
		f.sheets[title] = int64(i)
	}
	return f
}

func (f *fakeSheetsAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := strings.TrimPrefix(r.URL.Path, "/v4/spreadsheets")
	f.calls = append(f.calls, r.Method+" "+path)
	body, _ := io.ReadAll(r.Body)

	writeJSON := func(v any) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(v)
	}

	switch {
	case r.Method == http.MethodPost && path == "":
		var ss sheets.Spreadsheet
		_ = json.Unmarshal(body, &ss)
		for _, sh := range ss.Sheets {
			f.sheets[sh.Properties.Title] = int64(len(f.sheets))
		}
		writeJSON(sheets.Spreadsheet{SpreadsheetId: "new-sheet", SpreadsheetUrl: "https://example.invalid/new-sheet"})

	case r.Method == http.MethodGet:
		ss := sheets.Spreadsheet{SpreadsheetId: "sheet-1"}
		for title, id := range f.sheets {
			ss.Sheets = append(ss.Sheets, &sheets.Sheet{Properties: &sheets.SheetProperties{Title: title, SheetId: id}})
		}
		writeJSON(ss)

	case strings.HasSuffix(path, ":batchUpdate"):
		var req sheets.BatchUpdateSpreadsheetRequest
		_ = json.Unmarshal(body, &req)
		resp := sheets.BatchUpdateSpreadsheetResponse{}
		for _, rq := range req.Requests {
			reply := &sheets.Response{}
			if rq.AddSheet != nil {
				id := int64(100 + len(f.sheets))
				f.sheets[rq.AddSheet.Properties.Title] = id
				reply.AddSheet = &sheets.AddSheetResponse{Properties: &sheets.SheetProperties{Title: rq.AddSheet.Properties.Title, SheetId: id}}
			}
			resp.Replies = append(resp.Replies, reply)
		}
		writeJSON(resp)

	case strings.HasSuffix(path, ":clear"):
		writeJSON(sheets.ClearValuesResponse{})

	case r.Method == http.MethodPut:
		if f.failUpdates > 0 {
			f.failUpdates--
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		var vr sheets.ValueRange
		_ = json.Unmarshal(body, &vr)
		rng := path[strings.Index(path, "/values/")+len("/values/"):]
		f.updates[rng] = vr.Values
		writeJSON(sheets.UpdateValuesResponse{UpdatedRows: int64(len(vr.Values))})

	default:
		http.NotFound(w, r)
	}
}

func newTestWriter(t *testing.T, api *fakeSheetsAPI, cfg Config) *Writer {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	svc, err := sheets.NewService(context.Background(),
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()))
	require.NoError(t, err)

	cfg.RetryDelay = time.Millisecond
	return NewWriterWithService(svc, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestWriter_ExistingSpreadsheetAddsDayTab(t *testing.T) {
	api := newFakeSheetsAPI("2025-03-13")
	cfg := DefaultConfig()
	cfg.SpreadsheetID = "sheet-1"
	cfg.BatchSize = 5
	w := newTestWriter(t, api, cfg)

	id, err := w.Write(context.Background(), testReport())
	require.NoError(t, err)
	assert.Equal(t, "sheet-1", id)

	api.mu.Lock()
	defer api.mu.Unlock()

	assert.Contains(t, api.sheets, "2025-03-14")
	assert.Contains(t, api.calls, "POST /sheet-1/values/'2025-03-14'!A:Z:clear")

	// 12 rows in batches of 5.
	require.Len(t, api.updates, 3)
	assert.Len(t, api.updates["'2025-03-14'!A1"], 5)
	assert.Len(t, api.updates["'2025-03-14'!A6"], 5)
	assert.Len(t, api.updates["'2025-03-14'!A11"], 2)
	assert.Equal(t, "Receipt Verification Report", api.updates["'2025-03-14'!A1"][0][0])
}

func TestWriter_CreatesSpreadsheet(t *testing.T) {
	api := newFakeSheetsAPI()
	cfg := DefaultConfig()
	cfg.EnableFormatting = false
	w := newTestWriter(t, api, cfg)

	id, err := w.Write(context.Background(), testReport())
	require.NoError(t, err)
	assert.Equal(t, "new-sheet", id)
	assert.Equal(t, "new-sheet", w.config.SpreadsheetID)

	api.mu.Lock()
	defer api.mu.Unlock()
	assert.Equal(t, "POST ", api.calls[0])
	for _, c := range api.calls {
		assert.NotContains(t, c, ":batchUpdate", "no tab to add and formatting disabled")
	}
}

func TestWriter_RetriesTransientFailures(t *testing.T) {
	api := newFakeSheetsAPI("2025-03-14")
	api.failUpdates = 1
	cfg := DefaultConfig()
	cfg.SpreadsheetID = "sheet-1"
	w := newTestWriter(t, api, cfg)

	_, err := w.Write(context.Background(), testReport())
	require.NoError(t, err)

	api.mu.Lock()
	defer api.mu.Unlock()
	assert.Len(t, api.updates["'2025-03-14'!A1"], 12)
}
