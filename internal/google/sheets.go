package google

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"shareit/internal/models"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

const (
	dateTimeLayout = "2006-01-02 15:04:05"
	lastColumn     = "J"
	statusColumn   = "H"
	updatedColumn  = "J"
)

var errRowNotFound = errors.New("booking row not found")

var sheetHeader = []interface{}{"ID", "Item ID", "Item", "Booker ID", "Owner ID", "Start", "End", "Status", "Created At", "Updated At"}

// BookingSheet mirrors bookings into a spreadsheet, one row per booking keyed by column A.
type BookingSheet struct {
	service       *sheets.Service
	spreadsheetID string
	sheetName     string
	logger        *zerolog.Logger
	now           func() time.Time

	cacheMu  sync.RWMutex
	rowCache map[int64]int
}

// NewBookingSheet authenticates with a service account credentials file.
func NewBookingSheet(ctx context.Context, credentialsFile, spreadsheetID, sheetName string, logger *zerolog.Logger) (*BookingSheet, error) {
	credentialsJSON, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read credentials file: %w", err)
	}

	jwtCfg, err := google.JWTConfigFromJSON(credentialsJSON, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse credentials: %w", err)
	}

	srv, err := sheets.NewService(ctx, option.WithHTTPClient(jwtCfg.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("unable to create sheets service: %w", err)
	}

	return newBookingSheet(srv, spreadsheetID, sheetName, logger), nil
}

func newBookingSheet(srv *sheets.Service, spreadsheetID, sheetName string, logger *zerolog.Logger) *BookingSheet {
	if sheetName == "" {
		sheetName = "Bookings"
	}
	return &BookingSheet{
		service:       srv,
		spreadsheetID: spreadsheetID,
		sheetName:     sheetName,
		logger:        logger,
		now:           time.Now,
		rowCache:      make(map[int64]int),
	}
}

// TestConnection reads the header cell.
func (s *BookingSheet) TestConnection(ctx context.Context) error {
	_, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, s.cell("A1")).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("connection test failed: %w", err)
	}
	return nil
}

// WarmUpCache rebuilds the booking id to row index map from column A.
func (s *BookingSheet) WarmUpCache(ctx context.Context) error {
	resp, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, s.cell("A:A")).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to read id column: %w", err)
	}

	cache := make(map[int64]int, len(resp.Values))
	for i, row := range resp.Values {
		if id, ok := rowID(row); ok {
			cache[id] = i + 1
		}
	}

	s.cacheMu.Lock()
	s.rowCache = cache
	s.cacheMu.Unlock()
	return nil
}

// RefreshCachePeriodically rebuilds the row cache until ctx is done.
func (s *BookingSheet) RefreshCachePeriodically(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := s.WarmUpCache(ctx); err != nil && s.logger != nil {
			s.logger.Warn().Err(err).Msg("sheet cache refresh failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// UpsertBooking rewrites the booking row, appending it when missing.
func (s *BookingSheet) UpsertBooking(ctx context.Context, booking *models.Booking) error {
	if booking == nil {
		return errors.New("booking is nil")
	}

	rowIdx, err := s.FindBookingRow(ctx, booking.ID)
	if errors.Is(err, errRowNotFound) {
		return s.appendBooking(ctx, booking)
	}
	if err != nil {
		return err
	}

	rangeData := s.cell(fmt.Sprintf("A%d:%s%d", rowIdx, lastColumn, rowIdx))
	_, err = s.service.Spreadsheets.Values.Update(s.spreadsheetID, rangeData, &sheets.ValueRange{
		Values: [][]interface{}{bookingRowValues(booking)},
	}).ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to update booking row: %w", err)
	}
	return nil
}

func (s *BookingSheet) appendBooking(ctx context.Context, booking *models.Booking) error {
	resp, err := s.service.Spreadsheets.Values.Append(s.spreadsheetID, s.cell("A:A"), &sheets.ValueRange{
		Values: [][]interface{}{bookingRowValues(booking)},
	}).ValueInputOption("RAW").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to append booking row: %w", err)
	}

	if resp != nil && resp.Updates != nil {
		if row, ok := firstRow(resp.Updates.UpdatedRange); ok {
			s.setCachedRow(booking.ID, row)
		}
	}
	return nil
}

// UpdateBookingStatus touches only the status and updated-at cells.
func (s *BookingSheet) UpdateBookingStatus(ctx context.Context, bookingID int64, status models.Status) error {
	rowIdx, err := s.FindBookingRow(ctx, bookingID)
	if err != nil {
		return err
	}

	data := []*sheets.ValueRange{
		{
			Range:  s.cell(fmt.Sprintf("%s%d", statusColumn, rowIdx)),
			Values: [][]interface{}{{string(status)}},
		},
		{
			Range:  s.cell(fmt.Sprintf("%s%d", updatedColumn, rowIdx)),
			Values: [][]interface{}{{s.now().UTC().Format(dateTimeLayout)}},
		},
	}
	_, err = s.service.Spreadsheets.Values.BatchUpdate(s.spreadsheetID, &sheets.BatchUpdateValuesRequest{
		ValueInputOption: "RAW",
		Data:             data,
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to update booking status: %w", err)
	}
	return nil
}

// ReplaceAll clears the sheet and writes every booking under the header.
func (s *BookingSheet) ReplaceAll(ctx context.Context, bookings []*models.Booking) error {
	_, err := s.service.Spreadsheets.Values.Clear(s.spreadsheetID, s.cell("A:"+lastColumn), &sheets.ClearValuesRequest{}).
		Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to clear sheet: %w", err)
	}

	values := make([][]interface{}, 0, len(bookings)+1)
	values = append(values, sheetHeader)
	cache := make(map[int64]int, len(bookings))
	for i, b := range bookings {
		values = append(values, bookingRowValues(b))
		cache[b.ID] = i + 2
	}

	_, err = s.service.Spreadsheets.Values.Update(s.spreadsheetID, s.cell("A1"), &sheets.ValueRange{Values: values}).
		ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to write sheet: %w", err)
	}

	s.cacheMu.Lock()
	s.rowCache = cache
	s.cacheMu.Unlock()
	return nil
}

// FindBookingRow returns the 1-based row of bookingID, scanning column A on a cache miss.
func (s *BookingSheet) FindBookingRow(ctx context.Context, bookingID int64) (int, error) {
	if bookingID == 0 {
		return 0, errors.New("booking id is required")
	}
	if row, ok := s.getCachedRow(bookingID); ok {
		return row, nil
	}

	resp, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, s.cell("A:A")).Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("failed to read id column: %w", err)
	}
	for i, row := range resp.Values {
		if id, ok := rowID(row); ok && id == bookingID {
			s.setCachedRow(bookingID, i+1)
			return i + 1, nil
		}
	}
	return 0, fmt.Errorf("%w: %d", errRowNotFound, bookingID)
}

func (s *BookingSheet) cell(a1 string) string {
	return s.sheetName + "!" + a1
}

func (s *BookingSheet) getCachedRow(id int64) (int, bool) {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	row, ok := s.rowCache[id]
	return row, ok
}

func (s *BookingSheet) setCachedRow(id int64, row int) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.rowCache[id] = row
}

func rowID(row []interface{}) (int64, bool) {
	if len(row) == 0 {
		return 0, false
	}
	switch v := row[0].(type) {
	case float64:
		return int64(v), v > 0
	case string:
		id, err := strconv.ParseInt(v, 10, 64)
		return id, err == nil && id > 0
	}
	return 0, false
}

// firstRow extracts the start row from an A1 range such as "Bookings!A10:J10".
func firstRow(a1 string) (int, bool) {
	var digits []byte
	for i := 0; i < len(a1); i++ {
		c := a1[i]
		if c >= '0' && c <= '9' {
			digits = append(digits, c)
			continue
		}
		if c == ':' && len(digits) > 0 {
			break
		}
		if c == '!' {
			digits = digits[:0]
		}
	}
	if len(digits) == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(string(digits))
	return n, err == nil
}

func bookingRowValues(b *models.Booking) []interface{} {
	return []interface{}{
		b.ID,
		b.ItemID,
		b.ItemName,
		b.BookerID,
		b.OwnerID,
		b.Start.UTC().Format(dateTimeLayout),
		b.End.UTC().Format(dateTimeLayout),
		string(b.Status),
		b.CreatedAt.UTC().Format(dateTimeLayout),
		b.UpdatedAt.UTC().Format(dateTimeLayout),
	}
}
