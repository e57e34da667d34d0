// Package ingestion bulk-loads roster workbooks (CSV or XLSX) into the
// ledger. Each row describes one person's involvement: the user, the
// activity (and optionally a task within it), the role, and the validity
// window. Rows that fail validation are collected, not fatal; the rest of
// the file still imports.
package ingestion

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"

	"orgledger/internal/domain"
	"orgledger/internal/store"
	"orgledger/internal/versioning"
)

// ErrUnsupportedFormat is returned when an uploaded file is not supported.
var ErrUnsupportedFormat = errors.New("unsupported file format")

var byteOrderMark = []byte{0xEF, 0xBB, 0xBF}

// rosterColumns is the exact header set a roster file must carry, in any
// order. task, end_date and user_name may be blank per row.
var rosterColumns = []string{
	"user_id", "user_name", "activity_type", "activity", "task", "role", "start_date", "end_date",
}

const (
	roleResponsible = "responsible"
	roleAssignee    = "assignee"
)

// Service imports roster files through the versioning engine so every
// created record obeys the same validation and overlap rules as a manual
// mutation.
type Service struct {
	engine *versioning.Engine
	store  store.Store
	log    zerolog.Logger
}

// NewService creates a roster import service.
func NewService(engine *versioning.Engine, st store.Store, log zerolog.Logger) *Service {
	return &Service{engine: engine, store: st, log: log}
}

// Request describes one import.
type Request struct {
	FileName string
	Data     io.Reader
	Actor    domain.Actor
}

// RowError ties a validation failure to its 1-based row number in the file.
type RowError struct {
	Row    int
	Reason string
}

// Summary reports what the import did.
type Summary struct {
	TotalRows int
	Imported  int
	Failed    int
	Errors    []RowError
}

// Import reads and applies a roster file.
func (s *Service) Import(ctx context.Context, req Request) (Summary, error) {
	payload, err := io.ReadAll(req.Data)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to read roster file: %w", err)
	}

	table, err := parseTable(req.FileName, payload)
	if err != nil {
		return Summary{}, err
	}

	columns, err := mapColumns(table.headers)
	if err != nil {
		return Summary{}, err
	}

	imp := &importer{
		service:    s,
		actor:      req.Actor,
		types:      make(map[string]int64),
		activities: make(map[string]int64),
		tasks:      make(map[string]int64),
	}

	summary := Summary{TotalRows: len(table.rows)}
	for i, cells := range table.rows {
		rowNumber := table.firstDataRow + i + 1
		row, err := parseRow(columns, cells)
		if err == nil {
			err = imp.apply(ctx, row)
		}
		if err != nil {
			summary.Failed++
			summary.Errors = append(summary.Errors, RowError{Row: rowNumber, Reason: err.Error()})
			s.log.Warn().
				Str("file", req.FileName).
				Int("row", rowNumber).
				Err(err).
				Msg("roster row rejected")
			continue
		}
		summary.Imported++
	}

	s.log.Info().
		Str("file", req.FileName).
		Int("rows", summary.TotalRows).
		Int("imported", summary.Imported).
		Int("failed", summary.Failed).
		Msg("roster import finished")
	return summary, nil
}

// rosterRow is one parsed line of the file.
type rosterRow struct {
	userID       int64
	userName     string
	activityType string
	activity     string
	task         string
	role         string
	start        domain.Date
	end          *domain.Date
}

// importer carries per-import lookup caches so repeated names resolve to
// the same entry without rescanning the store for every row.
type importer struct {
	service    *Service
	actor      domain.Actor
	types      map[string]int64 // type name -> id
	activities map[string]int64 // activity name -> entry
	tasks      map[string]int64 // activity entry + task name -> entry
}

func (imp *importer) apply(ctx context.Context, row rosterRow) error {
	s := imp.service

	if err := imp.ensureUser(ctx, row); err != nil {
		return err
	}

	typeID, err := imp.ensureType(ctx, row.activityType)
	if err != nil {
		return err
	}
	activityEntry, err := imp.ensureActivity(ctx, row, typeID)
	if err != nil {
		return err
	}

	switch row.role {
	case roleResponsible:
		_, err = s.engine.Create(ctx, imp.actor, domain.KindResponsibleFor, domain.ResponsibleFor{
			User:      row.userID,
			Activity:  activityEntry,
			StartDate: row.start,
			EndDate:   row.end,
		}.Fields())
		return err
	case roleAssignee:
		if row.task == "" {
			return errors.New("assignee rows require a task")
		}
		taskEntry, err := imp.ensureTask(ctx, row, activityEntry)
		if err != nil {
			return err
		}
		_, err = s.engine.Create(ctx, imp.actor, domain.KindAssignedTo, domain.AssignedTo{
			User:      row.userID,
			Task:      taskEntry,
			StartDate: row.start,
			EndDate:   row.end,
		}.Fields())
		return err
	default:
		return fmt.Errorf("unknown role %q", row.role)
	}
}

// ensureUser upserts the roster user. A blank user_name cell never clobbers
// a display name already on file; a brand-new user without a name gets a
// placeholder so the row can still import.
func (imp *importer) ensureUser(ctx context.Context, row rosterRow) error {
	s := imp.service
	user := domain.User{ID: row.userID, DisplayName: row.userName}
	if user.DisplayName == "" {
		_, err := s.store.GetUser(ctx, row.userID)
		if err == nil {
			return nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		user.DisplayName = fmt.Sprintf("user %d", row.userID)
	}
	return s.store.EnsureUser(ctx, user)
}

func (imp *importer) ensureType(ctx context.Context, name string) (int64, error) {
	if id, ok := imp.types[name]; ok {
		return id, nil
	}
	s := imp.service

	at, err := s.store.ActivityTypeByName(ctx, name)
	if err == nil {
		imp.types[name] = at.ID
		return at.ID, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return 0, err
	}

	existing, err := s.store.ListActivityTypes(ctx)
	if err != nil {
		return 0, err
	}
	var id int64 = 1
	for _, t := range existing {
		if t.ID >= id {
			id = t.ID + 1
		}
	}
	if err := s.store.EnsureActivityType(ctx, domain.ActivityType{ID: id, Name: name}); err != nil {
		return 0, err
	}
	imp.types[name] = id
	return id, nil
}

func (imp *importer) ensureActivity(ctx context.Context, row rosterRow, typeID int64) (int64, error) {
	if entry, ok := imp.activities[row.activity]; ok {
		return entry, nil
	}
	s := imp.service

	existing, err := s.store.ListCurrent(ctx, domain.KindActivity, nil)
	if err != nil {
		return 0, err
	}
	for _, rec := range existing {
		if rec.StringField(domain.FieldName) == row.activity {
			imp.activities[row.activity] = rec.Entry
			return rec.Entry, nil
		}
	}

	entry, err := s.engine.Create(ctx, imp.actor, domain.KindActivity, domain.Activity{
		Name:         row.activity,
		ActivityType: typeID,
		StartDate:    row.start,
		EndDate:      row.end,
	}.Fields())
	if err != nil {
		return 0, err
	}
	imp.activities[row.activity] = entry
	return entry, nil
}

func (imp *importer) ensureTask(ctx context.Context, row rosterRow, activityEntry int64) (int64, error) {
	key := fmt.Sprintf("%d/%s", activityEntry, row.task)
	if entry, ok := imp.tasks[key]; ok {
		return entry, nil
	}
	s := imp.service

	existing, err := s.store.ListCurrent(ctx, domain.KindTask, map[string]int64{domain.FieldActivity: activityEntry})
	if err != nil {
		return 0, err
	}
	for _, rec := range existing {
		if rec.StringField(domain.FieldName) == row.task {
			imp.tasks[key] = rec.Entry
			return rec.Entry, nil
		}
	}

	entry, err := s.engine.Create(ctx, imp.actor, domain.KindTask, domain.Task{
		Name:      row.task,
		Activity:  activityEntry,
		StartDate: row.start,
		EndDate:   row.end,
	}.Fields())
	if err != nil {
		return 0, err
	}
	imp.tasks[key] = entry
	return entry, nil
}

// --- table parsing ---

type tableData struct {
	headers      []string
	rows         [][]string
	firstDataRow int
}

func parseTable(fileName string, payload []byte) (tableData, error) {
	ext := strings.ToLower(filepath.Ext(fileName))
	switch ext {
	case ".csv":
		return parseCSV(payload)
	case ".xlsx":
		return parseExcel(payload)
	default:
		return tableData{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
}

func parseCSV(payload []byte) (tableData, error) {
	reader := bufio.NewReader(bytes.NewReader(payload))
	if prefix, err := reader.Peek(len(byteOrderMark)); err == nil && bytes.Equal(prefix, byteOrderMark) {
		_, _ = reader.Discard(len(byteOrderMark))
	}

	csvReader := csv.NewReader(reader)
	csvReader.TrimLeadingSpace = true
	csvReader.FieldsPerRecord = -1

	records, err := csvReader.ReadAll()
	if err != nil {
		return tableData{}, fmt.Errorf("failed to read csv: %w", err)
	}
	return normalizeTable(records)
}

func parseExcel(payload []byte) (tableData, error) {
	f, err := excelize.OpenReader(bytes.NewReader(payload))
	if err != nil {
		return tableData{}, fmt.Errorf("failed to open xlsx: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return tableData{}, errors.New("excel file has no sheets")
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return tableData{}, fmt.Errorf("failed to read rows from xlsx: %w", err)
	}
	return normalizeTable(rows)
}

func normalizeTable(records [][]string) (tableData, error) {
	var headers []string
	var rows [][]string
	firstDataRow := -1

	for idx, record := range records {
		if emptyRow(record) {
			continue
		}
		if headers == nil {
			headers = make([]string, len(record))
			for i, value := range record {
				headers[i] = strings.ToLower(strings.TrimSpace(value))
			}
			firstDataRow = idx + 1
			continue
		}
		rows = append(rows, padRow(record, len(headers)))
	}
	if headers == nil {
		return tableData{}, errors.New("no rows found in file")
	}
	return tableData{headers: headers, rows: rows, firstDataRow: firstDataRow}, nil
}

func emptyRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

func padRow(row []string, width int) []string {
	if len(row) >= width {
		return row[:width]
	}
	padded := make([]string, width)
	copy(padded, row)
	return padded
}

func mapColumns(headers []string) (map[string]int, error) {
	columns := make(map[string]int, len(headers))
	for i, name := range headers {
		columns[name] = i
	}
	for _, required := range rosterColumns {
		if _, ok := columns[required]; !ok {
			return nil, fmt.Errorf("missing column %q", required)
		}
	}
	return columns, nil
}

func parseRow(columns map[string]int, cells []string) (rosterRow, error) {
	cell := func(name string) string {
		return strings.TrimSpace(cells[columns[name]])
	}

	userID, err := strconv.ParseInt(cell("user_id"), 10, 64)
	if err != nil {
		return rosterRow{}, fmt.Errorf("invalid user_id %q", cell("user_id"))
	}

	start, err := domain.ParseDate(cell("start_date"))
	if err != nil {
		return rosterRow{}, err
	}
	var end *domain.Date
	if raw := cell("end_date"); raw != "" {
		parsed, err := domain.ParseDate(raw)
		if err != nil {
			return rosterRow{}, err
		}
		end = &parsed
	}

	row := rosterRow{
		userID:       userID,
		userName:     cell("user_name"),
		activityType: cell("activity_type"),
		activity:     cell("activity"),
		task:         cell("task"),
		role:         strings.ToLower(cell("role")),
		start:        start,
		end:          end,
	}
	if row.activityType == "" {
		return rosterRow{}, errors.New("activity_type is required")
	}
	if row.activity == "" {
		return rosterRow{}, errors.New("activity is required")
	}
	return row, nil
}
