// Package catalog loads catalog entries from external sources into the store.
package catalog

import (
	"context"
	"encoding/csv"
	"io"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/dutchgtr/bricktrack/internal/model"
	"github.com/dutchgtr/bricktrack/internal/store"
)

// LoadResult reports one CSV ingestion pass.
type LoadResult struct {
	Parsed   int
	Skipped  int
	Upserted int64
}

// Loader ingests catalog CSV files. The expected header carries at least
// set_number and name columns; year is optional.
type Loader struct {
	store  store.Store
	logger *zap.Logger
}

func NewLoader(st store.Store) *Loader {
	return &Loader{
		store:  st,
		logger: zap.L().With(zap.String("component", "catalog-loader")),
	}
}

// LoadCSV parses the reader and upserts every well-formed row. Rows missing
// a set number or name are counted as skipped, not errors.
func (l *Loader) LoadCSV(ctx context.Context, r io.Reader) (*LoadResult, error) {
	reader := csv.NewReader(r)
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, eris.Wrap(err, "catalog: read csv header")
	}
	colIdx := mapColumns(header)
	if _, ok := colIdx["set_number"]; !ok {
		return nil, eris.New("catalog: csv header missing set_number column")
	}
	if _, ok := colIdx["name"]; !ok {
		return nil, eris.New("catalog: csv header missing name column")
	}

	result := &LoadResult{}
	var entries []model.CatalogEntry
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			result.Skipped++
			continue
		}

		setNumber := strings.TrimSpace(getCol(record, colIdx, "set_number"))
		name := strings.TrimSpace(getCol(record, colIdx, "name"))
		if setNumber == "" || name == "" {
			result.Skipped++
			continue
		}

		year := 0
		if y := strings.TrimSpace(getCol(record, colIdx, "year")); y != "" {
			year, _ = strconv.Atoi(y)
		}

		entries = append(entries, model.CatalogEntry{
			SetNumber: setNumber,
			Name:      name,
			Year:      year,
		})
		result.Parsed++
	}

	if len(entries) > 0 {
		n, err := l.store.UpsertCatalogEntries(ctx, entries)
		if err != nil {
			return nil, eris.Wrap(err, "catalog: upsert entries")
		}
		result.Upserted = n
	}

	l.logger.Info("catalog csv loaded",
		zap.Int("parsed", result.Parsed),
		zap.Int("skipped", result.Skipped),
		zap.Int64("upserted", result.Upserted),
	)
	return result, nil
}

func mapColumns(header []string) map[string]int {
	idx := make(map[string]int, len(header))
	for i, col := range header {
		idx[strings.ToLower(strings.TrimSpace(col))] = i
	}
	return idx
}

func getCol(record []string, colIdx map[string]int, name string) string {
	i, ok := colIdx[name]
	if !ok || i >= len(record) {
		return ""
	}
	return record[i]
}
