package source

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/rzpsarthak13/featuresync/internal/core"
)

// CSVFormat is the output format whose values keep every digit of wide integers.
const CSVFormat = "csv"

// FetchColumn re-requests uri as CSV and returns column values indexed by keyColumn.
func (s *WFSSource) FetchColumn(ctx context.Context, uri, keyColumn, column string) (map[string]string, error) {
	csvURI, err := WithOutputFormat(uri, CSVFormat)
	if err != nil {
		return nil, err
	}
	layerID := LayerFromURI(uri)
	body, err := s.fetch(ctx, csvURI, layerID)
	if err != nil {
		return nil, err
	}

	values, err := readColumn(body, keyColumn, column)
	if err != nil {
		return nil, core.NewSyncError(core.ErrCodeDatasourceInit, layerID, "cannot parse CSV side document", err)
	}
	s.logger.Debug("side document read",
		zap.String("layer", layerID),
		zap.String("column", column),
		zap.Int("rows", len(values)),
	)
	return values, nil
}

func readColumn(body []byte, keyColumn, column string) (map[string]string, error) {
	r := csv.NewReader(bytes.NewReader(body))
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	keyIdx, colIdx := -1, -1
	for i, name := range header {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		switch name {
		case keyColumn:
			keyIdx = i
		case column:
			colIdx = i
		}
	}
	if keyIdx < 0 || colIdx < 0 {
		return nil, fmt.Errorf("columns %q and %q required in %v", keyColumn, column, header)
	}

	values := make(map[string]string)
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if keyIdx >= len(record) || colIdx >= len(record) {
			continue
		}
		values[record[keyIdx]] = record[colIdx]
	}
	return values, nil
}
