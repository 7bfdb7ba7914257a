// Package sources reads transaction records and labeled churn outcomes from
// the ingestion boundary: JSONL files or a MySQL events table.
package sources

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/yairfalse/lifeline/pkg/domain"
)

// Source delivers raw transaction records. Records are assumed deduplicated
// upstream; validation happens per record in the feature builder.
type Source interface {
	Transactions(ctx context.Context) ([]domain.Transaction, error)
}

// JSONLSource reads newline-delimited JSON transaction records from a file.
// Unparseable lines are skipped and counted, never fatal.
type JSONLSource struct {
	logger *zap.Logger
	path   string

	// SkippedLines counts unparseable lines from the last read.
	SkippedLines int
}

// NewJSONLSource creates a JSONL file source.
func NewJSONLSource(logger *zap.Logger, path string) *JSONLSource {
	return &JSONLSource{logger: logger, path: path}
}

// Transactions reads all records from the file.
func (s *JSONLSource) Transactions(ctx context.Context) ([]domain.Transaction, error) {
	file, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open transactions file: %w", err)
	}
	defer file.Close()

	s.SkippedLines = 0
	var records []domain.Transaction

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}

		var tx domain.Transaction
		if err := json.Unmarshal(raw, &tx); err != nil {
			s.SkippedLines++
			s.logger.Debug("Skipping unparseable transaction line",
				zap.Int("line", line),
				zap.Error(err))
			continue
		}
		records = append(records, tx)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read transactions file: %w", err)
	}

	s.logger.Info("Read transaction records",
		zap.String("path", s.path),
		zap.Int("records", len(records)),
		zap.Int("skipped_lines", s.SkippedLines))

	return records, nil
}

// LoadLabels reads labeled churn outcomes from a JSONL file for classifier
// training. A missing path returns no labels, which downgrades the churn
// ensemble to survival-only scoring rather than failing.
func LoadLabels(logger *zap.Logger, path string) ([]domain.LabeledOutcome, error) {
	if path == "" {
		return nil, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open labels file: %w", err)
	}
	defer file.Close()

	var outcomes []domain.LabeledOutcome
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	skipped := 0
	for scanner.Scan() {
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}

		var outcome domain.LabeledOutcome
		if err := json.Unmarshal(raw, &outcome); err != nil {
			skipped++
			continue
		}
		outcomes = append(outcomes, outcome)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read labels file: %w", err)
	}

	logger.Info("Read labeled outcomes",
		zap.String("path", path),
		zap.Int("outcomes", len(outcomes)),
		zap.Int("skipped_lines", skipped))

	return outcomes, nil
}
