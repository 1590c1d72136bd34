package storage

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"isin-monitor/internal/config"
)

const csvTimeLayout = "2006-01-02 15:04:05"

// FileStore persists the price history as a wide CSV table keyed by
// timestamp with one column per ticker, metadata as a read-only CSV,
// and notification state as a JSON sidecar. All reads and writes go
// through an embedded MemoryStore; Flush rewrites the files.
type FileStore struct {
	*MemoryStore

	cfg    config.DataConfig
	logger zerolog.Logger
	now    func() time.Time
}

// OpenFileStore loads metadata, price history, and notification state from disk.
func OpenFileStore(cfg config.DataConfig, epsilon decimal.Decimal, logger zerolog.Logger) (*FileStore, error) {
	store := &FileStore{
		MemoryStore: NewMemoryStore(epsilon),
		cfg:         cfg,
		logger:      logger.With().Str("component", "file_store").Logger(),
		now:         time.Now,
	}

	if err := store.loadMetadata(); err != nil {
		return nil, err
	}
	if err := store.loadPrices(); err != nil {
		return nil, err
	}
	if err := store.loadStates(); err != nil {
		return nil, err
	}

	cutoff := store.now().AddDate(0, 0, -cfg.MaxHistoryDays)
	if dropped := store.dropBefore(cutoff); dropped > 0 {
		store.logger.Info().Int("dropped", dropped).Int("max_history_days", cfg.MaxHistoryDays).
			Msg("removed observations past retention")
	}

	return store, nil
}

func (f *FileStore) loadMetadata() error {
	file, err := os.Open(f.cfg.MetadataFile)
	if err != nil {
		return fmt.Errorf("open metadata file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	records, err := reader.ReadAll()
	if err != nil {
		return fmt.Errorf("read metadata csv: %w", err)
	}
	if len(records) < 2 {
		return fmt.Errorf("metadata file %s has no securities", f.cfg.MetadataFile)
	}

	columns := indexColumns(records[0])
	for _, key := range []string{"ticker", "isin", "target_discount"} {
		if _, ok := columns[key]; !ok {
			return fmt.Errorf("metadata file %s missing column %q", f.cfg.MetadataFile, key)
		}
	}

	for i, row := range records[1:] {
		target, convErr := decimal.NewFromString(strings.TrimSpace(row[columns["target_discount"]]))
		if convErr != nil {
			return fmt.Errorf("metadata row %d: parse target_discount: %w", i+2, convErr)
		}

		sec := Security{
			Ticker:         strings.TrimSpace(row[columns["ticker"]]),
			ISIN:           strings.TrimSpace(row[columns["isin"]]),
			TargetDiscount: target,
		}
		if idx, ok := columns["company_name"]; ok && idx < len(row) {
			sec.CompanyName = strings.TrimSpace(row[idx])
		}
		if sec.Ticker == "" {
			return fmt.Errorf("metadata row %d: empty ticker", i+2)
		}
		if err := f.PutSecurity(sec); err != nil {
			return err
		}
	}

	f.logger.Info().Int("securities", len(records)-1).Str("file", f.cfg.MetadataFile).Msg("metadata loaded")
	return nil
}

func (f *FileStore) loadPrices() error {
	file, err := os.Open(f.cfg.PriceHistoryFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("open price history: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	records, err := reader.ReadAll()
	if err != nil {
		return fmt.Errorf("read price history csv: %w", err)
	}
	if len(records) == 0 {
		return nil
	}

	header := records[0]
	if len(header) == 0 || header[0] != "timestamp" {
		return fmt.Errorf("price history %s: first column must be timestamp", f.cfg.PriceHistoryFile)
	}

	loaded := 0
	for i, row := range records[1:] {
		ts, parseErr := time.ParseInLocation(csvTimeLayout, row[0], time.Local)
		if parseErr != nil {
			return fmt.Errorf("price history row %d: %w", i+2, parseErr)
		}
		for col := 1; col < len(row) && col < len(header); col++ {
			cell := strings.TrimSpace(row[col])
			if cell == "" {
				continue
			}
			price, convErr := decimal.NewFromString(cell)
			if convErr != nil {
				return fmt.Errorf("price history row %d, column %s: %w", i+2, header[col], convErr)
			}
			f.appendLoaded(header[col], PricePoint{Timestamp: ts, Price: price})
			loaded++
		}
	}

	f.logger.Info().Int("observations", loaded).Str("file", f.cfg.PriceHistoryFile).Msg("price history loaded")
	return nil
}

// appendLoaded bypasses dedup: the dedup rule was already applied at write time.
func (f *FileStore) appendLoaded(ticker string, point PricePoint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.series[ticker] = append(f.series[ticker], point)
}

func (f *FileStore) loadStates() error {
	if f.cfg.StateFile == "" {
		return nil
	}

	data, err := os.ReadFile(f.cfg.StateFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read state file: %w", err)
	}

	var states map[string]persistedState
	if err := json.Unmarshal(data, &states); err != nil {
		return fmt.Errorf("parse state file: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for ticker, state := range states {
		f.states[ticker] = NotificationState{
			LastBucket:     state.LastBucket,
			LastNotifiedAt: state.LastNotifiedAt,
		}
	}
	return nil
}

type persistedState struct {
	LastBucket     int64     `json:"last_bucket"`
	LastNotifiedAt time.Time `json:"last_notified_at"`
}

// Flush applies retention and rewrites the price table and state sidecar.
func (f *FileStore) Flush(_ context.Context) error {
	cutoff := f.now().AddDate(0, 0, -f.cfg.MaxHistoryDays)
	f.dropBefore(cutoff)

	if err := f.writePrices(); err != nil {
		return err
	}
	return f.writeStates()
}

type wideRow struct {
	ts     time.Time
	ticker string
	price  decimal.Decimal
	seq    int
}

func (f *FileStore) writePrices() error {
	f.mu.Lock()
	tickers := make([]string, 0, len(f.series))
	for ticker := range f.series {
		tickers = append(tickers, ticker)
	}
	sort.Strings(tickers)

	rows := make([]wideRow, 0)
	for _, ticker := range tickers {
		for seq, point := range f.series[ticker] {
			rows = append(rows, wideRow{ts: point.Timestamp, ticker: ticker, price: point.Price, seq: seq})
		}
	}
	f.mu.Unlock()

	// Stable order: by timestamp, then by per-ticker insertion order, so a
	// reload reproduces each series exactly.
	sort.SliceStable(rows, func(i, j int) bool {
		if !rows[i].ts.Equal(rows[j].ts) {
			return rows[i].ts.Before(rows[j].ts)
		}
		return rows[i].seq < rows[j].seq
	})

	if err := ensureDir(f.cfg.PriceHistoryFile); err != nil {
		return err
	}
	file, err := os.Create(f.cfg.PriceHistoryFile)
	if err != nil {
		return fmt.Errorf("create price history: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	column := make(map[string]int, len(tickers))
	header := make([]string, 0, len(tickers)+1)
	header = append(header, "timestamp")
	for i, ticker := range tickers {
		column[ticker] = i + 1
		header = append(header, ticker)
	}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, row := range rows {
		record := make([]string, len(header))
		record[0] = row.ts.Format(csvTimeLayout)
		record[column[row.ticker]] = row.price.String()
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return err
	}

	f.logger.Debug().Int("rows", len(rows)).Int("tickers", len(tickers)).Msg("price history written")
	return nil
}

func (f *FileStore) writeStates() error {
	if f.cfg.StateFile == "" {
		return nil
	}

	f.mu.Lock()
	states := make(map[string]persistedState, len(f.states))
	for ticker, state := range f.states {
		states[ticker] = persistedState{
			LastBucket:     state.LastBucket,
			LastNotifiedAt: state.LastNotifiedAt,
		}
	}
	f.mu.Unlock()

	data, err := json.MarshalIndent(states, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal notification state: %w", err)
	}

	if err := ensureDir(f.cfg.StateFile); err != nil {
		return err
	}
	if err := os.WriteFile(f.cfg.StateFile, data, 0o644); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}
	return nil
}

func indexColumns(header []string) map[string]int {
	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.ToLower(strings.TrimSpace(name))] = i
	}
	return columns
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

var _ Flusher = (*FileStore)(nil)
