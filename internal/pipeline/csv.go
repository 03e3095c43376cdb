package pipeline

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"ProxyTrader/internal/domain/models"
	"ProxyTrader/pkg/logger"
	"ProxyTrader/pkg/util"
)

// CSVPath returns the conventional replay file for symbol: {SYMBOL}_{date}.csv,
// or {SYMBOL}.csv when date is empty.
func CSVPath(dir, symbol, date string) string {
	name := strings.ToUpper(symbol)
	if date != "" {
		name += "_" + date
	}
	return filepath.Join(dir, name+".csv")
}

// CSVSource reads a recorded tick file with the header
// TimestampUTC,Symbol,Price,Volume,Source.
type CSVSource struct {
	path        string
	symbol      string
	isBenchmark bool
	log         *logger.Logger
	skipped     int
}

func NewCSVSource(path, symbol string, isBenchmark bool, log *logger.Logger) *CSVSource {
	if log == nil {
		log = logger.NewNop()
	}
	return &CSVSource{
		path:        path,
		symbol:      strings.ToUpper(symbol),
		isBenchmark: isBenchmark,
		log:         log.With(logger.String("source", "csv"), logger.String("symbol", symbol)),
	}
}

func (s *CSVSource) Name() string { return "csv:" + s.symbol }

// Skipped returns the number of malformed rows dropped by the last Load.
func (s *CSVSource) Skipped() int { return s.skipped }

// Load reads the whole file. A missing file yields no ticks and no error.
func (s *CSVSource) Load(ctx context.Context) ([]models.PriceTick, error) {
	s.skipped = 0
	f, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.log.Warn("replay file missing, skipping symbol", logger.String("path", s.path))
			return nil, nil
		}
		return nil, fmt.Errorf("open %s: %w", s.path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true

	var ticks []models.PriceTick
	for line := 1; ; line++ {
		if line%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				s.skip(line, "unparseable row")
				continue
			}
			return nil, fmt.Errorf("read %s: %w", s.path, err)
		}
		if line == 1 && isHeader(rec) {
			continue
		}
		t, ok := s.parse(rec)
		if !ok {
			s.skip(line, "malformed row")
			continue
		}
		ticks = append(ticks, t)
	}

	slices.SortStableFunc(ticks, func(a, b models.PriceTick) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
	if s.skipped > 0 {
		s.log.Warn("replay file had malformed rows",
			logger.String("path", s.path), logger.Int("skipped", s.skipped), logger.Int("loaded", len(ticks)))
	}
	s.log.Debug("replay file loaded", logger.String("path", s.path), logger.Int("ticks", len(ticks)))
	return ticks, nil
}

func (s *CSVSource) parse(rec []string) (models.PriceTick, bool) {
	if len(rec) < 3 {
		return models.PriceTick{}, false
	}
	ts, ok := util.ParseTime(strings.TrimSpace(rec[0]))
	if !ok {
		return models.PriceTick{}, false
	}
	price, err := strconv.ParseFloat(strings.TrimSpace(rec[2]), 64)
	if err != nil {
		return models.PriceTick{}, false
	}
	sym := strings.ToUpper(strings.TrimSpace(rec[1]))
	if sym == "" {
		sym = s.symbol
	}
	t := models.PriceTick{
		Symbol:      sym,
		Price:       price,
		IsBenchmark: s.isBenchmark,
		Timestamp:   ts,
		Source:      "csv",
	}
	if len(rec) > 3 {
		if v, err := strconv.ParseFloat(strings.TrimSpace(rec[3]), 64); err == nil && v >= 0 {
			t.Volume = v
		}
	}
	if len(rec) > 4 && strings.TrimSpace(rec[4]) != "" {
		t.Source = strings.TrimSpace(rec[4])
	}
	return t, t.Valid()
}

func (s *CSVSource) skip(line int, reason string) {
	s.skipped++
	s.log.Debug(reason, logger.Int("line", line))
}

func isHeader(rec []string) bool {
	return len(rec) > 0 && strings.EqualFold(strings.TrimSpace(strings.TrimPrefix(rec[0], "\ufeff")), "TimestampUTC")
}
