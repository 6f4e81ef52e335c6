// Package ingest reads newline-delimited JSON exports from the
// collectors into the raw point tables.
package ingest

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math"
	"time"

	"github.com/jmhart/forecastcheck/internal/metrics"
	"github.com/jmhart/forecastcheck/internal/models"
	"github.com/jmhart/forecastcheck/internal/store"
)

// ForecastRecord is one line of a collector forecast export.
type ForecastRecord struct {
	SiteID      string  `json:"siteId"`
	ModelID     string  `json:"modelId"`
	ParameterID string  `json:"parameterId"`
	ForecastRun string  `json:"forecastRun"`
	ValidTime   string  `json:"validTime"`
	Value       float64 `json:"value"`
}

// ObservationRecord is one line of a beacon or station export.
type ObservationRecord struct {
	SiteID          string  `json:"siteId"`
	ParameterID     string  `json:"parameterId"`
	ObservationTime string  `json:"observationTime"`
	Value           float64 `json:"value"`
	Source          string  `json:"source"`
}

type ImportResult struct {
	Read     int64
	Imported int64
	Skipped  int64
}

type Importer struct {
	store  *store.Store
	sites  map[string]bool
	models map[string]bool
	params map[string]models.Parameter
}

// NewImporter loads the reference tables once so per-record validation
// stays in memory.
func NewImporter(s *store.Store) (*Importer, error) {
	imp := &Importer{store: s, sites: map[string]bool{}, models: map[string]bool{}}

	sites, err := s.GetActiveSites()
	if err != nil {
		return nil, fmt.Errorf("load sites: %w", err)
	}
	for _, site := range sites {
		imp.sites[site.SiteID] = true
	}

	fcModels, err := s.GetActiveModels()
	if err != nil {
		return nil, fmt.Errorf("load models: %w", err)
	}
	for _, m := range fcModels {
		imp.models[m.ModelID] = true
	}

	imp.params, err = s.GetParameters()
	if err != nil {
		return nil, fmt.Errorf("load parameters: %w", err)
	}
	return imp, nil
}

// maxLineBytes caps a single NDJSON record.
const maxLineBytes = 1 << 20

// nextLine reads one newline-delimited record from br. A line longer than
// maxLineBytes is fully consumed and reported as oversized instead of
// failing the whole stream.
func nextLine(br *bufio.Reader) (line []byte, tooLong bool, err error) {
	for {
		chunk, rerr := br.ReadSlice('\n')
		if !tooLong {
			line = append(line, chunk...)
			if len(line) > maxLineBytes {
				line = nil
				tooLong = true
			}
		}
		if rerr == bufio.ErrBufferFull {
			continue
		}
		if rerr == io.EOF {
			if len(line) == 0 && !tooLong {
				return nil, false, io.EOF
			}
			return line, tooLong, nil
		}
		if rerr != nil {
			return nil, tooLong, rerr
		}
		return line, tooLong, nil
	}
}

// ImportForecasts ingests an NDJSON stream of forecast records. Malformed
// or unreferenced lines are logged and skipped; the batch keeps going.
func (imp *Importer) ImportForecasts(r io.Reader) (ImportResult, error) {
	var res ImportResult
	br := bufio.NewReaderSize(r, 64*1024)

	for {
		line, tooLong, err := nextLine(br)
		if err == io.EOF {
			break
		}
		if err != nil {
			return res, fmt.Errorf("read forecasts: %w", err)
		}
		if tooLong {
			res.Read++
			imp.skip(&res, "forecast", "oversized", "line %d exceeds %d bytes", res.Read, maxLineBytes)
			continue
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		res.Read++

		var rec ForecastRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			imp.skip(&res, "forecast", "malformed", "line %d: %v", res.Read, err)
			continue
		}
		reason := imp.validateForecast(rec)
		if reason != "" {
			imp.skip(&res, "forecast", reason, "line %d: %s", res.Read, reason)
			continue
		}

		run, _ := time.Parse(time.RFC3339, rec.ForecastRun)
		valid, _ := time.Parse(time.RFC3339, rec.ValidTime)
		if err := imp.store.InsertForecastPoint(models.ForecastPoint{
			SiteID:      rec.SiteID,
			ModelID:     rec.ModelID,
			ParameterID: rec.ParameterID,
			ForecastRun: run,
			ValidTime:   valid,
			Value:       rec.Value,
		}); err != nil {
			return res, fmt.Errorf("insert forecast line %d: %w", res.Read, err)
		}
		res.Imported++
		metrics.RecordsImported.WithLabelValues("forecast").Inc()
	}
	return res, nil
}

// ImportObservations ingests an NDJSON stream of observation records.
func (imp *Importer) ImportObservations(r io.Reader) (ImportResult, error) {
	var res ImportResult
	br := bufio.NewReaderSize(r, 64*1024)

	for {
		line, tooLong, err := nextLine(br)
		if err == io.EOF {
			break
		}
		if err != nil {
			return res, fmt.Errorf("read observations: %w", err)
		}
		if tooLong {
			res.Read++
			imp.skip(&res, "observation", "oversized", "line %d exceeds %d bytes", res.Read, maxLineBytes)
			continue
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		res.Read++

		var rec ObservationRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			imp.skip(&res, "observation", "malformed", "line %d: %v", res.Read, err)
			continue
		}
		reason := imp.validateObservation(rec)
		if reason != "" {
			imp.skip(&res, "observation", reason, "line %d: %s", res.Read, reason)
			continue
		}

		observedAt, _ := time.Parse(time.RFC3339, rec.ObservationTime)
		source := rec.Source
		if source == "" {
			source = "beacon"
		}
		if err := imp.store.InsertObservationPoint(models.ObservationPoint{
			SiteID:      rec.SiteID,
			ParameterID: rec.ParameterID,
			ObservedAt:  observedAt,
			Value:       rec.Value,
			Source:      source,
		}); err != nil {
			return res, fmt.Errorf("insert observation line %d: %w", res.Read, err)
		}
		res.Imported++
		metrics.RecordsImported.WithLabelValues("observation").Inc()
	}
	return res, nil
}

func (imp *Importer) validateForecast(rec ForecastRecord) string {
	if !imp.sites[rec.SiteID] {
		return "unknown site"
	}
	if !imp.models[rec.ModelID] {
		return "unknown model"
	}
	if _, ok := imp.params[rec.ParameterID]; !ok {
		return "unknown parameter"
	}
	if _, err := time.Parse(time.RFC3339, rec.ForecastRun); err != nil {
		return "bad forecastRun timestamp"
	}
	if _, err := time.Parse(time.RFC3339, rec.ValidTime); err != nil {
		return "bad validTime timestamp"
	}
	if math.IsNaN(rec.Value) || math.IsInf(rec.Value, 0) {
		return "non-finite value"
	}
	return ""
}

func (imp *Importer) validateObservation(rec ObservationRecord) string {
	if !imp.sites[rec.SiteID] {
		return "unknown site"
	}
	if _, ok := imp.params[rec.ParameterID]; !ok {
		return "unknown parameter"
	}
	if _, err := time.Parse(time.RFC3339, rec.ObservationTime); err != nil {
		return "bad observationTime timestamp"
	}
	if math.IsNaN(rec.Value) || math.IsInf(rec.Value, 0) {
		return "non-finite value"
	}
	return ""
}

func (imp *Importer) skip(res *ImportResult, kind, reason, format string, args ...any) {
	res.Skipped++
	metrics.RecordsSkipped.WithLabelValues(kind, reason).Inc()
	log.Printf("import: skipping %s %s", kind, fmt.Sprintf(format, args...))
}
