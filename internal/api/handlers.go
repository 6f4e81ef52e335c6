package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/jmhart/forecastcheck/internal/confidence"
	"github.com/jmhart/forecastcheck/internal/models"
)

type modelAccuracyView struct {
	ModelID           string  `json:"modelId"`
	ModelName         string  `json:"modelName"`
	MAE               float64 `json:"mae"`
	Bias              float64 `json:"bias"`
	StdDev            float64 `json:"stdDev"`
	SampleSize        int     `json:"sampleSize"`
	DaysOfData        int     `json:"daysOfData"`
	ConfidenceLevel   string  `json:"confidenceLevel"`
	ConfidenceMessage string  `json:"confidenceMessage"`
}

type accuracyResponse struct {
	SiteID      string              `json:"siteId"`
	ParameterID string              `json:"parameterId"`
	Horizon     int                 `json:"horizon"`
	Models      []modelAccuracyView `json:"models"`
}

// handleAccuracy ranks models by MAE for one site, parameter and lead
// time. Models with thin history still appear, graded by confidence.
func (s *Server) handleAccuracy(w http.ResponseWriter, r *http.Request) {
	siteID := r.URL.Query().Get("siteId")
	parameterID := r.URL.Query().Get("parameterId")
	horizonStr := r.URL.Query().Get("horizon")
	if siteID == "" || parameterID == "" || horizonStr == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "siteId, parameterId and horizon are required")
		return
	}
	horizon, err := strconv.Atoi(horizonStr)
	if err != nil || horizon < 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "horizon must be a non-negative integer")
		return
	}
	if !s.checkSite(w, siteID) || !s.checkParameter(w, parameterID) {
		return
	}

	rows, err := s.store.GetAccuracyByModel(siteID, parameterID, horizon)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "query failed")
		return
	}

	resp := accuracyResponse{
		SiteID:      siteID,
		ParameterID: parameterID,
		Horizon:     horizon,
		Models:      make([]modelAccuracyView, 0, len(rows)),
	}
	for _, row := range rows {
		c := confidence.Evaluate(row.SampleSize, row.DaysOfData)
		resp.Models = append(resp.Models, modelAccuracyView{
			ModelID:           row.ModelID,
			ModelName:         row.ModelName,
			MAE:               row.MAE,
			Bias:              row.Bias,
			StdDev:            row.StdDev,
			SampleSize:        row.SampleSize,
			DaysOfData:        row.DaysOfData,
			ConfidenceLevel:   string(c.Level),
			ConfidenceMessage: c.Message,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

type horizonBiasView struct {
	Horizon           int     `json:"horizon"`
	Bias              float64 `json:"bias"`
	MAE               float64 `json:"mae"`
	SampleSize        int     `json:"sampleSize"`
	DaysOfData        int     `json:"daysOfData"`
	ConfidenceLevel   string  `json:"confidenceLevel"`
	ConfidenceMessage string  `json:"confidenceMessage"`
}

type biasResponse struct {
	ModelID     string            `json:"modelId"`
	SiteID      string            `json:"siteId"`
	ParameterID string            `json:"parameterId"`
	Horizons    []horizonBiasView `json:"horizons"`
}

// handleBias shows how one model's error evolves with lead time.
func (s *Server) handleBias(w http.ResponseWriter, r *http.Request) {
	modelID := r.URL.Query().Get("modelId")
	siteID := r.URL.Query().Get("siteId")
	parameterID := r.URL.Query().Get("parameterId")
	if modelID == "" || siteID == "" || parameterID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "modelId, siteId and parameterId are required")
		return
	}
	if !s.checkModel(w, modelID) || !s.checkSite(w, siteID) || !s.checkParameter(w, parameterID) {
		return
	}

	rows, err := s.store.GetBiasByHorizon(modelID, siteID, parameterID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "query failed")
		return
	}

	resp := biasResponse{
		ModelID:     modelID,
		SiteID:      siteID,
		ParameterID: parameterID,
		Horizons:    make([]horizonBiasView, 0, len(rows)),
	}
	for _, row := range rows {
		c := confidence.Evaluate(row.SampleSize, row.DaysOfData)
		resp.Horizons = append(resp.Horizons, horizonBiasView{
			Horizon:           row.Horizon,
			Bias:              row.Bias,
			MAE:               row.MAE,
			SampleSize:        row.SampleSize,
			DaysOfData:        row.DaysOfData,
			ConfidenceLevel:   string(c.Level),
			ConfidenceMessage: c.Message,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

type dataPointView struct {
	Bucket     time.Time `json:"bucket"`
	MAE        float64   `json:"mae"`
	Bias       float64   `json:"bias"`
	SampleSize int       `json:"sampleSize"`
}

type timeseriesResponse struct {
	SiteID      string          `json:"siteId"`
	ModelID     string          `json:"modelId"`
	ParameterID string          `json:"parameterId"`
	Granularity string          `json:"granularity"`
	DataPoints  []dataPointView `json:"dataPoints"`
}

// handleTimeseries returns the per-bucket accuracy history of one model.
func (s *Server) handleTimeseries(w http.ResponseWriter, r *http.Request) {
	siteID := r.URL.Query().Get("siteId")
	modelID := r.URL.Query().Get("modelId")
	parameterID := r.URL.Query().Get("parameterId")
	if siteID == "" || modelID == "" || parameterID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "siteId, modelId and parameterId are required")
		return
	}
	granularity := models.Granularity(r.URL.Query().Get("granularity"))
	if granularity == "" {
		granularity = models.GranularityDaily
	}
	if !granularity.Valid() {
		writeError(w, http.StatusBadRequest, "bad_request", "granularity must be daily, weekly or monthly")
		return
	}
	if !s.checkSite(w, siteID) || !s.checkModel(w, modelID) || !s.checkParameter(w, parameterID) {
		return
	}

	rows, err := s.store.GetSummaryTimeseries(siteID, modelID, parameterID, granularity)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "query failed")
		return
	}

	resp := timeseriesResponse{
		SiteID:      siteID,
		ModelID:     modelID,
		ParameterID: parameterID,
		Granularity: string(granularity),
		DataPoints:  make([]dataPointView, 0, len(rows)),
	}
	for _, row := range rows {
		resp.DataPoints = append(resp.DataPoints, dataPointView{
			Bucket:     row.BucketStart.UTC(),
			MAE:        row.MAE,
			Bias:       row.Bias,
			SampleSize: row.SampleSize,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) checkSite(w http.ResponseWriter, siteID string) bool {
	site, err := s.store.GetSite(siteID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "query failed")
		return false
	}
	if site == nil {
		writeError(w, http.StatusNotFound, "not_found", fmt.Sprintf("unknown site %q", siteID))
		return false
	}
	return true
}

func (s *Server) checkModel(w http.ResponseWriter, modelID string) bool {
	m, err := s.store.GetModel(modelID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "query failed")
		return false
	}
	if m == nil {
		writeError(w, http.StatusNotFound, "not_found", fmt.Sprintf("unknown model %q", modelID))
		return false
	}
	return true
}

func (s *Server) checkParameter(w http.ResponseWriter, parameterID string) bool {
	params, err := s.store.GetParameters()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "query failed")
		return false
	}
	if _, ok := params[parameterID]; !ok {
		writeError(w, http.StatusNotFound, "not_found", fmt.Sprintf("unknown parameter %q", parameterID))
		return false
	}
	return true
}
