package store

import (
	"database/sql"

	"github.com/jmhart/forecastcheck/internal/models"
)

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) UpsertSite(site models.Site) error {
	_, err := s.db.Exec(`
		INSERT INTO sites (site_id, name, latitude, longitude, elevation, active)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(site_id) DO UPDATE SET
			name = excluded.name,
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			elevation = excluded.elevation,
			active = excluded.active
	`, site.SiteID, site.Name, site.Latitude, site.Longitude, site.Elevation, site.Active)
	return err
}

func (s *Store) GetActiveSites() ([]models.Site, error) {
	rows, err := s.db.Query(`SELECT site_id, name, latitude, longitude, elevation, active FROM sites WHERE active = TRUE ORDER BY site_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sites []models.Site
	for rows.Next() {
		var site models.Site
		if err := rows.Scan(&site.SiteID, &site.Name, &site.Latitude, &site.Longitude, &site.Elevation, &site.Active); err != nil {
			return nil, err
		}
		sites = append(sites, site)
	}
	return sites, rows.Err()
}

func (s *Store) GetSite(siteID string) (*models.Site, error) {
	row := s.db.QueryRow(`SELECT site_id, name, latitude, longitude, elevation, active FROM sites WHERE site_id = ?`, siteID)
	var site models.Site
	err := row.Scan(&site.SiteID, &site.Name, &site.Latitude, &site.Longitude, &site.Elevation, &site.Active)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &site, nil
}

func (s *Store) UpsertModel(m models.ForecastModel) error {
	_, err := s.db.Exec(`
		INSERT INTO forecast_models (model_id, name, provider, active)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(model_id) DO UPDATE SET
			name = excluded.name,
			provider = excluded.provider,
			active = excluded.active
	`, m.ModelID, m.Name, m.Provider, m.Active)
	return err
}

func (s *Store) GetActiveModels() ([]models.ForecastModel, error) {
	rows, err := s.db.Query(`SELECT model_id, name, provider, active FROM forecast_models WHERE active = TRUE ORDER BY model_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []models.ForecastModel
	for rows.Next() {
		var m models.ForecastModel
		if err := rows.Scan(&m.ModelID, &m.Name, &m.Provider, &m.Active); err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

func (s *Store) GetModel(modelID string) (*models.ForecastModel, error) {
	row := s.db.QueryRow(`SELECT model_id, name, provider, active FROM forecast_models WHERE model_id = ?`, modelID)
	var m models.ForecastModel
	err := row.Scan(&m.ModelID, &m.Name, &m.Provider, &m.Active)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Store) UpsertParameter(p models.Parameter) error {
	_, err := s.db.Exec(`
		INSERT INTO parameters (parameter_id, name, unit, circular, outlier_threshold)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(parameter_id) DO UPDATE SET
			name = excluded.name,
			unit = excluded.unit,
			circular = excluded.circular,
			outlier_threshold = excluded.outlier_threshold
	`, p.ParameterID, p.Name, p.Unit, p.Circular, p.OutlierThreshold)
	return err
}

func (s *Store) GetParameters() (map[string]models.Parameter, error) {
	rows, err := s.db.Query(`SELECT parameter_id, name, unit, circular, outlier_threshold FROM parameters`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]models.Parameter)
	for rows.Next() {
		var p models.Parameter
		if err := rows.Scan(&p.ParameterID, &p.Name, &p.Unit, &p.Circular, &p.OutlierThreshold); err != nil {
			return nil, err
		}
		result[p.ParameterID] = p
	}
	return result, rows.Err()
}
