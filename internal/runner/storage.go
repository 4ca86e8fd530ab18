package runner

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	_ "github.com/tursodatabase/libsql-client-go/libsql"

	"github.com/sivukhin/tpch-benchmark/internal/config"
	"github.com/sivukhin/tpch-benchmark/internal/logger"
)

const defaultAPIURL = "https://api.turso.tech"

// Storage talks to the Turso platform API and its databases.
type Storage struct {
	OrgName   string
	GroupName string
	APIToken  string
	AuthToken string
	// APIURL defaults to the public Turso API.
	APIURL string
}

func NewStorage(cfg config.Storage) *Storage {
	return &Storage{
		OrgName:   cfg.OrgName,
		GroupName: cfg.GroupName,
		APIToken:  cfg.APIToken,
		AuthToken: cfg.AuthToken,
	}
}

func (s *Storage) apiURL() string {
	if s.APIURL == "" {
		return defaultAPIURL
	}
	return strings.TrimSuffix(s.APIURL, "/")
}

func (s *Storage) CreateDatabase(ctx context.Context, name string) error {
	url := fmt.Sprintf("%v/v1/organizations/%v/databases", s.apiURL(), s.OrgName)
	payload, err := json.Marshal(map[string]string{"name": name, "group": s.GroupName})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Add("Authorization", "Bearer "+s.APIToken)
	req.Header.Add("Content-Type", "application/json")

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusConflict {
		logger.Logger.Infof("database %v already exists", name)
		return nil
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code %v: %v", resp.StatusCode, string(body))
	}
	logger.Logger.Infof("created database %v", name)
	return nil
}

func (s *Storage) ConnectDb(name string) (*sql.DB, error) {
	url := fmt.Sprintf("libsql://%v-%v.turso.io?authToken=%v", name, s.OrgName, s.AuthToken)
	return sql.Open("libsql", url)
}

// Measurements mirrors timing records into a database.
type Measurements struct {
	db *sql.DB
}

// OpenMeasurements creates (if needed) and prepares the configured remote
// database, storing meta as run parameters.
func OpenMeasurements(ctx context.Context, cfg config.Storage, meta map[string]any) (*Measurements, error) {
	storage := NewStorage(cfg)
	if err := storage.CreateDatabase(ctx, cfg.DBName); err != nil {
		return nil, fmt.Errorf("unable to create measurements db %v: %w", cfg.DBName, err)
	}
	db, err := storage.ConnectDb(cfg.DBName)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to the measurements db %v: %w", cfg.DBName, err)
	}
	m, err := NewMeasurements(ctx, db, meta)
	if err != nil {
		db.Close()
		return nil, err
	}
	return m, nil
}

// NewMeasurements prepares db, which must speak sqlite flavoured SQL.
func NewMeasurements(ctx context.Context, db *sql.DB, meta map[string]any) (*Measurements, error) {
	_, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS parameters (name TEXT PRIMARY KEY, value TEXT)")
	if err != nil {
		return nil, err
	}
	parameters := make([]any, 0, 2*len(meta)+2)
	parameters = append(parameters, "time", time.Now().Format(time.DateTime))
	keys := make([]string, 0, len(meta))
	for key := range meta {
		if key != "time" {
			keys = append(keys, key)
		}
	}
	slices.Sort(keys)
	for _, key := range keys {
		parameters = append(parameters, key, fmt.Sprintf("%v", meta[key]))
	}
	placeholders := strings.Join(slices.Repeat([]string{"(?, ?)"}, len(parameters)/2), ", ")
	_, err = db.ExecContext(
		ctx,
		fmt.Sprintf("INSERT INTO parameters VALUES %v ON CONFLICT DO NOTHING", placeholders),
		parameters...,
	)
	if err != nil {
		return nil, err
	}
	_, err = db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS measurements (
		solution TEXT,
		version TEXT,
		query INTEGER,
		io_type TEXT,
		scale_factor REAL,
		iteration INTEGER,
		duration REAL
	)`)
	if err != nil {
		return nil, err
	}
	logger.Logger.Infof("initialized database for measurements with meta %v", meta)
	return &Measurements{db: db}, nil
}

func (m *Measurements) Record(ctx context.Context, iteration int, records ...Record) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, record := range records {
		_, err = tx.ExecContext(
			ctx,
			"INSERT INTO measurements VALUES (?, ?, ?, ?, ?, ?, ?)",
			record.Solution,
			record.Version,
			record.Query,
			string(record.IOType),
			record.ScaleFactor,
			iteration,
			record.Duration.Seconds(),
		)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (m *Measurements) Parameters(ctx context.Context) (map[string]string, error) {
	rows, err := m.db.QueryContext(ctx, "SELECT name, value FROM parameters")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	results := make(map[string]string)
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, err
		}
		results[name] = value
	}
	return results, rows.Err()
}

func (m *Measurements) Close() error { return m.db.Close() }
