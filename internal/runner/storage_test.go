package runner

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/stretchr/testify/require"

	"github.com/sivukhin/tpch-benchmark/internal/config"
)

func TestRecordSeconds(t *testing.T) {
	require.Equal(t, "1.234568", Record{Duration: 1234567891 * time.Nanosecond}.Seconds())
	require.Equal(t, "0.5", Record{Duration: 500 * time.Millisecond}.Seconds())
	require.Equal(t, "2", Record{Duration: 2 * time.Second}.Seconds())
}

func TestParseRecord(t *testing.T) {
	record := Record{
		Solution:    "duckdb",
		Version:     "v1.1.3",
		Query:       11,
		Duration:    1234567891 * time.Nanosecond,
		IOType:      config.IOCSV,
		ScaleFactor: 0.1,
	}
	row := record.row()
	require.Equal(t, []string{"duckdb", "v1.1.3", "11", "1.234568", "csv", "0.1"}, row)

	parsed, err := ParseRecord(row)
	require.Nil(t, err)
	record.Duration = 1234568 * time.Microsecond
	require.Equal(t, record, parsed)

	_, err = ParseRecord(row[:3])
	require.NotNil(t, err)
	_, err = ParseRecord([]string{"duckdb", "v1", "q1", "1", "csv", "1.0"})
	require.NotNil(t, err)
	_, err = ParseRecord([]string{"duckdb", "v1", "1", "fast", "csv", "1.0"})
	require.NotNil(t, err)
}

func TestTimingsLogAppends(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "run")
	log := NewTimingsLog(config.Paths{Timings: dir, TimingsFilename: "timings.csv"})
	first := Record{Solution: "frame", Version: "(devel)", Query: 1, Duration: time.Second, IOType: config.IOParquet, ScaleFactor: 1}
	second := Record{Solution: "duckdb", Version: "v1", Query: 2, Duration: time.Millisecond, IOType: config.IOSkip, ScaleFactor: 10}
	require.Nil(t, log.Append(first))
	require.Nil(t, log.Append(second))

	content, err := os.ReadFile(filepath.Join(dir, "timings.csv"))
	require.Nil(t, err)
	require.Equal(t, ""+
		"solution,version,query_number,duration[s],io_type,scale_factor\n"+
		"frame,(devel),1,1,parquet,1.0\n"+
		"duckdb,v1,2,0.001,skip,10.0\n",
		string(content),
	)

	records, err := ReadTimings(log.Path)
	require.Nil(t, err)
	require.Equal(t, []Record{first, second}, records)

	_, err = ReadTimings(filepath.Join(dir, "missing.csv"))
	require.True(t, os.IsNotExist(err))
}

func TestCreateDatabase(t *testing.T) {
	status := http.StatusOK
	var requests []map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/organizations/acme/databases", r.URL.Path)
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		var body map[string]string
		require.Nil(t, json.NewDecoder(r.Body).Decode(&body))
		requests = append(requests, body)
		w.WriteHeader(status)
		w.Write([]byte(`{"error": "nope"}`))
	}))
	defer server.Close()

	storage := NewStorage(config.Storage{OrgName: "acme", GroupName: "bench", APIToken: "secret"})
	storage.APIURL = server.URL + "/"
	ctx := context.Background()

	require.Nil(t, storage.CreateDatabase(ctx, "tpch"))
	status = http.StatusConflict
	require.Nil(t, storage.CreateDatabase(ctx, "tpch"))
	status = http.StatusInternalServerError
	err := storage.CreateDatabase(ctx, "tpch")
	require.ErrorContains(t, err, "500")
	require.ErrorContains(t, err, "nope")

	require.Len(t, requests, 3)
	require.Equal(t, map[string]string{"name": "tpch", "group": "bench"}, requests[0])
}

func TestMeasurements(t *testing.T) {
	ctx := context.Background()
	db, err := sql.Open("duckdb", "")
	require.Nil(t, err)
	db.SetMaxOpenConns(1)

	meta := HostStat().Meta()
	meta["scale_factor"] = 1.0
	m, err := NewMeasurements(ctx, db, meta)
	require.Nil(t, err)
	defer m.Close()

	// preparing the same database twice keeps the first parameters
	_, err = NewMeasurements(ctx, db, map[string]any{"arch": "riscv"})
	require.Nil(t, err)

	parameters, err := m.Parameters(ctx)
	require.Nil(t, err)
	require.Equal(t, runtime.GOARCH, parameters["arch"])
	require.Equal(t, "1", parameters["scale_factor"])
	require.Contains(t, parameters, "time")

	records := []Record{
		{Solution: "duckdb", Version: "v1", Query: 1, Duration: 1500 * time.Millisecond, IOType: config.IOParquet, ScaleFactor: 1},
		{Solution: "frame", Version: "(devel)", Query: 1, Duration: 250 * time.Millisecond, IOType: config.IOParquet, ScaleFactor: 1},
	}
	require.Nil(t, m.Record(ctx, 0, records...))
	require.Nil(t, m.Record(ctx, 1, records[0]))

	var count int
	require.Nil(t, db.QueryRowContext(ctx, "SELECT count(*) FROM measurements").Scan(&count))
	require.Equal(t, 3, count)

	var total float64
	require.Nil(t, db.QueryRowContext(ctx, "SELECT sum(duration) FROM measurements WHERE solution = 'duckdb'").Scan(&total))
	require.InDelta(t, 3.0, total, 1e-9)
}

func TestHostStat(t *testing.T) {
	info := HostStat()
	require.Equal(t, runtime.GOARCH, info.Arch)
	require.GreaterOrEqual(t, info.CPUCount, 0)
	meta := info.Meta()
	for _, key := range []string{"arch", "hostname", "platform", "ram", "cpu", "freq"} {
		require.Contains(t, meta, key)
	}
}
