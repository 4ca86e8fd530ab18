package config

import (
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type IOType string

const (
	IOSkip    IOType = "skip"
	IOParquet IOType = "parquet"
	IOFeather IOType = "feather"
	IOCSV     IOType = "csv"
)

var (
	IOTypes         = []IOType{IOSkip, IOParquet, IOFeather, IOCSV}
	MemoryResources = []string{"cuda", "cuda-pool", "managed", "managed-pool", "cuda-async"}
)

// Set via PATH_<NAME>
type Paths struct {
	Answers         string `mapstructure:"answers"`
	Tables          string `mapstructure:"tables"`
	Timings         string `mapstructure:"timings"`
	TimingsFilename string `mapstructure:"timings_filename"`
	Plots           string `mapstructure:"plots"`
}

// Set via RUN_<NAME>
type Run struct {
	IOType       IOType `mapstructure:"io_type"`
	Iterations   int    `mapstructure:"iterations"`
	LogTimings   bool   `mapstructure:"log_timings"`
	ShowResults  bool   `mapstructure:"show_results"`
	CheckResults bool   `mapstructure:"check_results"`
	ClearCaches  bool   `mapstructure:"clear_caches"`

	FrameShowPlan     bool `mapstructure:"frame_show_plan"`
	FrameEager        bool `mapstructure:"frame_eager"`
	FrameOldStreaming bool `mapstructure:"frame_old_streaming"`
	FrameStreaming    bool `mapstructure:"frame_streaming"`
	FrameCloud        bool `mapstructure:"frame_cloud"`
	FrameGPU          bool `mapstructure:"frame_gpu"`
	FrameGPUDevice    int  `mapstructure:"frame_gpu_device"`
	// FrameWorkers bounds the streaming executor; 0 means GOMAXPROCS.
	FrameWorkers int `mapstructure:"frame_workers"`
	// UseRmmMr names the GPU memory resource: cuda, cuda-pool, managed,
	// managed-pool or cuda-async.
	UseRmmMr string `mapstructure:"use_rmm_mr"`

	// DuckDBThreads sets the duckdb threads pragma; 0 keeps the engine default.
	DuckDBThreads int `mapstructure:"duckdb_threads"`
}

// IncludeIO reports whether timed queries read the tables from disk.
func (r Run) IncludeIO() bool { return r.IOType != IOSkip }

// Set via PLOT_<NAME>
type Plot struct {
	Show     bool     `mapstructure:"show"`
	NQueries int      `mapstructure:"n_queries"`
	YLimit   *float64 `mapstructure:"y_limit"`
}

// Storage points at the remote database mirroring measurements; set via
// STORAGE_<NAME>. Mirroring is off while DBName is empty.
type Storage struct {
	OrgName   string `mapstructure:"org_name"`
	GroupName string `mapstructure:"group_name"`
	APIToken  string `mapstructure:"api_token"`
	AuthToken string `mapstructure:"auth_token"`
	DBName    string `mapstructure:"db_name"`
}

type Settings struct {
	ScaleFactor float64 `mapstructure:"scale_factor"`
	NumBatches  *int    `mapstructure:"num_batches"`

	Paths   Paths   `mapstructure:"paths"`
	Plot    Plot    `mapstructure:"plot"`
	Run     Run     `mapstructure:"run"`
	Storage Storage `mapstructure:"storage"`
}

// DatasetBaseDir is <paths.tables>/scale-<sf>, the scale factor printed with at
// least one decimal (1.0, 0.1, 10.0).
func (s Settings) DatasetBaseDir() string {
	return filepath.Join(s.Paths.Tables, "scale-"+FormatScaleFactor(s.ScaleFactor))
}

func FormatScaleFactor(sf float64) string {
	text := strconv.FormatFloat(sf, 'f', -1, 64)
	if !strings.Contains(text, ".") {
		text += ".0"
	}
	return text
}

var defaults = map[string]any{
	"scale_factor": 1.0,

	"paths.answers":          "data/answers",
	"paths.tables":           "data/tables",
	"paths.timings":          "output/run",
	"paths.timings_filename": "timings.csv",
	"paths.plots":            "output/plot",

	"run.io_type":             string(IOParquet),
	"run.iterations":          1,
	"run.log_timings":         false,
	"run.show_results":        false,
	"run.check_results":       false,
	"run.clear_caches":        false,
	"run.frame_show_plan":     false,
	"run.frame_eager":         false,
	"run.frame_old_streaming": false,
	"run.frame_streaming":     false,
	"run.frame_cloud":         false,
	"run.frame_gpu":           false,
	"run.frame_gpu_device":    0,
	"run.frame_workers":       0,
	"run.use_rmm_mr":          "cuda-async",
	"run.duckdb_threads":      0,

	"plot.show":      false,
	"plot.n_queries": 7,

	"storage.org_name":   "",
	"storage.group_name": "",
	"storage.api_token":  "",
	"storage.auth_token": "",
	"storage.db_name":    "",
}

// keys without a default; they stay nil unless set.
var optionalKeys = []string{"num_batches", "plot.y_limit"}

var envPrefixes = map[string]string{
	"paths":   "PATH_",
	"run":     "RUN_",
	"plot":    "PLOT_",
	"storage": "STORAGE_",
}

// EnvName maps a settings key to its environment variable, e.g.
// paths.answers -> PATH_ANSWERS and scale_factor -> SCALE_FACTOR.
func EnvName(key string) string {
	section, name, nested := strings.Cut(key, ".")
	if !nested {
		return strings.ToUpper(key)
	}
	return envPrefixes[section] + strings.ToUpper(name)
}

func Keys() []string {
	keys := append(slices.Collect(maps.Keys(defaults)), optionalKeys...)
	slices.Sort(keys)
	return keys
}

type options struct {
	envFile   string
	overrides map[string]any
}

type Option func(*options)

// WithEnvFile reads the given env file instead of .env; an empty path
// disables the env file. A missing file is not an error.
func WithEnvFile(path string) Option {
	return func(o *options) { o.envFile = path }
}

// WithOverrides sets values by dotted key (run.io_type, scale_factor); they
// win over every other source.
func WithOverrides(values map[string]any) Option {
	return func(o *options) {
		if o.overrides == nil {
			o.overrides = make(map[string]any)
		}
		for key, value := range values {
			o.overrides[strings.ToLower(key)] = value
		}
	}
}

// Load builds Settings from overrides, the environment, the env file and
// defaults, in that order of precedence.
func Load(opts ...Option) (Settings, error) {
	o := options{envFile: ".env"}
	for _, opt := range opts {
		opt(&o)
	}
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	envKeys := make(map[string]string)
	for _, key := range Keys() {
		name := EnvName(key)
		envKeys[name] = key
		if err := v.BindEnv(key, name, strings.ToLower(name)); err != nil {
			return Settings{}, err
		}
	}
	if o.envFile != "" {
		values, err := godotenv.Read(o.envFile)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Settings{}, fmt.Errorf("read env file %v: %w", o.envFile, err)
		}
		layer := make(map[string]any)
		for name, value := range values {
			// unknown names are ignored
			if key, ok := envKeys[strings.ToUpper(name)]; ok {
				setNested(layer, key, value)
			}
		}
		if err := v.MergeConfigMap(layer); err != nil {
			return Settings{}, fmt.Errorf("merge env file %v: %w", o.envFile, err)
		}
	}
	for key, value := range o.overrides {
		v.Set(key, value)
	}
	var settings Settings
	if err := v.Unmarshal(&settings); err != nil {
		return Settings{}, fmt.Errorf("invalid settings: %w", err)
	}
	if err := settings.Validate(); err != nil {
		return Settings{}, err
	}
	return settings, nil
}

func setNested(layer map[string]any, key string, value any) {
	section, name, nested := strings.Cut(key, ".")
	if !nested {
		layer[key] = value
		return
	}
	inner, ok := layer[section].(map[string]any)
	if !ok {
		inner = make(map[string]any)
		layer[section] = inner
	}
	inner[name] = value
}

func (s Settings) Validate() error {
	if !(s.ScaleFactor > 0) {
		return fmt.Errorf("invalid settings: scale_factor must be positive, got %v", s.ScaleFactor)
	}
	if s.NumBatches != nil && *s.NumBatches < 1 {
		return fmt.Errorf("invalid settings: num_batches must be positive, got %v", *s.NumBatches)
	}
	if !slices.Contains(IOTypes, s.Run.IOType) {
		return fmt.Errorf("invalid settings: run.io_type must be one of %v, got %q", IOTypes, s.Run.IOType)
	}
	if s.Run.Iterations < 1 {
		return fmt.Errorf("invalid settings: run.iterations must be at least 1, got %v", s.Run.Iterations)
	}
	if !slices.Contains(MemoryResources, s.Run.UseRmmMr) {
		return fmt.Errorf("invalid settings: run.use_rmm_mr must be one of %v, got %q", MemoryResources, s.Run.UseRmmMr)
	}
	if s.Plot.NQueries < 1 {
		return fmt.Errorf("invalid settings: plot.n_queries must be at least 1, got %v", s.Plot.NQueries)
	}
	return nil
}
