package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	NATS        NATSConfig        `yaml:"nats"`
	MinIO       MinIOConfig       `yaml:"minio"`
	Vision      VisionConfig      `yaml:"vision"`
	VectorIndex VectorIndexConfig `yaml:"vector_index"`
	Ingest      IngestConfig      `yaml:"ingest"`
	Logging     LoggingConfig     `yaml:"logging"`
}

type ServerConfig struct {
	Port        int    `yaml:"port"`
	MetricsPort int    `yaml:"metrics_port"`
	APIKey      string `yaml:"api_key"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	MaxConns int    `yaml:"max_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

type NATSConfig struct {
	URL string `yaml:"url"`
}

type MinIOConfig struct {
	Endpoint  string        `yaml:"endpoint"`
	AccessKey string        `yaml:"access_key"`
	SecretKey string        `yaml:"secret_key"`
	Bucket    string        `yaml:"bucket"`
	UseSSL    bool          `yaml:"use_ssl"`
	URLExpiry time.Duration `yaml:"url_expiry"`
}

type VisionConfig struct {
	ModelsDir          string  `yaml:"models_dir"`
	DetectionThreshold float64 `yaml:"detection_threshold"`
	// MinFaceSize drops detections whose shorter side is below this many pixels.
	MinFaceSize int `yaml:"min_face_size"`
	// ORTLibPath is the ONNX Runtime shared library. Empty uses the platform default name.
	ORTLibPath string `yaml:"ort_lib_path"`
}

// VectorIndexBackend selects the vector index implementation.
type VectorIndexBackend string

const (
	VectorIndexPGVector VectorIndexBackend = "pgvector"
	VectorIndexHNSW     VectorIndexBackend = "hnsw"
)

type VectorIndexConfig struct {
	Backend   VectorIndexBackend `yaml:"backend"`
	Dimension int                `yaml:"dimension"`
	// QueryK is the neighbour count requested per search.
	QueryK int `yaml:"query_k"`
	// MaxDistance is the relevance threshold on normalised [0,1] distance.
	MaxDistance float64 `yaml:"max_distance"`
	// HNSWPath is where the in-process index is persisted. Empty keeps it in memory only.
	HNSWPath string `yaml:"hnsw_path"`
}

type IngestConfig struct {
	FaceConcurrency   int           `yaml:"face_concurrency"`
	UploadConcurrency int           `yaml:"upload_concurrency"`
	RemovalWorkers    int           `yaml:"removal_workers"`
	MaxUploadBytes    int64         `yaml:"max_upload_bytes"`
	StaleAfter        time.Duration `yaml:"stale_after"`
	SweepSchedule     string        `yaml:"sweep_schedule"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads config from YAML file, an optional .env file and environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// .env is optional; real environment variables win over it.
	_ = godotenv.Load()

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports settings that cannot be defaulted.
func (c *Config) Validate() error {
	switch c.VectorIndex.Backend {
	case VectorIndexPGVector, VectorIndexHNSW:
	default:
		return fmt.Errorf("unknown vector index backend %q", c.VectorIndex.Backend)
	}
	if c.VectorIndex.MaxDistance < 0 || c.VectorIndex.MaxDistance > 1 {
		return fmt.Errorf("vector_index.max_distance must be within [0,1], got %v", c.VectorIndex.MaxDistance)
	}
	return nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.MetricsPort == 0 {
		cfg.Server.MetricsPort = 8082
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 20
	}
	if cfg.MinIO.Bucket == "" {
		cfg.MinIO.Bucket = "photos"
	}
	if cfg.MinIO.URLExpiry == 0 {
		cfg.MinIO.URLExpiry = 15 * time.Minute
	}
	if cfg.Vision.DetectionThreshold == 0 {
		cfg.Vision.DetectionThreshold = 0.5
	}
	if cfg.Vision.MinFaceSize == 0 {
		cfg.Vision.MinFaceSize = 20
	}
	if cfg.VectorIndex.Backend == "" {
		cfg.VectorIndex.Backend = VectorIndexPGVector
	}
	if cfg.VectorIndex.Dimension == 0 {
		cfg.VectorIndex.Dimension = 512
	}
	if cfg.VectorIndex.QueryK == 0 {
		cfg.VectorIndex.QueryK = 20
	}
	if cfg.VectorIndex.MaxDistance == 0 {
		cfg.VectorIndex.MaxDistance = 0.3
	}
	if cfg.Ingest.FaceConcurrency == 0 {
		cfg.Ingest.FaceConcurrency = 1
	}
	if cfg.Ingest.UploadConcurrency == 0 {
		cfg.Ingest.UploadConcurrency = 4
	}
	if cfg.Ingest.RemovalWorkers == 0 {
		cfg.Ingest.RemovalWorkers = 2
	}
	if cfg.Ingest.MaxUploadBytes == 0 {
		cfg.Ingest.MaxUploadBytes = 25 << 20
	}
	if cfg.Ingest.StaleAfter == 0 {
		cfg.Ingest.StaleAfter = 30 * time.Minute
	}
	if cfg.Ingest.SweepSchedule == "" {
		cfg.Ingest.SweepSchedule = "@every 5m"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PF_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("PF_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("PF_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("PF_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("PF_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("PF_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("PF_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("PF_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("PF_MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	if v := os.Getenv("PF_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("PF_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv("PF_MINIO_BUCKET"); v != "" {
		cfg.MinIO.Bucket = v
	}
	if v := os.Getenv("PF_MODELS_DIR"); v != "" {
		cfg.Vision.ModelsDir = v
	}
	if v := os.Getenv("PF_ORT_LIB"); v != "" {
		cfg.Vision.ORTLibPath = v
	}
	if v := os.Getenv("PF_VECTOR_BACKEND"); v != "" {
		cfg.VectorIndex.Backend = VectorIndexBackend(v)
	}
	if v := os.Getenv("PF_VECTOR_MAX_DISTANCE"); v != "" {
		if d, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.VectorIndex.MaxDistance = d
		}
	}
	if v := os.Getenv("PF_FACE_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Ingest.FaceConcurrency = n
		}
	}
	if v := os.Getenv("PF_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}
