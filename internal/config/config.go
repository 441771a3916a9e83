// Package config handles loading and parsing of rastore configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Backend names accepted in storage.backend.
const (
	BackendMemory    = "memory"
	BackendLocal     = "local"
	BackendS3        = "s3"
	BackendGCS       = "gcs"
	BackendAzure     = "azure"
	BackendDynamoDB  = "dynamodb"
	BackendSQLite    = "sqlite"
	BackendBadger    = "badger"
	BackendPebble    = "pebble"
	BackendFirestore = "firestore"
	BackendCosmos    = "cosmos"
)

// Backends lists every supported backend name.
var Backends = []string{
	BackendMemory, BackendLocal, BackendS3, BackendGCS, BackendAzure,
	BackendDynamoDB, BackendFirestore, BackendCosmos, BackendSQLite,
	BackendBadger, BackendPebble,
}

// Config is the top-level configuration for rastore.
type Config struct {
	Logging LoggingConfig `yaml:"logging"`
	Storage StorageConfig `yaml:"storage"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is one of "debug", "info", "warn", "error".
	Level string `yaml:"level"`
	// Format is "text" or "json".
	Format string `yaml:"format"`
}

// StorageConfig selects and configures the storage backend.
type StorageConfig struct {
	// Backend is the backend type (see Backends).
	Backend string `yaml:"backend"`
	// Name identifies the storage inside a blob store. Blob keys are
	// prefixed with it.
	Name string `yaml:"name"`

	Memory    MemoryConfig    `yaml:"memory"`
	Local     LocalConfig     `yaml:"local"`
	Blob      BlobConfig      `yaml:"blob"`
	AWS       AWSConfig       `yaml:"aws"`
	GCP       GCPConfig       `yaml:"gcp"`
	Azure     AzureConfig     `yaml:"azure"`
	DynamoDB  DynamoDBConfig  `yaml:"dynamodb"`
	Firestore FirestoreConfig `yaml:"firestore"`
	Cosmos    CosmosConfig    `yaml:"cosmos"`
	SQLite    SQLiteConfig    `yaml:"sqlite"`
	Badger    BadgerConfig    `yaml:"badger"`
	Pebble    PebbleConfig    `yaml:"pebble"`
}

// MemoryConfig holds in-memory backend settings.
type MemoryConfig struct {
	// MaxSize caps the storage length in bytes. Zero means unbounded.
	MaxSize uint64 `yaml:"max_size"`
	// SnapshotPath is an optional SQLite file used for persistence.
	SnapshotPath string `yaml:"snapshot_path"`
}

// LocalConfig holds local file backend settings.
type LocalConfig struct {
	// Path is the file the storage lives in.
	Path string `yaml:"path"`
	// AutoSync fsyncs after every mutation.
	AutoSync bool `yaml:"auto_sync"`
	// Lock takes an exclusive advisory lock on open.
	Lock bool `yaml:"lock"`
}

// BlobConfig holds settings shared by every blob store backend.
type BlobConfig struct {
	// BlockSize is the block size for newly created storages.
	BlockSize uint64 `yaml:"block_size"`
	// MaxSize caps the storage length in bytes. Zero means unbounded.
	MaxSize uint64 `yaml:"max_size"`
}

// AWSConfig holds S3 blob store settings.
type AWSConfig struct {
	Bucket       string `yaml:"bucket"`
	Region       string `yaml:"region"`
	Prefix       string `yaml:"prefix"`
	EndpointURL  string `yaml:"endpoint_url"`
	UsePathStyle bool   `yaml:"use_path_style"`
	// AccessKeyID and SecretAccessKey override the default credential chain.
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// GCPConfig holds GCS blob store settings.
type GCPConfig struct {
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`
}

// AzureConfig holds Azure Blob store settings.
type AzureConfig struct {
	Container string `yaml:"container"`
	// Account is the storage account name. Used to construct the account
	// URL https://{account}.blob.core.windows.net when AccountURL is empty.
	Account            string `yaml:"account"`
	AccountURL         string `yaml:"account_url"`
	Prefix             string `yaml:"prefix"`
	ConnectionString   string `yaml:"connection_string"`
	UseManagedIdentity bool   `yaml:"use_managed_identity"`
}

// DynamoDBConfig holds DynamoDB blob store settings.
type DynamoDBConfig struct {
	Table       string `yaml:"table"`
	Region      string `yaml:"region"`
	EndpointURL string `yaml:"endpoint_url"`
	Prefix      string `yaml:"prefix"`
}

// FirestoreConfig holds Firestore blob store settings.
type FirestoreConfig struct {
	ProjectID  string `yaml:"project_id"`
	Collection string `yaml:"collection"`
	// CredentialsFile is a service account key file. Empty uses
	// application default credentials.
	CredentialsFile string `yaml:"credentials_file"`
	Prefix          string `yaml:"prefix"`
}

// CosmosConfig holds Azure Cosmos DB blob store settings. The container
// must be partitioned on /type.
type CosmosConfig struct {
	Endpoint  string `yaml:"endpoint"`
	MasterKey string `yaml:"master_key"`
	Database  string `yaml:"database"`
	Container string `yaml:"container"`
	Prefix    string `yaml:"prefix"`
}

// SQLiteConfig holds SQLite blob store settings.
type SQLiteConfig struct {
	// Path is the filesystem path for the SQLite database file.
	Path string `yaml:"path"`
}

// BadgerConfig holds Badger blob store settings.
type BadgerConfig struct {
	Dir      string `yaml:"dir"`
	InMemory bool   `yaml:"in_memory"`
}

// PebbleConfig holds Pebble blob store settings.
type PebbleConfig struct {
	Dir string `yaml:"dir"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	// Enabled registers the collectors and instruments the storage.
	Enabled bool `yaml:"enabled"`
}

// Load reads a YAML configuration file from the given path and returns a
// parsed Config. A missing file, or an empty path, yields the defaults.
// Values from the environment, and from a .env file in the working
// directory, override the file.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("reading config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config file: %w", err)
			}
		}
	}

	applyDefaults(cfg)

	env, err := environment(".env")
	if err != nil {
		return nil, err
	}
	if err := applyEnv(cfg, env); err != nil {
		return nil, err
	}
	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Storage: StorageConfig{
			Backend: BackendLocal,
			Name:    "default",
			Local: LocalConfig{
				Path: "./data/rastore.bin",
			},
			Blob: BlobConfig{
				BlockSize: 64 * 1024,
			},
			Firestore: FirestoreConfig{
				Collection: "rastore",
			},
			SQLite: SQLiteConfig{
				Path: "./data/blobs.db",
			},
			Badger: BadgerConfig{
				Dir: "./data/badger",
			},
			Pebble: PebbleConfig{
				Dir: "./data/pebble",
			},
		},
	}
}

// applyDefaults fills in any fields that are still at their zero value
// after YAML unmarshaling.
func applyDefaults(cfg *Config) {
	d := defaultConfig()
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = d.Logging.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = d.Logging.Format
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = d.Storage.Backend
	}
	if cfg.Storage.Name == "" {
		cfg.Storage.Name = d.Storage.Name
	}
	if cfg.Storage.Local.Path == "" {
		cfg.Storage.Local.Path = d.Storage.Local.Path
	}
	if cfg.Storage.Blob.BlockSize == 0 {
		cfg.Storage.Blob.BlockSize = d.Storage.Blob.BlockSize
	}
	if cfg.Storage.Firestore.Collection == "" {
		cfg.Storage.Firestore.Collection = d.Storage.Firestore.Collection
	}
	if cfg.Storage.SQLite.Path == "" {
		cfg.Storage.SQLite.Path = d.Storage.SQLite.Path
	}
	if cfg.Storage.Badger.Dir == "" {
		cfg.Storage.Badger.Dir = d.Storage.Badger.Dir
	}
	if cfg.Storage.Pebble.Dir == "" {
		cfg.Storage.Pebble.Dir = d.Storage.Pebble.Dir
	}
	if cfg.Storage.Azure.AccountURL == "" && cfg.Storage.Azure.Account != "" {
		cfg.Storage.Azure.AccountURL = fmt.Sprintf("https://%s.blob.core.windows.net", cfg.Storage.Azure.Account)
	}
}

// lookupFunc returns the value of an environment variable and whether it
// is set.
type lookupFunc func(key string) (string, bool)

// environment returns a lookup over the process environment, falling back
// to the variables in dotenvPath. A missing dotenv file is ignored.
func environment(dotenvPath string) (lookupFunc, error) {
	dotenv, err := godotenv.Read(dotenvPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("reading %s: %w", dotenvPath, err)
		}
		dotenv = nil
	}
	return func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	}, nil
}

// applyEnv overrides configuration values from RASTORE_* variables.
func applyEnv(cfg *Config, lookup lookupFunc) error {
	texts := map[string]*string{
		"RASTORE_LOG_LEVEL":               &cfg.Logging.Level,
		"RASTORE_LOG_FORMAT":              &cfg.Logging.Format,
		"RASTORE_BACKEND":                 &cfg.Storage.Backend,
		"RASTORE_NAME":                    &cfg.Storage.Name,
		"RASTORE_MEMORY_SNAPSHOT":         &cfg.Storage.Memory.SnapshotPath,
		"RASTORE_LOCAL_PATH":              &cfg.Storage.Local.Path,
		"RASTORE_S3_BUCKET":               &cfg.Storage.AWS.Bucket,
		"RASTORE_S3_REGION":               &cfg.Storage.AWS.Region,
		"RASTORE_S3_PREFIX":               &cfg.Storage.AWS.Prefix,
		"RASTORE_S3_ENDPOINT_URL":         &cfg.Storage.AWS.EndpointURL,
		"RASTORE_GCS_BUCKET":              &cfg.Storage.GCP.Bucket,
		"RASTORE_GCS_PREFIX":              &cfg.Storage.GCP.Prefix,
		"RASTORE_AZURE_CONTAINER":         &cfg.Storage.Azure.Container,
		"RASTORE_AZURE_ACCOUNT_URL":       &cfg.Storage.Azure.AccountURL,
		"RASTORE_AZURE_CONNECTION_STRING": &cfg.Storage.Azure.ConnectionString,
		"RASTORE_DYNAMODB_TABLE":          &cfg.Storage.DynamoDB.Table,
		"RASTORE_DYNAMODB_REGION":         &cfg.Storage.DynamoDB.Region,
		"RASTORE_DYNAMODB_ENDPOINT_URL":   &cfg.Storage.DynamoDB.EndpointURL,
		"RASTORE_FIRESTORE_PROJECT_ID":    &cfg.Storage.Firestore.ProjectID,
		"RASTORE_FIRESTORE_COLLECTION":    &cfg.Storage.Firestore.Collection,
		"RASTORE_FIRESTORE_CREDENTIALS":   &cfg.Storage.Firestore.CredentialsFile,
		"RASTORE_COSMOS_ENDPOINT":         &cfg.Storage.Cosmos.Endpoint,
		"RASTORE_COSMOS_MASTER_KEY":       &cfg.Storage.Cosmos.MasterKey,
		"RASTORE_COSMOS_DATABASE":         &cfg.Storage.Cosmos.Database,
		"RASTORE_COSMOS_CONTAINER":        &cfg.Storage.Cosmos.Container,
		"RASTORE_SQLITE_PATH":             &cfg.Storage.SQLite.Path,
		"RASTORE_BADGER_DIR":              &cfg.Storage.Badger.Dir,
		"RASTORE_PEBBLE_DIR":              &cfg.Storage.Pebble.Dir,
	}
	for key, dst := range texts {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}

	sizes := map[string]*uint64{
		"RASTORE_MEMORY_MAX_SIZE": &cfg.Storage.Memory.MaxSize,
		"RASTORE_BLOCK_SIZE":      &cfg.Storage.Blob.BlockSize,
	}
	for key, dst := range sizes {
		if v, ok := lookup(key); ok {
			n, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				return fmt.Errorf("parsing %s: %w", key, err)
			}
			*dst = n
		}
	}

	flags := map[string]*bool{
		"RASTORE_LOCAL_AUTO_SYNC": &cfg.Storage.Local.AutoSync,
		"RASTORE_LOCAL_LOCK":      &cfg.Storage.Local.Lock,
		"RASTORE_METRICS":         &cfg.Metrics.Enabled,
	}
	for key, dst := range flags {
		if v, ok := lookup(key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("parsing %s: %w", key, err)
			}
			*dst = b
		}
	}
	return nil
}

// Validate checks that the selected backend is known and has the settings
// it needs.
func (c *Config) Validate() error {
	s := c.Storage
	switch strings.ToLower(s.Backend) {
	case BackendMemory:
	case BackendLocal:
		if s.Local.Path == "" {
			return errors.New("storage.local.path is required")
		}
	case BackendS3:
		if s.AWS.Bucket == "" {
			return errors.New("storage.aws.bucket is required for the s3 backend")
		}
	case BackendGCS:
		if s.GCP.Bucket == "" {
			return errors.New("storage.gcp.bucket is required for the gcs backend")
		}
	case BackendAzure:
		if s.Azure.Container == "" {
			return errors.New("storage.azure.container is required for the azure backend")
		}
		if s.Azure.AccountURL == "" && s.Azure.ConnectionString == "" {
			return errors.New("storage.azure.account_url or connection_string is required for the azure backend")
		}
	case BackendDynamoDB:
		if s.DynamoDB.Table == "" {
			return errors.New("storage.dynamodb.table is required for the dynamodb backend")
		}
	case BackendFirestore:
		if s.Firestore.ProjectID == "" {
			return errors.New("storage.firestore.project_id is required for the firestore backend")
		}
	case BackendCosmos:
		if s.Cosmos.Endpoint == "" {
			return errors.New("storage.cosmos.endpoint is required for the cosmos backend")
		}
		if s.Cosmos.Database == "" || s.Cosmos.Container == "" {
			return errors.New("storage.cosmos.database and container are required for the cosmos backend")
		}
	case BackendSQLite:
		if s.SQLite.Path == "" {
			return errors.New("storage.sqlite.path is required for the sqlite backend")
		}
	case BackendBadger:
		if s.Badger.Dir == "" && !s.Badger.InMemory {
			return errors.New("storage.badger.dir is required unless in_memory is set")
		}
	case BackendPebble:
		if s.Pebble.Dir == "" {
			return errors.New("storage.pebble.dir is required for the pebble backend")
		}
	default:
		return fmt.Errorf("unknown storage backend %q (want one of %s)", s.Backend, strings.Join(Backends, ", "))
	}
	if s.Name == "" {
		return errors.New("storage.name must not be empty")
	}
	return nil
}
