package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/spf13/pflag"
	bolt "go.etcd.io/bbolt"

	"github.com/funstudy/funstudy/api"
	"github.com/funstudy/funstudy/quiz"
	"github.com/funstudy/funstudy/storage"
	boltstore "github.com/funstudy/funstudy/storage/bbolt"
	dynamostore "github.com/funstudy/funstudy/storage/dynamodb"
	"github.com/funstudy/funstudy/storage/memory"
	"github.com/funstudy/funstudy/storage/postgres"
	"github.com/funstudy/funstudy/users"
)

// storeOptions selects and configures the document store backend.
type storeOptions struct {
	backend      string
	dataDir      string
	postgresDSN  string
	awsRegion    string
	awsEndpoint  string
	awsAccessKey string
	awsSecretKey string
}

var storeOpts storeOptions

// addStoreFlags registers the backend flags on fs. Every command that opens
// the store shares them.
func addStoreFlags(fs *pflag.FlagSet) {
	fs.StringVar(&storeOpts.backend, "store", "memory", "Document store backend: memory, bolt, dynamodb or postgres")
	fs.StringVar(&storeOpts.dataDir, "data-dir", "./data", "Directory for the bolt database file")
	fs.StringVar(&storeOpts.postgresDSN, "postgres-dsn", "", "Postgres connection string for the postgres backend")
	fs.StringVar(&storeOpts.awsRegion, "aws-region", "", "AWS region for DynamoDB and the user pool")
	fs.StringVar(&storeOpts.awsEndpoint, "aws-endpoint", "", "Override the DynamoDB endpoint, e.g. http://localhost:8000 for DynamoDB Local")
	fs.StringVar(&storeOpts.awsAccessKey, "aws-access-key-id", "", "Static AWS access key id; the default credential chain is used when empty")
	fs.StringVar(&storeOpts.awsSecretKey, "aws-secret-access-key", "", "Static AWS secret access key")
	bindEnv(fs, "store", "FUNSTUDY_STORE")
	bindEnv(fs, "data-dir", "FUNSTUDY_DATA_DIR")
	bindEnv(fs, "postgres-dsn", "FUNSTUDY_POSTGRES_DSN", "DATABASE_URL")
	bindEnv(fs, "aws-region", "AWS_REGION")
	bindEnv(fs, "aws-endpoint", "AWS_ENDPOINT")
	bindEnv(fs, "aws-access-key-id", "AWS_ACCESS_KEY_ID")
	bindEnv(fs, "aws-secret-access-key", "AWS_SECRET_ACCESS_KEY")
}

// loadAWSConfig resolves region and credentials. Static keys replace the
// default chain when both halves are set.
func loadAWSConfig(ctx context.Context, opts storeOptions) (aws.Config, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.awsRegion != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.awsRegion))
	}
	if opts.awsAccessKey != "" && opts.awsSecretKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.awsAccessKey, opts.awsSecretKey, ""),
		))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("loading AWS configuration: %w", err)
	}
	return cfg, nil
}

// openStore opens the configured backend. The returned close function is
// always safe to call.
func openStore(ctx context.Context, opts storeOptions) (storage.Store, func(), error) {
	noop := func() {}
	switch opts.backend {
	case "memory", "":
		return memory.NewStore(), noop, nil

	case "bolt":
		if err := os.MkdirAll(opts.dataDir, 0o700); err != nil {
			return nil, noop, fmt.Errorf("failed to create data directory: %w", err)
		}
		path := filepath.Join(opts.dataDir, "funstudy.db")
		store, err := boltstore.NewStoreFromFile(path, &bolt.Options{Timeout: 5 * time.Second})
		if err != nil {
			return nil, noop, fmt.Errorf("failed to open bolt store: %w", err)
		}
		return store, func() { _ = store.Close() }, nil

	case "postgres":
		if opts.postgresDSN == "" {
			return nil, noop, errors.New("--postgres-dsn is required for the postgres store")
		}
		store, err := postgres.NewStoreFromDSN(ctx, opts.postgresDSN)
		if err != nil {
			return nil, noop, err
		}
		return store, store.Close, nil

	case "dynamodb":
		cfg, err := loadAWSConfig(ctx, opts)
		if err != nil {
			return nil, noop, err
		}
		client := awsdynamodb.NewFromConfig(cfg, func(o *awsdynamodb.Options) {
			if opts.awsEndpoint != "" {
				o.BaseEndpoint = aws.String(opts.awsEndpoint)
			}
		})
		return dynamostore.NewStore(client), noop, nil
	}
	return nil, noop, fmt.Errorf("unknown store backend %q", opts.backend)
}

// coreTables are the non-question tables the service needs.
var coreTables = []storage.TableSpec{
	{Name: users.Table, KeyAttribute: users.KeyAttribute},
	{Name: quiz.AttemptsTable, KeyAttribute: quiz.AttemptKey},
	{Name: api.SessionsTable, KeyAttribute: api.SessionKeyAttribute},
}

// ensureTables creates every table in specs that does not exist yet and
// returns the names it created.
func ensureTables(ctx context.Context, store storage.Store, specs []storage.TableSpec) ([]string, error) {
	var created []string
	for _, spec := range specs {
		err := store.CreateTable(ctx, spec)
		if errors.Is(err, storage.ErrTableExists) {
			continue
		}
		if err != nil {
			return created, fmt.Errorf("creating table %s: %w", spec.Name, err)
		}
		slog.Info("table created", "table", spec.Name)
		created = append(created, spec.Name)
	}
	return created, nil
}
