package eventarchive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"cloud.google.com/go/bigquery"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
)

// DataBatchInserter inserts a batch of items into a data store.
type DataBatchInserter[T any] interface {
	// InsertBatch inserts a slice of items into the data store.
	InsertBatch(ctx context.Context, items []*T) error
	// Close handles any necessary cleanup of the inserter's resources.
	Close() error
}

// BigQueryDatasetConfig holds configuration for a BigQuery dataset and table.
type BigQueryDatasetConfig struct {
	ProjectID       string `yaml:"project_id"`
	DatasetID       string `yaml:"dataset_id"`
	TableID         string `yaml:"table_id"`
	CredentialsFile string `yaml:"credentials_file"` // Optional: Path to a service account JSON file.
}

// LoadBigQueryDatasetConfigFromEnv overrides cfg with any BigQuery settings
// found in the environment and checks that a table is named.
func LoadBigQueryDatasetConfigFromEnv(cfg *BigQueryDatasetConfig) error {
	if v := os.Getenv("GCP_PROJECT_ID"); v != "" {
		cfg.ProjectID = v
	}
	if v := os.Getenv("BQ_DATASET_ID"); v != "" {
		cfg.DatasetID = v
	}
	if v := os.Getenv("BQ_TABLE_ID"); v != "" {
		cfg.TableID = v
	}
	if v := os.Getenv("GCP_BQ_CREDENTIALS_FILE"); v != "" {
		cfg.CredentialsFile = v
	}
	if cfg.DatasetID == "" {
		return fmt.Errorf("BigQuery dataset id is not set")
	}
	if cfg.TableID == "" {
		return fmt.Errorf("BigQuery table id is not set")
	}
	return nil
}

// NewProductionBigQueryClient creates a BigQuery client. It uses Application
// Default Credentials unless a credentials file is given.
func NewProductionBigQueryClient(ctx context.Context, projectID string, credentialsFile string, logger zerolog.Logger) (*bigquery.Client, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
		logger.Info().Str("credentials_file", credentialsFile).Msg("Using specified credentials file for BigQuery client.")
	} else {
		logger.Info().Msg("Using Application Default Credentials (ADC) for BigQuery client.")
	}

	client, err := bigquery.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("bigquery.NewClient: %w", err)
	}
	logger.Info().Str("project_id", projectID).Msg("BigQuery client created successfully.")
	return client, nil
}

// BigQueryInserter streams batches of T into a BigQuery table.
type BigQueryInserter[T any] struct {
	inserter *bigquery.Inserter
	logger   zerolog.Logger
}

// NewBigQueryInserter creates an inserter for the configured table, creating
// the table from T's inferred schema if it does not exist.
func NewBigQueryInserter[T any](
	ctx context.Context,
	client *bigquery.Client,
	cfg *BigQueryDatasetConfig,
	logger zerolog.Logger,
) (*BigQueryInserter[T], error) {
	if client == nil {
		return nil, errors.New("bigquery client cannot be nil")
	}
	if cfg == nil {
		return nil, errors.New("BigQueryDatasetConfig cannot be nil")
	}

	logger = logger.With().
		Str("component", "BigQueryInserter").
		Str("dataset_id", cfg.DatasetID).
		Str("table_id", cfg.TableID).
		Logger()

	tableRef := client.Dataset(cfg.DatasetID).Table(cfg.TableID)
	if _, err := tableRef.Metadata(ctx); err != nil {
		if !strings.Contains(err.Error(), "notFound") {
			return nil, fmt.Errorf("failed to get BigQuery table metadata: %w", err)
		}
		logger.Warn().Msg("BigQuery table not found. Attempting to create with inferred schema.")
		var zero T
		schema, err := bigquery.InferSchema(zero)
		if err != nil {
			return nil, fmt.Errorf("failed to infer schema for type %T: %w", zero, err)
		}
		if err := tableRef.Create(ctx, &bigquery.TableMetadata{Schema: schema}); err != nil {
			return nil, fmt.Errorf("failed to create BigQuery table %s.%s: %w", cfg.DatasetID, cfg.TableID, err)
		}
		logger.Info().Int("field_count", len(schema)).Msg("BigQuery table created successfully.")
	}

	return &BigQueryInserter[T]{
		inserter: tableRef.Inserter(),
		logger:   logger,
	}, nil
}

// InsertBatch streams items to the table. Row level failures are logged
// individually and returned wrapped.
func (i *BigQueryInserter[T]) InsertBatch(ctx context.Context, items []*T) error {
	if len(items) == 0 {
		return nil
	}
	err := i.inserter.Put(ctx, items)
	if err != nil {
		var multiErr bigquery.PutMultiError
		if errors.As(err, &multiErr) {
			for _, rowErr := range multiErr {
				i.logger.Error().
					Int("row_index", rowErr.RowIndex).
					Msgf("BigQuery insert error for row: %v", rowErr.Errors)
			}
		}
		return fmt.Errorf("bigquery Inserter.Put failed for %d rows: %w", len(items), err)
	}
	i.logger.Debug().Int("batch_size", len(items)).Msg("Successfully inserted batch into BigQuery.")
	return nil
}

// Close is a no-op; the BigQuery client's lifecycle is managed by the caller.
func (i *BigQueryInserter[T]) Close() error {
	return nil
}
