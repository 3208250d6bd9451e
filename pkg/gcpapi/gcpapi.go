// Package gcpapi constructs the GCP clients the pipeline talks through:
// BigQuery for the warehouse and marketplace feed, Cloud Storage for the
// load stage. Credentials come from an optional service-account JSON file;
// with no file configured, application-default credentials apply.
package gcpapi

import (
	"context"
	"os"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/StevenACoffman/anotherr/errors"

	"github.com/rsm-dshonuyi/ETL-Project/pkg/etlerr"
)

// ReadCredentials loads the service-account JSON at credFilePath. An empty
// path means "use application-default credentials" and returns no bytes.
func ReadCredentials(credFilePath string) ([]byte, error) {
	if credFilePath == "" {
		return nil, nil
	}
	info, err := os.Stat(credFilePath)
	if err != nil || info.IsDir() {
		return nil, etlerr.Wrapf(etlerr.ErrConfiguration, err,
			"credentials file %s is not readable", credFilePath)
	}
	credentials, err := os.ReadFile(credFilePath)
	if err != nil {
		return nil, etlerr.Wrapf(etlerr.ErrConfiguration, err,
			"reading credentials file %s", credFilePath)
	}
	return credentials, nil
}

// NewBigQueryClient opens the warehouse client for the given project.
func NewBigQueryClient(ctx context.Context, project string, credentials []byte) (*bigquery.Client, error) {
	var client *bigquery.Client
	var err error
	if len(credentials) > 0 {
		client, err = bigquery.NewClient(ctx, project, option.WithCredentialsJSON(credentials))
	} else {
		client, err = bigquery.NewClient(ctx, project)
	}
	return client, errors.Wrap(err, "opening bigquery client")
}

// NewCloudStorageClient opens the stage bucket client.
func NewCloudStorageClient(ctx context.Context, credentials []byte) (*storage.Client, error) {
	var client *storage.Client
	var err error
	if len(credentials) > 0 {
		client, err = storage.NewClient(ctx, option.WithCredentialsJSON(credentials))
	} else {
		client, err = storage.NewClient(ctx)
	}
	return client, errors.Wrap(err, "opening cloud storage client")
}
