package stage

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/StevenACoffman/anotherr/errors"

	"github.com/rsm-dshonuyi/ETL-Project/pkg/etlerr"
)

// UploadCSV uploads the staged CSV at localPath to
// gs://bucket/objectName and removes the local file afterwards.
func UploadCSV(
	ctx context.Context,
	logger *zap.Logger,
	client *storage.Client,
	bucket, objectName, localPath string,
) error {
	logger.Info("uploading staged csv",
		zap.String("bucket", bucket), zap.String("object", objectName))

	stat, err := os.Stat(localPath)
	if err != nil {
		return errors.Wrap(err, "stat staged file "+localPath)
	}
	if !stat.Mode().IsRegular() {
		return errors.Newf("%s is not a regular file", localPath)
	}
	defer func() {
		_ = os.Remove(localPath)
	}()

	source, err := os.Open(localPath)
	if err != nil {
		return errors.Wrap(err, "opening staged file "+localPath)
	}
	defer func(source *os.File) {
		_ = source.Close()
	}(source)

	o := client.Bucket(bucket).Object(objectName)
	wc := o.NewWriter(ctx)
	if _, err = io.Copy(wc, source); err != nil {
		return etlerr.Wrap(etlerr.ErrConnection, err, "copying staged file to gcs")
	}
	if err = wc.Close(); err != nil {
		return etlerr.Wrapf(etlerr.ErrConnection, err,
			"closing gcs writer for %s", objectName)
	}

	_, err = o.Update(ctx, storage.ObjectAttrsToUpdate{
		ContentType:        "text/csv; charset=utf-8",
		ContentDisposition: "attachment;filename=" + filepath.Base(objectName),
	})
	if err != nil {
		return etlerr.Wrapf(etlerr.ErrConnection, err,
			"updating gcs object attrs for %s", objectName)
	}
	return nil
}
