package hpo

import (
	"context"

	"cloud.google.com/go/storage"
	"github.com/carbocation/pfx"
)

// BucketAccessConfigured reports whether the running service account can
// write objects into the site's bucket. Sites must grant access before
// registration proceeds.
func BucketAccessConfigured(ctx context.Context, bucketName string) (bool, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return false, pfx.Err(err)
	}
	defer client.Close()

	perms, err := client.Bucket(bucketName).IAM().TestPermissions(ctx, []string{"storage.objects.create"})
	if err != nil {
		return false, pfx.Err(err)
	}

	return len(perms) >= 1, nil
}
