package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/minio/minio-go/v7"

	"github.com/fleetgrid-labs/fleetgrid-go/internal/platform/objectstore"
)

// ObjectDocumentStore keeps contract documents in object storage: rendered
// agreements in the contracts bucket, execution records in the signed
// bucket.
type ObjectDocumentStore struct {
	client *minio.Client
	cfg    objectstore.Config
}

func NewObjectDocumentStore(client *minio.Client, cfg objectstore.Config) (*ObjectDocumentStore, error) {
	if client == nil {
		return nil, errors.New("object store client is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &ObjectDocumentStore{client: client, cfg: cfg}, nil
}

func (d *ObjectDocumentStore) PutContractDocument(ctx context.Context, contractID string, payload []byte) (string, error) {
	key := fmt.Sprintf("%s/agreement.txt", contractID)
	if err := objectstore.PutDocument(ctx, d.client, d.cfg.BucketContracts, key, "text/plain", payload); err != nil {
		return "", err
	}
	return key, nil
}

func (d *ObjectDocumentStore) ArchiveSignedDocument(ctx context.Context, contractID string, payload []byte) (string, error) {
	key := fmt.Sprintf("%s/execution-record.json", contractID)
	if err := objectstore.PutDocument(ctx, d.client, d.cfg.BucketSigned, key, "application/json", payload); err != nil {
		return "", err
	}
	return key, nil
}
