package identity

import (
	"context"

	"cloutfeed/go-backend/pkg/models"
)

// CredentialStore is the persisted identity/key pair registry the Manager
// writes through.
type CredentialStore interface {
	ListPublicKeys(ctx context.Context) ([]string, error)
	GetIdentity(ctx context.Context, publicKey string) (models.Identity, models.EncryptionKey, error)
	PutIdentity(ctx context.Context, id models.Identity, key models.EncryptionKey) error
	RemoveIdentity(ctx context.Context, publicKey string) error
	IsDerived(ctx context.Context, publicKey string) (bool, error)
}
