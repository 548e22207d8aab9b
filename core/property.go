package core

import "context"

// PropertyStore is the persisted key/value surface the credential
// records live in. Get leaves value untouched when the key is absent.
type PropertyStore interface {
	Get(ctx context.Context, key string, value any) error
	Set(ctx context.Context, key string, value any) error
	Delete(ctx context.Context, key string) error
}
