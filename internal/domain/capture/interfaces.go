package capture

import "context"

// Repository is the persistence gateway contract the registry needs:
// durable storage for every admitted capture.
type Repository interface {
	Persist(ctx context.Context, rec *Record) (string, error)
}
