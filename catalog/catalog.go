package catalog

import "context"

// Catalog is the scene source the gateway reads from.
type Catalog interface {
	Search(ctx context.Context, req SearchRequest) (*SearchResult, error)
	GetScene(ctx context.Context, collection, id string) (*Scene, error)
	Collections(ctx context.Context) ([]Collection, error)
}
