package repository

import (
	"context"
)

// Open returns a PostgresRepository when databaseURI is set and a
// FileRepository rooted at dataDir otherwise
func Open(ctx context.Context, databaseURI, dataDir string) (Repository, error) {
	if databaseURI != "" {
		repo, err := NewPostgresRepository(ctx, databaseURI)
		if err != nil {
			return nil, err
		}
		return repo, nil
	}

	repo, err := NewFileRepository(dataDir)
	if err != nil {
		return nil, err
	}
	return repo, nil
}
