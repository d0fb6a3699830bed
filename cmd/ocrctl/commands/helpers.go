package commands

import (
	"fmt"

	"github.com/ROD-LAR-GILLES/OCR-MVC/internal/storage"
)

// openStores connects to the stores named by DATABASE_URL and QDRANT_URL.
func openStores() (*storage.StorageManager, error) {
	sm, err := storage.NewStorageManager(storage.ManagerConfig{
		DatabaseURL:      cfg.DatabaseURL,
		QdrantURL:        cfg.QdrantURL,
		QdrantCollection: cfg.QdrantCollection,
	})
	if err != nil {
		return nil, err
	}
	if !sm.Enabled() {
		return nil, fmt.Errorf("no store configured; set DATABASE_URL or QDRANT_URL")
	}
	return sm, nil
}
