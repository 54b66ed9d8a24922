//go:build cgo

package main

import (
	"fmt"

	"github.com/dusk-indust/coursegen/internal/mockserver"
	"github.com/dusk-indust/coursegen/internal/store"
)

func openKuzu(path string) (mockserver.Backend, func() error, error) {
	db, err := store.NewKuzuFileStore(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open kuzu store %s: %w", path, err)
	}
	return db, db.Close, nil
}
