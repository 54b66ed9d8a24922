//go:build !cgo

package main

import (
	"errors"

	"github.com/dusk-indust/coursegen/internal/mockserver"
)

func openKuzu(string) (mockserver.Backend, func() error, error) {
	return nil, nil, errors.New("the kuzu store needs a build with CGO_ENABLED=1")
}
