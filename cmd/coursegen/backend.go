package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/dusk-indust/coursegen/internal/config"
	"github.com/dusk-indust/coursegen/internal/course"
	"github.com/dusk-indust/coursegen/internal/mockserver"
	"github.com/dusk-indust/coursegen/internal/orchestrator"
	"github.com/dusk-indust/coursegen/internal/store"
)

// backend bundles the three collaborator contracts a command needs.
type backend struct {
	client *course.HTTPClient
	close  func() error
}

func (b *backend) Close() error {
	if b.close == nil {
		return nil
	}
	return b.close()
}

// openBackend connects to the configured backend. The memory and kuzu
// stores run the scripted course service in-process on a loopback port, so
// every command talks to the same REST and streaming surface.
func (a *app) openBackend(ctx context.Context) (*backend, error) {
	timeout := a.cfg.RequestTimeoutDuration()
	switch a.cfg.Store {
	case config.StoreHTTP:
		return &backend{client: course.NewHTTPClient(a.cfg.BaseURL,
			course.WithTimeout(timeout), course.WithLogger(a.logger))}, nil
	case config.StoreMemory:
		return a.local(ctx, store.NewMemStore(), nil)
	case config.StoreKuzu:
		db, closeDB, err := openKuzu(a.cfg.KuzuPath)
		if err != nil {
			return nil, err
		}
		return a.local(ctx, db, closeDB)
	}
	return nil, fmt.Errorf("unknown store %q", a.cfg.Store)
}

func (a *app) local(ctx context.Context, db mockserver.Backend, closeDB func() error) (*backend, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		if closeDB != nil {
			_ = closeDB()
		}
		return nil, fmt.Errorf("start local service: %w", err)
	}
	srvCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	srv := mockserver.New(db, mockserver.WithLogger(a.logger))
	served := make(chan error, 1)
	go func() { served <- srv.Serve(srvCtx, ln) }()

	client := course.NewHTTPClient("http://"+ln.Addr().String(),
		course.WithTimeout(a.cfg.RequestTimeoutDuration()), course.WithLogger(a.logger))
	return &backend{
		client: client,
		close: func() error {
			cancel()
			err := <-served
			if closeDB != nil {
				err = errors.Join(err, closeDB())
			}
			return err
		},
	}, nil
}

// resolveCourse returns the course named by id, or the configured one, or
// creates a new course from info.
func (a *app) resolveCourse(ctx context.Context, b *backend, id string, info course.Info) (*course.Course, error) {
	if id == "" {
		id = a.cfg.CourseID
	}
	if id != "" {
		c, err := b.client.Get(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load course %s: %w", id, err)
		}
		return c, nil
	}
	if info.Title == "" {
		return nil, errors.New("no course: pass --course, set courseID in the config, or give --title to create one")
	}
	c, err := b.client.Create(ctx, info)
	if err != nil {
		return nil, fmt.Errorf("create course: %w", err)
	}
	a.logger.Info("course created", "id", c.ID, "title", c.Title)
	return c, nil
}

// openSession builds an engine session for c with its conversation loaded.
func (a *app) openSession(ctx context.Context, b *backend, c *course.Course) (*orchestrator.Session, error) {
	cfg, err := a.cfg.ToOrchestrator()
	if err != nil {
		return nil, err
	}
	s := orchestrator.NewSession(cfg, c, b.client, b.client,
		orchestrator.WithLogger(a.logger),
		orchestrator.WithConversations(b.client))
	if err := s.Chat().Load(ctx); err != nil {
		a.logger.Warn("loading conversation failed", "error", err)
	}
	return s, nil
}

// closeSession stops the session and waits for its pending writes within
// the teardown timeout.
func (a *app) closeSession(s *orchestrator.Session) {
	s.Close()
	timeout := 5 * time.Second
	if cfg, err := a.cfg.ToOrchestrator(); err == nil {
		timeout = cfg.TeardownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := s.Drain(ctx); err != nil {
		a.logger.Warn("pending saves did not finish", "error", err)
	}
}
