// Package internal wires the shared resources (config, logging, database,
// keystore) to the connection frontend and the game server collaborator.
package internal

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/NailLegProcessorDivide/Pumpkin/internal/auth"
	"github.com/NailLegProcessorDivide/Pumpkin/internal/core"
	"github.com/NailLegProcessorDivide/Pumpkin/internal/data"
	"github.com/NailLegProcessorDivide/Pumpkin/internal/keystore"
	"github.com/NailLegProcessorDivide/Pumpkin/internal/proxy"
	"github.com/NailLegProcessorDivide/Pumpkin/internal/server"
	"github.com/NailLegProcessorDivide/Pumpkin/internal/session"
)

// Controller is the main entrypoint. It's responsible for initializing the
// shared resources, constructing the game server and frontend, and running
// everything until the context is canceled.
type Controller struct {
	Config *core.Config

	logger *logrus.Logger
	db     *gorm.DB
	server *server.Server
	wg     sync.WaitGroup
}

func (c *Controller) Start(ctx context.Context) error {
	var err error
	// Set up the logger, which is shared by every subsystem.
	c.logger, err = core.NewLogger(c.Config)
	if err != nil {
		return fmt.Errorf("error initializing logger: %w", err)
	}

	c.db, err = data.Initialize(c.Config.Database.Filename, c.Config.Debugging.PacketLoggingEnabled)
	if err != nil {
		return fmt.Errorf("error initializing database: %w", err)
	}
	defer func() {
		if err := data.Shutdown(c.db); err != nil {
			c.logger.Warnf("error closing database: %v", err)
		}
	}()

	keyStore, err := keystore.New()
	if err != nil {
		return fmt.Errorf("error initializing keystore: %w", err)
	}

	deps := &session.Deps{
		Config:   c.Config,
		Logger:   c.logger,
		KeyStore: keyStore,
	}

	if c.Config.OnlineMode {
		deps.Auth, err = auth.NewClient(c.Config, c.logger)
		if err != nil {
			return fmt.Errorf("error initializing auth client: %w", err)
		}
	}
	if c.Config.ProxyMode() == core.ProxyModeVelocity {
		deps.Velocity = proxy.NewVelocity(c.Config.Proxy.Velocity.Secret)
	}

	c.server = server.New(c.Config, c.logger, c.db)
	defer c.server.Close()
	deps.Server = c.server

	c.logger.Infof("starting in %s mode (online=%v, proxy=%s)",
		modeName(c.Config), c.Config.OnlineMode, c.Config.ProxyMode())

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		f := &frontend{
			Address:  c.Config.BindAddress,
			Deps:     deps,
			Logger:   c.logger,
			Register: c.server.Register,
		}
		if err := f.Start(ctx, &c.wg); err != nil {
			return err
		}
		c.wg.Wait()
		return nil
	})

	return g.Wait()
}

func modeName(cfg *core.Config) string {
	if cfg.ProxyMode() != core.ProxyModeNone {
		return "proxied"
	}
	if cfg.OnlineMode {
		return "online"
	}
	return "offline"
}
