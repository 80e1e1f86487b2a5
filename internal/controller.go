package internal

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/dcrodman/chatrelay/internal/core"
	"github.com/dcrodman/chatrelay/internal/core/debug"
	"github.com/dcrodman/chatrelay/internal/relay"
)

// Controller is the main entrypoint for the relay. It's responsible for
// initializing any shared resources (logging and debug utilities), setting up
// the relay server, and running it until the session ends.
type Controller struct {
	Config          *core.Config
	Port            int
	ExpectedClients int

	logger      *logrus.Logger
	logCloser   io.Closer
	debugServer *http.Server
	server      *relay.Server
}

// Start initializes everything and blocks until the session is over.
func (c *Controller) Start(ctx context.Context) error {
	defer c.Shutdown()

	if err := c.Init(); err != nil {
		return err
	}
	return c.Run(ctx)
}

// Init sets up logging and binds the relay's socket without accepting any
// connections yet.
func (c *Controller) Init() error {
	if c.Config == nil {
		return fmt.Errorf("controller has no config")
	}

	var err error
	// Set up the logger, which will be used by the relay and every client.
	c.logger, c.logCloser, err = core.NewLogger(c.Config)
	if err != nil {
		return fmt.Errorf("error initializing logger: %w", err)
	}

	// Start any debug utilities if we're configured to do so.
	if c.Config.Debugging.Enabled {
		c.debugServer = debug.StartUtilities(c.logger, c.Config.Debugging.PprofPort)
	}

	c.server = &relay.Server{
		Address:         c.Config.ListenAddress(c.Port),
		ExpectedClients: c.ExpectedClients,
		Config:          c.Config,
		Logger:          c.logger,
	}
	if err := c.server.Listen(); err != nil {
		return fmt.Errorf("error starting relay server: %w", err)
	}
	return nil
}

// Run serves the relay session. Init must have succeeded first.
func (c *Controller) Run(ctx context.Context) error {
	c.logger.Infof("relay listening on %v for %d clients", c.server.Addr(), c.ExpectedClients)
	if err := c.server.Run(ctx); err != nil {
		return fmt.Errorf("relay server failed: %w", err)
	}
	return nil
}

// Addr is the address the relay is bound to, or nil before Init.
func (c *Controller) Addr() *net.TCPAddr {
	if c.server == nil {
		return nil
	}
	return c.server.Addr()
}

// Shutdown releases the shared resources. The relay itself shuts down through
// the context passed to Run.
func (c *Controller) Shutdown() {
	if c.server != nil {
		c.server.Shutdown()
	}
	if c.debugServer != nil {
		_ = c.debugServer.Close()
		c.debugServer = nil
	}
	if c.logCloser != nil {
		_ = c.logCloser.Close()
		c.logCloser = nil
	}
}
