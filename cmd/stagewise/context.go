package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"stagewise/internal/chain"
	"stagewise/internal/config"
	"stagewise/internal/ipc"
	"stagewise/internal/processors"
	"stagewise/internal/queueaccess"
	"stagewise/internal/storage"
)

type commandContext struct {
	socketFlag *string
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(socketFlag, configFlag *string) *commandContext {
	return &commandContext{
		socketFlag: socketFlag,
		configFlag: configFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) configPath() string {
	if c.configFlag == nil {
		return ""
	}
	return strings.TrimSpace(*c.configFlag)
}

func (c *commandContext) socketPath() string {
	if c.socketFlag != nil && strings.TrimSpace(*c.socketFlag) != "" {
		return *c.socketFlag
	}
	if cfg, err := c.ensureConfig(); err == nil {
		return cfg.SocketPath()
	}
	return ""
}

func (c *commandContext) withClient(fn func(*ipc.Client) error) error {
	client, err := c.dialClient()
	if err != nil {
		return err
	}
	defer client.Close()
	return fn(client)
}

func (c *commandContext) dialClient() (*ipc.Client, error) {
	socket := c.socketPath()
	client, err := ipc.Dial(socket)
	if err != nil {
		return nil, wrapDialError(err, socket)
	}
	return client, nil
}

// withAccess runs fn against the daemon when it answers, otherwise against
// the store directly.
func (c *commandContext) withAccess(cmd *cobra.Command, fn func(queueaccess.Access) error) error {
	session, err := queueaccess.OpenWithFallback(
		func() (*ipc.Client, error) { return ipc.Dial(c.socketPath()) },
		func() (storage.Backend, chain.Definitions, error) { return c.openStore(cmd.Context()) },
	)
	if err != nil {
		return err
	}
	defer session.Close()
	return fn(session.Access)
}

func (c *commandContext) openStore(ctx context.Context) (storage.Backend, chain.Definitions, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, nil, err
	}
	chains, err := processors.LoadDefinitions(cfg.Paths.ChainsFile)
	if err != nil {
		return nil, nil, err
	}
	store, err := storage.Open(ctx, cfg, chains)
	if err != nil {
		return nil, nil, err
	}
	return store, chains, nil
}

func wrapDialError(err error, socket string) error {
	switch {
	case errors.Is(err, syscall.ENOENT) || os.IsNotExist(err):
		return fmt.Errorf("connect to daemon: socket %s not found; start the daemon with `stagewise start`", socket)
	case errors.Is(err, syscall.ECONNREFUSED):
		return fmt.Errorf("connect to daemon: socket %s refused the connection; verify the daemon is running", socket)
	default:
		return fmt.Errorf("connect to daemon: %w", err)
	}
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
