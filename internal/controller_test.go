package internal

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dcrodman/chatrelay/internal/chatclient"
	"github.com/dcrodman/chatrelay/internal/core"
)

func newTestConfig(t *testing.T) *core.Config {
	t.Helper()

	cfg, err := core.LoadConfig("")
	if err != nil {
		t.Fatalf("error loading default config: %v", err)
	}
	cfg.Hostname = "127.0.0.1"
	cfg.Logging.LogFilePath = filepath.Join(t.TempDir(), "relay.log")
	return cfg
}

func TestController_Session(t *testing.T) {
	cfg := newTestConfig(t)
	c := &Controller{Config: cfg, Port: 0, ExpectedClients: 1}
	defer c.Shutdown()

	if err := c.Init(); err != nil {
		t.Fatalf("Init() returned an unexpected error: %v", err)
	}
	if c.Addr() == nil {
		t.Fatal("Addr() should be set after Init()")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	quiet := logrus.New()
	quiet.Out = io.Discard
	result, err := chatclient.Run(ctx, chatclient.Config{
		ServerAddr:   c.Addr().String(),
		MessageCount: 3,
		Logger:       quiet,
	})
	if err != nil {
		t.Fatalf("client failed: %v", err)
	}
	if result.Received != 3 || !result.ServerDone {
		t.Errorf("client want 3 messages and a done frame, got %+v", result)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() returned an unexpected error: %v", err)
		}
	case <-ctx.Done():
		t.Fatal("controller did not exit after the session ended")
	}

	c.Shutdown()
	logs, err := os.ReadFile(cfg.Logging.LogFilePath)
	if err != nil {
		t.Fatalf("error reading log file: %v", err)
	}
	for _, want := range []string{"relay listening", "finished sending", "exited"} {
		if !strings.Contains(string(logs), want) {
			t.Errorf("log file missing %q", want)
		}
	}
}

func TestController_InitErrors(t *testing.T) {
	tests := []struct {
		name       string
		controller func(t *testing.T) *Controller
	}{
		{
			name:       "no config",
			controller: func(t *testing.T) *Controller { return &Controller{ExpectedClients: 1} },
		},
		{
			name: "bad log level",
			controller: func(t *testing.T) *Controller {
				cfg := newTestConfig(t)
				cfg.Logging.LogLevel = "loud"
				return &Controller{Config: cfg, ExpectedClients: 1}
			},
		},
		{
			name: "no expected clients",
			controller: func(t *testing.T) *Controller {
				return &Controller{Config: newTestConfig(t), ExpectedClients: 0}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := tt.controller(t)
			defer c.Shutdown()
			if err := c.Start(context.Background()); err == nil {
				t.Error("Start() should have failed")
			}
		})
	}
}
