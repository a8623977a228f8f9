package config

import (
	"context"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func waitForLevel(t *testing.T, logger *logrus.Logger, want logrus.Level) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if logger.GetLevel() == want {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("log level never reached %s, still %s", want, logger.GetLevel())
}

func TestReloaderAppliesLogLevelOnFileChange(t *testing.T) {
	path := writeConfig(t, validYAML())

	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(logrus.InfoLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := NewReloader(path, logger)
	go func() {
		_ = r.Watch(ctx)
	}()

	// Give the watcher time to register before modifying the file.
	time.Sleep(200 * time.Millisecond)

	if err := os.WriteFile(path, []byte(validYAML()), 0o600); err != nil {
		t.Fatalf("failed to rewrite config: %v", err)
	}

	waitForLevel(t, logger, logrus.DebugLevel)
}

func TestReloaderSIGHUP(t *testing.T) {
	path := writeConfig(t, validYAML())

	logger := logrus.New()
	logger.SetLevel(logrus.InfoLevel)

	reloaded := make(chan *Config, 1)
	r := NewReloader(path, logger)
	r.OnReload = func(cfg *Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = r.Watch(ctx)
	}()
	time.Sleep(200 * time.Millisecond)

	if err := syscall.Kill(syscall.Getpid(), syscall.SIGHUP); err != nil {
		t.Fatalf("failed to send SIGHUP: %v", err)
	}

	select {
	case cfg := <-reloaded:
		if cfg.LogLevel != "debug" {
			t.Errorf("expected reloaded log_level debug, got %s", cfg.LogLevel)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("reload callback never fired after SIGHUP")
	}
}

func TestReloaderKeepsOldConfigOnError(t *testing.T) {
	path := writeConfig(t, validYAML())

	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)

	r := NewReloader(path, logger)

	if err := os.WriteFile(path, []byte("log_level: [broken"), 0o600); err != nil {
		t.Fatalf("failed to corrupt config: %v", err)
	}
	r.reload()

	if logger.GetLevel() != logrus.DebugLevel {
		t.Errorf("log level changed despite reload failure: %s", logger.GetLevel())
	}
}
