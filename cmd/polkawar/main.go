// Command polkawar is the entry point for the wagering escrow service. It
// loads configuration, validates it, wires dependencies, sets up signal
// handling and runs the configured mode. With -encrypt-key it instead writes
// an encrypted administrator key file and exits.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alanyoungcy/polkawar/internal/app"
	"github.com/alanyoungcy/polkawar/internal/config"
	"github.com/alanyoungcy/polkawar/internal/crypto"
)

// keyPasswordEnv holds the password used by -encrypt-key.
const keyPasswordEnv = "POLKAWAR_KEY_PASSWORD"

func main() {
	configPath := flag.String("config", "config.toml", "path to configuration file")
	encryptKey := flag.String("encrypt-key", "", "hex private key to encrypt (password from "+keyPasswordEnv+")")
	keyOut := flag.String("key-out", "admin.key.json", "output path for -encrypt-key")
	flag.Parse()

	// Setup structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if *encryptKey != "" {
		if err := writeKey(*encryptKey, *keyOut); err != nil {
			logger.Error("failed to encrypt key", slog.String("error", err.Error()))
			os.Exit(1)
		}
		logger.Info("encrypted key written", slog.String("path", *keyOut))
		return
	}

	// Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	// Set log level from config.
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("polkawar starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", *configPath),
		slog.Any("settings", config.RedactedConfig(cfg)),
	)

	application := app.New(cfg, logger)
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		// context.Canceled is expected on clean shutdown.
		if errors.Is(err, context.Canceled) {
			logger.Info("application shut down gracefully")
		} else {
			logger.Error("application exited with error",
				slog.String("error", err.Error()),
			)
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			application.Close()
			os.Exit(1)
		}
	}

	logger.Info("polkawar stopped")
}

func writeKey(privateKeyHex, path string) error {
	password := os.Getenv(keyPasswordEnv)
	if password == "" {
		return fmt.Errorf("%s must be set", keyPasswordEnv)
	}
	addr, err := crypto.AddressFromKey(crypto.KeyConfig{RawPrivateKey: privateKeyHex})
	if err != nil {
		return err
	}
	if err := crypto.WriteEncryptedKey(path, privateKeyHex, password); err != nil {
		return err
	}
	slog.Info("administrator key encrypted", slog.String("address", addr.Hex()))
	return nil
}
