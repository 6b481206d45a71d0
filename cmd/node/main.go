// Command node runs one mesh participant: a TCP endpoint, its handshake
// and tracking services, and a read-only diagnostics server. Its
// cobra/viper/godotenv/logrus wiring follows the teacher's
// cmd/cli/network.go netInit middleware and netStart's
// signal-triggered shutdown.
package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/brypt-mesh/node/internal/awaitable"
	"github.com/brypt-mesh/node/internal/diagnostics"
	"github.com/brypt-mesh/node/internal/node"
	"github.com/brypt-mesh/node/internal/peer"
	"github.com/brypt-mesh/node/pkg/config"
)

var (
	configDir   string
	configEnv   string
	identityHex string
	trustHex    string
)

func main() {
	root := &cobra.Command{Use: "node", Short: "run one mesh node"}
	root.PersistentFlags().StringVar(&configDir, "config-dir", "", "directory holding default.yaml (and <env>.yaml overlays)")
	root.PersistentFlags().StringVar(&configEnv, "env", "", "environment overlay name, e.g. production")
	root.PersistentFlags().StringVar(&identityHex, "identity", "", "hex-encoded Ed25519 private key seed (32 bytes); random if omitted")
	root.PersistentFlags().StringVar(&trustHex, "trust", "", "hex-encoded Ed25519 public verify key shared by every peer in the mesh")

	root.AddCommand(startCmd())
	root.AddCommand(configCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func startCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "bind the endpoint and run until signaled",
		Args:  cobra.NoArgs,
		RunE:  runStart,
	}
}

func runStart(cmd *cobra.Command, _ []string) error {
	if err := config.LoadDotenv(""); err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := logrus.StandardLogger()
	if level, err := logrus.ParseLevel(cfg.Logging.Level); err == nil {
		logger.SetLevel(level)
	}

	identity, err := resolveIdentity()
	if err != nil {
		return err
	}
	trust, err := resolveTrust()
	if err != nil {
		return err
	}

	n, err := node.New(*cfg, identity, trust, diagnosticsFactory(cfg.Diagnostics.ListenAddr, logger), logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := n.Startup(ctx); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "node started on %s\n", cfg.Network.ListenAddr)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	cancel()
	n.Shutdown(context.Background())
	fmt.Fprintln(cmd.OutOrStdout(), "node stopped")
	return nil
}

func configCmd() *cobra.Command {
	root := &cobra.Command{Use: "config", Short: "inspect the resolved configuration"}
	root.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "print the resolved configuration as yaml",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			out, err := cfg.YAML()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	})
	return root
}

func loadConfig() (*config.Config, error) {
	var paths []string
	if configDir != "" {
		paths = append(paths, configDir)
	}
	return config.Load(configEnv, paths...)
}

func resolveIdentity() (node.Identity, error) {
	if identityHex == "" {
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return node.Identity{}, fmt.Errorf("generate identity: %w", err)
		}
		return node.Identity{Public: pub, Private: priv}, nil
	}
	seed, err := hex.DecodeString(identityHex)
	if err != nil || len(seed) != ed25519.SeedSize {
		return node.Identity{}, fmt.Errorf("--identity must be a %d-byte hex seed", ed25519.SeedSize)
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return node.Identity{Public: priv.Public().(ed25519.PublicKey), Private: priv}, nil
}

func resolveTrust() (node.PeerTrust, error) {
	if trustHex == "" {
		return nil, fmt.Errorf("--trust is required: the shared mesh verify key")
	}
	raw, err := hex.DecodeString(trustHex)
	if err != nil || len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("--trust must be a %d-byte hex Ed25519 public key", ed25519.PublicKeySize)
	}
	key := ed25519.PublicKey(raw)
	return func() ed25519.PublicKey { return key }, nil
}

func diagnosticsFactory(addr string, logger *logrus.Logger) func(*peer.Manager, *awaitable.Service) node.DiagnosticsServer {
	return func(manager *peer.Manager, tracking *awaitable.Service) node.DiagnosticsServer {
		return diagnostics.NewServer(addr, manager, tracking, logger)
	}
}
