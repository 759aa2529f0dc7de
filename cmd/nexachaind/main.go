// Command nexachaind runs a nexachain node and its supporting one-shot
// setup commands. The subcommand tree and graceful-shutdown body are
// grounded on the teacher's cmd/empower1d/main.go; the flat flag-based
// main() there is rebuilt on cobra, matching the CLI idiom the rest of the
// retrieval pack uses (see DESIGN.md).
package main

import (
	"fmt"
	nethttp "net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"nexachain.dev/nexachain/internal/chain"
	"nexachain.dev/nexachain/internal/config"
	"nexachain.dev/nexachain/internal/discovery"
	internalerrors "nexachain.dev/nexachain/internal/errors"
	"nexachain.dev/nexachain/internal/genesis"
	"nexachain.dev/nexachain/internal/netconf"
	"nexachain.dev/nexachain/internal/node"
	"nexachain.dev/nexachain/internal/rpc"
	"nexachain.dev/nexachain/internal/state"
	"nexachain.dev/nexachain/internal/wallet"
)

func newLogger() *logrus.Entry {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return logrus.NewEntry(log)
}

func main() {
	log := newLogger()

	root := &cobra.Command{
		Use:   "nexachaind",
		Short: "nexachain permissioned blockchain node",
	}

	root.AddCommand(newInitCmd(log))
	root.AddCommand(newCreateAccountCmd(log))
	root.AddCommand(newCNodeCmd(log))

	if err := root.Execute(); err != nil {
		log.WithError(err).Error("command failed")
		os.Exit(1)
	}
}

func newInitCmd(log *logrus.Entry) *cobra.Command {
	var genesisFile, configFile, envFile string
	cmd := &cobra.Command{
		Use:   "initc",
		Short: "build the chain and world-state stores from a genesis declaration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configFile, envFile)
			if err != nil {
				return err
			}
			declBytes, err := os.ReadFile(genesisFile)
			if err != nil {
				return fmt.Errorf("read genesis file: %w", err)
			}
			decl, err := netconf.LoadFile(declBytes)
			if err != nil {
				return err
			}

			if err := os.MkdirAll(cfg.StoragePath, 0o755); err != nil {
				return fmt.Errorf("create storage path: %w", err)
			}
			chainPath := filepath.Join(cfg.StoragePath, cfg.ChainDB)
			statePath := filepath.Join(cfg.StoragePath, cfg.StateDB)

			c, ws, err := genesis.Create(chainPath, statePath, decl, time.Now().Unix(), log)
			if err != nil {
				return fmt.Errorf("genesis: %w", err)
			}
			defer c.Close()
			defer ws.Close()

			height, err := c.Height()
			if err != nil {
				return err
			}
			log.WithField("height", height).Info("chain initialised")
			return nil
		},
	}
	cmd.Flags().StringVar(&genesisFile, "genesis", "", "path to the genesis declaration JSON file")
	cmd.Flags().StringVar(&configFile, "config", "", "path to the node configuration JSON file")
	cmd.Flags().StringVar(&envFile, "env", "", "path to an optional .env overlay for the config file")
	_ = cmd.MarkFlagRequired("genesis")
	return cmd
}

func newCreateAccountCmd(log *logrus.Entry) *cobra.Command {
	var configFile, envFile string
	cmd := &cobra.Command{
		Use:   "create-account",
		Short: "generate an RSA keypair and write it under key_dir",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configFile, envFile)
			if err != nil {
				return err
			}
			account, err := wallet.Create(cfg.KeyDir)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), account.Address)
			return nil
		},
	}
	cmd.Flags().StringVar(&configFile, "config", "", "path to the node configuration JSON file")
	cmd.Flags().StringVar(&envFile, "env", "", "path to an optional .env overlay for the config file")
	return cmd
}

func newCNodeCmd(log *logrus.Entry) *cobra.Command {
	var port int
	var nodeTypeFlag, configFile, envFile, httpAddr string
	cmd := &cobra.Command{
		Use:   "cnode",
		Short: "run a nexachain node",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNode(log, port, nodeTypeFlag, configFile, envFile, httpAddr)
		},
	}
	cmd.Flags().IntVar(&port, "port", 9000, "TCP port for the peer wire protocol")
	cmd.Flags().StringVar(&nodeTypeFlag, "node_type", "basic", "basic or validator")
	cmd.Flags().StringVar(&configFile, "config", "", "path to the node configuration JSON file")
	cmd.Flags().StringVar(&envFile, "env", "", "path to an optional .env overlay for the config file, e.g. NEXACHAIN_ACCOUNT_ADDRESS")
	cmd.Flags().StringVar(&httpAddr, "http", ":8081", "address for the read-out HTTP interface")
	return cmd
}

func loadConfig(path, envPath string) (*config.Config, error) {
	cfg, err := config.LoadWithEnv(path, envPath)
	if err != nil {
		return nil, err
	}
	return cfg.Expand(), nil
}

func runNode(log *logrus.Entry, port int, nodeTypeFlag, configFile, envFile, httpAddr string) error {
	cfg, err := loadConfig(configFile, envFile)
	if err != nil {
		return err
	}

	address := cfg.AccountAddress
	if address == "" {
		addrs, err := wallet.ListAddresses(cfg.KeyDir)
		if err != nil {
			return fmt.Errorf("%w: %v", internalerrors.ErrAccountMissing, err)
		}
		if len(addrs) == 0 {
			return fmt.Errorf("%w: no keys under %s; run create-account first", internalerrors.ErrAccountMissing, cfg.KeyDir)
		}
		address = addrs[0]
	}
	account, err := wallet.Load(cfg.KeyDir, address)
	if err != nil {
		return fmt.Errorf("%w: %v", internalerrors.ErrAccountMissing, err)
	}

	c, initialized, err := chain.Load(filepath.Join(cfg.StoragePath, cfg.ChainDB), log)
	if err != nil {
		return err
	}
	if !initialized {
		return fmt.Errorf("%w: run initc first", internalerrors.ErrGenesisMissing)
	}
	defer c.Close()

	height, err := c.Height()
	if err != nil {
		return err
	}
	ws, err := state.Open(filepath.Join(cfg.StoragePath, cfg.StateDB), height, log)
	if err != nil {
		return err
	}
	defer ws.Close()

	dir, err := discovery.Open(filepath.Join(cfg.StoragePath, "discovery"))
	if err != nil {
		return err
	}
	defer dir.Close()

	var nodeType node.NodeType
	switch nodeTypeFlag {
	case "validator":
		nodeType = node.NodeTypeValidator
	default:
		nodeType = node.NodeTypeBasic
	}

	n := node.New(node.Config{
		AppConfig:   cfg,
		Account:     account,
		NodeType:    nodeType,
		Chain:       c,
		State:       ws,
		Directory:   dir,
		Declaration: c.Declaration(),
		Log:         log,
	})

	if err := n.Listen(port); err != nil {
		return err
	}
	if err := n.Start(); err != nil {
		return err
	}

	srv := rpc.New(c, ws, dir)
	httpServer := &nethttp.Server{Addr: httpAddr, Handler: srv.Router()}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != nethttp.ErrServerClosed {
			log.WithError(err).Warn("read-out HTTP server stopped")
		}
	}()

	log.WithField("address", account.Address).Info("node running, press Ctrl+C to stop")

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	sig := <-shutdown
	log.WithField("signal", sig).Info("caught signal, shutting down")

	n.Stop()
	httpServer.Close()
	log.Info("node shut down gracefully")
	return nil
}
