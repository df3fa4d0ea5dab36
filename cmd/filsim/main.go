package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/filecoin-project/go-address"
	"github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"
	badgerds "github.com/ipfs/go-ds-badger"
	"github.com/naoina/toml"
	"github.com/urfave/cli/v2"

	"github.com/PinkDiamond1/filsim/node"
	"github.com/PinkDiamond1/filsim/params"
)

var (
	dataDirFlag = &cli.StringFlag{
		Name:  "datadir",
		Usage: "Directory for the chain datastore (in-memory when empty)",
	}
	blockTimeFlag = &cli.DurationFlag{
		Name:  "block-time",
		Usage: "Interval between mined tipsets (0 enables instamine)",
		Value: params.DefaultConfig.BlockTime,
	}
	seedFlag = &cli.Int64Flag{
		Name:  "seed",
		Usage: "Deterministic seed for wallet generation",
		Value: params.DefaultConfig.Seed,
	}
	accountsFlag = &cli.IntFlag{
		Name:  "accounts",
		Usage: "Number of seeded accounts",
		Value: params.DefaultConfig.TotalAccounts,
	}
	balanceFlag = &cli.Int64Flag{
		Name:  "balance",
		Usage: "Balance of each seeded account, in FIL",
		Value: 100,
	}
	objStoreFlag = &cli.StringFlag{
		Name:  "objstore.addr",
		Usage: "Listen address of the object store HTTP facade (empty disables)",
		Value: params.DefaultConfig.ObjectStoreAddr,
	}
	configFlag = &cli.StringFlag{
		Name:  "config",
		Usage: "TOML configuration file",
	}
	verbosityFlag = &cli.IntFlag{
		Name:  "verbosity",
		Usage: "Logging verbosity: 0=silent, 1=error, 2=warn, 3=info, 4=debug, 5=trace",
		Value: 3,
	}
)

func main() {
	app := &cli.App{
		Name:  "filsim",
		Usage: "single-node Filecoin protocol simulator for local testing",
		Flags: []cli.Flag{
			dataDirFlag, blockTimeFlag, seedFlag, accountsFlag,
			balanceFlag, objStoreFlag, configFlag, verbosityFlag,
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// fileConfig mirrors params.Config with TOML-friendly field types.
type fileConfig struct {
	BlockTime       string
	Seed            int64
	Accounts        int
	BalanceFIL      int64
	DataDir         string
	ObjectStoreAddr string
}

func loadConfig(path string, cfg *params.Config) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var fc fileConfig
	if err := toml.NewDecoder(f).Decode(&fc); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	if fc.BlockTime != "" {
		d, err := time.ParseDuration(fc.BlockTime)
		if err != nil {
			return fmt.Errorf("block time in %s: %w", path, err)
		}
		cfg.BlockTime = d
	}
	if fc.Seed != 0 {
		cfg.Seed = fc.Seed
	}
	if fc.Accounts != 0 {
		cfg.TotalAccounts = fc.Accounts
	}
	if fc.BalanceFIL != 0 {
		cfg.DefaultBalance = params.FIL(fc.BalanceFIL)
	}
	if fc.DataDir != "" {
		cfg.DataDir = fc.DataDir
	}
	if fc.ObjectStoreAddr != "" {
		cfg.ObjectStoreAddr = fc.ObjectStoreAddr
	}
	return nil
}

func run(c *cli.Context) error {
	handler := log.NewTerminalHandlerWithLevel(os.Stderr, log.FromLegacyLevel(c.Int(verbosityFlag.Name)), false)
	log.SetDefault(log.NewLogger(handler))

	cfg := params.DefaultConfig
	if path := c.String(configFlag.Name); path != "" {
		if err := loadConfig(path, &cfg); err != nil {
			return err
		}
	}
	if c.IsSet(blockTimeFlag.Name) {
		cfg.BlockTime = c.Duration(blockTimeFlag.Name)
	}
	if c.IsSet(seedFlag.Name) {
		cfg.Seed = c.Int64(seedFlag.Name)
	}
	if c.IsSet(accountsFlag.Name) {
		cfg.TotalAccounts = c.Int(accountsFlag.Name)
	}
	if c.IsSet(balanceFlag.Name) {
		cfg.DefaultBalance = params.FIL(c.Int64(balanceFlag.Name))
	}
	if c.IsSet(objStoreFlag.Name) {
		cfg.ObjectStoreAddr = c.String(objStoreFlag.Name)
	}
	if c.IsSet(dataDirFlag.Name) {
		cfg.DataDir = c.String(dataDirFlag.Name)
	}

	var ds datastore.Batching
	if cfg.DataDir != "" {
		bds, err := badgerds.NewDatastore(cfg.DataDir, &badgerds.DefaultOptions)
		if err != nil {
			return fmt.Errorf("open datastore at %s: %w", cfg.DataDir, err)
		}
		ds = bds
	} else {
		ds = dssync.MutexWrap(datastore.NewMapDatastore())
		log.Warn("No datadir given, chain state will not survive restarts")
	}

	n := node.New(cfg, ds)
	if err := n.Start(c.Context); err != nil {
		return err
	}

	for i, addr := range mustAccounts(n) {
		log.Info("Available account", "index", i, "address", addr)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	log.Info("Shutting down")
	n.Stop()
	return nil
}

func mustAccounts(n *node.Node) []address.Address {
	addrs, err := n.Accounts()
	if err != nil {
		return nil
	}
	return addrs
}
