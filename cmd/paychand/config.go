package main

import (
	"os"
	"path/filepath"

	"github.com/gcash/bchd/chaincfg"
	"github.com/gcash/bchutil"
	flags "github.com/jessevdk/go-flags"
	"github.com/paychand/paychand/internal/cfgutil"
)

const (
	defaultNet          = "mainnet"
	defaultDbName       = "paychan.db"
	defaultLogFilename  = "paychand.log"
	defaultMaxLogSize   = 10 * 1024 // KB
	defaultMaxLogFiles  = 3
	defaultTotalValue   = bchutil.Amount(1000000)
	defaultMinExpireHrs = 12
)

var defaultAppDataDir = bchutil.AppDataDir("paychand", false)

// config holds the daemon's command-line configuration, grounded on the
// cmd/dropwtxmgr opts pattern (cmd/dropwtxmgr/main.go).
type config struct {
	DataDir       string            `long:"datadir" description:"Directory to store the channel database and logs"`
	LogDir        string            `long:"logdir" description:"Directory to log output"`
	Network       string            `long:"network" description:"mainnet, testnet, or regtest" choice:"mainnet" choice:"testnet" choice:"regtest"`
	Role          string            `long:"role" description:"client or server" choice:"client" choice:"server"`
	TotalValue    *cfgutil.AmountFlag `long:"totalvalue" description:"Amount to lock into the channel (client only)"`
	ExpireHours   int               `long:"expirehours" description:"Refund lock-time horizon in hours from now (client only)"`
	MinExpireHrs  int               `long:"minexpirehours" description:"Minimum acceptable refund lock-time horizon in hours (server only)"`
}

func defaultConfig() *config {
	return &config{
		DataDir:      defaultAppDataDir,
		LogDir:       filepath.Join(defaultAppDataDir, "logs"),
		Network:      defaultNet,
		Role:         "client",
		TotalValue:   cfgutil.NewAmountFlag(defaultTotalValue),
		ExpireHours:  24,
		MinExpireHrs: defaultMinExpireHrs,
	}
}

func loadConfig() (*config, error) {
	cfg := defaultConfig()
	parser := flags.NewParser(cfg, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		return nil, err
	}
	return cfg, nil
}

func (cfg *config) chainParams() *chaincfg.Params {
	switch cfg.Network {
	case "testnet":
		return &chaincfg.TestNet3Params
	case "regtest":
		return &chaincfg.RegressionNetParams
	default:
		return &chaincfg.MainNetParams
	}
}

func (cfg *config) dbPath() string {
	return filepath.Join(cfg.DataDir, cfg.Network, defaultDbName)
}
