package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gcash/bchwallet/walletdb"
	_ "github.com/gcash/bchwallet/walletdb/bdb"
	"github.com/paychand/paychand/paychan"
)

func main() {
	os.Exit(mainInt())
}

func mainInt() int {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	initLogRotator(filepath.Join(cfg.LogDir, defaultLogFilename), defaultMaxLogSize, defaultMaxLogFiles)

	dbPath := cfg.dbPath()
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		pychLog.Errorf("failed to create data directory: %v", err)
		return 1
	}

	db, err := walletdb.Open("bdb", dbPath, true)
	if err != nil {
		pychLog.Errorf("failed to open channel database: %v", err)
		return 1
	}
	defer db.Close()

	store, err := paychan.NewWalletDBStore(db)
	if err != nil {
		pychLog.Errorf("failed to initialize channel store: %v", err)
		return 1
	}

	if err := runDemo(cfg, store); err != nil {
		pychLog.Errorf("demo run failed: %v", err)
		return 1
	}
	return 0
}
