// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"sync"
	"syscall"
	"time"

	"zenx.org/zenxw/client/api"
	"zenx.org/zenxw/client/app"
	"zenx.org/zenxw/client/auth"
	"zenx.org/zenxw/client/comms"
	"zenx.org/zenxw/client/core"
	"zenx.org/zenxw/client/db/bolt"
	"zenx.org/zenxw/zenx"
	"zenx.org/zenxw/zenx/prices"
)

// appName defines the application name.
const appName = "zenxw"

var (
	appCtx, cancel = context.WithCancel(context.Background())
	log            zenx.Logger
)

func runCore(cfg *app.Config) error {
	defer cancel() // for the earliest returns

	// Initialize logging.
	utc := !cfg.LocalLogs
	logMaker, closeLogger := app.InitLogging(cfg.LogPath, cfg.DebugLevel, cfg.Stdout, utc)
	defer closeLogger()
	log = logMaker.Logger("ZW")
	log.Infof("%s version %v (Go version %s)", appName, app.Version, runtime.Version())
	if utc {
		log.Infof("Logging with UTC time stamps. Current local time is %v",
			time.Now().Local().Format("15:04:05 MST"))
	}

	defer func() {
		if pv := recover(); pv != nil {
			log.Criticalf("Uh-oh! \n\nPanic:\n\n%v\n\nStack:\n\n%v\n\n",
				pv, string(debug.Stack()))
		}
	}()

	boltDB, err := bolt.NewDB(cfg.DBPath, logMaker.Logger("DB"))
	if err != nil {
		return fmt.Errorf("error opening database: %w", err)
	}

	authenticator := auth.New(&auth.Config{
		DB:     boltDB,
		Logger: logMaker.Logger("AUTH"),
	})

	apiClient, err := api.New(&api.Config{
		BaseURL: cfg.ServerAddr,
		Auth:    authenticator,
		Logger:  logMaker.Logger("API"),
	})
	if err != nil {
		return fmt.Errorf("error creating API client: %w", err)
	}
	authenticator.SetRegisterFunc(func(browserID, secret string) error {
		return apiClient.RegisterBrowser(appCtx, browserID, secret)
	})

	var priceSource *prices.Source
	if cfg.PriceAddr != "" {
		priceSource = prices.NewSourceURL(cfg.PriceAddr, logMaker.Logger("PRICES"))
	} else {
		priceSource = prices.NewSource(logMaker.Logger("PRICES"))
	}

	var feed *comms.BalanceFeed
	if !cfg.NoFeed {
		feed, err = comms.NewBalanceFeed(&comms.FeedCfg{
			URL:    cfg.WsAddr,
			Auth:   authenticator,
			Logger: logMaker.Logger("COMMS"),
		})
		if err != nil {
			return fmt.Errorf("error creating balance feed: %w", err)
		}
	}

	coreCfg := &core.Config{
		DB:      boltDB,
		Backend: apiClient,
		Prices:  priceSource,
		Logger:  logMaker.Logger("CORE"),
	}
	if feed != nil {
		coreCfg.Feed = feed
	}
	clientCore, err := core.New(coreCfg)
	if err != nil {
		return fmt.Errorf("error creating client core: %w", err)
	}

	// Catch interrupt signals (e.g. ctrl+c) and shut down gracefully.
	killChan := make(chan os.Signal, 1)
	signal.Notify(killChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-killChan
		log.Infof("Shutting down...")
		cancel()
	}()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		clientCore.Run(appCtx)
		cancel() // in the event that Run returns prior to context cancellation
	}()

	clientCore.Bootstrap(appCtx, nil)
	log.Infof("%s ready", appName)

	wg.Wait()
	log.Infof("%s exiting", appName)
	return nil
}

func main() {
	// Parse configuration.
	cfg := app.DefaultConfig
	if err := app.ParseCLIConfig(&cfg); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if cfg.ShowVer {
		fmt.Printf("%s version %s (Go version %s %s/%s)\n",
			appName, app.Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		return
	}
	appData, configPath := app.ResolveCLIConfigPaths(&cfg)
	if err := app.ParseFileConfig(configPath, &cfg); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := app.ResolveConfig(appData, &cfg); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := runCore(&cfg); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
