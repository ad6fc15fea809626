// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package app holds the application-level configuration and logging setup
// shared by the zenxw entry point.
package app

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jessevdk/go-flags"
	"zenx.org/zenxw/zenx"
)

const (
	defaultLogLevel   = "debug"
	defaultServerAddr = "https://wallet.zenx.org"
	configFilename    = "zenxw.conf"
	dbFilename        = "zenxw.db"
	logFoldername     = "logs"
	logFilename       = "zenxw.log"
)

var (
	defaultApplicationDirectory = zenx.AppDataDir("zenxw")
	defaultConfigPath           = filepath.Join(defaultApplicationDirectory, configFilename)
)

// CoreConfig encapsulates the settings specific to core.Core and its
// collaborators.
type CoreConfig struct {
	DBPath     string `long:"db" description:"Database filepath. Database will be created if it does not exist."`
	ServerAddr string `long:"server" description:"Wallet backend origin, e.g. https://wallet.zenx.org"`
	WsAddr     string `long:"wsaddr" description:"Balance feed websocket URL. Derived from the server address when unset."`
	PriceAddr  string `long:"priceaddr" description:"Price provider endpoint override."`
	NoFeed     bool   `long:"nofeed" description:"Disable the realtime balance feed."`
}

// LogConfig encapsulates the logging-related settings.
type LogConfig struct {
	LogPath    string `long:"logpath" description:"A file to save app logs"`
	DebugLevel string `long:"log" description:"Logging level {trace, debug, info, warn, error, critical}"`
	LocalLogs  bool   `long:"loglocal" description:"Use local time zone time stamps in log entries."`
	Stdout     bool   `long:"stdout" description:"Mirror logs to stdout."`
}

// Config is the application configuration definition.
type Config struct {
	CoreConfig
	LogConfig
	// AppData and ConfigPath should be parsed from the command-line, as it
	// makes no sense to set these in the config file itself. If no values are
	// assigned, defaults will be used.
	AppData    string `long:"appdata" description:"Path to application directory."`
	ConfigPath string `long:"config" description:"Path to an INI configuration file."`
	ShowVer    bool   `short:"V" long:"version" description:"Display version information and exit"`
}

// DefaultConfig is the start state before file and CLI values are layered on.
var DefaultConfig = Config{
	AppData:    defaultApplicationDirectory,
	ConfigPath: defaultConfigPath,
	CoreConfig: CoreConfig{ServerAddr: defaultServerAddr},
	LogConfig:  LogConfig{DebugLevel: defaultLogLevel},
}

// ParseCLIConfig parses the command-line arguments into the provided struct
// with go-flags tags. If the --help flag has been passed, the struct is
// described back to the terminal and the program exits using os.Exit.
func ParseCLIConfig(cfg any) error {
	preParser := flags.NewParser(cfg, flags.HelpFlag|flags.PassDoubleDash)
	_, flagerr := preParser.Parse()
	if flagerr != nil {
		e, ok := flagerr.(*flags.Error)
		if !ok || e.Type != flags.ErrHelp {
			preParser.WriteHelp(os.Stderr)
		}
		if ok && e.Type == flags.ErrHelp {
			preParser.WriteHelp(os.Stdout)
			os.Exit(0)
		}
		return flagerr
	}
	return nil
}

// ResolveCLIConfigPaths resolves the app data directory path and the
// configuration file path from the CLI config, (presumably parsed with
// ParseCLIConfig).
func ResolveCLIConfigPaths(cfg *Config) (appData, configPath string) {
	if cfg.AppData != defaultApplicationDirectory {
		cfg.AppData = zenx.CleanAndExpandPath(cfg.AppData)
		// If the app directory has been changed, but the config file path
		// hasn't, reform the config file path with the new directory.
		if cfg.ConfigPath == defaultConfigPath {
			cfg.ConfigPath = filepath.Join(cfg.AppData, configFilename)
		}
	}
	cfg.ConfigPath = zenx.CleanAndExpandPath(cfg.ConfigPath)
	return cfg.AppData, cfg.ConfigPath
}

// ParseFileConfig parses the INI file into the provided struct with go-flags
// tags. The CLI args are then parsed, and take precedence over the file
// values.
func ParseFileConfig(path string, cfg any) error {
	parser := flags.NewParser(cfg, flags.Default)
	err := flags.NewIniParser(parser).ParseFile(path)
	if err != nil {
		if _, ok := err.(*os.PathError); !ok {
			fmt.Fprintln(os.Stderr, err)
			parser.WriteHelp(os.Stderr)
			return err
		}
		// Missing file is not an error.
	}

	// Parse command line options again to ensure they take precedence.
	if _, err = parser.Parse(); err != nil {
		if e, ok := err.(*flags.Error); !ok || e.Type != flags.ErrHelp {
			parser.WriteHelp(os.Stderr)
		}
		return err
	}
	return nil
}

// ResolveConfig sets derivative fields of the Config struct using the
// specified app data directory. Some unset values are given defaults.
func ResolveConfig(appData string, cfg *Config) error {
	cfg.AppData = appData

	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(appData, dbFilename)
	} else {
		cfg.DBPath = zenx.CleanAndExpandPath(cfg.DBPath)
	}
	if cfg.LogPath == "" {
		cfg.LogPath = filepath.Join(appData, logFoldername, logFilename)
	} else {
		cfg.LogPath = zenx.CleanAndExpandPath(cfg.LogPath)
	}

	cfg.ServerAddr = strings.TrimSuffix(cfg.ServerAddr, "/")
	if cfg.ServerAddr == "" {
		return fmt.Errorf("no server address configured")
	}
	if cfg.WsAddr == "" {
		cfg.WsAddr = deriveWsAddr(cfg.ServerAddr)
	}
	return nil
}

// deriveWsAddr maps an https/http backend origin to its websocket URL.
func deriveWsAddr(serverAddr string) string {
	switch {
	case strings.HasPrefix(serverAddr, "https://"):
		return "wss://" + strings.TrimPrefix(serverAddr, "https://") + "/api/v1/ws"
	case strings.HasPrefix(serverAddr, "http://"):
		return "ws://" + strings.TrimPrefix(serverAddr, "http://") + "/api/v1/ws"
	}
	return serverAddr + "/api/v1/ws"
}
