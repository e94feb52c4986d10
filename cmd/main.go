package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/ergochat/readline"
	"github.com/prometheus/client_golang/prometheus"
	flag "github.com/spf13/pflag"

	"github.com/RethinkEngine/rethinkengine"
	"github.com/RethinkEngine/rethinkengine/sqlstore"
	"github.com/RethinkEngine/rethinkengine/store"
	"github.com/RethinkEngine/rethinkengine/utils"
)

// Config is the shell's startup configuration. Code defaults are
// overridden by environment variables, which are overridden by flags.
type Config struct {
	Dir      string `env:"RETHINK_DIR"`
	Backend  string `env:"RETHINK_BACKEND"`
	LogLevel string `env:"RETHINK_LOG_LEVEL"`
}

var completer = readline.NewPrefixCompleter(
	readline.PcItem("help"),

	readline.PcItem("tables"),
	readline.PcItem("create"),
	readline.PcItem("drop"),

	readline.PcItem("insert"),
	readline.PcItem("get"),
	readline.PcItem("filter"),
	readline.PcItem("delete"),

	readline.PcItem("dump"),
	readline.PcItem("metrics"),

	readline.PcItem("exit"),
	readline.PcItem("quit"),
)

func filterInput(r rune) (rune, bool) {
	switch r {
	// block CtrlZ feature
	case readline.CharCtrlZ:
		return r, false
	}
	return r, true
}

func main() {
	cfg := Config{Dir: "rethink-data", Backend: "pebble", LogLevel: "info"}
	if err := env.Parse(&cfg); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(-2)
	}
	flag.StringVar(&cfg.Dir, "dir", cfg.Dir, "data directory (pebble) or database file (sqlite)")
	flag.StringVar(&cfg.Backend, "backend", cfg.Backend, "storage backend, pebble or sqlite")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")
	flag.Parse()

	level, err := utils.ParseLevel(cfg.LogLevel)
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(-2)
	}
	log := utils.NewDefaultLogger(level)

	reg := prometheus.NewRegistry()
	if err = rethinkengine.RegisterMetrics(reg); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(-1)
	}

	var conn rethinkengine.Conn
	switch cfg.Backend {
	case "pebble":
		st, err := store.Open(cfg.Dir, store.Options{Logger: log})
		if err != nil {
			_, _ = fmt.Fprintln(os.Stderr, err.Error())
			os.Exit(-1)
		}
		reg.MustRegister(st.Metrics())
		conn = st
	case "sqlite":
		st, err := sqlstore.Open(context.Background(), cfg.Dir, sqlstore.Options{Logger: log})
		if err != nil {
			_, _ = fmt.Fprintln(os.Stderr, err.Error())
			os.Exit(-1)
		}
		conn = st
	default:
		_, _ = fmt.Fprintf(os.Stderr, "unknown backend %q, want pebble or sqlite\n", cfg.Backend)
		os.Exit(-2)
	}
	rethinkengine.Connect(conn)

	sh := Shell{conn: conn, reg: reg, log: log}
	if err = sh.Open(); err != nil {
		panic(err)
	}
	defer sh.Close()

	log.Info("shell ready", "backend", cfg.Backend, "dir", cfg.Dir)

	ctx := context.Background()
	for {
		line, err := sh.rl.Readline()
		if err == readline.ErrInterrupt {
			if len(line) == 0 {
				break
			}
			continue
		} else if err == io.EOF {
			break
		}

		err = sh.Dispatch(ctx, line)
		if err == io.EOF {
			break
		}
		if err != nil {
			_, _ = fmt.Fprintln(os.Stderr, err.Error())
		}
	}

	if err = rethinkengine.Disconnect(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(-1)
	}
}
