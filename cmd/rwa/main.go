/*
main.go - Operator CLI for the RWA ledger

USAGE:
  rwa [-db DSN] [-driver sqlite3|postgres] <command> [flags]

COMMANDS:
  generate       -period YYYY-MM [-force] [-dry-run]
  recalculate    -resident ID -from YYYY-MM [-dry-run]
  maintenance    -resident ID -amount N [-from YYYY-MM -recalculate] [-dry-run]
  defaulters     [-months N] [-as-of YYYY-MM] [-notify]
  overdue
  sheets-export  -period YYYY-MM [-range A1]
  sheets-import  -range A1

Configuration comes from the same environment variables as the server
(see config/config.go). Exit status is 1 on error, 2 when a generation
needs -force.
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/warp/rwa-ledger/billing"
	"github.com/warp/rwa-ledger/config"
	"github.com/warp/rwa-ledger/lock/redislock"
	"github.com/warp/rwa-ledger/notify"
	"github.com/warp/rwa-ledger/sheets"
	"github.com/warp/rwa-ledger/store/sqlstore"
)

const usage = `usage: rwa [-db DSN] [-driver sqlite3|postgres] <command> [flags]

commands:
  generate       create or refresh a month's records
  recalculate    re-derive one resident's ledger from a month onwards
  maintenance    change a resident's base maintenance
  defaulters     list residents behind on payments
  overdue        refresh statuses against today's date
  sheets-export  write a month's register to Google Sheets
  sheets-import  record payments read from Google Sheets
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, errNeedsForce) {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	global := flag.NewFlagSet("rwa", flag.ContinueOnError)
	global.SetOutput(out)
	global.Usage = func() { fmt.Fprint(out, usage) }
	dsn := global.String("db", cfg.DBDSN, "database DSN or SQLite path")
	driver := global.String("driver", cfg.DBDriver, "database driver (sqlite3, postgres)")
	if err := global.Parse(args); err != nil {
		return err
	}
	cfg.DBDSN, cfg.DBDriver = *dsn, *driver
	if err := cfg.Validate(); err != nil {
		return err
	}
	if global.NArg() == 0 {
		global.Usage()
		return errors.New("no command given")
	}

	logger := cfg.NewLogger()
	logger.SetOutput(os.Stderr)

	store, err := sqlstore.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return err
	}
	defer store.Close()

	svc := billing.NewService(store)
	svc.Logger = logger
	if cfg.RedisAddr != "" {
		rdb, err := redislock.Connect(ctx, cfg.RedisAddr)
		if err != nil {
			return err
		}
		defer rdb.Close()
		svc.Locker = redislock.New(rdb).WithLogger(logger)
	}

	a := &app{
		svc:    svc,
		out:    out,
		logger: logger,
		cfg:    cfg,
		sheets: func() *sheets.Client {
			return sheets.Connect(ctx, cfg.SheetsCredentialsFile, cfg.SheetsSpreadsheetID, logger)
		},
		notifier: notify.NewSender(notify.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		}, logger),
	}
	return a.dispatch(ctx, global.Arg(0), global.Args()[1:])
}

// app holds what the commands need. Tests build it around a memory store.
type app struct {
	svc      *billing.Service
	out      io.Writer
	logger   logrus.FieldLogger
	cfg      *config.Config
	sheets   func() *sheets.Client
	notifier *notify.Sender
}

func (a *app) dispatch(ctx context.Context, name string, args []string) error {
	commands := map[string]func(context.Context, []string) error{
		"generate":      a.generate,
		"recalculate":   a.recalculate,
		"maintenance":   a.maintenance,
		"defaulters":    a.defaulters,
		"overdue":       a.overdue,
		"sheets-export": a.sheetsExport,
		"sheets-import": a.sheetsImport,
	}
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprint(a.out, usage)
		return fmt.Errorf("unknown command %q", name)
	}
	return cmd(ctx, args)
}
