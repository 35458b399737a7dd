// Command migrate applies or rolls back the embedded schema migrations.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/django-oscar/django-oscar-sub003/internal/config"
	"github.com/django-oscar/django-oscar-sub003/internal/database"
	"github.com/django-oscar/django-oscar-sub003/internal/logger"
	"github.com/django-oscar/django-oscar-sub003/internal/migrate"
	"github.com/spf13/pflag"
)

func main() {
	fs := pflag.NewFlagSet("migrate", pflag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: migrate [up|down|status|version|redo|reset] [args]")
		fs.PrintDefaults()
	}
	validateOnly := fs.Bool("validate", false, "only check migration files, do not touch the database")
	_ = fs.Parse(os.Args[1:])

	if err := migrate.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid migrations: %v\n", err)
		os.Exit(1)
	}
	if *validateOnly {
		return
	}

	command, args := "up", []string(nil)
	if fs.NArg() > 0 {
		command, args = fs.Arg(0), fs.Args()[1:]
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logg := logger.New(logger.Options{
		ServiceName: cfg.Log.ServiceName,
		Level:       logger.ParseLevel(cfg.Log.Level),
		Format:      cfg.Log.Format,
		Output:      os.Stderr,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithField(ctx, "command", command)

	db, err := database.NewConnection(ctx, &cfg.Database)
	if err != nil {
		logg.Error(ctx, "connect to database", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := migrate.Run(ctx, db, command, args...); err != nil {
		logg.Error(ctx, "migration failed", err)
		stop()
		db.Close()
		os.Exit(1)
	}
	logg.Info(ctx, "migrations done")
}
