package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"certledger.org/internal/migrate"
	"certledger.org/internal/obs"
	"certledger.org/internal/store/pg"
)

func main() {
	log := obs.Logger()
	var (
		dsn     = flag.String("dsn", os.Getenv("CERTLEDGER_DATABASE_DSN"), "PostgreSQL DSN")
		timeout = flag.Duration("timeout", 30*time.Second, "Overall timeout")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or CERTLEDGER_DATABASE_DSN")
	}
	if len(flag.Args()) == 0 {
		fmt.Fprintln(os.Stderr, "usage: migrate [up|down|status]")
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	db, err := pg.Open(*dsn)
	if err != nil {
		log.WithError(err).Fatal("open db")
	}
	defer db.Close()

	mgr := migrate.NewManager(db, migrate.WithLogger(log))

	switch flag.Arg(0) {
	case "up":
		err = mgr.Up(ctx)
	case "down":
		err = mgr.Down(ctx)
	case "status":
		var history []migrate.Migration
		history, err = mgr.Status(ctx)
		if err == nil {
			for _, m := range history {
				state := "pending"
				if m.Applied {
					state = "applied"
				}
				fmt.Printf("%05d  %-8s %s\n", m.Version, state, m.Name)
			}
		}
	default:
		log.Fatalf("unknown command %q", flag.Arg(0))
	}
	if err != nil {
		log.WithError(err).Fatalf("migrate %s", flag.Arg(0))
	}
}
