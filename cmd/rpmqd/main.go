package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/rpmqd/rpmqd"
	"github.com/rpmqd/rpmqd/internal/syncer"
	"github.com/rpmqd/rpmqd/pkg/httpfetch"
)

func main() {
	var exit int
	defer func() {
		if exit != 0 {
			os.Exit(exit)
		}
	}()

	ctx, done := context.WithCancel(context.Background())
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGTERM, syscall.SIGINT)
		<-ch
		done()
	}()

	fs := flag.NewFlagSet("rpmqd", flag.ExitOnError)
	fs.Usage = func() {
		out := fs.Output()
		fmt.Fprintf(out, "Usage of %s:\n", os.Args[0])
		fs.PrintDefaults()
		fmt.Fprintf(out, "\nSubcommands\n\n")
		fmt.Fprintln(out, "sync-once")
		fmt.Fprintln(out, "\trun every configured repository's sync once and exit")
		fmt.Fprintln(out, "sync-daemon")
		fmt.Fprintln(out, "\trun every configured repository's sync on its own interval until terminated")
		fmt.Fprintln(out)
	}

	dbPath := fs.String("db", "rpmqd.db", "path to the metadata database file")
	configPath := fs.String("config", "rpmqd.yaml", "path to the sync configuration document")
	if err := fs.Parse(os.Args[1:]); err != nil {
		log.Fatal(err)
	}

	var cmd func(context.Context, string, syncer.Config) error
	switch n := fs.Arg(0); n {
	case "sync-once":
		cmd = runSyncOnce
	case "sync-daemon":
		cmd = runSyncDaemon
	case "":
		fs.Usage()
		os.Exit(99)
	default:
		fs.Usage()
		fmt.Fprintf(os.Stderr, "\nunknown subcommand %q\n", n)
		os.Exit(99)
	}

	cfgFile, err := os.Open(*configPath)
	if err != nil {
		log.Fatal(err)
	}
	cfg, err := syncer.LoadConfig(cfgFile)
	cfgFile.Close()
	if err != nil {
		log.Fatal(err)
	}

	var cmdErr error
	cmdctx, cmddone := context.WithCancel(ctx)
	go func() {
		defer cmddone()
		cmdErr = cmd(cmdctx, *dbPath, cfg)
	}()

	select {
	case <-ctx.Done():
		log.Print(ctx.Err())
		exit = 1
	case <-cmdctx.Done():
		if cmdErr != nil {
			log.Print(cmdErr)
			exit = 2
		}
	}
}

func runSyncOnce(ctx context.Context, dbPath string, cfg syncer.Config) error {
	eng, err := rpmqd.Open(ctx, dbPath, rpmqd.Options{Fetcher: httpfetch.New()})
	if err != nil {
		return err
	}
	defer eng.Close()

	reports, err := eng.SyncOnce(ctx, cfg)
	if err != nil {
		return err
	}
	for _, r := range reports {
		if r.Err != nil {
			log.Printf("repository %s: %s: %v", r.Repository, r.Final, r.Err)
			continue
		}
		log.Printf("repository %s: %s (added=%d updated=%d removed=%d)",
			r.Repository, r.Final, r.Stats.Added, r.Stats.Updated, r.Stats.Removed)
	}
	return nil
}

func runSyncDaemon(ctx context.Context, dbPath string, cfg syncer.Config) error {
	eng, err := rpmqd.Open(ctx, dbPath, rpmqd.Options{Fetcher: httpfetch.New()})
	if err != nil {
		return err
	}
	defer eng.Close()

	if _, err := eng.SyncDaemon(ctx, cfg); err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}
