package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/Golevka2001/awtrix-scripts/internal/app"
	"github.com/Golevka2001/awtrix-scripts/internal/config"
)

func main() {
	var (
		cfgPath string
		cleanup bool
		runName string
		delName string
		list    bool
		spAuth  bool
	)
	flag.StringVar(&cfgPath, "config", "config.yaml", "path to config yaml/json")
	flag.BoolVar(&cleanup, "cleanup", false, "publish an empty payload for every task and exit")
	flag.StringVar(&runName, "run", "", "run one task once, print and publish its payload, then exit")
	flag.StringVar(&delName, "del", "", "publish an empty payload to one channel and exit")
	flag.BoolVar(&list, "list", false, "print the loaded tasks and exit")
	flag.BoolVar(&spAuth, "spotify-auth", false, "authorize the spotify source once and exit")
	flag.Parse()

	if err := config.LoadDotEnv(".env"); err != nil {
		fmt.Fprintln(os.Stderr, "fatal: .env:", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.NewApp(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}

	if spAuth {
		err := a.AuthorizeSpotify(ctx, os.Stdin, os.Stdout)
		if cerr := a.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		return
	}

	if list || cleanup || runName != "" || delName != "" {
		err := oneShot(ctx, a, list, cleanup, runName, delName)
		if cerr := a.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		return
	}

	if err := a.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal start:", err)
		_ = a.Close()
		os.Exit(1)
	}

	reason := app.StopSignal
	select {
	case <-ctx.Done():
	case <-a.Done():
		if a.Err() != nil {
			reason = app.StopFatalError
		}
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer stopCancel()
	_ = a.Stop(stopCtx, reason)

	if err := a.Err(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func oneShot(ctx context.Context, a *app.App, list, cleanup bool, runName, delName string) error {
	switch {
	case list:
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tENABLED\tPRIORITY\tINTERVAL")
		for _, t := range a.List() {
			interval := t.Interval.String()
			if t.Cron {
				interval = "cron"
			}
			fmt.Fprintf(w, "%s\t%t\t%d\t%s\n", t.Name, t.Enabled, t.Priority, interval)
		}
		return w.Flush()
	case cleanup:
		return a.Cleanup(ctx)
	case runName != "":
		body, err := a.RunOnce(ctx, runName)
		if body != "" {
			fmt.Println(body)
		}
		return err
	default:
		return a.Delete(ctx, delName)
	}
}
