package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dailycast/internal/app"
	"dailycast/internal/config"
)

const stopTimeout = 15 * time.Second

func loadConfig(path string) (*config.ConfigManager, error) {
	if err := config.LoadDotEnv(path); err != nil {
		return nil, err
	}
	cfgm := config.NewConfigManager(path)
	if _, err := cfgm.Load(); err != nil {
		return nil, err
	}
	return cfgm, nil
}

func runBot(ctx context.Context, path string) error {
	cfgm, err := loadConfig(path)
	if err != nil {
		return err
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	a, err := app.New(ctx, cfgm, app.WithVersion(version))
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Start(ctx); err != nil {
		stop(a, app.StopFatalError)
		return err
	}

	var reason app.StopReason
	select {
	case sig := <-sigs:
		reason = app.StopSIGTERM
		if sig == os.Interrupt {
			reason = app.StopSIGINT
		}
	case <-a.Done():
		reason = app.StopFatalError
	}
	fatal := a.Err()
	stop(a, reason)
	return fatal
}

func stop(a *app.App, reason app.StopReason) {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	_ = a.Stop(ctx, reason)
}

// runOnce performs a single pass without polling for updates. SIGINT or
// SIGTERM cancels the pass; the partial report is still printed.
func runOnce(ctx context.Context, path, stream string) error {
	cfgm, err := loadConfig(path)
	if err != nil {
		return err
	}
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(ctx, cfgm, app.WithVersion(version))
	if err != nil {
		return err
	}
	defer a.Close()
	defer stop(a, app.StopOneShot)

	res, err := a.RunOnce(ctx, stream)
	if errors.Is(err, app.ErrUnknownStream) {
		return fmt.Errorf("%w (known: %v)", err, a.StreamNames())
	}
	if res.ContentID != "" {
		fmt.Printf("content: %s\n", res.ContentID)
	}
	if res.Posted {
		fmt.Println("channel: posted")
	}
	if res.Report != nil {
		fmt.Println(res.Report.Summary())
	}
	return err
}

func printNext(path, stream string) error {
	cfgm, err := loadConfig(path)
	if err != nil {
		return err
	}
	wakes, err := app.NextWakes(cfgm.Get(), stream, time.Now())
	if err != nil {
		return err
	}
	for _, w := range wakes {
		fmt.Printf("%-16s %s  (%s)\n", w.Name, w.At.Format("2006-01-02 15:04 MST"), w.Schedule)
	}
	return nil
}

func validate(path string) error {
	if _, err := loadConfig(path); err != nil {
		return err
	}
	fmt.Println("config ok:", path)
	return nil
}
