package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/urfave/cli/v2"

	"gridcal/internal/capture"
	"gridcal/internal/config"
	"gridcal/internal/diff"
	appLog "gridcal/internal/log"
	"gridcal/internal/notify"
	"gridcal/internal/pipeline"
	"gridcal/internal/store"
	"gridcal/internal/web"
)

const version = "0.1.0"

func main() {
	// Load .env file first, but don't error if it doesn't exist.
	_ = godotenv.Load()

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	app := &cli.App{
		Name:    "gridcal",
		Usage:   "Turn a weekly timetable feed into calendar files and watch it for changes.",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Value:   "/etc/gridcal/config.yaml",
				Usage:   "path to config file",
				EnvVars: []string{"GRIDCAL_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "debug, info, warn or error (overrides config)",
				EnvVars: []string{"GRIDCAL_LOG_LEVEL"},
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			captureCommand(),
			exportCommand(),
			diffCommand(),
		},
	}

	if err := app.RunContext(ctx, os.Args); err != nil {
		appLog.Error("gridcal failed", err)
		os.Exit(1)
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP API and take captures on the refresh schedule.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "listen", Usage: "HTTP listen address (overrides config if set)"},
		},
		Action: func(c *cli.Context) error {
			conf, err := loadConfig(c)
			if err != nil {
				return err
			}
			if l := c.String("listen"); l != "" {
				conf.Listen = l
			}

			p, err := newPipeline(conf)
			if err != nil {
				return err
			}

			// Without a capture source the server still accepts pushed captures.
			src, err := newSource(conf)
			if err != nil {
				appLog.Warn("scheduled captures disabled", "reason", err.Error())
			}

			if src != nil && conf.RefreshCron != "" {
				sched := cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{})), cron.WithLogger(cronLogger{}))
				_, err := sched.AddFunc(conf.RefreshCron, func() {
					ctx, cancel := context.WithTimeout(c.Context, conf.CaptureTimeout()*2)
					defer cancel()
					if _, err := p.Refresh(ctx, src); err != nil {
						appLog.Error("scheduled capture failed", err)
					}
				})
				if err != nil {
					return fmt.Errorf("invalid refresh schedule %q: %w", conf.RefreshCron, err)
				}
				sched.Start()
				defer func() { <-sched.Stop().Done() }()
				appLog.Info("capture schedule started", "refresh", conf.RefreshCron, "mode", conf.Capture.Mode)
			}

			return web.NewServer(conf, p, src).ListenAndServe(c.Context)
		},
	}
}

func captureCommand() *cli.Command {
	return &cli.Command{
		Name:  "capture",
		Usage: "Take one capture, store it and print what changed.",
		Action: func(c *cli.Context) error {
			conf, err := loadConfig(c)
			if err != nil {
				return err
			}
			p, err := newPipeline(conf)
			if err != nil {
				return err
			}
			src, err := newSource(conf)
			if err != nil {
				return err
			}

			d, err := p.Refresh(c.Context, src)
			if err != nil {
				return err
			}
			fmt.Fprintln(c.App.ErrWriter, notify.Message(d))
			return printJSON(c, d)
		},
	}
}

func exportCommand() *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Write the latest stored capture as a CSV or iCalendar file.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "format", Value: "csv", Usage: "csv or ics"},
			&cli.StringFlag{Name: "out", Usage: "output path; \"-\" for stdout (default: <prefix>-YYYY-MM-DD.<ext> in the working directory)"},
		},
		Action: func(c *cli.Context) error {
			f, err := pipeline.ParseFormat(c.String("format"))
			if err != nil {
				return err
			}
			conf, err := loadConfig(c)
			if err != nil {
				return err
			}
			p, err := newPipeline(conf)
			if err != nil {
				return err
			}

			out, err := p.Export(c.Context, f)
			if err != nil {
				return err
			}

			path := c.String("out")
			if path == "-" {
				_, err := fmt.Fprint(c.App.Writer, out.Body)
				return err
			}
			if path == "" {
				path = out.FileName
			}
			if err := os.WriteFile(path, []byte(out.Body), 0o644); err != nil {
				return fmt.Errorf("write export: %w", err)
			}
			appLog.Info("export written", "path", path, "events", out.Written, "skipped", out.Skipped)
			return nil
		},
	}
}

func diffCommand() *cli.Command {
	return &cli.Command{
		Name:      "diff",
		Usage:     "Compare two saved feed payloads record by record.",
		ArgsUsage: "PREVIOUS CURRENT",
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return cli.Exit("diff needs exactly two files: PREVIOUS CURRENT", 2)
			}
			prev, err := os.ReadFile(c.Args().Get(0))
			if err != nil {
				return err
			}
			cur, err := os.ReadFile(c.Args().Get(1))
			if err != nil {
				return err
			}
			return printJSON(c, diff.Diff(prev, cur))
		},
	}
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	path := c.String("config")
	conf, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}

	level := conf.LogLevel
	if l := c.String("log-level"); l != "" {
		level = l
	}
	appLog.SetLevel(appLog.ParseLevel(level))

	appLog.Debug("effective config",
		"config_path", path,
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"refresh", conf.RefreshCron,
		"capture_mode", conf.Capture.Mode,
		"feed_url", capture.RedactURL(conf.Capture.FeedURL),
		"store_path", conf.StorePath,
		"retention", conf.Retention,
	)
	return conf, nil
}

func newPipeline(conf *config.Config) (*pipeline.Pipeline, error) {
	loc, err := conf.Location()
	if err != nil {
		return nil, err
	}
	st, err := store.NewFile(conf.StorePath, conf.Retention)
	if err != nil {
		return nil, err
	}
	return pipeline.New(st, notify.Log{}, pipeline.Config{
		ExportPrefix:            conf.ExportPrefix,
		CalendarName:            conf.CalendarName,
		Location:                loc,
		MaxOccurrencesPerRecord: conf.MaxOccurrences,
	}), nil
}

func newSource(conf *config.Config) (capture.Source, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	switch conf.Capture.Mode {
	case config.CaptureModeBrowser:
		return capture.BrowserSource{Options: capture.BrowserOptions{
			PageURL: conf.Capture.PageURL,
			Match:   conf.Capture.Match,
			Timeout: conf.CaptureTimeout(),
		}}, nil
	default:
		header := make(http.Header, len(conf.Capture.Headers))
		for k, v := range conf.Capture.Headers {
			header.Set(k, v)
		}
		return capture.HTTPSource{
			Fetcher: capture.NewHTTPFetcher(conf.CaptureTimeout(), header),
			URL:     conf.Capture.FeedURL,
		}, nil
	}
}

func printJSON(c *cli.Context, v any) error {
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// cronLogger routes robfig/cron's internal logging through the app logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	appLog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	appLog.Error("cron: "+msg, err, keysAndValues...)
}
