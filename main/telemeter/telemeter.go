package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jd3nn1s/telemeter"
	"github.com/jd3nn1s/telemeter/api"
	"github.com/jd3nn1s/telemeter/config"
	"github.com/jd3nn1s/telemeter/forwarder"
	"github.com/jd3nn1s/telemeter/settings"
	"github.com/jd3nn1s/telemeter/source"
	"github.com/jd3nn1s/telemeter/storage"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "telemeter",
		Short: "Live ride telemetry: speed, trip, odometer, fuel and range",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := log.ParseLevel(logLevel)
			if err != nil {
				return err
			}
			log.SetLevel(level)
			return nil
		},
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "telemeter.toml", "path to configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(settingsCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	var testMode, printTelemetry bool
	var replay, addr string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the telemetry pipeline and HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if replay != "" {
				cfg.Source.Replay = replay
			}
			if addr != "" {
				cfg.HTTP.Addr = addr
			}
			src, err := positionSource(cfg, testMode)
			if err != nil {
				return err
			}

			db, err := storage.OpenSQLite(cfg.Storage.Path)
			if err != nil {
				return err
			}
			defer db.Close()
			store := settings.NewStore(db)
			defer store.Flush()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			m := telemeter.NewMeter(src, store, cfg.Filter)
			m.AddForwarder(&telemeter.AlertForwarder{})
			if cfg.Forwarder != nil {
				fwder, err := forwarder.NewUDPForwarder(cfg.Forwarder)
				if err != nil {
					return errors.Wrap(err, "unable to load UDP forwarder")
				}
				defer fwder.Close()
				go fwder.Start(ctx)
				m.AddForwarder(fwder)
			}
			if printTelemetry {
				m.AddForwarder(printForwarder{})
			}

			srv := &http.Server{
				Addr:    cfg.HTTP.Addr,
				Handler: api.NewServer(m).Router(),
			}
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.WithField("err", err).Error("http server stopped")
				}
			}()
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()

			log.WithField("session", m.Session).
				WithField("addr", cfg.HTTP.Addr).
				Info("telemeter running")
			if err = m.Run(ctx); errors.Cause(err) != context.Canceled {
				return err
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&testMode, "testmode", false, "generate test data")
	cmd.Flags().BoolVar(&printTelemetry, "print-telemetry", false, "print telemetry to stdout")
	cmd.Flags().StringVar(&replay, "replay", "", "replay samples from a JSON lines file")
	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address")
	return cmd
}

func positionSource(cfg *config.Config, testMode bool) (telemeter.PositionSource, error) {
	if testMode {
		return &source.Simulator{
			Latitude:  12.9716,
			Longitude: 77.5946,
			Interval:  200 * time.Millisecond,
			JitterM:   3,
		}, nil
	}
	if cfg.Source.Replay != "" {
		return &source.Replay{
			Path:     cfg.Source.Replay,
			Interval: time.Duration(cfg.Source.IntervalMS) * time.Millisecond,
		}, nil
	}
	return nil, errors.New("no position source: use --testmode or --replay")
}

type printForwarder struct{}

func (printForwarder) Forward(newSnapshot *telemeter.Snapshot, prevSnapshot *telemeter.Snapshot) error {
	fmt.Printf("%+v\n", *newSnapshot)
	return nil
}

func settingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Read or change persisted vehicle settings",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get",
		Short: "Print the persisted settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(store *settings.Store) error {
				return printJSON(store.Get())
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:       "set <key> <value>",
		Short:     "Change one persisted setting",
		Args:      cobra.ExactArgs(2),
		ValidArgs: settings.Keys(),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := settings.ParsePatch(args[0], args[1])
			if err != nil {
				return err
			}
			return withStore(func(store *settings.Store) error {
				if err := store.Set(p); err != nil {
					return err
				}
				store.Flush()
				return printJSON(store.Get())
			})
		},
	})
	return cmd
}

func withStore(fn func(*settings.Store) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	db, err := storage.OpenSQLite(cfg.Storage.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	store := settings.NewStore(db)
	store.Hydrate()
	return fn(store)
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrap(err, "unable to encode")
	}
	fmt.Println(string(data))
	return nil
}
