package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"os/user"
	"runtime"
	"strconv"
	"syscall"

	"github.com/lomik/zapwriter"
	daemon "github.com/sevlyar/go-daemon"
	"go.uber.org/zap"

	"github.com/go-graphite/udp-relay/relay"

	_ "net/http/pprof"
)

// Version of udp-relay
const Version = "0.1.0"

// exit statuses
const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

const programName = "udp-relay"

// loadConfig returns config from file or from legacy positional arguments
func loadConfig(configFile string, args []string) (*relay.Config, error) {
	if configFile != "" {
		if len(args) > 0 {
			return nil, fmt.Errorf("positional arguments are not allowed with -config")
		}
		return relay.ParseConfig(configFile)
	}
	return relay.ConfigFromArgs(args)
}

// run is main without os.Exit. Returns process exit status
func run(args []string, stdout io.Writer, stderr io.Writer) int {
	var err error

	/* CONFIG start */

	flags := flag.NewFlagSet(programName, flag.ContinueOnError)
	flags.SetOutput(stderr)

	configFile := flags.String("config", "", "Filename of config")
	printDefaultConfig := flags.Bool("config-print-default", false, "Print default config")
	checkConfig := flags.Bool("check-config", false, "Check config and exit")

	printVersion := flags.Bool("version", false, "Print version")

	isDaemon := flags.Bool("daemon", false, "Run in background")
	pidfile := flags.String("pidfile", "", "Pidfile path (only for daemon)")

	flags.Usage = func() {
		fmt.Fprintf(stderr, relay.Usage, programName)
		fmt.Fprintf(stderr, "       %s -config FILE\n", programName)
		flags.PrintDefaults()
	}

	if err = flags.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return exitOK
		}
		return exitUsage
	}

	if *printVersion {
		fmt.Fprintln(stdout, Version)
		return exitOK
	}

	if *printDefaultConfig {
		if err = relay.PrintDefaultConfig(); err != nil {
			fmt.Fprintln(stderr, err.Error())
			return exitError
		}
		return exitOK
	}

	cfg, err := loadConfig(*configFile, flags.Args())
	if err != nil {
		fmt.Fprintln(stderr, err.Error())
		if relay.IsArgumentError(err) {
			flags.Usage()
			return exitUsage
		}
		return exitError
	}

	var runAsUser *user.User
	if cfg.Common.User != "" {
		runAsUser, err = user.Lookup(cfg.Common.User)
		if err != nil {
			fmt.Fprintln(stderr, err.Error())
			return exitError
		}
	}

	// config parsed successfully. Exit in check-only mode
	if *checkConfig {
		return exitOK
	}

	for i := 0; i < len(cfg.Logging); i++ {
		if err := zapwriter.PrepareFileForUser(cfg.Logging[i].File, runAsUser); err != nil {
			fmt.Fprintln(stderr, err.Error())
			return exitError
		}
	}

	if err = zapwriter.ApplyConfig(cfg.Logging); err != nil {
		fmt.Fprintln(stderr, err.Error())
		return exitError
	}

	mainLogger := zapwriter.Logger("main")

	if *isDaemon {
		runtime.LockOSThread()

		context := new(daemon.Context)
		if *pidfile != "" {
			context.PidFileName = *pidfile
			context.PidFilePerm = 0644
		}

		if runAsUser != nil {
			uid, err := strconv.ParseInt(runAsUser.Uid, 10, 0)
			if err != nil {
				mainLogger.Error(err.Error())
				return exitError
			}

			gid, err := strconv.ParseInt(runAsUser.Gid, 10, 0)
			if err != nil {
				mainLogger.Error(err.Error())
				return exitError
			}

			context.Credential = &syscall.Credential{
				Uid: uint32(uid),
				Gid: uint32(gid),
			}
		}

		child, _ := context.Reborn()

		if child != nil {
			return exitOK
		}
		defer context.Release()

		runtime.UnlockOSThread()
	}
	/* CONFIG end */

	// pprof
	if cfg.Pprof.Enabled {
		_, stopPprof, err := relay.HTTPServe(cfg.Pprof.Listen, http.DefaultServeMux)
		if err != nil {
			mainLogger.Error("pprof listen failed", zap.Error(err))
			return exitError
		}
		defer stopPprof()
	}

	app := relay.NewWithConfig(cfg)
	app.ConfigFilename = *configFile

	if err = app.Start(); err != nil {
		mainLogger.Error("start failed", zap.Error(err))
		return exitError
	}

	mainLogger.Info("started",
		zap.String("listen", app.Addr().String()),
		zap.Int("destinations", len(cfg.Destinations)),
	)

	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(c)

	go func() {
		sig := <-c
		mainLogger.Info("signal received, stopping", zap.String("signal", sig.String()))
		app.Stop()
	}()

	app.Loop()

	mainLogger.Info("stopped")
	return exitOK
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}
