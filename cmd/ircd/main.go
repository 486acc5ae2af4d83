/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package main

import (
	"context"
	"crypto/tls"
	"flag"
	"os"
	"os/signal"
	"syscall"

	nested "github.com/antonfisher/nested-logrus-formatter"
	"github.com/sirupsen/logrus"
	_ "go.uber.org/automaxprocs"

	irc "github.com/hollowbright/ircd"
	"github.com/hollowbright/ircd/shared/logfmt"
)

// Exit codes: 0 normal shutdown, 2 configuration error, 3 socket bind
// failure, 4 internal invariant violation (raised from within the core).
const (
	exitOk        = 0
	exitConfig    = 2
	exitBind      = 3
	exitInvariant = 4
)

func main() {
	configPath := flag.String("config", "", "path to a dotenv-style config file")
	foreground := flag.Bool("foreground", false, "log to stdout with styles instead of plain output")
	flag.Parse()

	logger := logrus.New()

	cfg, err := irc.LoadConfig(*configPath)
	if err != nil {
		logger.Error(err)
		os.Exit(exitConfig)
	}

	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}
	if *foreground {
		logger.SetFormatter(logfmt.New(
			logfmt.WithFieldsOrder("component", "sub-component"),
			logfmt.TrimMessages(true),
		))
	} else {
		logger.SetFormatter(&nested.Formatter{
			FieldsOrder:     []string{"component", "sub-component"},
			TrimMessages:    true,
			NoColors:        true,
			HideKeys:        false,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	}

	irc.Warmup(logger)

	server, err := irc.NewServer(cfg, irc.NewMultiplexer())
	if err != nil {
		logger.Error(err)
		os.Exit(exitConfig)
	}

	if cfg.TLSCert != "" {
		cert, err := tls.LoadX509KeyPair(cfg.TLSCert, cfg.TLSKey)
		if err != nil {
			logger.Error(err)
			os.Exit(exitConfig)
		}
		server.AddIOHook(irc.NewTLSHook(&tls.Config{Certificates: []tls.Certificate{cert}}))
	}

	if err := server.Listen(cfg.ListenAddr); err != nil {
		logger.Error(err)
		os.Exit(exitBind)
	}

	if cfg.MetricsAddr != "" {
		go func() {
			if err := server.Metrics().Serve(cfg.MetricsAddr); err != nil {
				logger.WithError(err).Warn("metrics listener failed")
			}
		}()
	}

	mainContext, shutdown := context.WithCancel(context.Background())
	defer shutdown()

	killSignals := make(chan os.Signal, 1)
	signal.Notify(killSignals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-killSignals
		logger.Infof("initializing server shutdown, received signal: %s", sig)
		shutdown()
		sig = <-killSignals
		logger.Fatalf("forcefully shutting down server, received signal: %s", sig)
	}()

	if err := server.Run(mainContext); err != nil && err != context.Canceled {
		if err == irc.ErrInvariantViolation {
			logger.Error(err)
			os.Exit(exitInvariant)
		}
		logger.Error(err)
	}

	os.Exit(exitOk)
}
