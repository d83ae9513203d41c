/*
Copyright (c) Seekmesh Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Command overlaynode runs one content-search overlay participant: it
// registers with a rendezvous service, joins the neighbor graph, serves
// search queries against a sampled local file index, and exposes the
// bulk-download and metrics collaborators.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/term"

	"github.com/overlaymesh/seekmesh/corpus"
	"github.com/overlaymesh/seekmesh/overlaynode"
	"github.com/overlaymesh/seekmesh/peer"
	"github.com/overlaymesh/seekmesh/query"
	"github.com/overlaymesh/seekmesh/stats"
	"github.com/overlaymesh/seekmesh/transfer"
)

// statusLine rewrites the current terminal line with a transient status
// update. It prints nothing when stdout is not an interactive terminal, so
// redirected or piped runs stay machine-parseable.
func statusLine(format string, args ...interface{}) {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return
	}
	fmt.Printf("\u001b[1000D")
	fmt.Printf(format, args...)
}

func main() {
	c := DefaultConfig()
	var configFile string

	flag.StringVar(&configFile, "config", "", "Path to a YAML config file; flags below override its values")
	flag.StringVar(&c.IP, "ip", c.IP, "IP to bind the overlay datagram socket on")
	flag.IntVar(&c.Port, "port", c.Port, "Port to bind the overlay datagram socket on")
	flag.StringVar(&c.Username, "username", c.Username, "Username to register with the rendezvous service")
	flag.StringVar(&c.Registrar, "registrar", c.Registrar, "host:port of the rendezvous registrar")
	flag.StringVar(&c.CorpusFile, "corpus", c.CorpusFile, "Path to the newline-delimited candidate filename corpus")
	flag.BoolVar(&c.AutoRegister, "auto-register", c.AutoRegister, "Register with the rendezvous service and join bootstrap peers at start")
	flag.StringVar(&c.LogLevel, "loglevel", c.LogLevel, "Set a log level. Can be: debug, info, warning, error")
	flag.StringVar(&c.StatsDir, "statsdir", c.StatsDir, "Directory to write the search_results.csv stats log to; empty disables it")
	flag.IntVar(&c.TransferPort, "transferport", c.TransferPort, "Port to run the bulk-download HTTP server on; 0 disables it")
	flag.IntVar(&c.MetricsPort, "metricsport", c.MetricsPort, "Port to run the Prometheus /metrics endpoint on; 0 disables it")
	flag.IntVar(&c.Workers, "workers", c.Workers, "Number of worker goroutines processing inbound frames")
	flag.DurationVar(&c.PruneInterval, "pruneinterval", c.PruneInterval, "How often to prune expired pending queries")
	flag.Parse()

	if configFile != "" {
		fileCfg, err := ReadConfig(configFile)
		if err != nil {
			log.Fatalf("overlaynode: reading config %s: %v", configFile, err)
		}
		overrideFromFlags(fileCfg, c)
		c = fileCfg
	}

	switch c.LogLevel {
	case "debug":
		log.SetLevel(log.DebugLevel)
	case "info":
		log.SetLevel(log.InfoLevel)
	case "warning":
		log.SetLevel(log.WarnLevel)
	case "error":
		log.SetLevel(log.ErrorLevel)
	default:
		log.Fatalf("overlaynode: unrecognized log level: %v", c.LogLevel)
	}

	var index query.StaticIndex
	if c.CorpusFile != "" {
		candidates, err := corpus.LoadCandidates(c.CorpusFile)
		if err != nil {
			log.Fatalf("overlaynode: loading corpus: %v", err)
		}
		index = corpus.Sample(candidates)
	}
	log.Infof("overlaynode: local file index: %v", []string(index))

	counters := stats.NewCounters()
	var sink stats.Sink = counters
	if c.StatsDir != "" {
		csvSink, err := stats.OpenCSVSink(c.StatsDir)
		if err != nil {
			log.Fatalf("overlaynode: opening stats dir: %v", err)
		}
		defer csvSink.Close()
		sink = stats.NewMultiSink(counters, csvSink)
	}

	node, err := overlaynode.New(overlaynode.Config{
		Self:          peer.Addr{IP: c.IP, Port: c.Port},
		Username:      c.Username,
		Index:         index,
		Stats:         sink,
		Workers:       c.Workers,
		PruneEvery:    c.PruneInterval,
		RegistrarAddr: c.Registrar,
	})
	if err != nil {
		log.Fatalf("overlaynode: %v", err)
	}

	var metricsExporter *stats.PrometheusExporter
	if c.MetricsPort != 0 {
		metricsExporter = stats.NewPrometheusExporter(counters, c.MetricsPort)
		metricsExporter.Start()
	}

	var transferServer *transfer.Server
	if c.TransferPort != 0 {
		transferServer = transfer.NewServer(".", index, c.TransferPort)
		transferServer.Start()
	}

	ctx, cancel := context.WithCancel(context.Background())
	node.Start(ctx)

	if c.AutoRegister {
		if err := node.Bootstrap(); err != nil {
			log.Warnf("overlaynode: bootstrap failed: %v", err)
		}
	}

	go func() {
		for r := range node.Query().Results() {
			log.Infof("overlaynode: hit %q at %s:%d (hops=%d, latency=%.1fms)", r.Filename, r.PeerIP, r.PeerPort, r.Hops, r.LatencyMS)
			statusLine("hit %q at %s:%d (hops=%d)", r.Filename, r.PeerIP, r.PeerPort, r.Hops)
		}
	}()

	sigStop := make(chan os.Signal, 1)
	signal.Notify(sigStop, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)
	<-sigStop

	log.Warning("overlaynode: graceful shutdown")
	node.Shutdown()
	cancel()
	node.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if transferServer != nil {
		if err := transferServer.Stop(shutdownCtx); err != nil {
			log.Debugf("overlaynode: transfer server shutdown: %v", err)
		}
	}
	if metricsExporter != nil {
		if err := metricsExporter.Stop(shutdownCtx); err != nil {
			log.Debugf("overlaynode: metrics exporter shutdown: %v", err)
		}
	}

	stats.PrintSummary(os.Stdout, counters.Snapshot())
	fmt.Fprintln(os.Stdout, "overlaynode: stopped")
}

// overrideFromFlags copies every flag the user set explicitly on the command
// line from src onto dst, so command-line values win over the config file.
func overrideFromFlags(dst, src *Config) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "ip":
			dst.IP = src.IP
		case "port":
			dst.Port = src.Port
		case "username":
			dst.Username = src.Username
		case "registrar":
			dst.Registrar = src.Registrar
		case "corpus":
			dst.CorpusFile = src.CorpusFile
		case "auto-register":
			dst.AutoRegister = src.AutoRegister
		case "loglevel":
			dst.LogLevel = src.LogLevel
		case "statsdir":
			dst.StatsDir = src.StatsDir
		case "transferport":
			dst.TransferPort = src.TransferPort
		case "metricsport":
			dst.MetricsPort = src.MetricsPort
		case "workers":
			dst.Workers = src.Workers
		case "pruneinterval":
			dst.PruneInterval = src.PruneInterval
		}
	})
}
