// Copyright 2019 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/docker/go-units"
	"github.com/pingcap-incubator/tinymvcc/kv/config"
	"github.com/pingcap-incubator/tinymvcc/kv/engine"
	"github.com/pingcap-incubator/tinymvcc/kv/util/logutil"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/process"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

var (
	configPath string
	statusAddr string
	logLevel   string

	globalContext context.Context
	globalCancel  context.CancelFunc
)

func initRunFlags(flags *pflag.FlagSet, w *Workload) {
	flags.IntVar(&w.Threads, "threads", w.Threads, "Number of concurrent workers")
	flags.IntVar(&w.TxnsPerThread, "txns", w.TxnsPerThread, "Transactions per worker")
	flags.IntVar(&w.TxnLength, "txn-length", w.TxnLength, "Operations per transaction")
	flags.IntVar(&w.TableSize, "table-size", w.TableSize, "Rows loaded before the run")
	flags.Float64Var(&w.InsertRatio, "insert", w.InsertRatio, "Fraction of operations that insert")
	flags.Float64Var(&w.UpdateRatio, "update", w.UpdateRatio, "Fraction of operations that update")
	flags.Float64Var(&w.SelectRatio, "select", w.SelectRatio, "Fraction of operations that select")
	flags.Int64Var(&w.Seed, "seed", w.Seed, "Random seed")
	flags.IntVar(&w.Target, "target", w.Target, "Attempt to start n transactions per second (default: unlimited)")
}

var (
	// Mostly reads with some writes, like the new order and payment mix of TPC-C.
	oltpDefaults = Workload{
		Threads: 4, TxnsPerThread: 10000, TxnLength: 5, TableSize: 1000,
		InsertRatio: 0.1, UpdateRatio: 0.4, SelectRatio: 0.5, Seed: 1,
	}
	// Long update heavy transactions over a small table.
	highAbortDefaults = Workload{
		Threads: 4, TxnsPerThread: 1000, TxnLength: 40, TableSize: 1000,
		InsertRatio: 0, UpdateRatio: 0.8, SelectRatio: 0.2, Seed: 1,
	}
)

func loadConfig() (*config.Config, error) {
	cfg := config.NewDefaultConfig()
	if configPath != "" {
		var err error
		if cfg, err = config.LoadFile(configPath); err != nil {
			return nil, err
		}
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	return cfg, nil
}

func serveStatus(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Error("status server stopped", zap.String("addr", addr), zap.Error(err))
		}
	}()
}

// reportMemory prints the resident set size of the process, which shows whether released undo segments give their
// memory back.
func reportMemory() {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		log.Warn("inspect process failed", zap.Error(err))
		return
	}
	mem, err := p.MemoryInfo()
	if err != nil {
		log.Warn("read memory info failed", zap.Error(err))
		return
	}
	fmt.Printf("resident memory %s\n", units.HumanSize(float64(mem.RSS)))
}

func runBench(ctx context.Context, w Workload) error {
	defer logutil.LogPanic()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := logutil.InitLogger(&cfg.Log); err != nil {
		return err
	}
	defer log.Sync()
	if statusAddr != "" {
		serveStatus(statusAddr)
	}

	e, err := engine.NewEngine(cfg)
	if err != nil {
		return err
	}
	res, runErr := Run(ctx, e, w)
	e.Close()
	if res != nil {
		fmt.Println(res)
	}
	reportMemory()
	if runErr != nil {
		return runErr
	}
	if cfg.GC.Enabled {
		if n := e.Pool().Outstanding(); n != 0 {
			return errors.Errorf("%d undo segments were not reclaimed", n)
		}
	}
	return nil
}

func newRunCommand(use, short string, defaults Workload) *cobra.Command {
	w := defaults
	m := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBench(globalContext, w)
		},
	}
	initRunFlags(m.Flags(), &w)
	return m
}

func main() {
	globalContext, globalCancel = context.WithCancel(context.Background())
	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		sig := <-sc
		fmt.Printf("\nGot signal [%v] to exit.\n", sig)
		globalCancel()
	}()

	rootCmd := &cobra.Command{
		Use:          "mvcc-bench",
		Short:        "Drive a transactional workload against the in-memory storage core",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file")
	rootCmd.PersistentFlags().StringVar(&statusAddr, "status-addr", "", "Serve prometheus metrics on this address")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "L", "", "Log level, overrides the config file")
	rootCmd.AddCommand(
		newRunCommand("run", "Short OLTP transactions", oltpDefaults),
		newRunCommand("high-abort", "Long update heavy transactions that conflict often", highAbortDefaults),
	)

	err := rootCmd.Execute()
	globalCancel()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
