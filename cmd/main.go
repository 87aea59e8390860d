/*
Copyright 2024 SatsQueue Authors.

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

package main

import (
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/satsqueue/satsqueue"
	"github.com/satsqueue/satsqueue/config"
	"github.com/satsqueue/satsqueue/database"
	"github.com/satsqueue/satsqueue/internal/cache"
	"github.com/satsqueue/satsqueue/internal/notification"
	redis_db "github.com/satsqueue/satsqueue/internal/redis-db"
	"github.com/satsqueue/satsqueue/ledgerstore"
	"github.com/satsqueue/satsqueue/lightning"
	"github.com/satsqueue/satsqueue/nostr"
)

// SatsQueue represents the CLI application, encapsulating the root Cobra command.
type SatsQueue struct {
	cmd *cobra.Command
}

// satsqueueInstance holds the engine and its configuration for the running command.
type satsqueueInstance struct {
	satsqueue *satsqueue.SatsQueue
	cnf       *config.Configuration
	queue     *satsqueue.TaskQueue
	redis     *redis_db.Redis
}

func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun loads the configuration and builds the engine before any command runs.
func preRun(app *satsqueueInstance, configFile *string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := config.InitConfig(*configFile)
		if err != nil {
			log.Fatal("error loading config", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}

		if err := setupSatsQueue(app, cnf); err != nil {
			notification.NotifyError(err)
			log.Fatal(err)
		}
		app.cnf = cnf

		return nil
	}
}

// setupSatsQueue connects to redis and wires the engine's collaborators. Postgres is
// optional and only backs the served history.
func setupSatsQueue(app *satsqueueInstance, cfg *config.Configuration) error {
	rdb, err := redis_db.NewRedisClient(redis_db.SplitAddresses(cfg.Redis.Dns), cfg.Redis.SkipTLSVerify)
	if err != nil {
		return fmt.Errorf("error connecting to redis: %v", err)
	}
	client := rdb.Client()

	httpTimeout := time.Duration(cfg.Lightning.HTTPTimeoutSec) * time.Second
	relays := nostr.NewRelayPool(cfg.Nostr.Relays)
	resolver := satsqueue.NewCachedResolver(
		nostr.NewResolver(relays, httpTimeout),
		cache.NewCache(client),
		time.Duration(cfg.Nostr.IdentityCacheSec)*time.Second,
	)

	opts := []satsqueue.Option{
		satsqueue.WithPaymentProvider(lightning.NewClient(httpTimeout)),
		satsqueue.WithIdentityResolver(resolver),
		satsqueue.WithRedis(client),
		satsqueue.WithPollInterval(time.Duration(cfg.Boost.PollIntervalMs) * time.Millisecond),
		satsqueue.WithAwaitTimeout(time.Duration(cfg.Boost.AwaitTimeoutSec) * time.Second),
	}

	if cfg.Nostr.PrivateKey != "" {
		notifier, err := nostr.NewNotifier(cfg.Nostr.PrivateKey, relays)
		if err != nil {
			return fmt.Errorf("error loading nostr key: %v", err)
		}
		opts = append(opts, satsqueue.WithNotifier(notifier))
	} else {
		logrus.Warn("nostr.private_key is not set, direct messages are disabled")
	}

	ds, err := database.NewDataSource(cfg)
	switch {
	case errors.Is(err, database.ErrNoDataSource):
	case err != nil:
		return fmt.Errorf("error getting datasource: %v", err)
	default:
		opts = append(opts, satsqueue.WithDataSource(ds))
	}

	taskQueue, err := satsqueue.NewTaskQueue(cfg)
	if err != nil {
		return fmt.Errorf("error creating task queue: %v", err)
	}
	opts = append(opts, satsqueue.WithTaskQueue(taskQueue))

	app.satsqueue = satsqueue.NewSatsQueue(ledgerstore.NewRedisStore(client), opts...)
	app.queue = taskQueue
	app.redis = rdb
	return nil
}

// NewCLI creates the root command and its subcommands.
func NewCLI() *SatsQueue {
	var configFile string
	s := &satsqueueInstance{}

	var rootCmd = &cobra.Command{
		Use:   "satsqueue",
		Short: "Paid-priority queues over Lightning",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./satsqueue.json", "Configuration file for satsqueue")
	rootCmd.PersistentPreRunE = preRun(s, &configFile)

	rootCmd.AddCommand(serverCommands(s))
	rootCmd.AddCommand(workerCommands(s))
	rootCmd.AddCommand(migrateCommands(s))
	rootCmd.AddCommand(queueCommands(s))
	rootCmd.AddCommand(configCommands())

	return &SatsQueue{cmd: rootCmd}
}

func (w SatsQueue) executeCLI() {
	if err := w.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()

	cli := NewCLI()
	cli.executeCLI()
}
