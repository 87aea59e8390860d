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
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/hibiken/asynq"
	"github.com/hibiken/asynqmon"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/satsqueue/satsqueue"
	"github.com/satsqueue/satsqueue/config"
	redis_db "github.com/satsqueue/satsqueue/internal/redis-db"
)

// initializeQueues weights the task queues. Notifications are the most latency
// sensitive, the retention sweep the least.
func initializeQueues(cfg *config.Configuration) map[string]int {
	return map[string]int{
		cfg.Queue.NotificationQueue: 4,
		cfg.Queue.WebhookQueue:      3,
		cfg.Queue.HistoryQueue:      2,
		cfg.Queue.MaintenanceQueue:  1,
	}
}

func initializeWorkerServer(conf *config.Configuration, queues map[string]int) (*asynq.Server, error) {
	connOpt, err := redis_db.AsynqConnOpt(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		return nil, fmt.Errorf("error parsing Redis URL: %v", err)
	}

	return asynq.NewServer(connOpt, asynq.Config{
		Concurrency: conf.Queue.WorkerConcurrency,
		Queues:      queues,
		Logger:      logrus.StandardLogger(),
	}), nil
}

func initializeTaskHandlers(s *satsqueueInstance, mux *asynq.ServeMux) {
	mux.HandleFunc(satsqueue.TypeDirectMessage, s.satsqueue.ProcessDirectMessage)
	mux.HandleFunc(satsqueue.TypeWebhook, s.satsqueue.ProcessWebhook)
	mux.HandleFunc(satsqueue.TypeServedEntry, s.satsqueue.ProcessServedEntry)
	mux.HandleFunc(satsqueue.TypeArchiveSweep, s.satsqueue.ProcessArchiveSweep)
}

// initializeScheduler registers the periodic archive sweep over every queue.
func initializeScheduler(conf *config.Configuration) (*asynq.Scheduler, error) {
	connOpt, err := redis_db.AsynqConnOpt(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		return nil, err
	}
	scheduler := asynq.NewScheduler(connOpt, &asynq.SchedulerOpts{Logger: logrus.StandardLogger()})

	task, err := satsqueue.NewArchiveSweepTask("", conf.Queue.MaintenanceQueue)
	if err != nil {
		return nil, err
	}
	if _, err := scheduler.Register(conf.Queue.SweepInterval, task); err != nil {
		return nil, fmt.Errorf("registering archive sweep: %v", err)
	}
	return scheduler, nil
}

// workerCommands defines the "workers" command: the asynq worker for notifications,
// webhooks, served history and archive sweeps, plus the scheduler and asynqmon.
func workerCommands(s *satsqueueInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "start satsqueue workers",
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()

			conf, err := config.Fetch()
			if err != nil {
				log.Fatal("Error fetching config:", err)
			}

			shutdown, err := initializeTracing(ctx, conf)
			if err != nil {
				log.Fatal(err)
			}
			defer func() {
				if err := shutdown(ctx); err != nil {
					log.Printf("Error during shutdown: %v", err)
				}
			}()

			srv, err := initializeWorkerServer(conf, initializeQueues(conf))
			if err != nil {
				log.Fatal(err)
			}

			mux := asynq.NewServeMux()
			initializeTaskHandlers(s, mux)

			scheduler, err := initializeScheduler(conf)
			if err != nil {
				log.Fatal(err)
			}
			if err := scheduler.Start(); err != nil {
				log.Fatalf("could not start scheduler: %v", err)
			}
			defer scheduler.Shutdown()

			connOpt, err := redis_db.AsynqConnOpt(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
			if err != nil {
				log.Fatal(err)
			}
			h := asynqmon.New(asynqmon.Options{
				RootPath:     "/monitoring",
				RedisConnOpt: connOpt,
			})

			go func() {
				monitoringAddr := fmt.Sprintf(":%s", conf.Queue.MonitoringPort)
				log.Printf("Asynqmon server listening on %s/monitoring", monitoringAddr)
				if err := http.ListenAndServe(monitoringAddr, h); err != nil {
					log.Fatalf("could not start asynqmon server: %v", err)
				}
			}()

			if err := srv.Run(mux); err != nil {
				log.Fatalf("could not run server: %v", err)
			}
		},
	}

	return cmd
}
