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
	"fmt"
	"log"

	migrate "github.com/rubenv/sql-migrate"
	"github.com/spf13/cobra"

	"github.com/satsqueue/satsqueue"
	"github.com/satsqueue/satsqueue/config"
	"github.com/satsqueue/satsqueue/database"
)

// migrateCommands creates the root command for the served-history schema.
func migrateCommands(_ *satsqueueInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "migrate the served-history database",
	}

	cmd.AddCommand(migrateCommand("up", migrate.Up))
	cmd.AddCommand(migrateCommand("down", migrate.Down))

	return cmd
}

func migrateCommand(use string, direction migrate.MigrationDirection) *cobra.Command {
	return &cobra.Command{
		Use: use,
		Run: func(cmd *cobra.Command, args []string) {
			migrations := migrate.EmbedFileSystemMigrationSource{
				FileSystem: satsqueue.SQLFiles,
				Root:       "sql",
			}

			cnf, err := config.Fetch()
			if err != nil {
				log.Printf("Error fetching config: %v", err)
				return
			}
			if cnf.DataSource.Dns == "" {
				log.Printf("Error migrating: %v", database.ErrNoDataSource)
				return
			}

			db, err := database.ConnectDB(cnf.DataSource.Dns)
			if err != nil {
				log.Printf("Error connecting to database: %v", err)
				return
			}
			defer db.Close()

			migrate.SetSchema(database.Schema)

			n, err := migrate.Exec(db, "postgres", migrations, direction)
			if err != nil {
				log.Printf("Error migrating %s: %v", use, err)
				return
			}
			fmt.Printf("Applied %d migrations %s!\n", n, use)
		},
	}
}
