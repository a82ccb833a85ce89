// Command storage-init provisions the stores the API writes to: the task
// table in Azure Table Storage, the change queue, and the Postgres schema.
// Each step is skipped when its configuration is absent, and running it twice
// is harmless.
package main

import (
	"context"
	"errors"
	"os"
	"strconv"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"

	"todo-api/storage"
)

const queueAlreadyExists = "QueueAlreadyExists"

func main() {
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}
	log.Info("storage init starting")

	ctx := context.Background()
	table := os.Getenv("TASKS_TABLE")
	if table == "" {
		table = "todos"
	}

	if connStr := os.Getenv("STORAGE_CONNECTION_STRING"); connStr != "" {
		if err := createTable(ctx, connStr, table); err != nil {
			log.Fatalf("create table %s: %v", table, err)
		}
		if queue := os.Getenv("CHANGE_QUEUE"); queue != "" {
			if err := createQueue(ctx, connStr, queue); err != nil {
				log.Fatalf("create queue %s: %v", queue, err)
			}
		}
	} else {
		log.Debug("STORAGE_CONNECTION_STRING not set, skipping table and queue")
	}

	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		if err := migratePostgres(ctx, dsn, table); err != nil {
			log.Fatalf("postgres schema: %v", err)
		}
	}

	log.Info("storage init complete")
}

func createTable(ctx context.Context, connStr, name string) error {
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, nil)
	if err != nil {
		return err
	}
	_, err = svc.NewClient(name).CreateTable(ctx, nil)
	if alreadyExists(err, string(aztables.TableAlreadyExists)) {
		log.WithField("table", name).Debug("table already exists")
		return nil
	}
	if err == nil {
		log.WithField("table", name).Info("table created")
	}
	return err
}

func createQueue(ctx context.Context, connStr, name string) error {
	q, err := azqueue.NewQueueClientFromConnectionString(connStr, name, nil)
	if err != nil {
		return err
	}
	_, err = q.Create(ctx, nil)
	if alreadyExists(err, queueAlreadyExists) {
		log.WithField("queue", name).Debug("queue already exists")
		return nil
	}
	if err == nil {
		log.WithField("queue", name).Info("queue created")
	}
	return err
}

func migratePostgres(ctx context.Context, dsn, table string) error {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return err
	}
	defer pool.Close()
	if err := storage.NewPostgres(pool).EnsureTable(ctx, table); err != nil {
		return err
	}
	log.WithField("table", table).Info("postgres schema ready")
	return nil
}

func alreadyExists(err error, code string) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.ErrorCode == code
}
