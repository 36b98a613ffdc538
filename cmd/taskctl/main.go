package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/tasktracker/project/internal/app/legacy"
	"github.com/tasktracker/project/internal/app/tasks"
	"github.com/tasktracker/project/internal/bootstrap"
	"github.com/tasktracker/project/internal/platform/auth"
	"github.com/tasktracker/project/internal/platform/env"
	"github.com/tasktracker/project/internal/platform/logger"
)

var (
	app = kingpin.New("taskctl", "Administrative commands for the task API")

	tokenCmd      = app.Command("token", "Mint an access token for a user")
	tokenUserID   = tokenCmd.Arg("user-id", "Subject of the token").Required().String()
	tokenUsername = tokenCmd.Arg("username", "Username claim").Required().String()
	tokenTTL      = tokenCmd.Flag("ttl", "Token lifetime").Default("1h").Duration()

	importCmd         = app.Command("import-legacy", "Import ownerless tasks from a YAML file")
	importFile        = importCmd.Arg("file", "YAML file with a top-level tasks list").Required().ExistingFile()
	importConcurrency = importCmd.Flag("concurrency", "Parallel inserts").Default("8").Int()

	listCmd    = app.Command("list", "List tasks visible to a user")
	listCaller = listCmd.Arg("user-id", "Caller id").Required().String()
)

func main() {
	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	cfg, err := env.Load()
	app.FatalIfError(err, "load configuration")
	log := logger.New("taskctl", cfg.LogLevel)

	ctx := context.Background()
	switch command {
	case tokenCmd.FullCommand():
		err = mintToken(os.Stdout, cfg, *tokenUserID, *tokenUsername, *tokenTTL)
	case importCmd.FullCommand():
		err = importLegacy(ctx, cfg, log, *importFile, *importConcurrency)
	case listCmd.FullCommand():
		err = listTasks(ctx, os.Stdout, cfg, log, *listCaller)
	}
	app.FatalIfError(err, "%s", command)
}

func mintToken(out io.Writer, cfg env.Config, userID, username string, ttl time.Duration) error {
	token, err := auth.NewManager(cfg.JWTSecret, ttl).Sign(userID, username)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, token)
	return err
}

func importLegacy(ctx context.Context, cfg env.Config, log *logrus.Entry, path string, concurrency int) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	records, err := legacy.Parse(f)
	if err != nil {
		return err
	}

	stores, err := bootstrap.Open(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer stores.Close()

	im := legacy.NewImporter(stores.Tasks, log)
	im.Concurrency = concurrency
	res, err := im.Import(ctx, records)
	color.Green("imported %d", res.Imported)
	if res.Skipped > 0 {
		color.Yellow("skipped %d", res.Skipped)
	}
	return err
}

func listTasks(ctx context.Context, out io.Writer, cfg env.Config, log *logrus.Entry, callerID string) error {
	stores, err := bootstrap.Open(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer stores.Close()

	list, err := tasks.NewService(stores.Tasks, log).List(ctx, tasks.Caller{ID: callerID})
	if err != nil {
		return err
	}
	for _, t := range list {
		fmt.Fprintln(out, formatTask(t))
	}
	return nil
}

func formatTask(t tasks.Task) string {
	status := color.YellowString("[ ]")
	if t.Completed {
		status = color.GreenString("[x]")
	}
	priority := string(t.Priority)
	if t.Priority == tasks.PriorityHigh {
		priority = color.RedString(priority)
	}
	owner := t.OwnerID
	if owner == "" {
		owner = color.CyanString("unclaimed")
	}
	due := "-"
	if t.DueDate != nil {
		due = t.DueDate.Format("2006-01-02")
	}
	return fmt.Sprintf("%s %s  %-6s due %s  %s  %s", status, t.ID, priority, due, owner, t.Title)
}
