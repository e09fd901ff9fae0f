package main

import (
	"fmt"
	"os"
	"time"

	"github.com/alecthomas/kong"

	"github.com/dukerupert/cymtrack/internal/cli"
	"github.com/dukerupert/cymtrack/internal/config"
	"github.com/dukerupert/cymtrack/internal/logging"
)

var CLI struct {
	Version  kong.VersionFlag
	LogLevel string `help:"Log level." default:"warn" enum:"debug,info,warn,error"`

	List     cli.ListCmd     `cmd:"" help:"List submissions for a period."`
	Stats    cli.StatsCmd    `cmd:"" help:"Show period statistics."`
	View     cli.ViewCmd     `cmd:"" help:"Show one submission."`
	Export   cli.ExportCmd   `cmd:"" help:"Write the CSV export for a period."`
	Archive  cli.ArchiveCmd  `cmd:"" help:"Archive a submission."`
	Restore  cli.RestoreCmd  `cmd:"" help:"Restore an archived submission."`
	Delete   cli.DeleteCmd   `cmd:"" help:"Permanently delete a submission."`
	Publish  cli.PublishCmd  `cmd:"" help:"Publish a period report to object storage."`
	Reports  cli.ReportsCmd  `cmd:"" help:"List published reports."`
	Download cli.DownloadCmd `cmd:"" help:"Download a published report."`
	Keys     struct {
		HashPassword cli.HashPasswordCmd `cmd:"" help:"Print a bcrypt hash for the admin password."`
		VAPID        cli.VAPIDKeysCmd    `cmd:"" name:"vapid" help:"Generate a VAPID key pair for reminders."`
	} `cmd:"" help:"Generate credentials."`
}

func main() {
	ctx := kong.Parse(&CLI,
		kong.Name("cymctl"),
		kong.Description("Administer CYM devotion and attendance submissions"),
		kong.UsageOnError(),
		kong.Vars{"version": "v0.1.0"},
	)

	appCtx := &cli.Context{
		Out:        os.Stdout,
		Logger:     logging.Setup(logging.Options{Level: CLI.LogLevel, Format: "pretty"}),
		LoadConfig: config.Load,
		Now:        time.Now,
	}
	defer appCtx.Close()

	err := ctx.Run(appCtx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		appCtx.Close()
		os.Exit(1)
	}
}
