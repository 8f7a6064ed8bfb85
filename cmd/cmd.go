// submodule cmd contains command definitions
package main

import (
	"time"

	"github.com/urfave/cli/v3"
)

func serverFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "server",
		Aliases: []string{"s"},
		Usage:   "Base URL of the dlx API (default: $DLX_API_URL or http://localhost:<port>)",
	}
}

// serveCommand runs the HTTP service
func serveCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP API, worker pool and artifact sweeper",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Override [server] port",
			},
			&cli.BoolFlag{
				Name:  "events",
				Usage: "Print task lifecycle events to stdout",
			},
		},
		Action: r.Serve,
	}
}

// setupCommand handles first-run configuration and database setup.
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Setup and configuration commands",
		Commands: []*cli.Command{
			{
				Name:   "config",
				Usage:  "Write config.toml from the built-in defaults",
				Action: r.SetupConfig,
			},
			{
				Name:   "database",
				Usage:  "Initialize database and run migrations",
				Action: r.SetupDatabase,
			},
		},
	}
}

// apiCommand handles raw API calls
func apiCommand(r *Runner) *cli.Command {
	pathArg := []cli.Argument{&cli.StringArg{Name: "path"}}

	return &cli.Command{
		Name:  "api",
		Usage: "Direct calls to a running dlx API",
		Flags: []cli.Flag{serverFlag()},
		Commands: []*cli.Command{
			{
				Name:      "get",
				Usage:     "GET a path and print the response",
				Arguments: pathArg,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output compact JSON",
					},
				},
				Action: r.APIGet,
			},
			{
				Name:      "post",
				Usage:     "POST a JSON body and print the response",
				Arguments: pathArg,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "data",
						Aliases:  []string{"d"},
						Usage:    "JSON body to send",
						Required: true,
					},
				},
				Action: r.APIPost,
			},
			{
				Name:      "delete",
				Usage:     "DELETE a path and print the response",
				Arguments: pathArg,
				Action:    r.APIDelete,
			},
		},
	}
}

// tasksCommand inspects and manages tasks on a running server
func tasksCommand(r *Runner) *cli.Command {
	idArg := []cli.Argument{&cli.StringArg{Name: "id"}}

	return &cli.Command{
		Name:  "tasks",
		Usage: "Inspect and manage tasks on a running server",
		Flags: []cli.Flag{serverFlag()},
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List tasks",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{
						Name:  "state",
						Usage: "Only show tasks in these states (pending, running, completed, failed)",
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output raw JSON",
					},
					&cli.BoolFlag{
						Name:  "csv",
						Usage: "Output CSV",
					},
				},
				Action: r.TasksList,
			},
			{
				Name:      "status",
				Usage:     "Show one task",
				Arguments: idArg,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output raw JSON",
					},
				},
				Action: r.TasksStatus,
			},
			{
				Name:      "wait",
				Usage:     "Poll a task until it completes or fails",
				Arguments: idArg,
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:  "interval",
						Usage: "Polling interval",
						Value: time.Second,
					},
					&cli.DurationFlag{
						Name:  "timeout",
						Usage: "Give up after this long",
						Value: 15 * time.Minute,
					},
				},
				Action: r.TasksWait,
			},
			{
				Name:      "delete",
				Usage:     "Delete a finished task and its artifact",
				Arguments: idArg,
				Action:    r.TasksDelete,
			},
		},
	}
}

// cacheCommand maintains the resolve cache
func cacheCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "cache",
		Usage: "Resolve cache maintenance",
		Commands: []*cli.Command{
			{
				Name:   "prune",
				Usage:  "Remove expired resolve cache entries",
				Action: r.CachePrune,
			},
		},
	}
}

// artifactsCommand maintains the managed output directory
func artifactsCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "artifacts",
		Usage: "Managed output directory maintenance",
		Commands: []*cli.Command{
			{
				Name:   "sweep",
				Usage:  "Run one expiry pass over the artifact directory",
				Action: r.ArtifactsSweep,
			},
		},
	}
}
