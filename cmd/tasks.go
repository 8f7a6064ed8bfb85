package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/desertthunder/dlx/internal/formatter"
	"github.com/desertthunder/dlx/internal/models"
	"github.com/desertthunder/dlx/internal/shared"
	"github.com/urfave/cli/v3"
)

func taskID(cmd *cli.Command) (string, error) {
	id := strings.TrimSpace(cmd.StringArg("id"))
	if id == "" {
		return "", fmt.Errorf("%w: task id", shared.ErrMissingArgument)
	}
	return id, nil
}

// TasksList prints tasks known to the server.
func (r *Runner) TasksList(ctx context.Context, cmd *cli.Command) error {
	var states []models.State
	for _, raw := range cmd.StringSlice("state") {
		for _, s := range strings.Split(raw, ",") {
			state := models.State(strings.TrimSpace(s))
			if !state.Valid() {
				return fmt.Errorf("%w: unknown state %q", shared.ErrInvalidArgument, s)
			}
			states = append(states, state)
		}
	}

	views, err := r.client(cmd).Tasks(ctx, states...)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(views, true)
	}

	list := make([]models.Task, len(views))
	for i, v := range views {
		list[i] = v.Task
	}

	if cmd.Bool("csv") {
		data, err := formatter.TasksToCSV(list)
		if err != nil {
			return err
		}
		return r.writePlain("%s", data)
	}
	return r.writePlain("%s\n", formatter.TaskTable(list, time.Now()))
}

// TasksStatus prints a single task.
func (r *Runner) TasksStatus(ctx context.Context, cmd *cli.Command) error {
	id, err := taskID(cmd)
	if err != nil {
		return err
	}

	view, err := r.client(cmd).Task(ctx, id)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(view, true)
	}
	if err := r.writePlain("%s", formatter.TaskDetail(view.Task, view.DownloadURL)); err != nil {
		return err
	}
	if view.Result != nil && len(view.Result.URLs) > 0 {
		return r.writePlain("%s", formatter.URLList(view.Result.URLs))
	}
	return nil
}

// TasksWait polls a task until it reaches a terminal state.
func (r *Runner) TasksWait(ctx context.Context, cmd *cli.Command) error {
	id, err := taskID(cmd)
	if err != nil {
		return err
	}

	if timeout := cmd.Duration("timeout"); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	r.logger.Info("waiting for task", "task_id", id)
	view, err := r.client(cmd).Wait(ctx, id, cmd.Duration("interval"))
	if err != nil {
		return err
	}

	if err := r.writePlain("%s", formatter.TaskDetail(view.Task, view.DownloadURL)); err != nil {
		return err
	}
	if view.State == models.StateFailed {
		if view.Error != nil {
			return fmt.Errorf("task %s failed: %w", id, view.Error)
		}
		return fmt.Errorf("task %s failed", id)
	}
	return nil
}

// TasksDelete removes a finished task and its artifact.
func (r *Runner) TasksDelete(ctx context.Context, cmd *cli.Command) error {
	id, err := taskID(cmd)
	if err != nil {
		return err
	}

	if err := r.client(cmd).DeleteTask(ctx, id); err != nil {
		return err
	}
	return r.writePlain("✓ Task %s deleted\n", id)
}
