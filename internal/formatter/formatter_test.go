package formatter

import (
	"encoding/csv"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/desertthunder/dlx/internal/artifacts"
	"github.com/desertthunder/dlx/internal/models"
)

func sampleTasks(now time.Time) []models.Task {
	started := now.Add(-90 * time.Second)
	finished := now.Add(-30 * time.Second)
	return []models.Task{
		{
			ID:         "6f1c2a4e-done",
			Kind:       models.KindDownloadTrack,
			State:      models.StateCompleted,
			Request:    models.Request{Source: "https://open.spotify.com/track/4uLU6hMCjMI75M1A2tKUQC", Format: "mp3", Quality: "best"},
			Result:     &models.Result{Filename: "Rick Astley - Never Gonna Give You Up.mp3", FileSize: 3 << 20},
			CreatedAt:  now.Add(-2 * time.Minute),
			StartedAt:  &started,
			FinishedAt: &finished,
		},
		{
			ID:         "9a0b7c3d-fail",
			Kind:       models.KindGetURLs,
			State:      models.StateFailed,
			Request:    models.Request{Source: "some obscure query"},
			Error:      &models.TaskError{Category: models.CategoryNotFound, Message: "no valid download URL found"},
			CreatedAt:  now.Add(-3 * time.Hour),
			StartedAt:  &started,
			FinishedAt: &finished,
		},
		{
			ID:        "1e2d3c4b-wait",
			Kind:      models.KindDownloadPlaylist,
			State:     models.StatePending,
			Request:   models.Request{Source: "https://open.spotify.com/playlist/37i9dQZF1DXcBWIGoYBM5M"},
			CreatedAt: now.Add(-5 * time.Second),
		},
	}
}

func TestFormatters(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("TaskTable", func(t *testing.T) {
		out := TaskTable(sampleTasks(now), now)

		for _, want := range []string{
			"ID", "KIND", "STATE", "RESULT",
			"6f1c2a4e-done", "download-track", "completed", "Rick Astley - Never Gonna Give You Up.mp3", "2m",
			"9a0b7c3d-fail", "failed", "NotFound", "3h",
			"1e2d3c4b-wait", "pending", "5s",
		} {
			if !strings.Contains(out, want) {
				t.Errorf("table missing %q:\n%s", want, out)
			}
		}
	})

	t.Run("TaskTable Empty", func(t *testing.T) {
		if out := TaskTable(nil, now); !strings.Contains(out, "No tasks.") {
			t.Errorf("expected empty message, got %q", out)
		}
	})

	t.Run("TaskDetail", func(t *testing.T) {
		tasks := sampleTasks(now)

		t.Run("Completed", func(t *testing.T) {
			out := TaskDetail(tasks[0], "http://localhost:8080/download/6f1c2a4e-done")
			for _, want := range []string{
				"Task 6f1c2a4e-done", "download-track", "mp3 best", "3.0 MiB", "1m0s",
				"http://localhost:8080/download/6f1c2a4e-done",
			} {
				if !strings.Contains(out, want) {
					t.Errorf("detail missing %q:\n%s", want, out)
				}
			}
		})

		t.Run("Failed", func(t *testing.T) {
			out := TaskDetail(tasks[1], "")
			if !strings.Contains(out, "NotFound: no valid download URL found") {
				t.Errorf("detail missing error line:\n%s", out)
			}
			if strings.Contains(out, "Download") {
				t.Errorf("expected no download line:\n%s", out)
			}
		})

		t.Run("Pending", func(t *testing.T) {
			out := TaskDetail(tasks[2], "")
			if strings.Contains(out, "Finished") || strings.Contains(out, "Duration") {
				t.Errorf("pending task should not show finish times:\n%s", out)
			}
		})
	})

	t.Run("URLList", func(t *testing.T) {
		out := URLList([]string{"https://music.youtube.com/watch?v=a", "https://music.youtube.com/watch?v=b"})
		lines := strings.Split(strings.TrimSpace(out), "\n")
		if len(lines) != 2 {
			t.Fatalf("expected 2 lines, got %d: %q", len(lines), out)
		}
		if !strings.Contains(lines[0], "1.") || !strings.HasSuffix(lines[1], "watch?v=b") {
			t.Errorf("unexpected list %q", out)
		}
	})

	t.Run("SweepSummary", func(t *testing.T) {
		out := SweepSummary(artifacts.SweepReport{
			Scanned: 5, Purged: 2, InFlight: 1, Pinned: 1, ExpiredLinks: 3,
			Errors: []error{errors.New("remove slot: permission denied")},
		})
		if !strings.Contains(out, "purged 2 of 5 slots (1 in flight, 1 pinned), 3 expired links") {
			t.Errorf("unexpected summary %q", out)
		}
		if !strings.Contains(out, "permission denied") {
			t.Errorf("summary missing error: %q", out)
		}
	})

	t.Run("TasksToCSV", func(t *testing.T) {
		data, err := TasksToCSV(sampleTasks(now))
		if err != nil {
			t.Fatalf("TasksToCSV failed: %v", err)
		}

		records, err := csv.NewReader(strings.NewReader(string(data))).ReadAll()
		if err != nil {
			t.Fatalf("CSV did not parse: %v", err)
		}
		if len(records) != 4 {
			t.Fatalf("expected header + 3 rows, got %d", len(records))
		}
		if strings.Join(records[0], ",") != "ID,Kind,State,Source,Created,Finished,Filename,Error" {
			t.Errorf("unexpected headers %v", records[0])
		}
		if records[1][6] != "Rick Astley - Never Gonna Give You Up.mp3" {
			t.Errorf("expected filename column, got %q", records[1][6])
		}
		if records[2][7] != "NotFound: no valid download URL found" {
			t.Errorf("expected error column, got %q", records[2][7])
		}
		if records[3][5] != "" {
			t.Errorf("pending task should have empty finished column, got %q", records[3][5])
		}
		if records[1][4] != "2025-03-01T11:58:00Z" {
			t.Errorf("unexpected created column %q", records[1][4])
		}
	})

	t.Run("HumanBytes", func(t *testing.T) {
		tests := []struct {
			in   int64
			want string
		}{
			{0, "0 B"},
			{1023, "1023 B"},
			{1024, "1.0 KiB"},
			{1536, "1.5 KiB"},
			{5 << 20, "5.0 MiB"},
			{3 << 30, "3.0 GiB"},
		}
		for _, tt := range tests {
			if got := HumanBytes(tt.in); got != tt.want {
				t.Errorf("HumanBytes(%d) = %q, want %q", tt.in, got, tt.want)
			}
		}
	})

	t.Run("truncate", func(t *testing.T) {
		if got := truncate("short", 10); got != "short" {
			t.Errorf("truncate kept = %q", got)
		}
		if got := truncate("abcdefghij", 5); got != "abcd…" {
			t.Errorf("truncate cut = %q", got)
		}
	})
}
