package models

import (
	"testing"
	"time"
)

func TestState(t *testing.T) {
	t.Run("CanTransition", func(t *testing.T) {
		tt := []struct {
			from State
			to   State
			want bool
		}{
			{StatePending, StateRunning, true},
			{StatePending, StateCompleted, false},
			{StatePending, StateFailed, false},
			{StateRunning, StateCompleted, true},
			{StateRunning, StateFailed, true},
			{StateRunning, StatePending, false},
			{StateCompleted, StateRunning, false},
			{StateCompleted, StateFailed, false},
			{StateFailed, StatePending, false},
			{StateFailed, StateCompleted, false},
		}

		for _, tc := range tt {
			if got := tc.from.CanTransition(tc.to); got != tc.want {
				t.Errorf("%s -> %s = %v, want %v", tc.from, tc.to, got, tc.want)
			}
		}
	})

	t.Run("IsTerminal", func(t *testing.T) {
		if StatePending.IsTerminal() || StateRunning.IsTerminal() {
			t.Error("pending and running should not be terminal")
		}
		if !StateCompleted.IsTerminal() || !StateFailed.IsTerminal() {
			t.Error("completed and failed should be terminal")
		}
	})
}

func TestKind(t *testing.T) {
	for _, k := range Kinds() {
		if !k.Valid() {
			t.Errorf("expected %s to be valid", k)
		}
	}

	if Kind("transcode").Valid() {
		t.Error("unknown kind should not be valid")
	}

	if KindResolveLink.ProducesArtifact() || KindUpdateMetadata.ProducesArtifact() {
		t.Error("resolve-link and update-metadata should not produce artifacts")
	}
	if !KindDownloadTrack.ProducesArtifact() {
		t.Error("download-track should produce an artifact")
	}
}

func TestTaskClone(t *testing.T) {
	started := time.Now()
	task := &Task{
		ID:        "abc",
		Kind:      KindUpdateMetadata,
		Request:   Request{FilePaths: []string{"a.mp3"}},
		State:     StateCompleted,
		Result:    &Result{Files: []string{"a.mp3"}},
		StartedAt: &started,
	}

	clone := task.Clone()
	clone.Request.FilePaths[0] = "changed"
	clone.Result.Files[0] = "changed"
	*clone.StartedAt = started.Add(time.Hour)

	if task.Request.FilePaths[0] != "a.mp3" {
		t.Error("clone shares request file paths")
	}
	if task.Result.Files[0] != "a.mp3" {
		t.Error("clone shares result files")
	}
	if !task.StartedAt.Equal(started) {
		t.Error("clone shares started_at")
	}
}

func TestResultEmpty(t *testing.T) {
	var nilResult *Result
	if !nilResult.Empty() {
		t.Error("nil result should be empty")
	}
	if !(&Result{}).Empty() {
		t.Error("zero result should be empty")
	}
	if (&Result{URLs: []string{"https://youtube.com/watch?v=x"}}).Empty() {
		t.Error("result with urls should not be empty")
	}
}
