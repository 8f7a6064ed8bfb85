package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollector(t *testing.T) {
	t.Run("task lifecycle", func(t *testing.T) {
		c := New(prometheus.NewRegistry())

		c.TaskSubmitted("download-track")
		c.TaskSubmitted("download-track")
		if got := testutil.ToFloat64(c.queueDepth); got != 2 {
			t.Errorf("expected queue depth 2, got %v", got)
		}

		c.TaskStarted()
		if got := testutil.ToFloat64(c.queueDepth); got != 1 {
			t.Errorf("expected queue depth 1, got %v", got)
		}
		if got := testutil.ToFloat64(c.tasksRunning); got != 1 {
			t.Errorf("expected 1 running task, got %v", got)
		}

		c.TaskFinished("download-track", "failed", "EngineFailure", time.Second)
		if got := testutil.ToFloat64(c.tasksFinished.WithLabelValues("download-track", "failed", "EngineFailure")); got != 1 {
			t.Errorf("expected 1 failed task, got %v", got)
		}
		if got := testutil.ToFloat64(c.tasksSubmitted.WithLabelValues("download-track")); got != 2 {
			t.Errorf("expected 2 submissions, got %v", got)
		}
	})

	t.Run("artifacts and cache", func(t *testing.T) {
		c := New(prometheus.NewRegistry())

		c.ArtifactPurged("expired")
		c.ArtifactPurged("expired")
		c.ArtifactPurged("delete")
		c.CacheLookup(true)
		c.CacheLookup(false)
		c.LinkIssued()

		if got := testutil.ToFloat64(c.artifactsPurged.WithLabelValues("expired")); got != 2 {
			t.Errorf("expected 2 expired purges, got %v", got)
		}
		if got := testutil.ToFloat64(c.cacheLookups.WithLabelValues("hit")); got != 1 {
			t.Errorf("expected 1 cache hit, got %v", got)
		}
		if got := testutil.ToFloat64(c.linksIssued); got != 1 {
			t.Errorf("expected 1 link issued, got %v", got)
		}
	})

	t.Run("nil collector is a no-op", func(t *testing.T) {
		var c *Collector
		c.TaskSubmitted("get-urls")
		c.TaskStarted()
		c.TaskFinished("get-urls", "completed", "", time.Millisecond)
		c.ArtifactPurged("delete")
		c.LinkIssued()
		c.CacheLookup(false)
		c.HTTPRequest("GET", "/tasks", 200, time.Millisecond)
	})

	t.Run("Handler", func(t *testing.T) {
		c := New(nil)
		c.HTTPRequest("GET", "/tasks", 200, 10*time.Millisecond)

		rec := httptest.NewRecorder()
		c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		body := rec.Body.String()
		if !strings.Contains(body, `dlx_http_requests_total{method="GET",route="/tasks",status="200"} 1`) {
			t.Errorf("expected http request counter in output:\n%s", body)
		}
		if !strings.Contains(body, "go_goroutines") {
			t.Error("expected runtime collector in default registry")
		}
	})
}
