package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestMetrics_Handler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := MustNewMetrics(reg)

	m.Event("group", "replied")
	m.Delivery("group", "ok")
	m.DeliveryAttempt()
	m.DeliveryAttempt()
	m.ObserveModel("gpt", 1500*time.Millisecond, nil)
	m.ObserveModel("gpt", time.Second, errors.New("boom"))
	m.Directive("#voice")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	out := string(body)

	for _, want := range []string{
		`cqbridge_events_total{kind="group",outcome="replied"} 1`,
		`cqbridge_deliveries_total{outcome="ok",target="group"} 1`,
		`cqbridge_delivery_attempts_total 2`,
		`cqbridge_model_request_seconds_count{model="gpt",status="ok"} 1`,
		`cqbridge_model_request_seconds_count{model="gpt",status="error"} 1`,
		`cqbridge_directives_total{directive="#voice"} 1`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in output:\n%s", want, out)
		}
	}
}

func TestMetrics_ReuseRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	a := MustNewMetrics(reg)
	b := MustNewMetrics(reg)

	a.DeliveryAttempt()
	b.DeliveryAttempt()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, f := range families {
		if f.GetName() == "cqbridge_delivery_attempts_total" {
			if got := f.GetMetric()[0].GetCounter().GetValue(); got != 2 {
				t.Fatalf("expected shared counter at 2, got %v", got)
			}
			return
		}
	}
	t.Fatal("attempts counter not gathered")
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.Event("private", "replied")
	m.Delivery("private", "ok")
	m.DeliveryAttempt()
	m.ObserveModel("x", time.Second, nil)
	m.Directive("#draw")
	m.TrackInflight()()
	if m.Uptime() != 0 {
		t.Fatal("nil metrics should report zero uptime")
	}
}

func TestMetrics_Inflight(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := MustNewMetrics(reg)
	done := m.TrackInflight()
	done()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "cqbridge_events_inflight 0") {
		t.Fatalf("expected gauge back at 0:\n%s", rec.Body.String())
	}
}
