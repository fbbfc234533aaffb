package prommetrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "test")

	if metrics == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestMetrics_RecordIngest(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "test")

	metrics.RecordIngest("inserted")
	metrics.RecordIngest("duplicate")
	metrics.RecordIngest("skipped")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	if len(families) == 0 {
		t.Error("Expected ingest metrics to be recorded")
	}
}

func TestMetrics_RecordNotification(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "test")

	metrics.RecordNotification("onboarding_completed")
	metrics.RecordNotification("payment_failed")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	if len(families) == 0 {
		t.Error("Expected notification metrics to be recorded")
	}
}

func TestMetrics_RecordScanPage(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "test")

	metrics.RecordScanPage(25)
	metrics.RecordScanPage(0)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	if len(families) == 0 {
		t.Error("Expected scan metrics to be recorded")
	}
}

func TestMetrics_RecordStorageOperation(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "test")

	metrics.RecordStorageOperation("event_append", 5*time.Millisecond, nil)
	metrics.RecordStorageOperation("report_save", 10*time.Millisecond, errors.New("boom"))

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}

	foundErrors := false
	for _, f := range families {
		if f.GetName() == "test_storage_operation_errors_total" {
			foundErrors = true
		}
	}
	if !foundErrors {
		t.Error("Expected storage error counter to be recorded")
	}
}
