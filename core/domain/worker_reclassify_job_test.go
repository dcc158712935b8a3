package domain

import (
	"testing"
	"time"
)

func TestReclassifyJob_Transitions(t *testing.T) {
	now := time.Now()

	job := NewReclassifyJob("job-1", "user-1", ReclassifyScope{All: true}, 50)
	if job.Status != JobPending {
		t.Fatalf("status = %v, want %v", job.Status, JobPending)
	}
	if err := job.Complete(now, nil); err != ErrInvalidTransition {
		t.Errorf("Complete from pending error = %v, want %v", err, ErrInvalidTransition)
	}
	if err := job.Start(now); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := job.Start(now); err != ErrInvalidTransition {
		t.Errorf("second Start() error = %v, want %v", err, ErrInvalidTransition)
	}
	if err := job.Complete(now, map[string]int64{"Work": 2}); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if err := job.Fail(now, "late"); err != ErrInvalidTransition {
		t.Errorf("Fail after completion error = %v, want %v", err, ErrInvalidTransition)
	}
	if job.Status != JobCompleted {
		t.Errorf("terminal status changed to %v", job.Status)
	}
}

func TestReclassifyJob_RecordBatchClamps(t *testing.T) {
	job := NewReclassifyJob("job-1", "user-1", ReclassifyScope{Label: "Work"}, 50)
	_ = job.Start(time.Now())
	job.SetTotal(120)

	if job.TotalBatches != 3 {
		t.Fatalf("TotalBatches = %d, want 3", job.TotalBatches)
	}

	var last int64
	for i := 0; i < 5; i++ {
		job.RecordBatch(45, 5, 3)
		if job.Processed < last {
			t.Fatalf("processed decreased: %d -> %d", last, job.Processed)
		}
		if job.Processed > job.Total {
			t.Fatalf("processed %d exceeds total %d", job.Processed, job.Total)
		}
		if job.CurrentBatch > job.TotalBatches {
			t.Fatalf("batch %d exceeds total batches %d", job.CurrentBatch, job.TotalBatches)
		}
		last = job.Processed
	}

	if job.Processed != 120 {
		t.Errorf("Processed = %d, want 120", job.Processed)
	}
	if job.Successful+job.Failed != job.Processed {
		t.Errorf("successful(%d)+failed(%d) != processed(%d)", job.Successful, job.Failed, job.Processed)
	}
}

func TestReclassifyScope_Key(t *testing.T) {
	tests := []struct {
		scope ReclassifyScope
		want  string
	}{
		{ReclassifyScope{All: true}, "all"},
		{ReclassifyScope{}, "all"},
		{ReclassifyScope{Label: "NPTEL"}, "label:NPTEL"},
	}
	for _, tt := range tests {
		if got := tt.scope.Key(); got != tt.want {
			t.Errorf("Key() = %q, want %q", got, tt.want)
		}
	}
}

func TestCategoryPriority_Rank(t *testing.T) {
	if !(CategoryPriorityHigh.Rank() > CategoryPriorityNormal.Rank() &&
		CategoryPriorityNormal.Rank() > CategoryPriorityLow.Rank()) {
		t.Error("priority ranks must order high > normal > low")
	}
	if CategoryPriority("urgent").Valid() {
		t.Error("unknown priority should be invalid")
	}
}

func TestCategory_Normalize(t *testing.T) {
	c := &Category{
		Name:     "  NPTEL ",
		Domains:  []string{"@NPTEL.ac.in", ".nptel.ac.in", ""},
		Keywords: []string{"Assignment", "assignment"},
	}
	c.Normalize()

	if c.Name != "NPTEL" {
		t.Errorf("Name = %q", c.Name)
	}
	if len(c.Domains) != 1 || c.Domains[0] != "nptel.ac.in" {
		t.Errorf("Domains = %v, want [nptel.ac.in]", c.Domains)
	}
	if len(c.Keywords) != 1 {
		t.Errorf("Keywords = %v, want deduplicated", c.Keywords)
	}
	if c.Priority != CategoryPriorityNormal {
		t.Errorf("Priority = %v, want normal default", c.Priority)
	}
}
