package core

import (
	"encoding/json"
	"testing"
)

func TestNewJob_Defaults(t *testing.T) {
	job := NewJob("j1", "task-1", "research", json.RawMessage(`{"topic":"solar"}`))

	if job.Status != JobStatusQueued {
		t.Fatalf("expected queued, got %s", job.Status)
	}
	if job.MaxRetries != 3 {
		t.Fatalf("expected default max retries 3, got %d", job.MaxRetries)
	}
	if job.RunAfter.After(job.CreatedAt) {
		t.Fatal("new job must be eligible immediately")
	}
	if err := job.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestJob_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Job)
		wantErr bool
	}{
		{"valid", func(*Job) {}, false},
		{"missing id", func(j *Job) { j.ID = "" }, true},
		{"missing capability", func(j *Job) { j.Capability = "" }, true},
		{"negative max retries", func(j *Job) { j.MaxRetries = -1 }, true},
		{"retry count above max while queued", func(j *Job) { j.RetryCount = 4 }, true},
		{"retry count above max when terminal", func(j *Job) {
			j.RetryCount = 4
			j.Status = JobStatusFailed
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := NewJob("j1", "task-1", "research", nil)
			tt.mutate(job)
			err := job.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestJob_AttemptsLeft(t *testing.T) {
	job := NewJob("j1", "task-1", "research", nil).WithMaxRetries(2)
	if !job.AttemptsLeft() {
		t.Fatal("fresh job should have attempts left")
	}
	job.RetryCount = 2
	if job.AttemptsLeft() {
		t.Fatal("job at max retries should have no attempts left")
	}
}

func TestJob_IsTerminal(t *testing.T) {
	job := NewJob("j1", "task-1", "research", nil)
	for _, s := range []JobStatus{JobStatusQueued, JobStatusRunning} {
		job.Status = s
		if job.IsTerminal() {
			t.Fatalf("%s should not be terminal", s)
		}
	}
	for _, s := range []JobStatus{JobStatusCompleted, JobStatusFailed, JobStatusCancelled} {
		job.Status = s
		if !job.IsTerminal() {
			t.Fatalf("%s should be terminal", s)
		}
	}
}
