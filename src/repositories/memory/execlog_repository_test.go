package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/flurs/keyserver/src/models"
	"github.com/flurs/keyserver/src/repositories"
)

func appendEntry(t *testing.T, repo *ExecutionLogRepository, hash string) {
	t.Helper()
	err := repo.Append(context.Background(), &models.ExecutionLog{
		ID:          uuid.New(),
		PayloadHash: hash,
		KeyValue:    "FLURS-0000-0000-0000-0000",
		ExecutedAt:  time.Now(),
	})
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
}

func TestExecutionLogList_FilteredTotal(t *testing.T) {
	repo := NewExecutionLogRepository()
	appendEntry(t, repo, "aaaa")
	appendEntry(t, repo, "aaaa")
	appendEntry(t, repo, "bbbb")

	logs, total, err := repo.List(context.Background(), "aaaa", 10, 0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if total != 2 {
		t.Errorf("Expected filtered total 2, got %d", total)
	}
	if len(logs) != 2 {
		t.Errorf("Expected 2 rows, got %d", len(logs))
	}

	// Total must stay consistent with the filter when paginating past it.
	_, total, err = repo.List(context.Background(), "aaaa", 10, 5)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if total != 2 {
		t.Errorf("Expected filtered total 2 beyond last page, got %d", total)
	}

	_, total, err = repo.List(context.Background(), "", 10, 0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if total != 3 {
		t.Errorf("Expected unfiltered total 3, got %d", total)
	}
}

func TestExecutionLogAppend_RejectsRepeatedID(t *testing.T) {
	repo := NewExecutionLogRepository()
	entry := &models.ExecutionLog{
		ID:          uuid.New(),
		PayloadHash: "aaaa",
		ExecutedAt:  time.Now(),
	}
	if err := repo.Append(context.Background(), entry); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := repo.Append(context.Background(), entry); !errors.Is(err, repositories.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey on repeated ID, got %v", err)
	}
}
