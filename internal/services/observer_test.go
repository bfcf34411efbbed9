package services

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/otcheredev/pacs-node/pkg/dimse"
)

func TestNodeObserverRecordsAudit(t *testing.T) {
	sink := &fakeSink{}
	obs := NewNodeObserver(NewAuditService(sink), nil)

	rec := dimse.AssociationRecord{
		ID:             uuid.New(),
		CallingAETitle: "MODALITY01",
		CalledAETitle:  "PACS_NODE",
		StartedAt:      time.Now().Add(-time.Second),
		EndedAt:        time.Now(),
		Outcome:        dimse.OutcomeReleased,
		Operations:     map[string]int{"C-ECHO-RQ": 1},
	}

	// Nil metrics must be tolerated across the whole surface.
	obs.ConnectionRefused("10.0.0.9:51000")
	obs.AssociationOpened(rec)
	obs.OperationServed(rec.ID, "C-ECHO-RQ", dimse.StatusSuccess)
	obs.AssociationClosed(rec)

	if len(sink.entries) != 1 {
		t.Fatalf("audit entries => %d, want 1", len(sink.entries))
	}
	if sink.entries[0].EchoOps != 1 {
		t.Errorf("audit EchoOps => %d, want 1", sink.entries[0].EchoOps)
	}
}

func TestStatusClass(t *testing.T) {
	tests := []struct {
		name   string
		status dimse.Status
		want   string
	}{
		{"success", dimse.StatusSuccess, "success"},
		{"pending", dimse.StatusPending, "pending"},
		{"pending with warning", dimse.StatusPendingWithWarning, "pending"},
		{"cancel", dimse.StatusCancel, "cancel"},
		{"sub-ops warning", dimse.StatusSubOpsCompleteWithFailures, "warning"},
		{"unable to process", dimse.StatusUnableToProcess, "failure"},
		{"sop class not supported", dimse.StatusSOPClassNotSupported, "failure"},
		{"move destination unknown", dimse.StatusMoveDestinationUnknown, "failure"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := statusClass(tt.status); got != tt.want {
				t.Errorf("statusClass(%s) => %q, want %q", tt.status, got, tt.want)
			}
		})
	}
}
