package server

import (
	"testing"

	qntxtest "github.com/meshgate/gateway/internal/testing"
)

func TestNewGateway_InitializesDependencies(t *testing.T) {
	db := qntxtest.CreateTestDB(t)

	gw, err := NewGateway(db, "test.db", 1)
	if err != nil {
		t.Fatalf("NewGateway returned error: %v", err)
	}
	defer gw.cancel()

	if gw.db == nil {
		t.Error("database not initialized")
	}
	if gw.daemon == nil {
		t.Error("async-exec daemon not initialized")
	}
	if gw.ticker == nil {
		t.Error("cron ticker not initialized")
	}
	if gw.blobStore == nil {
		t.Error("blob store not initialized")
	}
	if gw.logger == nil {
		t.Error("logger not initialized")
	}
	if gw.connections == nil || gw.nodes == nil || gw.sessions == nil || gw.channels == nil {
		t.Error("registry maps not initialized")
	}
	if gw.pendingToolCalls == nil || gw.pendingLogCalls == nil || gw.transfers == nil {
		t.Error("pending-op maps not initialized")
	}
	if gw.cronJobs == nil || gw.heartbeats == nil || gw.surfaces == nil {
		t.Error("cron/heartbeat/surface maps not initialized")
	}
	if ServerState(gw.state.Load()) != ServerStateRunning {
		t.Error("gateway should start in the running state")
	}
}

func TestNewGateway_RejectsNilDB(t *testing.T) {
	_, err := NewGateway(nil, "test.db", 1)
	if err == nil {
		t.Fatal("expected error when creating gateway with nil database")
	}
}

func TestNewGateway_RejectsInvalidVerbosity(t *testing.T) {
	db := qntxtest.CreateTestDB(t)

	tests := []struct {
		verbosity int
		wantErr   bool
	}{
		{-1, true},
		{0, false},
		{1, false},
		{4, false},
		{5, true},
		{10, true},
	}

	for _, tt := range tests {
		gw, err := NewGateway(db, "test.db", tt.verbosity)
		if tt.wantErr && err == nil {
			t.Errorf("verbosity=%d: expected error, got nil", tt.verbosity)
		}
		if !tt.wantErr && err != nil {
			t.Errorf("verbosity=%d: unexpected error: %v", tt.verbosity, err)
		}
		if gw != nil {
			gw.cancel()
		}
	}
}
