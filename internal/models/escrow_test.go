package models

import "testing"

func TestIsValidEscrowTransition(t *testing.T) {
	tests := []struct {
		from     EscrowStatus
		to       EscrowStatus
		expected bool
	}{
		// Happy path
		{EscrowStatusCreated, EscrowStatusAwaitingFunding, true},
		{EscrowStatusAwaitingFunding, EscrowStatusFundingInProgress, true},
		{EscrowStatusFundingInProgress, EscrowStatusFunded, true},
		{EscrowStatusFunded, EscrowStatusInProgress, true},
		{EscrowStatusInProgress, EscrowStatusSubmitted, true},
		{EscrowStatusSubmitted, EscrowStatusVerified, true},
		{EscrowStatusVerified, EscrowStatusReleased, true},

		// Funding rollback when broadcast is observed but never confirms
		{EscrowStatusFundingInProgress, EscrowStatusAwaitingFunding, true},

		// Dispute paths
		{EscrowStatusFunded, EscrowStatusDisputed, true},
		{EscrowStatusInProgress, EscrowStatusDisputed, true},
		{EscrowStatusSubmitted, EscrowStatusDisputed, true},
		{EscrowStatusDisputed, EscrowStatusReleased, true},
		{EscrowStatusDisputed, EscrowStatusRefunded, true},

		// Cancellation / expiry
		{EscrowStatusAwaitingFunding, EscrowStatusCancelled, true},
		{EscrowStatusAwaitingFunding, EscrowStatusExpired, true},
		{EscrowStatusInProgress, EscrowStatusExpired, true},

		// Invalid transitions
		{EscrowStatusCreated, EscrowStatusFunded, false},
		{EscrowStatusAwaitingFunding, EscrowStatusFunded, false},
		{EscrowStatusFunded, EscrowStatusReleased, false},
		{EscrowStatusFunded, EscrowStatusRefunded, false},
		{EscrowStatusSubmitted, EscrowStatusReleased, false},
		{EscrowStatusVerified, EscrowStatusDisputed, false},
		{EscrowStatusReleased, EscrowStatusRefunded, false},
		{EscrowStatusRefunded, EscrowStatusReleased, false},
		{EscrowStatusCancelled, EscrowStatusAwaitingFunding, false},
		{EscrowStatusExpired, EscrowStatusAwaitingFunding, false},
		{EscrowStatusVerified, EscrowStatusRefunded, false},
		{"nonexistent", EscrowStatusFunded, false},
		{EscrowStatusCreated, "nonexistent", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			result := IsValidEscrowTransition(tt.from, tt.to)
			if result != tt.expected {
				t.Errorf("IsValidEscrowTransition(%s, %s) = %v, want %v", tt.from, tt.to, result, tt.expected)
			}
		})
	}
}

func TestIsTerminal(t *testing.T) {
	terminal := []EscrowStatus{EscrowStatusReleased, EscrowStatusRefunded, EscrowStatusCancelled, EscrowStatusExpired}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("expected %s to be terminal", s)
		}
	}

	nonTerminal := []EscrowStatus{
		EscrowStatusCreated, EscrowStatusAwaitingFunding, EscrowStatusFundingInProgress,
		EscrowStatusFunded, EscrowStatusInProgress, EscrowStatusSubmitted,
		EscrowStatusVerified, EscrowStatusDisputed,
	}
	for _, s := range nonTerminal {
		if s.IsTerminal() {
			t.Errorf("expected %s to be non-terminal", s)
		}
	}

	// Unknown statuses are not terminal, they are invalid.
	if EscrowStatus("bogus").IsTerminal() {
		t.Error("unknown status must not report terminal")
	}
}

func TestPendingAlias(t *testing.T) {
	if EscrowStatusPending != EscrowStatusAwaitingFunding {
		t.Error("pending must alias awaiting_funding")
	}
}
