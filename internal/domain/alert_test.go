package domain

import "testing"

func TestSeverityNext(t *testing.T) {
	t.Parallel()

	if got := SeverityInfo.Next(); got != SeverityWarning {
		t.Fatalf("INFO escalates to %q, want WARNING", got)
	}
	if got := SeverityWarning.Next(); got != SeverityCritical {
		t.Fatalf("WARNING escalates to %q, want CRITICAL", got)
	}
	if got := SeverityCritical.Next(); got != SeverityCritical {
		t.Fatalf("CRITICAL escalates to %q, want CRITICAL", got)
	}
}

func TestSeverityRank(t *testing.T) {
	t.Parallel()

	if SeverityInfo.Rank() >= SeverityWarning.Rank() {
		t.Fatalf("INFO must rank below WARNING")
	}
	if SeverityWarning.Rank() >= SeverityCritical.Rank() {
		t.Fatalf("WARNING must rank below CRITICAL")
	}
	if Severity("BOGUS").Rank() != -1 {
		t.Fatalf("unknown severity must rank -1")
	}
	if ValidSeverity("BOGUS") {
		t.Fatalf("unknown severity must not validate")
	}
}

func TestStatusTransitions(t *testing.T) {
	t.Parallel()

	cases := []struct {
		from    AlertStatus
		to      AlertStatus
		allowed bool
	}{
		{StatusActive, StatusAcknowledged, true},
		{StatusActive, StatusResolved, true},
		{StatusActive, StatusClosed, false},
		{StatusAcknowledged, StatusResolved, true},
		{StatusAcknowledged, StatusAcknowledged, false},
		{StatusAcknowledged, StatusClosed, false},
		{StatusResolved, StatusClosed, true},
		{StatusResolved, StatusActive, false},
		{StatusClosed, StatusActive, false},
		{StatusClosed, StatusClosed, false},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransition(tc.to); got != tc.allowed {
			t.Fatalf("%s -> %s: got %v, want %v", tc.from, tc.to, got, tc.allowed)
		}
	}
}

func TestStatusPredicates(t *testing.T) {
	t.Parallel()

	if !StatusActive.Open() || !StatusAcknowledged.Open() {
		t.Fatalf("ACTIVE and ACKNOWLEDGED must count as open")
	}
	if StatusResolved.Open() || StatusClosed.Open() {
		t.Fatalf("RESOLVED and CLOSED must not count as open")
	}
	if StatusActive.Terminal() || StatusResolved.Terminal() {
		t.Fatalf("only CLOSED is terminal")
	}
	if !StatusClosed.Terminal() {
		t.Fatalf("CLOSED must be terminal")
	}
}

func TestAlertDedupKey(t *testing.T) {
	t.Parallel()

	alert := Alert{AssetID: 42, MetricName: "cpu_usage"}
	event := ThresholdEvent{AssetID: 42, MetricName: "cpu_usage"}
	if alert.DedupKey() != event.Key() {
		t.Fatalf("alert and event dedup keys must match for the same asset metric")
	}

	other := Alert{AssetID: 42, MetricName: "memory_usage"}
	if alert.DedupKey() == other.DedupKey() {
		t.Fatalf("different metrics must produce different dedup keys")
	}
}
