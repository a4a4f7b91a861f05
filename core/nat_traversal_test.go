package core

import "testing"

func TestParsePortExtractsTCPPort(t *testing.T) {
	got, err := parsePort("/ip4/127.0.0.1/tcp/4001")
	if err != nil {
		t.Fatalf("parsePort: %v", err)
	}
	if got != 4001 {
		t.Fatalf("expected port 4001, got %d", got)
	}
}

func TestParsePortRejectsMissingTCPSegment(t *testing.T) {
	if _, err := parsePort("/ip4/127.0.0.1/udp/4001"); err == nil {
		t.Fatalf("expected an error for an address with no tcp segment")
	}
}

func TestParsePortRejectsNonNumericPort(t *testing.T) {
	if _, err := parsePort("/ip4/127.0.0.1/tcp/not-a-port"); err == nil {
		t.Fatalf("expected an error for a non-numeric port")
	}
}
