package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"

	"lightwallet/core"
	"lightwallet/pkg/config"
)

func TestKeychainPathPrefersFlagOverConfig(t *testing.T) {
	config.AppConfig = config.Config{Keychain: config.Keychain{Path: "from-config.keystore"}}

	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("keystore", "", "")
	cmd.Flags().Set("keystore", "from-flag.keystore")

	if got := keychainPath(cmd); got != "from-flag.keystore" {
		t.Fatalf("expected the flag value to win, got %q", got)
	}
}

func TestKeychainPathFallsBackToConfig(t *testing.T) {
	config.AppConfig = config.Config{Keychain: config.Keychain{Path: "from-config.keystore"}}

	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("keystore", "", "")

	if got := keychainPath(cmd); got != "from-config.keystore" {
		t.Fatalf("expected the config fallback, got %q", got)
	}
}

func TestDiscoveryTLSConfigFallsBackToPlainTLSWithoutPin(t *testing.T) {
	_, err := discoveryTLSConfig(config.Network{
		TLSCertPath: filepath.Join(t.TempDir(), "missing.crt"),
		TLSKeyPath:  filepath.Join(t.TempDir(), "missing.key"),
	})
	if err == nil {
		t.Fatalf("expected an error reading missing TLS material via the plain path")
	}
}

func TestDiscoveryTLSConfigUsesZeroTrustWhenPinned(t *testing.T) {
	_, err := discoveryTLSConfig(config.Network{
		TLSCertPath:       filepath.Join(t.TempDir(), "missing.crt"),
		TLSKeyPath:        filepath.Join(t.TempDir(), "missing.key"),
		TLSPinnedCertPath: filepath.Join(t.TempDir(), "missing-pin.crt"),
	})
	if err == nil {
		t.Fatalf("expected an error fingerprinting a missing pinned certificate")
	}
}

func TestStubClvmRunnerAlwaysReturnsEmptyResult(t *testing.T) {
	runner := newStubClvmRunner()
	res, err := runner.Run([]byte("anything"), []byte("anything"), 1_000_000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Conditions != nil || res.Cost != 0 {
		t.Fatalf("expected an empty RunResult, got %+v", res)
	}
}

func TestHTTPCatMetadataFetcherSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"name":"Marmot","ticker":"MRMT","description":"d","icon_url":"u"}`))
	}))
	defer srv.Close()

	fetcher := newHTTPCatMetadataFetcher(srv.URL)
	name, ticker, desc, icon, err := fetcher.Fetch(context.Background(), core.Bytes32{1, 2, 3})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if name != "Marmot" || ticker != "MRMT" || desc != "d" || icon != "u" {
		t.Fatalf("unexpected fields: %q %q %q %q", name, ticker, desc, icon)
	}
}

func TestHTTPCatMetadataFetcherRejectsNonOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	fetcher := newHTTPCatMetadataFetcher(srv.URL)
	if _, _, _, _, err := fetcher.Fetch(context.Background(), core.Bytes32{1}); err == nil {
		t.Fatalf("expected an error for a non-200 response")
	}
}

func TestHTTPCatMetadataFetcherRejectsMalformedJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	fetcher := newHTTPCatMetadataFetcher(srv.URL)
	if _, _, _, _, err := fetcher.Fetch(context.Background(), core.Bytes32{1}); err == nil {
		t.Fatalf("expected a decode error for malformed JSON")
	}
}

func TestInitCmdWritesKeystoreAndPrintsMnemonic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.keystore")

	var out bytes.Buffer
	root := &cobra.Command{Use: "root"}
	root.PersistentFlags().String("keystore", "", "")
	root.AddCommand(initCmd())
	root.SetOut(&out)
	root.SetArgs([]string{"init", "--keystore", path, "--password", "hunter2", "--bits", "128"})

	if err := root.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected a keystore file at %s: %v", path, err)
	}
	if !bytes.Contains(out.Bytes(), []byte("keystore written to")) {
		t.Fatalf("expected the written-keystore message, got %q", out.String())
	}
	if !bytes.Contains(out.Bytes(), []byte("mnemonic")) {
		t.Fatalf("expected the mnemonic to be printed, got %q", out.String())
	}

	if _, err := core.LoadKeychain(path, "hunter2"); err != nil {
		t.Fatalf("expected the written keystore to be loadable: %v", err)
	}
}

func TestInitCmdRequiresPassword(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.keystore")

	root := &cobra.Command{Use: "root"}
	root.PersistentFlags().String("keystore", "", "")
	root.AddCommand(initCmd())
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"init", "--keystore", path})

	if err := root.Execute(); err == nil {
		t.Fatalf("expected an error when --password is omitted")
	}
	if _, err := os.Stat(path); err == nil {
		t.Fatalf("expected no keystore file to be written")
	}
}

func TestAddressCmdDerivesFirstAddress(t *testing.T) {
	config.AppConfig = config.Config{Keychain: config.Keychain{Path: ""}}
	dir := t.TempDir()
	path := filepath.Join(dir, "addr.keystore")

	kc, _, err := core.NewRandomKeychain(128, "default")
	if err != nil {
		t.Fatalf("NewRandomKeychain: %v", err)
	}
	if err := kc.Save(path, "pw"); err != nil {
		t.Fatalf("Save: %v", err)
	}

	root := &cobra.Command{Use: "root"}
	root.PersistentFlags().String("keystore", "", "")
	root.AddCommand(addressCmd())
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"address", "--keystore", path, "--password", "pw"})

	if err := root.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(bytes.TrimSpace(out.Bytes())) != 64 {
		t.Fatalf("expected a 32-byte hex puzzle hash, got %q", out.String())
	}
}

func TestBalanceCmdReportsZeroOnEmptyStore(t *testing.T) {
	root := &cobra.Command{Use: "root"}
	root.AddCommand(balanceCmd())
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"balance"})

	if err := root.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.String() != "0 mojo across 0 coins\n" {
		t.Fatalf("unexpected output: %q", out.String())
	}
}

func TestSendCmdFailsWithNoSpendableCoins(t *testing.T) {
	config.AppConfig = config.Config{Network: config.Network{NetworkID: "mainnet"}}
	dir := t.TempDir()
	path := filepath.Join(dir, "send.keystore")
	kc, _, err := core.NewRandomKeychain(128, "default")
	if err != nil {
		t.Fatalf("NewRandomKeychain: %v", err)
	}
	if err := kc.Save(path, "pw"); err != nil {
		t.Fatalf("Save: %v", err)
	}

	root := &cobra.Command{Use: "root"}
	root.PersistentFlags().String("keystore", "", "")
	root.AddCommand(sendCmd())
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"send", "--keystore", path, "--password", "pw",
		"0000000000000000000000000000000000000000000000000000000000000000", "100"})

	if err := root.Execute(); err == nil {
		t.Fatalf("expected an error building a send against an empty store")
	}
}

func TestOfferCancelFailsForUndecodableOffer(t *testing.T) {
	config.AppConfig = config.Config{Network: config.Network{NetworkID: "mainnet"}}
	dir := t.TempDir()
	path := filepath.Join(dir, "offer.keystore")
	kc, _, err := core.NewRandomKeychain(128, "default")
	if err != nil {
		t.Fatalf("NewRandomKeychain: %v", err)
	}
	if err := kc.Save(path, "pw"); err != nil {
		t.Fatalf("Save: %v", err)
	}

	root := &cobra.Command{Use: "root"}
	root.PersistentFlags().String("keystore", "", "")
	root.AddCommand(offerCmd())
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"offer", "cancel", "--keystore", path, "--password", "pw",
		"0000000000000000000000000000000000000000000000000000000000000000", "bogus"})

	if err := root.Execute(); err == nil {
		t.Fatalf("expected an error cancelling an offer string that does not decode")
	}
}
