package core

import (
	"path/filepath"
	"testing"

	log "github.com/sirupsen/logrus"
)

func testSeed(fill byte) []byte {
	seed := make([]byte, 32)
	for i := range seed {
		seed[i] = fill
	}
	return seed
}

func TestNewKeychainFromSeedRejectsShortSeed(t *testing.T) {
	if _, err := NewKeychainFromSeed([]byte{1, 2, 3}, "x", log.New()); err == nil {
		t.Fatalf("expected an error for a too-short seed")
	}
}

func TestDeriveIsDeterministic(t *testing.T) {
	kc, err := NewKeychainFromSeed(testSeed(7), "x", log.New())
	if err != nil {
		t.Fatalf("NewKeychainFromSeed: %v", err)
	}
	d1, err := kc.Derive(3, false, defaultHiddenPuzzleHash)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	d2, err := kc.Derive(3, false, defaultHiddenPuzzleHash)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	if d1.P2PuzzleHash != d2.P2PuzzleHash || d1.SyntheticPK != d2.SyntheticPK {
		t.Fatalf("expected Derive to be deterministic for the same index")
	}
}

func TestDeriveDiffersByIndex(t *testing.T) {
	kc, err := NewKeychainFromSeed(testSeed(7), "x", log.New())
	if err != nil {
		t.Fatalf("NewKeychainFromSeed: %v", err)
	}
	d1, _ := kc.Derive(0, false, defaultHiddenPuzzleHash)
	d2, _ := kc.Derive(1, false, defaultHiddenPuzzleHash)
	if d1.P2PuzzleHash == d2.P2PuzzleHash {
		t.Fatalf("expected different derivation indices to yield different puzzle hashes")
	}
}

func TestDeriveDiffersByHiddenPuzzleHash(t *testing.T) {
	kc, err := NewKeychainFromSeed(testSeed(7), "x", log.New())
	if err != nil {
		t.Fatalf("NewKeychainFromSeed: %v", err)
	}
	d1, _ := kc.Derive(0, false, defaultHiddenPuzzleHash)
	d2, _ := kc.Derive(0, false, Bytes32{0xff})
	if d1.P2PuzzleHash == d2.P2PuzzleHash {
		t.Fatalf("expected a different hidden puzzle hash to change the derived p2 puzzle hash")
	}
}

func TestFingerprintIsStable(t *testing.T) {
	kc, err := NewKeychainFromSeed(testSeed(9), "x", log.New())
	if err != nil {
		t.Fatalf("NewKeychainFromSeed: %v", err)
	}
	if kc.Fingerprint() != kc.Fingerprint() {
		t.Fatalf("expected Fingerprint to be stable across calls")
	}
	other, _ := NewKeychainFromSeed(testSeed(10), "x", log.New())
	if kc.Fingerprint() == other.Fingerprint() {
		t.Fatalf("expected different seeds to yield different fingerprints")
	}
}

func TestKeyInfoReportsLabelAndSecrets(t *testing.T) {
	kc, err := NewKeychainFromSeed(testSeed(1), "my-wallet", log.New())
	if err != nil {
		t.Fatalf("NewKeychainFromSeed: %v", err)
	}
	info := kc.KeyInfo()
	if info.Label != "my-wallet" || !info.HasSecrets {
		t.Fatalf("unexpected KeyInfo: %+v", info)
	}
}

func TestRandomMnemonicEntropyRejectsNonMultipleOf32(t *testing.T) {
	if _, err := RandomMnemonicEntropy(100); err == nil {
		t.Fatalf("expected an error for a non-multiple-of-32 bit count")
	}
}

func TestRandomMnemonicEntropyLength(t *testing.T) {
	b, err := RandomMnemonicEntropy(128)
	if err != nil {
		t.Fatalf("RandomMnemonicEntropy: %v", err)
	}
	if len(b) != 16 {
		t.Fatalf("expected 16 bytes for 128 bits, got %d", len(b))
	}
}

func TestWipeZeroesBuffer(t *testing.T) {
	b := []byte{1, 2, 3, 4}
	Wipe(b)
	for _, v := range b {
		if v != 0 {
			t.Fatalf("expected Wipe to zero every byte, got %v", b)
		}
	}
}

func TestNewRandomKeychainRejectsUnsupportedEntropy(t *testing.T) {
	if _, _, err := NewRandomKeychain(64, "x"); err == nil {
		t.Fatalf("expected an error for unsupported entropy size")
	}
}

func TestKeychainFromMnemonicRejectsInvalidMnemonic(t *testing.T) {
	if _, err := KeychainFromMnemonic("not a real mnemonic phrase at all", "", "x"); err == nil {
		t.Fatalf("expected an error for an invalid mnemonic")
	}
}

func TestKeychainSaveLoadRoundTrip(t *testing.T) {
	kc, err := NewKeychainFromSeed(testSeed(5), "round-trip", log.New())
	if err != nil {
		t.Fatalf("NewKeychainFromSeed: %v", err)
	}
	path := filepath.Join(t.TempDir(), "wallet.keystore")
	if err := kc.Save(path, "hunter2"); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := LoadKeychain(path, "hunter2")
	if err != nil {
		t.Fatalf("LoadKeychain: %v", err)
	}
	if loaded.Fingerprint() != kc.Fingerprint() {
		t.Fatalf("expected the loaded keychain to have the same fingerprint")
	}
	if loaded.KeyInfo().Label != "round-trip" {
		t.Fatalf("expected the label to round trip, got %q", loaded.KeyInfo().Label)
	}
}

func TestKeychainLoadRejectsWrongPassword(t *testing.T) {
	kc, err := NewKeychainFromSeed(testSeed(5), "wrong-pw", log.New())
	if err != nil {
		t.Fatalf("NewKeychainFromSeed: %v", err)
	}
	path := filepath.Join(t.TempDir(), "wallet.keystore")
	if err := kc.Save(path, "correct-password"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := LoadKeychain(path, "wrong-password"); err == nil {
		t.Fatalf("expected an error loading with the wrong password")
	}
}

func TestLoadKeychainMissingFile(t *testing.T) {
	if _, err := LoadKeychain(filepath.Join(t.TempDir(), "missing"), "pw"); err == nil {
		t.Fatalf("expected an error loading a missing keystore file")
	}
}

func TestKeychainSeedReturnsACopy(t *testing.T) {
	seed := testSeed(3)
	kc, err := NewKeychainFromSeed(seed, "x", log.New())
	if err != nil {
		t.Fatalf("NewKeychainFromSeed: %v", err)
	}
	got := kc.Seed()
	got[0] = 0xff
	again := kc.Seed()
	if again[0] == 0xff {
		t.Fatalf("expected Seed() to return an independent copy each time")
	}
}
