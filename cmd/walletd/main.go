// Command walletd is the light-wallet daemon and CLI: it initializes a
// keychain, runs the peer discovery/sync loop plus the four background
// queues, and exposes one-shot commands (address, balance, send, offer)
// against the in-memory store. Grounded on the teacher's cmd/cli/wallet.go
// command shape (cobra + logrus + godotenv, PersistentPreRunE middleware)
// and cmd/synnergy/main.go's plain root-command wiring.
package main

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"lightwallet/core"
	"lightwallet/pkg/config"
)

var logger = logrus.StandardLogger()

func initMiddleware(cmd *cobra.Command, _ []string) error {
	_ = godotenv.Load()
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return err
	}
	lvl, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return err
	}
	logger.SetLevel(lvl)
	core.SetKeychainLogger(logger)
	core.SetSecurityLogger(logger)
	return nil
}

func main() {
	root := &cobra.Command{Use: "walletd", PersistentPreRunE: initMiddleware}
	root.PersistentFlags().String("keystore", "", "path to keystore file (default from config)")
	root.AddCommand(initCmd(), addressCmd(), balanceCmd(), sendCmd(), syncCmd(), offerCmd())
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func keychainPath(cmd *cobra.Command) string {
	p, _ := cmd.Flags().GetString("keystore")
	if p == "" {
		p = config.AppConfig.Keychain.Path
	}
	return p
}

// discoveryTLSConfig builds the TLS config discovery dials introducer peers
// with. When a pinned certificate is configured it uses
// core.NewZeroTrustTLSConfig, fingerprinting that certificate with
// core.CertFingerprint — introducer peers have no established identity yet
// (spec §4.3), unlike trusted peers added via Discovery.AddTrustedPeer.
// Without a pin it falls back to the plain core.NewTLSConfig.
func discoveryTLSConfig(n config.Network) (*tls.Config, error) {
	if n.TLSPinnedCertPath == "" {
		return core.NewTLSConfig(n.TLSCertPath, n.TLSKeyPath, false)
	}
	fp, err := core.CertFingerprint(n.TLSPinnedCertPath)
	if err != nil {
		return nil, err
	}
	return core.NewZeroTrustTLSConfig(n.TLSCertPath, n.TLSKeyPath, n.TLSCAPath, fp)
}

func openKeychain(cmd *cobra.Command, password string) (*core.Keychain, error) {
	return core.LoadKeychain(keychainPath(cmd), password)
}

// ──────────────────────────────────────────────────────────────────────
// init — generate a fresh keychain
// ──────────────────────────────────────────────────────────────────────

func initCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "generate a new keychain and mnemonic",
		RunE: func(cmd *cobra.Command, _ []string) error {
			bits, _ := cmd.Flags().GetInt("bits")
			pwd, _ := cmd.Flags().GetString("password")
			label, _ := cmd.Flags().GetString("label")
			if pwd == "" {
				return fmt.Errorf("--password required")
			}
			kc, mnemonic, err := core.NewRandomKeychain(bits, label)
			if err != nil {
				return err
			}
			if err := kc.Save(keychainPath(cmd), pwd); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "keystore written to %s\n", keychainPath(cmd))
			fmt.Fprintf(cmd.OutOrStdout(), "mnemonic (write it down): %s\n", mnemonic)
			return nil
		},
	}
	cmd.Flags().Int("bits", 256, "mnemonic entropy bits (128 or 256)")
	cmd.Flags().String("password", "", "keystore encryption password")
	cmd.Flags().String("label", "default", "keychain label")
	return cmd
}

// ──────────────────────────────────────────────────────────────────────
// address — derive the next unused p2 puzzle hash
// ──────────────────────────────────────────────────────────────────────

func addressCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "address",
		Short: "derive the next unused receive address",
		RunE: func(cmd *cobra.Command, _ []string) error {
			pwd, _ := cmd.Flags().GetString("password")
			kc, err := openKeychain(cmd, pwd)
			if err != nil {
				return err
			}
			store := core.NewMemStore()
			ctx := cmd.Context()
			idx, err := store.UnusedDerivationIndex(ctx, false)
			if err != nil {
				return err
			}
			d, err := kc.Derive(idx, false, core.DefaultHiddenPuzzleHash())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%x\n", d.P2PuzzleHash)
			return nil
		},
	}
	cmd.Flags().String("password", "", "keystore encryption password")
	return cmd
}

// ──────────────────────────────────────────────────────────────────────
// balance — sum spendable coins
// ──────────────────────────────────────────────────────────────────────

func balanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "balance",
		Short: "show spendable XCH balance",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store := core.NewMemStore()
			coins, err := store.SpendableCoins(cmd.Context())
			if err != nil {
				return err
			}
			var total uint64
			for _, c := range coins {
				total += c.Coin.Amount
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d mojo across %d coins\n", total, len(coins))
			return nil
		},
	}
}

// ──────────────────────────────────────────────────────────────────────
// send — build, sign, and submit a single-recipient transaction
// ──────────────────────────────────────────────────────────────────────

func sendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send <to-puzzle-hash-hex> <amount>",
		Short: "build, sign, and submit an XCH send",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pwd, _ := cmd.Flags().GetString("password")
			fee, _ := cmd.Flags().GetUint64("fee")
			kc, err := openKeychain(cmd, pwd)
			if err != nil {
				return err
			}
			to, err := core.ParseBytes32(args[0])
			if err != nil {
				return fmt.Errorf("parse recipient: %w", err)
			}
			var amount uint64
			if _, err := fmt.Sscanf(args[1], "%d", &amount); err != nil {
				return fmt.Errorf("parse amount: %w", err)
			}

			store := core.NewMemStore()
			builder := core.NewTxBuilder(store, kc, nil, []byte(config.AppConfig.Network.NetworkID))
			result, err := builder.Build(cmd.Context(), core.BuildOptions{
				Actions: []core.Action{core.SendAction(core.Id{}, amount, to, nil)},
				Fee:     fee,
			})
			if err != nil {
				return err
			}

			pool := core.NewPeerPool()
			txid, err := builder.Submit(cmd.Context(), pool, result, nil)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "submitted %x\n", txid)
			return nil
		},
	}
	cmd.Flags().String("password", "", "keystore encryption password")
	cmd.Flags().Uint64("fee", 0, "transaction fee in mojo")
	return cmd
}

// ──────────────────────────────────────────────────────────────────────
// sync — run discovery, the sync manager, and the four background queues
// ──────────────────────────────────────────────────────────────────────

func syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "run the peer discovery and sync loop until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.AppConfig
			store := core.NewMemStore()
			pool := core.NewPeerPool()

			tlsConfig, err := discoveryTLSConfig(cfg.Network)
			if err != nil {
				logger.Warnf("no TLS material, discovery disabled: %v", err)
			}
			timeouts := cfg.Timeouts.Resolve()
			discovery := core.NewDiscovery(pool, cfg.Network.Introducers, cfg.Network.Resolve(), timeouts, tlsConfig)

			manager := core.NewSyncManager(store, pool, 64)
			manager.Subscribe(core.EventSinkFunc(func(e core.SyncEvent) {
				logger.WithField("event", e.Tag).Info("sync event")
			}))

			classifier := core.NewClassifier(newStubClvmRunner(), nil, 11_000_000_000)
			blobs, err := core.NewBlobCache(core.DefaultBlobCacheConfig("blobcache"))
			if err != nil {
				return err
			}

			pq := core.NewPuzzleQ(store, pool, classifier, timeouts, manager)
			nq := core.NewNftUriQ(store, blobs, manager)
			cq := core.NewCatInfoQ(store, newHTTPCatMetadataFetcher(cfg.Services.CatMetadataURL), timeouts.CatMetadata, manager)
			tq := core.NewPendingTxQ(store, pool, manager)

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			manager.Start(ctx)
			go discovery.Run(ctx)
			manager.RunQueues(ctx, pq, nq, cq, tq)
			return nil
		},
	}
}

// ──────────────────────────────────────────────────────────────────────
// offer — take/cancel offers
// ──────────────────────────────────────────────────────────────────────

func offerCmd() *cobra.Command {
	root := &cobra.Command{Use: "offer", Short: "take and cancel offers"}

	cancel := &cobra.Command{
		Use:   "cancel <offer-id-hex> <encoded-offer>",
		Args:  cobra.ExactArgs(2),
		Short: "cancel a previously built offer",
		RunE: func(cmd *cobra.Command, args []string) error {
			pwd, _ := cmd.Flags().GetString("password")
			fee, _ := cmd.Flags().GetUint64("fee")
			kc, err := openKeychain(cmd, pwd)
			if err != nil {
				return err
			}
			offerID, err := core.ParseBytes32(args[0])
			if err != nil {
				return err
			}
			store := core.NewMemStore()
			builder := core.NewTxBuilder(store, kc, nil, []byte(config.AppConfig.Network.NetworkID))
			result, err := builder.CancelOffer(cmd.Context(), core.Offer{OfferID: offerID, EncodedOffer: args[1]}, fee)
			if err != nil {
				return err
			}
			pool := core.NewPeerPool()
			txid, err := builder.Submit(cmd.Context(), pool, result, nil)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cancel submitted %x\n", txid)
			return nil
		},
	}
	cancel.Flags().String("password", "", "keystore encryption password")
	cancel.Flags().Uint64("fee", 0, "cancel fee in mojo")

	take := &cobra.Command{
		Use:   "take <offer-id-hex> <encoded-offer>",
		Args:  cobra.ExactArgs(2),
		Short: "accept an offer by fulfilling its requested side",
		RunE: func(cmd *cobra.Command, args []string) error {
			pwd, _ := cmd.Flags().GetString("password")
			fee, _ := cmd.Flags().GetUint64("fee")
			kc, err := openKeychain(cmd, pwd)
			if err != nil {
				return err
			}
			offerID, err := core.ParseBytes32(args[0])
			if err != nil {
				return err
			}
			store := core.NewMemStore()
			builder := core.NewTxBuilder(store, kc, nil, []byte(config.AppConfig.Network.NetworkID))
			result, err := builder.TakeOffer(cmd.Context(), core.Offer{OfferID: offerID, EncodedOffer: args[1]}, fee)
			if err != nil {
				return err
			}
			pool := core.NewPeerPool()
			txid, err := builder.Submit(cmd.Context(), pool, result, nil)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "take submitted %x\n", txid)
			return nil
		},
	}
	take.Flags().String("password", "", "keystore encryption password")
	take.Flags().Uint64("fee", 0, "take fee in mojo")

	root.AddCommand(cancel, take)
	return root
}

// ──────────────────────────────────────────────────────────────────────
// External collaborator adapters — the wiring layer's job per spec §9's
// Classifier<->VM and CatInfoQ<->metadata-service design notes. Real CLVM
// execution and a real metadata API are both out of scope; these are the
// cmd-level placeholders an operator swaps for a production integration.
// ──────────────────────────────────────────────────────────────────────

type stubClvmRunner struct{}

func newStubClvmRunner() core.ClvmRunner { return stubClvmRunner{} }

// Run returns an empty RunResult with no conditions, so Classify finds no
// matching CREATE_COIN and every coin classifies as Unknown.
func (stubClvmRunner) Run(program, solution []byte, maxCost uint64) (core.RunResult, error) {
	return core.RunResult{}, nil
}

type httpCatMetadataFetcher struct {
	client  *http.Client
	baseURL string
}

func newHTTPCatMetadataFetcher(baseURL string) core.CatMetadataFetcher {
	return &httpCatMetadataFetcher{client: &http.Client{Timeout: 10 * time.Second}, baseURL: baseURL}
}

type catMetadataResponse struct {
	Name        string `json:"name"`
	Ticker      string `json:"ticker"`
	Description string `json:"description"`
	IconURL     string `json:"icon_url"`
}

func (f *httpCatMetadataFetcher) Fetch(ctx context.Context, assetID core.Bytes32) (name, ticker, description, iconURL string, err error) {
	url := fmt.Sprintf("%s/%x", f.baseURL, assetID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", "", "", "", err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return "", "", "", "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", "", "", "", fmt.Errorf("cat metadata fetch: status %d", resp.StatusCode)
	}
	var out catMetadataResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", "", "", "", err
	}
	return out.Name, out.Ticker, out.Description, out.IconURL, nil
}
