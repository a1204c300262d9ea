package cli

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/soonkuk/ledgertxn/internal/ledgertxn/config"
	"github.com/soonkuk/ledgertxn/internal/ledgertxn/key"
	"github.com/soonkuk/ledgertxn/internal/ledgertxn/root"
	"github.com/soonkuk/ledgertxn/internal/ledgertxn/store"
	"github.com/soonkuk/ledgertxn/internal/ledgertxn/txn"
)

func openRoot() (*root.LedgerTxnRoot, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	backing, err := store.Open(cfg.Store.Driver, cfg.Store.DSN, cfg.Store.MaxOpenConns, cfg.Store.MaxIdleConns, cfg.Store.ConnMaxLifetime)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	r, err := root.Open(backing, root.Config{
		EntryCacheSize:      cfg.EntryCacheSize,
		BestOffersCacheSize: cfg.BestOffersCacheSize,
	})
	if err != nil {
		backing.Close()
		return nil, fmt.Errorf("open root: %w", err)
	}
	return r, nil
}

func parseAccountID(hexStr string) (key.AccountID, error) {
	var id key.AccountID
	raw, err := hex.DecodeString(hexStr)
	if err != nil {
		return id, fmt.Errorf("decode account id: %w", err)
	}
	if len(raw) != len(id) {
		return id, fmt.Errorf("account id must be %d bytes, got %d", len(id), len(raw))
	}
	copy(id[:], raw)
	return id, nil
}

var accountCmd = &cobra.Command{
	Use:   "account <hex-account-id>",
	Short: "Print an account entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseAccountID(args[0])
		if err != nil {
			return err
		}

		r, err := openRoot()
		if err != nil {
			return err
		}
		defer r.Close()

		ctx := context.Background()
		ltx, err := txn.Open(r, false)
		if err != nil {
			return err
		}
		defer ltx.Rollback()

		e, err := ltx.LoadWithoutRecord(ctx, key.Account(id))
		if err != nil {
			return err
		}
		if e == nil {
			fmt.Println("no such account")
			return nil
		}
		acc := e.Current().Account
		fmt.Printf("balance=%d seq=%d sub_entries=%d\n", acc.Balance, acc.SeqNum, acc.NumSubEntries)
		return nil
	},
}

var offersCmd = &cobra.Command{
	Use:   "offers <hex-account-id>",
	Short: "List every offer for one account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseAccountID(args[0])
		if err != nil {
			return err
		}

		r, err := openRoot()
		if err != nil {
			return err
		}
		defer r.Close()

		ctx := context.Background()
		offers, err := r.GetAllOffers(ctx)
		if err != nil {
			return err
		}
		for _, o := range offers {
			if o.SellerID() != id {
				continue
			}
			fmt.Printf("offer %d: sell %s for %s at %d/%d, amount %d\n",
				o.OfferID(), o.Offer.Selling, o.Offer.Buying, o.Offer.Price.N, o.Offer.Price.D, o.Offer.Amount)
		}
		return nil
	},
}

var bestOfferCmd = &cobra.Command{
	Use:   "best-offer <buying-code> <selling-code>",
	Short: "Print the best offer for a native-issued asset pair",
	Long:  "Looks up the best offer buying <buying-code> and selling <selling-code>, both native XLM if empty.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		buying := parseAssetCode(args[0])
		selling := parseAssetCode(args[1])

		r, err := openRoot()
		if err != nil {
			return err
		}
		defer r.Close()

		ctx := context.Background()
		ltx, err := txn.Open(r, false)
		if err != nil {
			return err
		}
		defer ltx.Rollback()

		h, err := ltx.LoadBestOffer(ctx, buying, selling)
		if err != nil {
			return err
		}
		if h == nil {
			fmt.Println("no offer found")
			return nil
		}
		defer h.Release()
		o := h.Current().Offer
		fmt.Printf("seller=%x offer_id=%d price=%d/%d amount=%d\n", h.Key().AccountID, h.Key().OfferID, o.Price.N, o.Price.D, o.Amount)
		return nil
	},
}

func parseAssetCode(code string) key.Asset {
	if code == "" || code == "XLM" || code == "native" {
		return key.NativeAsset()
	}
	var asset key.Asset
	copy(asset.Code[:], code)
	return asset
}

func init() {
	rootCmd.AddCommand(accountCmd, offersCmd, bestOfferCmd)
}
