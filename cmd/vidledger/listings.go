package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jmerrifield20/VideoAccessLedger/internal/ingest"
	"github.com/jmerrifield20/VideoAccessLedger/pkg/client"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(listCmd, ingestCmd, detailsCmd, updateCmd, activateCmd, deactivateCmd,
		purchaseCmd, accessCmd, mineCmd, ownerCmd)
}

// ── list ─────────────────────────────────────────────────────────────────────

var (
	listTitle       string
	listDescription string
	listLocator     string
	listPrice       string
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Publish a new listing owned by the token's principal",
	RunE: func(cmd *cobra.Command, args []string) error {
		price, err := parsePrice(listPrice)
		if err != nil {
			return err
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		id, err := c.List(context.Background(), listTitle, listDescription, listLocator, price)
		if err != nil {
			return fmt.Errorf("list: %w", err)
		}
		if outputFormat == "json" {
			return printJSON(map[string]int64{"id": id})
		}
		fmt.Printf("✓ Listing %d created\n", id)
		return nil
	},
}

func init() {
	listCmd.Flags().StringVar(&listTitle, "title", "", "Listing title")
	listCmd.Flags().StringVar(&listDescription, "description", "", "Listing description")
	listCmd.Flags().StringVar(&listLocator, "locator", "", "Content locator (e.g. IPFS CID)")
	listCmd.Flags().StringVar(&listPrice, "price", "", "Price in the smallest currency unit")
	_ = listCmd.MarkFlagRequired("title")
	_ = listCmd.MarkFlagRequired("locator")
	_ = listCmd.MarkFlagRequired("price")
}

// ── ingest ───────────────────────────────────────────────────────────────────

var (
	ingestVideo       string
	ingestTitle       string
	ingestDescription string
	ingestPrice       string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <metadata.json>",
	Short: "Register a pipeline output (metadata.json) as a listing",
	Long: `ingest reads the metadata.json written by the video pipeline and lists
the uploaded asset. The title defaults to the video file name without its
extension, and the description to a dated pipeline note. Metadata with no
content hash is skipped.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		price, err := parsePrice(ingestPrice)
		if err != nil {
			return err
		}
		meta, err := ingest.Load(args[0])
		if err != nil {
			return err
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		res, err := ingest.Register(context.Background(), c, meta, ingest.Request{
			VideoPath:   ingestVideo,
			Title:       ingestTitle,
			Description: ingestDescription,
			Price:       price,
		}, time.Now())
		if err != nil {
			return err
		}

		if outputFormat == "json" {
			return printJSON(res)
		}
		if !res.Registered {
			fmt.Printf("Registration skipped: %s\n", res.Reason)
			return nil
		}
		fmt.Printf("✓ Listing %d created\n\n", res.ListingID)
		fmt.Printf("  Title:   %s\n", res.Title)
		fmt.Printf("  Locator: %s\n", res.Locator)
		fmt.Printf("  URL:     %s\n", ingest.GatewayURL(ipfsGateway, res.Locator))
		return nil
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestVideo, "video", "", "Source video path (used for the default title)")
	ingestCmd.Flags().StringVar(&ingestTitle, "title", "", "Override the title")
	ingestCmd.Flags().StringVar(&ingestDescription, "description", "", "Override the description")
	ingestCmd.Flags().StringVar(&ingestPrice, "price", "0", "Price in the smallest currency unit")
}

// ── details ──────────────────────────────────────────────────────────────────

var detailsCmd = &cobra.Command{
	Use:   "details <id>",
	Short: "Show a listing; the locator is shown only if you have access",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		l, err := c.GetListing(context.Background(), id)
		if err != nil {
			return fmt.Errorf("details: %w", err)
		}
		return printListing(l)
	},
}

func printListing(l *client.Listing) error {
	if outputFormat == "json" {
		return printJSON(l)
	}
	fmt.Printf("ID:          %d\n", l.ID)
	fmt.Printf("Title:       %s\n", l.Title)
	if l.Description != "" {
		fmt.Printf("Description: %s\n", l.Description)
	}
	fmt.Printf("Owner:       %s\n", l.Owner)
	fmt.Printf("Price:       %d\n", l.Price)
	fmt.Printf("Active:      %t\n", l.Active)
	fmt.Printf("Created:     %s\n", l.CreatedAt.Format(time.RFC3339))
	if l.HasAccess {
		fmt.Printf("Locator:     %s\n", l.Locator)
		fmt.Printf("URL:         %s\n", ingest.GatewayURL(ipfsGateway, l.Locator))
	} else {
		fmt.Println("Locator:     (purchase required)")
	}
	return nil
}

// ── update ───────────────────────────────────────────────────────────────────

var (
	updateTitle       string
	updateDescription string
	updatePrice       string
)

var updateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Replace a listing's description and price (and title, if given)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		price, err := parsePrice(updatePrice)
		if err != nil {
			return err
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		l, err := c.Update(context.Background(), id, updateTitle, updateDescription, price)
		if err != nil {
			return fmt.Errorf("update: %w", err)
		}
		return printListing(l)
	},
}

func init() {
	updateCmd.Flags().StringVar(&updateTitle, "title", "", "New title (empty keeps the current one)")
	updateCmd.Flags().StringVar(&updateDescription, "description", "", "New description (replaces the current one)")
	updateCmd.Flags().StringVar(&updatePrice, "price", "", "New price in the smallest currency unit")
	_ = updateCmd.MarkFlagRequired("price")
}

// ── activate / deactivate ────────────────────────────────────────────────────

var activateCmd = &cobra.Command{
	Use:   "activate <id>",
	Short: "Allow purchases of a listing",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return runSetActive(args[0], true) },
}

var deactivateCmd = &cobra.Command{
	Use:   "deactivate <id>",
	Short: "Stop purchases of a listing; existing grants are kept",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return runSetActive(args[0], false) },
}

func runSetActive(arg string, active bool) error {
	id, err := parseID(arg)
	if err != nil {
		return err
	}
	c, err := newClient()
	if err != nil {
		return err
	}
	if err := c.SetActive(context.Background(), id, active); err != nil {
		return err
	}
	if outputFormat == "json" {
		return printJSON(map[string]any{"id": id, "active": active})
	}
	state := "deactivated"
	if active {
		state = "activated"
	}
	fmt.Printf("✓ Listing %d %s\n", id, state)
	return nil
}

// ── purchase ─────────────────────────────────────────────────────────────────

var purchaseAmount string

var purchaseCmd = &cobra.Command{
	Use:   "purchase <id>",
	Short: "Buy access to a listing",
	Long: `purchase transfers --amount to the listing's owner and records your
access grant. Amounts above the price are accepted and not refunded.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		amount, err := parsePrice(purchaseAmount)
		if err != nil {
			return err
		}
		c, err := newClient()
		if err != nil {
			return err
		}

		ctx := context.Background()
		l, err := c.GetListing(ctx, id)
		if err != nil {
			return fmt.Errorf("purchase: %w", err)
		}
		if amount > l.Price {
			fmt.Fprint(os.Stderr, overpaymentNote(amount, l.Price))
		}

		r, err := c.Purchase(ctx, id, amount)
		if err != nil {
			return fmt.Errorf("purchase: %w", err)
		}
		if outputFormat == "json" {
			return printJSON(r)
		}
		fmt.Printf("✓ Purchased listing %d from %s\n\n", r.ListingID, r.Seller)
		fmt.Printf("  Receipt:  %s\n", r.ReceiptID)
		fmt.Printf("  Paid:     %d (price %d)\n", r.AmountPaid, r.Price)
		fmt.Printf("  Transfer: %s\n", r.TransferRef)
		return nil
	},
}

// overpaymentNote warns that the amount above price stays with the seller.
func overpaymentNote(amount, price int64) string {
	return fmt.Sprintf("note: paying %d for a listing priced at %d; the excess is not refunded\n", amount, price)
}

func init() {
	purchaseCmd.Flags().StringVar(&purchaseAmount, "amount", "", "Amount to pay in the smallest currency unit")
	_ = purchaseCmd.MarkFlagRequired("amount")
}

// ── access ───────────────────────────────────────────────────────────────────

var accessPrincipal string

var accessCmd = &cobra.Command{
	Use:   "access <id>",
	Short: "Check whether you (or --principal, observers only) can read a listing",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		ok, err := c.HasAccess(context.Background(), id, accessPrincipal)
		if err != nil {
			return fmt.Errorf("access: %w", err)
		}
		if outputFormat == "json" {
			return printJSON(map[string]any{"listing_id": id, "principal": accessPrincipal, "has_access": ok})
		}
		fmt.Println(strconv.FormatBool(ok))
		return nil
	},
}

func init() {
	accessCmd.Flags().StringVar(&accessPrincipal, "principal", "", "Principal to check (requires observer role)")
}

// ── mine / owner ─────────────────────────────────────────────────────────────

var mineCmd = &cobra.Command{
	Use:   "mine",
	Short: "Show the listings you own",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		o, err := c.MyListings(context.Background())
		if err != nil {
			return err
		}
		return printOwnerListings(o)
	},
}

var ownerCmd = &cobra.Command{
	Use:   "owner <principal>",
	Short: "Show the listings owned by a principal",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		o, err := c.OwnerListings(context.Background(), args[0])
		if err != nil {
			return err
		}
		return printOwnerListings(o)
	},
}

func printOwnerListings(o *client.OwnerListings) error {
	if outputFormat == "json" {
		return printJSON(o)
	}
	ids := make([]string, len(o.IDs))
	for i, id := range o.IDs {
		ids[i] = strconv.FormatInt(id, 10)
	}
	w := newTable()
	fmt.Fprintln(w, "OWNER\tCOUNT\tIDS")
	fmt.Fprintf(w, "%s\t%d\t%s\n", o.Owner, o.Count, strings.Join(ids, ","))
	return w.Flush()
}
