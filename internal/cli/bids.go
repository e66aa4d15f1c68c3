package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var bidsLimit int

var bidsCmd = &cobra.Command{
	Use:   "bids <auction-id>",
	Short: "Show persisted bids for an auction, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if bidsLimit <= 0 {
			return errors.New("--limit must be greater than 0")
		}

		bids, err := getApp().RecentBids(cmd.Context(), args[0], bidsLimit)
		if err != nil {
			return err
		}

		if len(bids) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no bids recorded")
			return nil
		}
		for _, bid := range bids {
			fmt.Fprintf(cmd.OutOrStdout(), "#%d\t%s\t%s\t%s\n",
				bid.Sequence, bid.Amount.String(), bid.BidderID, bid.PlacedAt.Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

func init() {
	bidsCmd.Flags().IntVar(&bidsLimit, "limit", 20, "Maximum number of bids to show")
}
