package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/amishk599/leadscout/internal/leadview"
	"github.com/amishk599/leadscout/internal/model"
)

var leadsLimit int

var leadsCmd = &cobra.Command{
	Use:   "leads [email]",
	Short: "Browse enriched leads interactively (TUI)",
	Long:  "Shows the user picker TUI (skipped when an email is given), then the lead browser.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runLeads,
}

func init() {
	leadsCmd.Flags().IntVarP(&leadsLimit, "limit", "n", 20, "number of top leads to load")
	rootCmd.AddCommand(leadsCmd)
}

func runLeads(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	// The TUI owns the terminal, so config and store logging is discarded.
	cfg, err := loadConfig(discardLogger())
	if err != nil {
		return err
	}
	st, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer st.Close()

	if len(args) == 1 {
		user, err := st.GetUser(ctx, args[0])
		if err != nil {
			user = model.UserProfile{Email: args[0]}
		}
		_, err = browse(st, user)
		return err
	}

	users, err := activeUsers(ctx, st)
	if err != nil {
		return err
	}
	if len(users) == 0 {
		fmt.Println("No active users.")
		return nil
	}

	for {
		choice, err := leadview.RunUserPicker(users)
		if err != nil {
			fmt.Printf("Picker error: %v\n", err)
			return nil
		}
		if choice < 0 {
			return nil
		}
		wantQuit, err := browse(st, users[choice])
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			continue
		}
		if wantQuit {
			return nil
		}
		// else: loop back to the picker
	}
}

func browse(leads model.LeadStore, user model.UserProfile) (bool, error) {
	top, err := leadview.RunLoader(user.Email, func(ctx context.Context) ([]model.EnrichedLead, error) {
		return leads.TopK(ctx, user.Email, leadsLimit)
	})
	if err != nil {
		return false, fmt.Errorf("loading leads: %w", err)
	}
	return leadview.RunBrowser(user, top)
}
