package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/amishk599/leadscout/internal/model"
	"github.com/amishk599/leadscout/internal/store"
)

var (
	userPlatforms []string
	userLanguage  string
	userName      string
	userInactive  bool
)

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Manage user settings",
}

var usersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active users",
	Args:  cobra.NoArgs,
	RunE:  runUsersList,
}

var usersAddCmd = &cobra.Command{
	Use:   "add <email>",
	Short: "Create or replace a user's settings",
	Args:  cobra.ExactArgs(1),
	RunE:  runUsersAdd,
}

func init() {
	usersAddCmd.Flags().StringSliceVarP(&userPlatforms, "platforms", "p", nil, "job platforms to search, e.g. LinkedIn,Greenhouse")
	usersAddCmd.Flags().StringVarP(&userLanguage, "language", "l", "en", "report language (en, es, pt)")
	usersAddCmd.Flags().StringVar(&userName, "name", "", "full name used in the report greeting")
	usersAddCmd.Flags().BoolVar(&userInactive, "inactive", false, "store the user as inactive")
	rootCmd.AddCommand(usersCmd)
	usersCmd.AddCommand(usersListCmd)
	usersCmd.AddCommand(usersAddCmd)
}

// openConfiguredStore loads config and opens only the store.
func openConfiguredStore(ctx context.Context) (*store.Store, error) {
	logger := setupLogger(debug)
	cfg, err := loadConfig(logger)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return nil, err
	}
	return openStore(ctx, cfg.Store)
}

// activeUsers pages through every active user.
func activeUsers(ctx context.Context, settings model.SettingsStore) ([]model.UserProfile, error) {
	var (
		users []model.UserProfile
		token string
	)
	for {
		page, err := settings.ScanActive(ctx, token, 100)
		if err != nil {
			return users, err
		}
		users = append(users, page.Users...)
		if page.NextToken == "" || page.NextToken == token {
			return users, nil
		}
		token = page.NextToken
	}
}

func runUsersList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	st, err := openConfiguredStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	users, err := activeUsers(ctx, st)
	if err != nil {
		return err
	}
	if len(users) == 0 {
		fmt.Println("No active users.")
		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "EMAIL\tNAME\tLANGUAGE\tPLATFORMS")
	for _, u := range users {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", u.Email, u.FullName, u.Language, strings.Join(u.Platforms, ","))
	}
	return tw.Flush()
}

func runUsersAdd(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	st, err := openConfiguredStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	u := model.UserProfile{
		Email:     strings.TrimSpace(args[0]),
		IsActive:  !userInactive,
		Platforms: userPlatforms,
		Language:  userLanguage,
		FullName:  userName,
	}
	if err := st.PutUser(ctx, u); err != nil {
		return err
	}
	fmt.Printf("saved %s (active=%t, platforms=%s)\n", u.Email, u.IsActive, strings.Join(u.Platforms, ","))
	return nil
}
