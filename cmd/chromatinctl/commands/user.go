package commands

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	mw "github.com/jakub-figat/chromatin/internal/api/middleware"
	"github.com/jakub-figat/chromatin/pkg/models"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
)

const keyPrefix = "chr_"

// NewUserCommand creates the user command.
func NewUserCommand(open StoreOpener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Args:  cobra.NoArgs,
		Short: "Manage users and their API keys",
	}

	var (
		email   string
		keyName string
		scopes  []string
	)
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a user (if needed) and issue an API key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			email = strings.TrimSpace(email)
			if email == "" {
				return fmt.Errorf("--email is required")
			}
			for _, s := range scopes {
				if s != mw.ScopeRead && s != mw.ScopeWrite {
					return fmt.Errorf("unknown scope %q, want %s or %s", s, mw.ScopeRead, mw.ScopeWrite)
				}
			}

			st, closeStore, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore()

			user, err := st.EnsureUser(cmd.Context(), email)
			if err != nil {
				return fmt.Errorf("create user: %w", err)
			}

			raw, key, err := newAPIKey(user.ID, keyName, scopes)
			if err != nil {
				return err
			}
			if err := st.CreateAPIKey(cmd.Context(), key); err != nil {
				return fmt.Errorf("store api key: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "User:    %s (id %d)\n", user.Email, user.ID)
			fmt.Fprintf(out, "Scopes:  %s\n", strings.Join(key.Scopes, ","))
			fmt.Fprintf(out, "API key: %s\n", raw)
			fmt.Fprintln(out, "Store the key now; it cannot be shown again.")
			return nil
		},
	}
	create.Flags().StringVarP(&email, "email", "e", "", "user email")
	create.Flags().StringVar(&keyName, "key-name", "default", "label for the issued key")
	create.Flags().StringSliceVar(&scopes, "scopes", []string{mw.ScopeRead, mw.ScopeWrite}, "scopes granted to the key")

	cmd.AddCommand(create)
	return cmd
}

// newAPIKey generates a random key and the row that stores its bcrypt hash.
func newAPIKey(userID int64, name string, scopes []string) (string, *models.APIKey, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", nil, fmt.Errorf("generate api key: %w", err)
	}
	raw := keyPrefix + hex.EncodeToString(buf)

	hash, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
	if err != nil {
		return "", nil, fmt.Errorf("hash api key: %w", err)
	}

	now := time.Now().UTC()
	return raw, &models.APIKey{
		ID:        uuid.New(),
		UserID:    userID,
		Name:      name,
		KeyHash:   string(hash),
		KeyPrefix: raw[:mw.KeyPrefixLen],
		Scopes:    slices.Compact(slices.Sorted(slices.Values(scopes))),
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}
