package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"mastodon_archiver/internal/config"
	"mastodon_archiver/internal/credentials"
)

func newTokenCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage the access token stored in the OS keyring",
	}
	cmd.AddCommand(newTokenSetCmd(root), newTokenDeleteCmd(root))
	return cmd
}

func newTokenSetCmd(root *rootOptions) *cobra.Command {
	var token string

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Store an access token for the configured instance",
		Long: `Store an access token for the configured instance in the OS keyring.
Without --token the token is read from the terminal (hidden) or from stdin.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			baseURL, err := instanceURL(root)
			if err != nil {
				return err
			}

			if token == "" {
				token, err = readToken(cmd.InOrStdin(), cmd.ErrOrStderr())
				if err != nil {
					return err
				}
			}

			if err := credentials.NewStore().Set(baseURL, token); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "token stored for %s\n", baseURL)
			return nil
		},
	}

	cmd.Flags().StringVar(&token, "token", "", "access token (read interactively when omitted)")
	return cmd
}

func newTokenDeleteCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete",
		Short: "Remove the stored access token for the configured instance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			baseURL, err := instanceURL(root)
			if err != nil {
				return err
			}
			err = credentials.NewStore().Delete(baseURL)
			if errors.Is(err, credentials.ErrNotFound) {
				fmt.Fprintf(cmd.OutOrStdout(), "no token stored for %s\n", baseURL)
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "token removed for %s\n", baseURL)
			return nil
		},
	}
}

// instanceURL only needs the base URL, so the rest of the config is not validated.
func instanceURL(root *rootOptions) (string, error) {
	cfg, err := config.Load(root.configPath)
	if err != nil {
		return "", err
	}
	if cfg.Mastodon.BaseURL == "" {
		return "", errors.New("mastodon.base_url is not set")
	}
	return cfg.Mastodon.BaseURL, nil
}

func readToken(in io.Reader, prompt io.Writer) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(prompt, "Access token: ")
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(prompt)
		if err != nil {
			return "", fmt.Errorf("read token: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read token: %w", err)
	}
	return strings.TrimSpace(line), nil
}
