package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/and161185/collabify/internal/config"
	"github.com/and161185/collabify/internal/errs"
	"github.com/and161185/collabify/internal/repository/httpapi"
	"github.com/and161185/collabify/internal/service"
)

var errNoPassword = errors.New("password expected on the first line of stdin")

func newLoginCmd(a *app) *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with --email (password on stdin) or store a --token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if email == "" {
				// --token is the root persistent flag
				token, _ := cmd.Flags().GetString("token")
				return a.saveToken(cmd, token, "")
			}
			password, err := a.readPassword()
			if err != nil {
				return err
			}
			res, err := httpapi.NewAuth(a.cfg.APIURL).Login(cmd.Context(), email, password)
			if err != nil {
				_, _ = fmt.Fprintln(cmd.ErrOrStderr(), service.StatusText(err))
				return err
			}
			return a.saveToken(cmd, res.Token, res.User.Email)
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email; the password is read from stdin")
	return cmd
}

func newRegisterCmd(a *app) *cobra.Command {
	var email, name string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account (password on stdin) and sign in",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			password, err := a.readPassword()
			if err != nil {
				return err
			}
			res, err := httpapi.NewAuth(a.cfg.APIURL).Register(cmd.Context(), email, password, name)
			if err != nil {
				_, _ = fmt.Fprintln(cmd.ErrOrStderr(), service.StatusText(err))
				return err
			}
			return a.saveToken(cmd, res.Token, res.User.Email)
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newWhoamiCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the account behind the current token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.cfg.Token == "" {
				return errs.ErrMissingToken
			}
			acc, err := httpapi.New(a.cfg.APIURL, a.cfg.Token).Profile(cmd.Context())
			if err != nil {
				_, _ = fmt.Fprintln(cmd.ErrOrStderr(), service.StatusText(err))
				return err
			}
			if acc.Name != "" {
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", acc.Email, acc.Name)
			} else {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), acc.Email)
			}
			return err
		},
	}
}

// saveToken stores token with whatever its claims reveal; fallback names the
// user when the token is opaque.
func (a *app) saveToken(cmd *cobra.Command, token, fallback string) error {
	info, err := service.InspectToken(token, time.Now())
	switch {
	case errors.Is(err, errs.ErrMissingToken), errors.Is(err, errs.ErrTokenExpired):
		return err
	case err != nil:
		// opaque tokens are accepted; the relay is the judge
		a.log.Warn("token is not a readable JWT", zap.Error(err))
	}
	if info.Subject == "" {
		info.Subject = fallback
	}

	creds := config.Credentials{Token: token, Subject: info.Subject, ExpiresAt: info.ExpiresAt}
	if err := config.SaveCredentials(a.cfg.CredentialsPath, creds); err != nil {
		return err
	}
	who := info.Subject
	if who == "" {
		who = "unknown user"
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s\n", who)
	if !info.ExpiresAt.IsZero() {
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Token expires %s\n", info.ExpiresAt.Format(time.RFC3339))
	}
	return nil
}

// readPassword takes the first stdin line so passwords stay out of argv.
func (a *app) readPassword() (string, error) {
	sc := bufio.NewScanner(a.in)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return "", err
		}
		return "", errNoPassword
	}
	pw := strings.TrimRight(sc.Text(), "\r")
	if pw == "" {
		return "", errNoPassword
	}
	return pw, nil
}

func newLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored access token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.ClearCredentials(a.cfg.CredentialsPath); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
			return nil
		},
	}
}
