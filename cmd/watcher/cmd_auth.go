package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"streamwatch/internal/credential"
)

// loginCmd stores a credential without starting the browser
var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Prompt for the browser path and token and save them",
	RunE:  runLogin,
}

// logoutCmd removes the stored credential
var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Delete the saved credential file",
	RunE:  runLogout,
}

func runLogin(cmd *cobra.Command, args []string) error {
	cfg, err := loadSettings()
	if err != nil {
		return err
	}
	l := newLoader(cfg, cmd.InOrStdin(), cmd.OutOrStdout())

	cred, err := l.Prompter.Ask(context.Background())
	if err != nil {
		return err
	}
	if cred.Token == "" {
		return credential.ErrEmptyCredential
	}
	if err := credential.Save(cfg.CredentialPath, cred); err != nil {
		return err
	}
	logger.Info("Credential saved", zap.String("path", cfg.CredentialPath))
	fmt.Fprintf(cmd.OutOrStdout(), "Saved credential to %s\n", cfg.CredentialPath)
	return nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	cfg, err := loadSettings()
	if err != nil {
		return err
	}
	if err := credential.Remove(cfg.CredentialPath); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", cfg.CredentialPath)
	return nil
}
