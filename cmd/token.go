package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/satriahrh/sahayak/internal/auth"
)

var (
	tokenName  string
	tokenVoice string
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a UI token for a user name",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		defer logger.Sync()

		signer := auth.NewSigner(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
		if !signer.Enabled() {
			return errors.New("no JWT secret configured; set SAHAYAK_JWT_SECRET")
		}

		token, claims, err := signer.GenerateUserToken(tokenName, tokenVoice)
		if err != nil {
			return err
		}

		fmt.Println(token)
		logger.Debug("Issued token", zap.String("userID", claims.UserID), zap.Time("expiresAt", claims.ExpiresAt.Time))
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVarP(&tokenName, "name", "n", "", "User name carried by the token")
	tokenCmd.Flags().StringVar(&tokenVoice, "voice", "", "Preferred voice carried by the token")
	tokenCmd.MarkFlagRequired("name")
}
