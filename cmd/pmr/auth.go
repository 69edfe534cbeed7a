// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var authExpiresInDays int

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "manage bearer tokens for the control-plane daemon",
}

var authGenerateCmd = &cobra.Command{
	Use:   "generate LABEL",
	Short: "mint a new bearer token and print its secret once",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		auth, closer, err := openAuthenticator()
		if err != nil {
			reportAndExit(err)
		}
		defer closer()

		ttl := time.Duration(authExpiresInDays) * 24 * time.Hour
		minted, err := auth.Generate(cmd.Context(), args[0], ttl)
		if err != nil {
			reportAndExit(err)
		}
		printResult(minted, func() {
			fmt.Printf("id:      %s\n", minted.ID)
			fmt.Printf("secret:  %s\n", minted.Secret)
			fmt.Println("(the secret above is shown exactly once; it is not recoverable afterward)")
		})
	},
}

var authListCmd = &cobra.Command{
	Use:   "list",
	Short: "list minted tokens (never shows a secret or hash)",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		auth, closer, err := openAuthenticator()
		if err != nil {
			reportAndExit(err)
		}
		defer closer()

		toks, err := auth.List(cmd.Context())
		if err != nil {
			reportAndExit(err)
		}
		printResult(toks, func() { printTokenTable(toks) })
	},
}

var authRevokeCmd = &cobra.Command{
	Use:   "revoke ID",
	Short: "revoke a token by its record ID",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		auth, closer, err := openAuthenticator()
		if err != nil {
			reportAndExit(err)
		}
		defer closer()

		if err := auth.RevokeByID(cmd.Context(), args[0]); err != nil {
			reportAndExit(err)
		}
	},
}

func init() {
	authGenerateCmd.Flags().IntVar(&authExpiresInDays, "expires-in", -1, "token lifetime in days; 0 mints an already-expired token, negative means never expires")

	authCmd.AddCommand(authGenerateCmd, authListCmd, authRevokeCmd)
	rootCmd.AddCommand(authCmd)
}
