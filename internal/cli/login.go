package cli

import (
	"os"

	"github.com/spf13/cobra"
)

// EnvPassword supplies the login password when --password is not given.
const EnvPassword = "PARSE_PASSWORD"

// NewLoginCommand creates the login command.
func NewLoginCommand(rootOpts *RootOptions) *cobra.Command {
	var password string

	cmd := &cobra.Command{
		Use:   "login <username>",
		Short: "Log a user in and print the session token",
		Long: `Log a user in and print the session token.

Wrong credentials exit with code 1 and no token. The password is read
from --password or the PARSE_PASSWORD environment variable.`,
		Example: `  PARSE_PASSWORD=secret parsekit login ada`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				password = os.Getenv(EnvPassword)
			}

			client, err := openClient(rootOpts, cmd)
			if err != nil {
				return err
			}
			out := newFormatter(rootOpts, cmd)

			user, err := client.Authenticate(cmd.Context(), args[0], password)
			if err != nil {
				return out.Fail("login failed", err)
			}
			if user == nil {
				if err := out.Error(ErrCodeNotFound, "invalid username/password", nil); err != nil {
					return err
				}
				return NewExitError(ExitFailure, "invalid username/password")
			}

			if rootOpts.Format == "json" {
				return out.Success(map[string]string{
					"objectId":     user.ID(),
					"sessionToken": user.SessionToken(),
				})
			}
			return out.Success(user.SessionToken())
		},
	}

	cmd.Flags().StringVarP(&password, "password", "p", "", "password (default $PARSE_PASSWORD)")

	return cmd
}
