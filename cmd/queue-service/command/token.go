package command

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/lucyheather39-png/que-management/internal/config"
	"github.com/lucyheather39-png/que-management/internal/httpapi"
	"github.com/lucyheather39-png/que-management/internal/models"
)

// TokenCommand mints a bearer token signed with JWT_SECRET. Kiosks and
// operators use it when the registration portal is not in the loop.
type TokenCommand struct{}

func (TokenCommand) Command(cfg config.Config) *cobra.Command {
	var (
		actor models.Actor
		ttl   time.Duration
	)
	command := &cobra.Command{
		Use:   "token",
		Short: "issue a signed bearer token",
		RunE: func(c *cobra.Command, _ []string) error {
			if len(cfg.JWTSecret) < 16 {
				return errors.New("JWT_SECRET must be at least 16 bytes")
			}
			if actor.ID == "" {
				return errors.New("--sub is required")
			}
			token, err := httpapi.NewTokenVerifier(cfg.JWTSecret).Issue(actor, ttl)
			if err != nil {
				return errors.Wrap(err, "sign token")
			}
			_, err = fmt.Fprintln(c.OutOrStdout(), token)
			return err
		},
	}
	flags := command.Flags()
	flags.StringVar(&actor.ID, "sub", "", "subject (citizen or admin id)")
	flags.StringVar(&actor.Role, "role", models.RoleCitizen, "citizen or admin")
	flags.StringVar(&actor.Name, "name", "", "display name")
	flags.StringVar(&actor.Classification, "citizen-type", "", "senior, pwd or regular")
	flags.DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return command
}
