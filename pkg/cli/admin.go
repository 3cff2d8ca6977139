package cli

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"time"

	"github.com/platinummonkey/invoicer/pkg/invoice"
	"github.com/platinummonkey/invoicer/pkg/plans"
	"github.com/platinummonkey/invoicer/pkg/storage/postgres"
	"github.com/platinummonkey/invoicer/pkg/users"
)

// migrate is a seam for tests
var migrate = postgres.Migrate

func newMigrateCommand(env *Env) *Command {
	cmd := &Command{
		Name:        "migrate",
		Description: "Apply pending database migrations",
		Flags:       flag.NewFlagSet("migrate", flag.ContinueOnError),
	}
	dbURL := dbFlag(cmd.Flags)

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		return env.withDB(*dbURL, func(ctx context.Context, db *sql.DB) error {
			if err := migrate(ctx, db); err != nil {
				return err
			}
			env.Logger.Info("Migrations applied")
			return nil
		})
	}
	return cmd
}

func newResetUsageCommand(env *Env) *Command {
	cmd := &Command{
		Name:        "reset-usage",
		Description: "Start a new monthly usage period for every account",
		Flags:       flag.NewFlagSet("reset-usage", flag.ContinueOnError),
	}
	dbURL := dbFlag(cmd.Flags)
	month := cmd.Flags.String("month", "", "Usage month to start, as YYYY-MM (default: the current month)")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}

		period := plans.PeriodStart(time.Now())
		if *month != "" {
			parsed, err := time.Parse("2006-01", *month)
			if err != nil {
				return fmt.Errorf("invalid month %q: expected YYYY-MM", *month)
			}
			period = plans.PeriodStart(parsed)
		}

		return env.withDB(*dbURL, func(ctx context.Context, db *sql.DB) error {
			n, err := users.NewPostgresRepository(db).ResetMonthlyUsage(ctx, period)
			if err != nil {
				return err
			}
			env.Logger.WithField("period", period.Format("2006-01")).Infof("Reset usage of %d accounts", n)
			return nil
		})
	}
	return cmd
}

func newSetPlanCommand(env *Env) *Command {
	cmd := &Command{
		Name:        "set-plan",
		Description: "Move an account to the free or pro plan: set-plan <email> free|pro",
		Flags:       flag.NewFlagSet("set-plan", flag.ContinueOnError),
	}
	dbURL := dbFlag(cmd.Flags)

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		if cmd.Flags.NArg() != 2 {
			return errors.New("usage: set-plan [-db-url url] <email> free|pro")
		}
		email := users.NormalizeEmail(cmd.Flags.Arg(0))

		var isPro bool
		switch plans.Tier(cmd.Flags.Arg(1)) {
		case plans.TierFree:
		case plans.TierPro:
			isPro = true
		default:
			return fmt.Errorf("unknown plan %q: must be free or pro", cmd.Flags.Arg(1))
		}

		return env.withDB(*dbURL, func(ctx context.Context, db *sql.DB) error {
			repo := users.NewPostgresRepository(db)
			user, err := repo.GetByEmail(ctx, email)
			if err != nil {
				if errors.Is(err, users.ErrNotFound) {
					return fmt.Errorf("no account with email %s", email)
				}
				return err
			}
			if err := repo.SetPlan(ctx, user.ID, isPro); err != nil {
				return err
			}
			env.Logger.WithFields(map[string]interface{}{
				"user_id": user.ID,
				"email":   email,
				"plan":    plans.TierFor(isPro),
			}).Info("Plan updated")
			if user.StripeCustomerID != "" {
				env.Logger.Warn("Account has a billing customer; the next subscription event will override this plan")
			}
			return nil
		})
	}
	return cmd
}

func newSeedSequencesCommand(env *Env) *Command {
	cmd := &Command{
		Name:        "seed-sequences",
		Description: "Raise invoice sequences to the highest number already issued",
		Flags:       flag.NewFlagSet("seed-sequences", flag.ContinueOnError),
	}
	dbURL := dbFlag(cmd.Flags)

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		return env.withDB(*dbURL, func(ctx context.Context, db *sql.DB) error {
			svc := invoice.NewPostgresService(db, users.NewPostgresRepository(db), plans.NewEnforcer(nil, nil), nil)
			n, err := svc.ReseedSequences(ctx)
			if err != nil {
				return err
			}
			env.Logger.Infof("Reseeded sequences of %d accounts", n)
			return nil
		})
	}
	return cmd
}
