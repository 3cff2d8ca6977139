package cli

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/sirupsen/logrus"
)

// Command represents a CLI command
type Command struct {
	Name        string
	Description string
	Run         func(args []string) error
	Subcommands map[string]*Command
	Flags       *flag.FlagSet
}

// Env carries what commands share: where they log and print, and how they
// reach the database.
type Env struct {
	Logger *logrus.Logger
	Out    io.Writer
	// OpenDB connects to the database named by url
	OpenDB func(ctx context.Context, url string) (*sql.DB, error)
}

// DefaultEnv logs to stderr and prints to stdout
func DefaultEnv() *Env {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return &Env{
		Logger: logger,
		Out:    os.Stdout,
		OpenDB: openPostgres,
	}
}

// NewRootCommand creates the root command
func NewRootCommand(env *Env) *Command {
	if env == nil {
		env = DefaultEnv()
	}
	root := &Command{
		Name:        "invoicer-cli",
		Description: "Invoicer administration CLI",
		Subcommands: make(map[string]*Command),
		Flags:       flag.NewFlagSet("invoicer-cli", flag.ContinueOnError),
	}

	for _, cmd := range []*Command{
		newMigrateCommand(env),
		newResetUsageCommand(env),
		newSetPlanCommand(env),
		newRenderCommand(env),
		newSeedSequencesCommand(env),
	} {
		root.Subcommands[cmd.Name] = cmd
	}

	return root
}

// Execute runs the subcommand named by args[0]
func (c *Command) Execute(args []string) error {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" {
		c.usage(os.Stdout)
		return nil
	}

	if subcmd, ok := c.Subcommands[args[0]]; ok {
		return subcmd.Run(args[1:])
	}

	return fmt.Errorf("unknown command: %s", args[0])
}

// usage prints the command usage
func (c *Command) usage(w io.Writer) {
	fmt.Fprintf(w, "Usage: %s <command> [args]\n\n", c.Name)
	fmt.Fprintf(w, "Commands:\n")
	names := make([]string, 0, len(c.Subcommands))
	for name := range c.Subcommands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %-15s %s\n", name, c.Subcommands[name].Description)
	}
}

// dbFlag registers the database URL flag every database command takes
func dbFlag(fs *flag.FlagSet) *string {
	return fs.String("db-url", getEnv("INVOICER_POSTGRES_URL", "postgres://localhost/invoicer?sslmode=disable"), "PostgreSQL connection URL")
}

func openPostgres(ctx context.Context, url string) (*sql.DB, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// withDB opens the database for the duration of fn
func (e *Env) withDB(url string, fn func(ctx context.Context, db *sql.DB) error) error {
	ctx := context.Background()
	db, err := e.OpenDB(ctx, url)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()
	return fn(ctx, db)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
