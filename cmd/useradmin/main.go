package main

import (
	"chat-relay/auth"
	"chat-relay/repositories"
	"chat-relay/services"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/kelseyhightower/envconfig"
	"github.com/mama165/sdk-go/logs"
	"github.com/olekukonko/tablewriter"
)

const usage = `usage: useradmin [-db path] <command>

commands:
  add <username> <displayName> <password>
  import-bcrypt <username> <displayName> <bcryptHash>
  list
`

type Config struct {
	BadgerFilepath string `envconfig:"BADGER_FILEPATH" default:"./data/relay"`
	LogLevel       string `envconfig:"LOG_LEVEL" default:"WARN"`
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "useradmin: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	flags := flag.NewFlagSet("useradmin", flag.ContinueOnError)
	dbPath := flags.String("db", config.BadgerFilepath, "Path to badger DB")
	flags.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() == 0 {
		flags.Usage()
		return fmt.Errorf("missing command")
	}

	logger := logs.GetLoggerFromString(config.LogLevel)
	db, err := badger.Open(badger.DefaultOptions(*dbPath).WithLogger(nil))
	if err != nil {
		return fmt.Errorf("database opening failed: %w", err)
	}
	defer db.Close()

	repo := repositories.NewUserRepository(db)
	// No token issuer: accounts are only created and listed here
	service := services.NewAuthService(logger, repo, nil)

	command, rest := flags.Arg(0), flags.Args()[1:]
	switch command {
	case "add":
		if len(rest) != 3 {
			return fmt.Errorf("add expects <username> <displayName> <password>")
		}
		identity, err := service.Register(rest[0], rest[1], rest[2])
		if err != nil {
			return err
		}
		fmt.Printf("created %s (%s)\n", identity.ID, identity.DisplayName)
	case "import-bcrypt":
		if len(rest) != 3 {
			return fmt.Errorf("import-bcrypt expects <username> <displayName> <bcryptHash>")
		}
		identity, err := service.ImportBcrypt(rest[0], rest[1], rest[2])
		if err != nil {
			return err
		}
		fmt.Printf("imported %s (%s)\n", identity.ID, identity.DisplayName)
	case "list":
		return list(logger, repo)
	default:
		flags.Usage()
		return fmt.Errorf("unknown command %q", command)
	}
	return nil
}

func list(logger *slog.Logger, repo repositories.IUserRepository) error {
	users, err := repo.ListUsers()
	if err != nil {
		return err
	}
	logger.Debug("Users loaded", "count", len(users))

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Username", "Display name", "Hash", "Created at"})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	for _, u := range users {
		table.Append([]string{u.Username, u.DisplayName, hashKind(u.PasswordHash), u.CreatedAt.Format("2006-01-02 15:04:05")})
	}
	table.Render()
	return nil
}

func hashKind(hash string) string {
	switch {
	case strings.HasPrefix(hash, "$argon2id$"):
		return "argon2id"
	case auth.IsBcryptHash(hash):
		return "bcrypt"
	default:
		return "unknown"
	}
}
