package commands

import (
	"context"
	"fmt"
	"os"

	"dzr-backend/lib/configutil"
	"dzr-backend/lib/docstore"
	"dzr-backend/lib/scrapers/zwift"
	"dzr-backend/lib/scrapers/zwiftpower"
	"dzr-backend/lib/serviceutil"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"
)

type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type Config struct {
	Database   string      `json:"database"`
	ClubId     int         `json:"clubId"`
	ZwiftPower Credentials `json:"zwiftpower"`
	Zwift      Credentials `json:"zwift"`
}

var rootCmd = &cobra.Command{
	Use:   "dzr-cli",
	Short: "dzr-cli scrapes club rosters and results and reports highlights and upgrades.",
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func readConfig() Config {
	cfg, err := configutil.ReadRecursively[Config]("dzr.json5")
	if err != nil {
		serviceutil.Fatal("failed to read config", err)
	}
	if cfg.Database == "" {
		cfg.Database = "dzr.db"
	}
	return cfg
}

func openStore(cfg Config) docstore.Store {
	db, err := docstore.Open(cfg.Database)
	if err != nil {
		serviceutil.Fatal("failed to open database", err)
	}
	return docstore.NewSqliteStore(db)
}

func newZwiftPowerClient(cfg Config) *zwiftpower.Client {
	client, err := zwiftpower.NewClient(zwiftpower.ClientOptions{
		Username: cfg.ZwiftPower.Username,
		Password: cfg.ZwiftPower.Password,
	})
	if err != nil {
		serviceutil.Fatal("failed to initialize zwiftpower client", err)
	}
	return client
}

func newZwiftClient(cfg Config) *zwift.Client {
	return zwift.NewClient(zwift.ClientOptions{
		Username: cfg.Zwift.Username,
		Password: cfg.Zwift.Password,
	})
}

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(os.Stdout)
	return t
}
