// main.go - Admin control tool for statsq
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"statsq/internal"
	"statsq/internal/analytics"
	"statsq/internal/events"
	"statsq/internal/seeder"
	"statsq/internal/sites"
)

const (
	defaultShutdownTimeout = 30 * time.Second
)

// Command defines the interface for all command implementations
type Command interface {
	// Name returns the command name
	Name() string
	// Description returns the command description
	Description() string
	// Execute runs the command with the given app and args
	Execute(ctx context.Context, app *internal.Application, args []string) error
}

// The set of available commands
var commands = []Command{
	&MigrateCommand{},
	&SeedCommand{},
	&CreateSiteCommand{},
	&GrantCommand{},
	&QueryCommand{Out: os.Stdout},
	&BackfillCommand{},
	&StatusCommand{},
	&HelpCommand{},
}

func main() {
	flag.Parse()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sig := <-sigChan
		log.Printf("Received signal: %v, initiating cleanup...", sig)
		cancel()
	}()

	cmdName, args := parseArgs()

	cmd := findCommand(cmdName)
	if cmd == nil {
		showUsageAndExit()
	}

	app, err := internal.NewApp()
	if err != nil {
		log.Printf("Warning: Failed to initialize app: %v", err)
		log.Println("Proceeding with limited functionality...")
	}

	defer func() {
		if app != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
			defer cancel()
			if err := app.Shutdown(shutdownCtx); err != nil {
				log.Printf("Warning: Cleanup error: %v", err)
			}
		}
	}()

	if err := cmd.Execute(ctx, app, args); err != nil {
		log.Fatalf("Command failed: %v", err)
	}

	log.Printf("Command %s completed successfully", cmd.Name())
}

// MigrateCommand runs database migrations
type MigrateCommand struct{}

func (c *MigrateCommand) Name() string        { return "migrate" }
func (c *MigrateCommand) Description() string { return "Runs database migrations" }

func (c *MigrateCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	if app == nil {
		return fmt.Errorf("app initialization failed, cannot run migrations")
	}

	log.Println("Running database migrations...")
	if err := app.DBManager.MigrateDatabase(); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	log.Println("Migrations completed successfully")
	return nil
}

// SeedCommand populates the DB with sample sites and journeys
type SeedCommand struct{}

func (c *SeedCommand) Name() string        { return "seed" }
func (c *SeedCommand) Description() string { return "Seeds the database with sample data" }

func (c *SeedCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	fs := flag.NewFlagSet("seed", flag.ContinueOnError)
	count := fs.Int("events", 10000, "number of events to generate")
	domain := fs.String("domain", "", "specific domain to seed (seeds all defaults if empty)")
	caller := fs.String("caller", seeder.DefaultCaller, "caller granted access to the seeded sites")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if app == nil {
		return fmt.Errorf("unable to initialise app")
	}

	se := seeder.NewSeeder(app.DBManager, slog.Default(), *count)
	se.Caller = *caller

	if *domain != "" {
		return se.SeedDomain(ctx, *domain)
	}
	return se.Run(ctx)
}

// CreateSiteCommand registers a site
type CreateSiteCommand struct{}

func (c *CreateSiteCommand) Name() string        { return "create-site" }
func (c *CreateSiteCommand) Description() string { return "Creates a site: create-site <domain>" }

func (c *CreateSiteCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: %s <domain>", c.Name())
	}
	if app == nil {
		return fmt.Errorf("app initialization failed, cannot connect to database")
	}

	site, err := sites.NewStore(app.DBManager.GetConnection()).CreateSite(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Printf("Site %s has id %d\n", site.Domain, site.ID)
	return nil
}

// GrantCommand gives a caller read access to a site
type GrantCommand struct{}

func (c *GrantCommand) Name() string { return "grant" }
func (c *GrantCommand) Description() string {
	return "Grants a caller access to a site: grant <site-id|domain> <caller-id>"
}

func (c *GrantCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: %s <site-id|domain> <caller-id>", c.Name())
	}
	if app == nil {
		return fmt.Errorf("app initialization failed, cannot connect to database")
	}

	store := sites.NewStore(app.DBManager.GetConnection())
	site, err := lookupSite(ctx, store, args[0])
	if err != nil {
		return err
	}
	if err := store.Grant(ctx, site.ID, args[1]); err != nil {
		return err
	}
	fmt.Printf("Caller %s can now read site %s (%d)\n", args[1], site.Domain, site.ID)
	return nil
}

// QueryCommand runs a stats query from a YAML or JSON file and prints the result
type QueryCommand struct {
	Out io.Writer
}

func (c *QueryCommand) Name() string { return "query" }
func (c *QueryCommand) Description() string {
	return "Runs a stats query: query -f <request.yaml|json> [-site id] [-caller id]"
}

func (c *QueryCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	fs := flag.NewFlagSet("query", flag.ContinueOnError)
	file := fs.String("f", "", "request file (.yaml, .yml or .json)")
	site := fs.Uint("site", 0, "site id, overrides siteId in the file")
	caller := fs.String("caller", seeder.DefaultCaller, "caller identity used for the access check")
	indent := fs.Bool("pretty", true, "indent the JSON output")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *file == "" {
		return fmt.Errorf("usage: %s -f <file>", c.Name())
	}
	if app == nil {
		return fmt.Errorf("app initialization failed, cannot connect to database")
	}

	req, err := analytics.LoadRequestFile(*file)
	if err != nil {
		return err
	}
	if *site != 0 {
		req.SiteID = *site
	}
	req.CallerID = *caller

	res, err := app.Engine().GetStats(ctx, req)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(c.Out)
	if *indent {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(res)
}

// BackfillCommand runs the left timestamp backfill once
type BackfillCommand struct{}

func (c *BackfillCommand) Name() string { return "backfill" }
func (c *BackfillCommand) Description() string {
	return "Fills left timestamps of settled pageviews now"
}

func (c *BackfillCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	if app == nil {
		return fmt.Errorf("app initialization failed, cannot connect to database")
	}

	updated, err := app.Scheduler.BackfillNow(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Updated %d pageviews\n", updated)
	return nil
}

// StatusCommand implements a command to check the system status
type StatusCommand struct{}

func (c *StatusCommand) Name() string        { return "status" }
func (c *StatusCommand) Description() string { return "Shows the current system status" }

func (c *StatusCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	if app == nil {
		return fmt.Errorf("cannot check status: app initialization failed")
	}

	db := app.DBManager.GetConnection()

	var siteCount, eventCount, pending int64
	if err := db.WithContext(ctx).Model(&sites.Site{}).Count(&siteCount).Error; err != nil {
		return fmt.Errorf("database error: %w", err)
	}
	if err := db.WithContext(ctx).Model(&events.Event{}).Count(&eventCount).Error; err != nil {
		return fmt.Errorf("database error: %w", err)
	}
	if err := db.WithContext(ctx).Model(&events.Event{}).
		Where("type = ? AND left_timestamp IS NULL", events.EventTypePageView).
		Count(&pending).Error; err != nil {
		return fmt.Errorf("database error: %w", err)
	}

	log.Println("System Status:")
	log.Println("- Database: Connected")
	log.Printf("- Sites: %d", siteCount)
	log.Printf("- Events: %d", eventCount)
	log.Printf("- Pageviews without left timestamp: %d", pending)

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get SQL DB: %w", err)
	}

	stats := sqlDB.Stats()
	log.Printf("- Max Open Connections: %d", stats.MaxOpenConnections)
	log.Printf("- Open Connections: %d", stats.OpenConnections)
	log.Printf("- In Use: %d", stats.InUse)
	log.Printf("- Idle: %d", stats.Idle)

	return nil
}

// HelpCommand implements a command to show usage information
type HelpCommand struct{}

func (c *HelpCommand) Name() string        { return "help" }
func (c *HelpCommand) Description() string { return "Shows usage information" }

func (c *HelpCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	printUsage()
	return nil
}

// Helper functions

func lookupSite(ctx context.Context, store *sites.Store, key string) (*sites.Site, error) {
	if id, err := strconv.ParseUint(key, 10, 64); err == nil {
		return store.GetSiteByID(ctx, uint(id))
	}
	return store.GetSiteByDomain(ctx, key)
}

// parseArgs parses the command name and arguments
func parseArgs() (string, []string) {
	args := flag.Args()
	if len(args) == 0 {
		return "help", []string{}
	}
	return args[0], args[1:]
}

// findCommand finds a command by name
func findCommand(name string) Command {
	for _, cmd := range commands {
		if cmd.Name() == name {
			return cmd
		}
	}
	return nil
}

func printUsage() {
	fmt.Println("Usage: statsctl [command] [args...]")
	fmt.Println("Available commands:")

	for _, cmd := range commands {
		fmt.Printf("  %s: %s\n", cmd.Name(), cmd.Description())
	}
}

// showUsageAndExit shows usage information and exits
func showUsageAndExit() {
	printUsage()
	os.Exit(1)
}
