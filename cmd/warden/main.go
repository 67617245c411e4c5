// warden - RCON administration service for Squad, Post Scriptum and Beyond the Wire servers
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"
	_ "time/tzdata" // rotation time windows name IANA zones

	"github.com/klauspost/compress/gzip"
	flag "github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/ernie/warden/internal/api"
	"github.com/ernie/warden/internal/auth"
	"github.com/ernie/warden/internal/collector"
	"github.com/ernie/warden/internal/config"
	"github.com/ernie/warden/internal/domain"
	"github.com/ernie/warden/internal/notify"
	"github.com/ernie/warden/internal/query"
	"github.com/ernie/warden/internal/rcon"
	"github.com/ernie/warden/internal/rotation"
	"github.com/ernie/warden/internal/storage"
)

var version = "dev"

const defaultConfigPath = "/etc/warden/config.yml"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "serve":
		err = cmdServe(os.Args[2:])
	case "server":
		err = cmdServer(os.Args[2:])
	case "client":
		err = cmdClient(os.Args[2:])
	case "rotation":
		err = cmdRotation(os.Args[2:])
	case "logs":
		err = cmdLogs(os.Args[2:])
	case "perms":
		err = cmdPerms(os.Args[2:])
	case "config":
		err = cmdConfig(os.Args[2:])
	case "version":
		fmt.Printf("warden %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: warden <command> [options] [args]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                               Start the RCON service and HTTP API")
	fmt.Println("  server list                         Show registered game servers")
	fmt.Println("  server add <name> --address HOST --port N --owner ID [flags]")
	fmt.Println("                                      Register a game server (prompts for the RCON password)")
	fmt.Println("  server remove <id>                  Remove a game server and all its data")
	fmt.Println("  client add [--admin] <name>         Register an API client and print its secret")
	fmt.Println("  client remove <name>                Remove an API client")
	fmt.Println("  client list                         List API clients")
	fmt.Println("  rotation check <file> [--players N] [--current MAP]")
	fmt.Println("                                      Validate a rotation document and show eligible maps")
	fmt.Println("  logs export <server-id> [--out FILE]")
	fmt.Println("                                      Write a server's log as a gzip file")
	fmt.Println("  perms set <server-id> <target-id> <perms> [--role]")
	fmt.Println("                                      Grant permissions (names or integer; empty removes)")
	fmt.Println("  perms show <server-id> <user-id> [--guild ID] [--roles IDS]")
	fmt.Println("                                      Show the permissions a user resolves to")
	fmt.Println("  config show <server-id>             Show a server's chat and log settings")
	fmt.Println("  config set <server-id> <key> <value>")
	fmt.Println("                                      Change one setting (applied on next connect)")
	fmt.Println("  version                             Show version")
	fmt.Println("  help                                Show this help")
	fmt.Println()
	fmt.Println("Global Options:")
	fmt.Println("  --config <path>    Path to configuration file (default /etc/warden/config.yml)")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  warden serve --config /etc/warden/config.yml")
	fmt.Println("  warden server add main --address 10.0.0.5 --port 21114 --query-port 27165 --owner 1234")
	fmt.Println("  warden client add --admin discord-bot")
	fmt.Println("  warden rotation check rotation.yml --players 40")
	fmt.Println("  warden perms set 1 987654321 kick,ban,message --role")
	fmt.Println("  warden config set 1 chat_trigger_words '!admin,!help'")
}

// loadConfig reads the config file. Without an explicit --config a missing
// default file yields the built-in defaults.
func loadConfig(path string, explicit bool) (*config.Config, error) {
	if _, err := os.Stat(path); err != nil && !explicit && errors.Is(err, os.ErrNotExist) {
		return config.Default(), nil
	}
	return config.Load(path)
}

// newLogger installs a text slog handler at the configured level
func newLogger(cfg *config.Config) (*slog.Logger, error) {
	level, err := cfg.LogLevel()
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger, nil
}

// cmdServe starts the registry, the HTTP API and the optional NATS publisher
func cmdServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "path to config file")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath, fs.Changed("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	logger.Info("warden starting", "version", version)

	store, err := storage.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()
	logger.Info("database initialized", "path", cfg.Database.Path)

	manager := collector.NewServerManager(store, collector.Options{
		PollInterval: cfg.Poll.Interval,
		ChatInterval: cfg.Poll.ChatInterval,
		StaleAfter:   cfg.Poll.StaleAfter,
		GracePeriod:  cfg.Poll.GracePeriod,
		LogRetention: cfg.Logs.Retention,
		RCON:         rconOptions(cfg, logger),
		Querier:      query.NewA2SQuerier(cfg.Poll.QueryTimeout),
		Logger:       logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := manager.Start(ctx); err != nil {
		return fmt.Errorf("failed to start server manager: %w", err)
	}
	logger.Info("server manager started", "poll_interval", cfg.Poll.Interval, "servers", len(manager.ServerIDs()))

	if cfg.NATS.URL != "" {
		publisher, err := notify.Connect(cfg.NATS.URL, cfg.NATS.SubjectPrefix, logger)
		if err != nil {
			// the API still works without the chat layer feed
			logger.Error("nats unavailable, events will not be published", "url", cfg.NATS.URL, "error", err)
		} else {
			defer publisher.Close()
			go publisher.Run(ctx, manager)
		}
	}

	if cfg.Auth.JWTSecret == "" {
		logger.Warn("no JWT secret configured, API logins will fail")
	}
	authService := auth.NewService(cfg.Auth.JWTSecret, cfg.Auth.TokenDuration)

	router := api.NewRouter(store, manager, authService, logger)
	router.StartWebSocketHub(ctx)

	addr := fmt.Sprintf("%s:%d", cfg.Server.ListenAddr, cfg.Server.HTTPPort)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-serverErr:
		manager.Stop()
		return fmt.Errorf("HTTP server error: %w", err)
	}

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer httpCancel()
	if err := server.Shutdown(httpCtx); err != nil {
		logger.Warn("HTTP server shutdown error", "error", err)
	}

	manager.Stop()
	cancel()
	logger.Info("shutdown complete")
	return nil
}

func rconOptions(cfg *config.Config, logger *slog.Logger) rcon.Options {
	return rcon.Options{
		DialTimeout: cfg.RCON.DialTimeout,
		ReadTimeout: cfg.RCON.ReadTimeout,
		Retry: rcon.RetryPolicy{
			MaxAttempts: cfg.RCON.RetryAttempts,
			Backoff:     cfg.RCON.RetryBackoff,
		},
		Logger: logger,
	}
}

// openStore parses the shared --config flag and opens the database
func openStore(name string, args []string, setup func(fs *flag.FlagSet)) (*storage.Store, *config.Config, []string, error) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "path to configuration file")
	if setup != nil {
		setup(fs)
	}
	fs.Parse(args)

	cfg, err := loadConfig(*configPath, fs.Changed("config"))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	store, err := storage.New(cfg.Database.Path)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	return store, cfg, fs.Args(), nil
}

func cmdServer(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("server subcommand required: list, add, remove")
	}
	switch args[0] {
	case "list":
		return cmdServerList(args[1:])
	case "add":
		return cmdServerAdd(args[1:])
	case "remove":
		return cmdServerRemove(args[1:])
	default:
		return fmt.Errorf("unknown server command: %s (use: list, add, remove)", args[0])
	}
}

func cmdServerList(args []string) error {
	store, _, _, err := openStore("server list", args, nil)
	if err != nil {
		return err
	}
	defer store.Close()

	instances, err := store.ListInstances(context.Background())
	if err != nil {
		return fmt.Errorf("failed to list servers: %w", err)
	}
	if len(instances) == 0 {
		fmt.Println("No servers registered")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tGAME\tRCON\tQUERY\tOWNER\tDEFAULT PERMS\tROTATION")
	fmt.Fprintln(w, "--\t----\t----\t----\t-----\t-----\t-------------\t--------")
	for _, inst := range instances {
		queryAddr := "-"
		if a := inst.QueryAddr(); a != "" {
			queryAddr = a
		}
		rot := "game"
		if inst.UsesCustomRotation {
			rot = "custom"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			inst.ID, inst.Name, inst.Game, inst.RCONAddr(), queryAddr, inst.OwnerID, inst.DefaultPerms, rot)
	}
	return w.Flush()
}

func cmdServerAdd(args []string) error {
	var (
		address   *string
		port      *int
		queryPort *int
		owner     *int64
		guild     *int64
		game      *string
		perms     *string
		noVerify  *bool
	)
	store, cfg, rest, err := openStore("server add", args, func(fs *flag.FlagSet) {
		address = fs.String("address", "", "server host or IP")
		port = fs.Int("port", 21114, "RCON port")
		queryPort = fs.Int("query-port", 0, "A2S query port (0 disables score enrichment)")
		owner = fs.Int64("owner", 0, "chat user id of the owner")
		guild = fs.Int64("guild", 0, "chat guild the default permissions apply in")
		game = fs.String("game", string(domain.GameSquad), "squad, ps or btw")
		perms = fs.String("perms", "", "default permissions (names or integer)")
		noVerify = fs.Bool("no-verify", false, "skip the RCON credential check")
	})
	if err != nil {
		return err
	}
	defer store.Close()

	if len(rest) < 1 || *address == "" || *owner == 0 {
		return fmt.Errorf("usage: warden server add <name> --address HOST --port N --owner ID [--query-port N] [--guild ID] [--game squad|ps|btw] [--perms P]")
	}
	g, ok := domain.ParseGame(*game)
	if !ok {
		return fmt.Errorf("unknown game %q", *game)
	}
	defaults, err := domain.ParsePermissions(*perms)
	if err != nil {
		return err
	}

	password, err := promptSecret("RCON password: ")
	if err != nil {
		return err
	}
	if password == "" {
		return fmt.Errorf("password is required")
	}

	inst := &domain.Instance{
		Name:         rest[0],
		Address:      *address,
		Port:         *port,
		QueryPort:    *queryPort,
		Password:     password,
		OwnerID:      *owner,
		GuildID:      *guild,
		Game:         g,
		DefaultPerms: defaults,
	}

	ctx := context.Background()
	if !*noVerify {
		fmt.Printf("Verifying credentials on %s... ", inst.RCONAddr())
		conn, err := rcon.Dial(ctx, inst.RCONAddr(), inst.Password, rconOptions(cfg, slog.New(slog.NewTextHandler(io.Discard, nil))))
		if err != nil {
			fmt.Println("failed")
			return err
		}
		conn.Close()
		fmt.Println("ok")
	}

	if err := store.CreateInstance(ctx, inst); err != nil {
		return fmt.Errorf("failed to add server: %w", err)
	}
	fmt.Printf("Server '%s' added with id %d\n", inst.Name, inst.ID)
	fmt.Println("A running warden picks it up on restart or via POST /api/servers/{id}/connect")
	return nil
}

func cmdServerRemove(args []string) error {
	store, _, rest, err := openStore("server remove", args, nil)
	if err != nil {
		return err
	}
	defer store.Close()

	if len(rest) < 1 {
		return fmt.Errorf("usage: warden server remove <id>")
	}
	id, err := strconv.ParseInt(rest[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid server id %q", rest[0])
	}
	if err := store.DeleteInstance(context.Background(), id); err != nil {
		return fmt.Errorf("failed to remove server: %w", err)
	}
	fmt.Printf("Server %d removed\n", id)
	return nil
}

func cmdClient(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("client subcommand required: add, remove, list")
	}

	var isAdmin *bool
	store, _, rest, err := openStore("client "+args[0], args[1:], func(fs *flag.FlagSet) {
		isAdmin = fs.Bool("admin", false, "client may manage every server")
	})
	if err != nil {
		return err
	}
	defer store.Close()
	ctx := context.Background()

	switch args[0] {
	case "add":
		if len(rest) < 1 {
			return fmt.Errorf("usage: warden client add [--admin] <name>")
		}
		secret, err := auth.GenerateSecret()
		if err != nil {
			return err
		}
		hash, err := auth.HashSecret(secret)
		if err != nil {
			return fmt.Errorf("failed to hash secret: %w", err)
		}
		if err := store.CreateClient(ctx, rest[0], hash, *isAdmin); err != nil {
			return fmt.Errorf("failed to create client: %w", err)
		}
		fmt.Printf("Client '%s' created. Secret (shown once):\n%s\n", rest[0], secret)
		return nil

	case "remove":
		if len(rest) < 1 {
			return fmt.Errorf("usage: warden client remove <name>")
		}
		if err := store.DeleteClient(ctx, rest[0]); err != nil {
			return fmt.Errorf("failed to remove client: %w", err)
		}
		fmt.Printf("Client '%s' removed\n", rest[0])
		return nil

	case "list":
		clients, err := store.ListClients(ctx)
		if err != nil {
			return fmt.Errorf("failed to list clients: %w", err)
		}
		if len(clients) == 0 {
			fmt.Println("No clients registered")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tROLE\tCREATED\tLAST_LOGIN")
		fmt.Fprintln(w, "----\t----\t-------\t----------")
		for _, c := range clients {
			role := "client"
			if c.IsAdmin {
				role = "admin"
			}
			lastLogin := "never"
			if c.LastLogin != nil {
				lastLogin = c.LastLogin.Format("2006-01-02 15:04")
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", c.Name, role, c.CreatedAt.Format("2006-01-02"), lastLogin)
		}
		return w.Flush()

	default:
		return fmt.Errorf("unknown client command: %s (use: add, remove, list)", args[0])
	}
}

// cmdRotation validates a rotation document offline
func cmdRotation(args []string) error {
	if len(args) < 1 || args[0] != "check" {
		return fmt.Errorf("usage: warden rotation check <file> [--players N] [--current MAP]")
	}
	fs := flag.NewFlagSet("rotation check", flag.ExitOnError)
	players := fs.Int("players", -1, "player count to evaluate conditions against")
	current := fs.String("current", "", "map currently played")
	fs.Parse(args[1:])
	if fs.NArg() < 1 {
		return fmt.Errorf("usage: warden rotation check <file> [--players N] [--current MAP]")
	}

	doc, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return err
	}
	rot, err := rotation.Parse(doc)
	if err != nil {
		return err
	}

	entries := rot.Entries()
	fmt.Printf("%d maps, default cooldown %d map changes\n\n", len(entries), rot.MapCooldown)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "MAP\tWEIGHT\tCOOLDOWN\tCONDITIONS")
	fmt.Fprintln(w, "---\t------\t--------\t----------")
	for _, e := range entries {
		var conds []string
		for _, c := range e.Conditions {
			if c.Kind != rotation.ConditionCooldown {
				conds = append(conds, fmt.Sprintf("%s %d-%d", c.Kind, c.Min, c.Max))
			}
		}
		condStr := "-"
		if len(conds) > 0 {
			condStr = strings.Join(conds, ", ")
		}
		fmt.Fprintf(w, "%s\t%.3f\t%d\t%s\n", e.Name, e.Weight, e.Cooldown, condStr)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if *players < 0 {
		return nil
	}
	engine := rotation.NewEngine(rot, nil)
	candidates := engine.Candidates(*current, *players)
	fmt.Printf("\nEligible with %d players now: %d\n", *players, len(candidates))
	for _, c := range candidates {
		fmt.Printf("  %s\n", c.Name)
	}
	if next, err := engine.SelectNext(*current, *players); err == nil {
		fmt.Printf("Sample draw: %s\n", next)
	}
	return nil
}

func cmdLogs(args []string) error {
	if len(args) < 1 || args[0] != "export" {
		return fmt.Errorf("usage: warden logs export <server-id> [--out FILE]")
	}
	var out *string
	store, _, rest, err := openStore("logs export", args[1:], func(fs *flag.FlagSet) {
		out = fs.String("out", "", "output file (default server-<id>-logs.txt.gz, - for stdout)")
	})
	if err != nil {
		return err
	}
	defer store.Close()

	if len(rest) < 1 {
		return fmt.Errorf("usage: warden logs export <server-id> [--out FILE]")
	}
	id, err := strconv.ParseInt(rest[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid server id %q", rest[0])
	}
	ctx := context.Background()
	if _, err := store.GetInstance(ctx, id); err != nil {
		return err
	}

	path := *out
	if path == "" {
		path = fmt.Sprintf("server-%d-logs.txt.gz", id)
	}
	var dst io.Writer = os.Stdout
	if path != "-" {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		dst = f
	}

	gz := gzip.NewWriter(dst)
	n, err := store.ExportLogs(ctx, id, gz)
	if err != nil {
		return fmt.Errorf("export failed after %d entries: %w", n, err)
	}
	if err := gz.Close(); err != nil {
		return err
	}
	if path != "-" {
		fmt.Printf("Wrote %d entries to %s\n", n, path)
	}
	return nil
}

func cmdPerms(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: warden perms set|show ...")
	}
	switch args[0] {
	case "set":
		return cmdPermsSet(args[1:])
	case "show":
		return cmdPermsShow(args[1:])
	default:
		return fmt.Errorf("unknown perms command: %s", args[0])
	}
}

func cmdPermsShow(args []string) error {
	var guild *int64
	var roles *string
	store, _, rest, err := openStore("perms show", args, func(fs *flag.FlagSet) {
		guild = fs.Int64("guild", 0, "guild the user is in (default: the server's guild)")
		roles = fs.String("roles", "", "comma separated role ids")
	})
	if err != nil {
		return err
	}
	defer store.Close()

	if len(rest) < 2 {
		return fmt.Errorf("usage: warden perms show <server-id> <user-id> [--guild ID] [--roles IDS]")
	}
	serverID, err := strconv.ParseInt(rest[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid server id %q", rest[0])
	}
	userID, err := strconv.ParseInt(rest[1], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid user id %q", rest[1])
	}
	var roleIDs []int64
	for _, part := range strings.Split(*roles, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid role id %q", part)
		}
		roleIDs = append(roleIDs, id)
	}

	ctx := context.Background()
	guildID := *guild
	if guildID == 0 {
		inst, err := store.GetInstance(ctx, serverID)
		if err != nil {
			return err
		}
		guildID = inst.GuildID
	}
	perms, err := store.ResolvePermissions(ctx, serverID, guildID, userID, roleIDs)
	if err != nil {
		return err
	}
	fmt.Printf("user %d on server %d: %s (%d)\n", userID, serverID, perms, perms.Int())
	return nil
}

func cmdConfig(args []string) error {
	if len(args) < 1 || (args[0] != "show" && args[0] != "set") {
		return fmt.Errorf("usage: warden config show|set <server-id> ...")
	}
	store, _, rest, err := openStore("config "+args[0], args[1:], nil)
	if err != nil {
		return err
	}
	defer store.Close()

	if len(rest) < 1 {
		return fmt.Errorf("usage: warden config %s <server-id> ...", args[0])
	}
	id, err := strconv.ParseInt(rest[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid server id %q", rest[0])
	}
	ctx := context.Background()
	if _, err := store.GetInstance(ctx, id); err != nil {
		return err
	}

	if args[0] == "set" {
		if len(rest) < 3 {
			return fmt.Errorf("usage: warden config set <server-id> <key> <value>")
		}
		if err := store.SetConfigValue(ctx, id, rest[1], rest[2]); err != nil {
			return err
		}
	}

	cfg, err := store.GetConfig(ctx, id)
	if err != nil {
		return err
	}
	values := cfg.Values()
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	slices.Sort(keys)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	for _, key := range keys {
		fmt.Fprintf(w, "%s\t%s\n", key, values[key])
	}
	return w.Flush()
}

func cmdPermsSet(args []string) error {
	var role *bool
	store, _, rest, err := openStore("perms set", args, func(fs *flag.FlagSet) {
		role = fs.Bool("role", false, "target is a role instead of a user")
	})
	if err != nil {
		return err
	}
	defer store.Close()

	if len(rest) < 2 {
		return fmt.Errorf("usage: warden perms set <server-id> <target-id> <perms> [--role]")
	}
	serverID, err := strconv.ParseInt(rest[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid server id %q", rest[0])
	}
	targetID, err := strconv.ParseInt(rest[1], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid target id %q", rest[1])
	}
	var permStr string
	if len(rest) > 2 {
		permStr = rest[2]
	}
	perms, err := domain.ParsePermissions(permStr)
	if err != nil {
		return err
	}

	grant := domain.PermissionGrant{ServerID: serverID, TargetID: targetID, Type: domain.GrantUser, Perms: perms}
	if *role {
		grant.Type = domain.GrantRole
	}
	ctx := context.Background()
	if _, err := store.GetInstance(ctx, serverID); err != nil {
		return err
	}
	if err := store.SetPermissions(ctx, grant); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if perms == 0 {
		fmt.Printf("Removed %s %d grant on server %d\n", grant.Type, targetID, serverID)
	} else {
		fmt.Printf("%s %d on server %d: %s\n", grant.Type, targetID, serverID, perms)
	}
	return nil
}

// promptSecret reads a line without echo when stdin is a terminal
func promptSecret(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		line, err := io.ReadAll(io.LimitReader(os.Stdin, 4096))
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(line)), nil
	}
	fmt.Print(prompt)
	secret, err := term.ReadPassword(fd)
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(secret), nil
}
