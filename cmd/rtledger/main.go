package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/developingchet/rtledger/internal/access"
	"github.com/developingchet/rtledger/internal/auth"
	"github.com/developingchet/rtledger/internal/config"
	"github.com/developingchet/rtledger/internal/logger"
	"github.com/developingchet/rtledger/internal/server"
	"github.com/developingchet/rtledger/internal/storage"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// Version is set by the build system via -ldflags.
var Version = "dev"

func main() {
	if err := newRoot().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRoot() *cobra.Command {
	root := &cobra.Command{
		Use:           "rtledger",
		Short:         "Red-team operation ledger with group-scoped access control",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		runCmd(),
		healthcheckCmd(),
		versionCmd(),
		principalCmd(),
		groupCmd(),
		auditCmd(),
	)
	return root
}

// runCmd is the main daemon command.
func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the API daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon()
		},
	}
}

func runDaemon() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := buildLogger(cfg, os.Stderr)
	log.Info().Str("version", Version).Msg("rtledger starting")

	store, err := storage.NewBboltStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	server.BinaryVersion = Version
	srv, err := server.New(cfg, store, log)
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}
	return srv.Run(ctx)
}

// healthcheckCmd exits 0 if the health endpoint answers.
func healthcheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "healthcheck",
		Short: "Check health endpoint and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return checkHealth(cmd.OutOrStdout(), "http://"+healthHost(cfg.HealthAddr)+"/healthz")
		},
	}
}

// healthHost turns a listen address such as ":8081" into a dialable host:port.
func healthHost(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "127.0.0.1" + addr
	}
	return addr
}

func checkHealth(out io.Writer, url string) error {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(url) //nolint:noctx
	if err != nil {
		return fmt.Errorf("healthcheck failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("healthcheck returned %d", resp.StatusCode)
	}
	fmt.Fprintln(out, "healthy")
	return nil
}

// versionCmd prints the version and exits.
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and exit",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "rtledger %s\n", Version)
		},
	}
}

// openStore loads config and opens the database for the admin subcommands.
func openStore() (storage.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	store, err := storage.NewBboltStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	return store, nil
}

func principalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "principal",
		Short: "Manage principals",
	}

	var username, password, role string
	add := &cobra.Command{
		Use:   "add",
		Short: "Create a principal",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			rec, err := addPrincipal(store, username, password, role, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created principal %s (%s, %s)\n", rec.ID, rec.Username, rec.Role)
			return nil
		},
	}
	add.Flags().StringVar(&username, "username", "", "login name")
	add.Flags().StringVar(&password, "password", "", "login password")
	add.Flags().StringVar(&role, "role", string(access.RoleViewer), "ADMIN, OPERATOR or VIEWER")
	_ = add.MarkFlagRequired("username")
	_ = add.MarkFlagRequired("password")

	cmd.AddCommand(add)
	return cmd
}

func addPrincipal(store storage.Store, username, password, role string, now time.Time) (*storage.PrincipalRecord, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, errors.New("username is required")
	}
	r, ok := access.ParseRole(role)
	if !ok {
		return nil, fmt.Errorf("unknown role %q", role)
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}
	rec := storage.PrincipalRecord{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: hash,
		Role:         r,
		CreatedAt:    now.UTC(),
	}
	if err := store.PutPrincipal(rec); err != nil {
		return nil, fmt.Errorf("store principal: %w", err)
	}
	return &rec, nil
}

func groupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "group",
		Short: "Manage access groups",
	}

	var name string
	add := &cobra.Command{
		Use:   "add",
		Short: "Create an access group",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			rec, err := addGroup(store, name, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created group %s (%s)\n", rec.ID, rec.Name)
			return nil
		},
	}
	add.Flags().StringVar(&name, "name", "", "group name")
	_ = add.MarkFlagRequired("name")

	var group, principal string
	addMember := &cobra.Command{
		Use:   "add-member",
		Short: "Add a principal to an access group",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			g, p, err := addMember(store, group, principal)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added %s to %s\n", p.Username, g.Name)
			return nil
		},
	}
	addMember.Flags().StringVar(&group, "group", "", "group ID or name")
	addMember.Flags().StringVar(&principal, "principal", "", "principal ID or username")
	_ = addMember.MarkFlagRequired("group")
	_ = addMember.MarkFlagRequired("principal")

	cmd.AddCommand(add, addMember)
	return cmd
}

func addGroup(store storage.Store, name string, now time.Time) (*storage.GroupRecord, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("name is required")
	}
	existing, err := store.ListGroups()
	if err != nil {
		return nil, err
	}
	for _, g := range existing {
		if strings.EqualFold(g.Name, name) {
			return nil, fmt.Errorf("group %q already exists", name)
		}
	}
	rec := storage.GroupRecord{ID: uuid.NewString(), Name: name, CreatedAt: now.UTC()}
	if err := store.PutGroup(rec); err != nil {
		return nil, fmt.Errorf("store group: %w", err)
	}
	return &rec, nil
}

func addMember(store storage.Store, groupRef, principalRef string) (*storage.GroupRecord, *storage.PrincipalRecord, error) {
	g, err := findGroup(store, groupRef)
	if err != nil {
		return nil, nil, err
	}
	p, err := store.GetPrincipal(principalRef)
	if errors.Is(err, storage.ErrNotFound) {
		p, err = store.GetPrincipalByUsername(principalRef)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("principal %q: %w", principalRef, err)
	}
	if err := store.AddGroupMember(g.ID, p.ID); err != nil {
		return nil, nil, err
	}
	return g, p, nil
}

func findGroup(store storage.Store, ref string) (*storage.GroupRecord, error) {
	g, err := store.GetGroup(ref)
	if err == nil {
		return g, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	groups, err := store.ListGroups()
	if err != nil {
		return nil, err
	}
	for i := range groups {
		if strings.EqualFold(groups[i].Name, ref) {
			return &groups[i], nil
		}
	}
	return nil, fmt.Errorf("group %q: %w", ref, storage.ErrNotFound)
}

func auditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the audit trail",
	}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "Print recent audit events, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()
			return printAudit(cmd.OutOrStdout(), store, limit)
		},
	}
	list.Flags().IntVar(&limit, "limit", 50, "maximum events to print")

	cmd.AddCommand(list)
	return cmd
}

func printAudit(out io.Writer, store storage.Store, limit int) error {
	events, err := store.ListAudit(limit)
	if err != nil {
		return err
	}
	for _, ev := range events {
		result := "deny"
		if ev.Allowed {
			result = "allow"
		}
		fmt.Fprintf(out, "%s %-5s %-20s principal=%s operation=%s %s\n",
			ev.At.Format(time.RFC3339), result, ev.Action, ev.PrincipalID, ev.OperationID, ev.Detail)
	}
	return nil
}

// buildLogger constructs a zerolog.Logger based on config.
func buildLogger(cfg *config.Config, out io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var base zerolog.Logger
	if cfg.LogFormat == "text" {
		cw := zerolog.NewConsoleWriter()
		cw.Out = logger.NewRedactWriter(out)
		base = zerolog.New(cw).Level(level).With().Timestamp().Logger()
	} else {
		redactWriter := logger.NewRedactWriter(out)
		base = zerolog.New(redactWriter).Level(level).With().Timestamp().Logger()
	}
	return base
}
