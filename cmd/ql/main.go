package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"quorumline/internal/config"
	"quorumline/internal/db"
	"quorumline/internal/decision"
	"quorumline/internal/domain"
	"quorumline/internal/engine"
	"quorumline/internal/migrate"
	"quorumline/internal/repo"
	"quorumline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "ql",
	Short: "Quorumline CLI",
	Long: `Quorumline coordinates multi-agent collaborations and their group decisions.
Core concepts:
- Collaboration: a named group of agent participants bound to a shared context,
  moving pending -> active <-> inactive -> completed (cancelled/failed are exits).
- Participants: the roster; at least 2 active members to start, at most the
  configured ceiling, one entry per agent.
- Strategy: how the group is driven (centralized, distributed, hierarchical,
  peer_to_peer) and how it decides (simple_voting, weighted_voting, consensus,
  delegation).
- Decisions: transient voting rounds over the roster; outcomes land in the
  event log, never in the aggregate.
- Event log: diary of every mutation, view with 'ql log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("QUORUMLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(collabCmd())
	rootCmd.AddCommand(participantCmd())
	rootCmd.AddCommand(coordinateCmd())
	rootCmd.AddCommand(decideCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(serveCmd())
}

func collabCmd() *cobra.Command {
	collab := &cobra.Command{Use: "collab", Short: "Manage collaborations"}
	collab.AddCommand(collabCreateCmd())
	collab.AddCommand(collabListCmd())
	collab.AddCommand(collabShowCmd())
	collab.AddCommand(collabUpdateCmd())
	collab.AddCommand(collabDeleteCmd())
	return collab
}

func collabCreateCmd() *cobra.Command {
	var opts engine.CreateOptions
	var agents []string
	var metadata string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a collaboration",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			if metadata != "" {
				if err := json.Unmarshal([]byte(metadata), &opts.Metadata); err != nil {
					return fmt.Errorf("invalid --metadata: %w", err)
				}
			}
			for _, agent := range agents {
				po, err := parseAgentFlag(agent)
				if err != nil {
					return err
				}
				opts.Participants = append(opts.Participants, po)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.CreateCollaboration(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "collaboration id (optional, UUID if omitted)")
	cmd.Flags().StringVar(&opts.ContextRef, "context", "", "context reference")
	cmd.Flags().StringVar(&opts.PlanRef, "plan", "", "plan reference")
	cmd.Flags().StringVar(&opts.Name, "name", "", "name")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.Mode, "mode", "parallel", "collaboration mode")
	cmd.Flags().StringVar(&opts.Strategy.Type, "strategy", "peer_to_peer", "coordination strategy type")
	cmd.Flags().StringVar(&opts.Strategy.CoordinatorID, "coordinator", "", "coordinator agent id (centralized only)")
	cmd.Flags().StringVar(&opts.Strategy.DecisionMode, "decision-mode", "", "decision mode for gated operations")
	cmd.Flags().StringArrayVar(&agents, "agent", []string{}, "participant agent id, optionally agent[:weight] (repeatable)")
	cmd.Flags().StringVar(&metadata, "metadata", "", "metadata as JSON object")
	_ = cmd.MarkFlagRequired("context")
	_ = cmd.MarkFlagRequired("plan")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

// parseAgentFlag accepts "agent-id" or "agent-id:weight".
func parseAgentFlag(v string) (engine.ParticipantOptions, error) {
	parts := strings.SplitN(v, ":", 2)
	po := engine.ParticipantOptions{AgentID: strings.TrimSpace(parts[0])}
	if po.AgentID == "" {
		return po, fmt.Errorf("empty agent id in --agent %q", v)
	}
	if len(parts) == 2 {
		w, err := strconv.ParseFloat(parts[1], 64)
		if err != nil {
			return po, fmt.Errorf("invalid weight in --agent %q: %w", v, err)
		}
		po.Weight = &w
	}
	return po, nil
}

func collabListCmd() *cobra.Command {
	var f repo.Filters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List collaborations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.QueryCollaborations(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res.Items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Mode", "Status", "Participants", "Strategy"})
				for _, c := range res.Items {
					tw.AppendRow(table.Row{c.ID, c.Name, c.Mode, c.Status, len(c.Participants), c.Strategy.Type})
				}
				tw.Render()
				fmt.Printf("total: %d\n", res.Total)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.Mode, "mode", "", "mode filter")
	cmd.Flags().StringVar(&f.ContextRef, "context", "", "context reference filter")
	cmd.Flags().StringVar(&f.CreatedBy, "created-by", "", "creator filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "max results")
	return cmd
}

func collabShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a collaboration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.GetCollaboration(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	return cmd
}

func collabUpdateCmd() *cobra.Command {
	var name, description, mode, metadata string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a collaboration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.UpdateOptions{ActorID: viper.GetString("actor-id")}
			if cmd.Flags().Changed("name") {
				opts.Name = &name
			}
			if cmd.Flags().Changed("description") {
				opts.Description = &description
			}
			if cmd.Flags().Changed("mode") {
				opts.Mode = &mode
			}
			if metadata != "" {
				if err := json.Unmarshal([]byte(metadata), &opts.Metadata); err != nil {
					return fmt.Errorf("invalid --metadata: %w", err)
				}
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.UpdateCollaboration(ctx, args[0], opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "name")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&mode, "mode", "", "collaboration mode")
	cmd.Flags().StringVar(&metadata, "metadata", "", "metadata as JSON object (replaces existing)")
	return cmd
}

func collabDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a collaboration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteCollaboration(ctx, args[0], viper.GetString("actor-id"))
			})
		},
	}
	return cmd
}

func participantCmd() *cobra.Command {
	p := &cobra.Command{Use: "participant", Short: "Manage collaboration participants"}
	p.AddCommand(participantAddCmd())
	p.AddCommand(participantRemoveCmd())
	p.AddCommand(participantStatusCmd())
	return p
}

func participantAddCmd() *cobra.Command {
	var opts engine.ParticipantOptions
	var status string
	var weight float64
	cmd := &cobra.Command{
		Use:   "add <collaboration-id>",
		Short: "Add a participant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Status = domain.ParticipantStatus(status)
			if cmd.Flags().Changed("weight") {
				opts.Weight = &weight
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.AddParticipant(ctx, args[0], opts, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&opts.AgentID, "agent", "", "agent id")
	cmd.Flags().StringVar(&opts.RoleID, "role", "", "role id")
	cmd.Flags().StringVar(&status, "status", "", "participant status (defaults to active)")
	cmd.Flags().StringArrayVar(&opts.Capabilities, "capability", []string{}, "capability (repeatable)")
	cmd.Flags().IntVar(&opts.Priority, "priority", 0, "priority")
	cmd.Flags().Float64Var(&weight, "weight", 1.0, "voting weight")
	_ = cmd.MarkFlagRequired("agent")
	return cmd
}

func participantRemoveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove <collaboration-id> <participant-id>",
		Short: "Remove a participant",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.RemoveParticipant(ctx, args[0], args[1], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	return cmd
}

func participantStatusCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "set-status <collaboration-id> <participant-id>",
		Short: "Set participant status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.UpdateParticipantStatus(ctx, args[0], args[1], domain.ParticipantStatus(status), viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "participant status")
	_ = cmd.MarkFlagRequired("status")
	return cmd
}

func coordinateCmd() *cobra.Command {
	var op, reason string
	cmd := &cobra.Command{
		Use:   "coordinate <collaboration-id>",
		Short: "Run a coordination operation",
		Long:  "Drive the collaboration lifecycle: initiate, pause, resume, terminate, cancel, or fail. When the strategy carries a decision mode, initiate and terminate are put to a vote first.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.Coordinate(ctx, engine.CoordinateOptions{
					CollaborationID: args[0],
					Operation:       op,
					Reason:          reason,
					ActorID:         viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().StringVar(&op, "op", "", "operation (initiate, pause, resume, terminate, cancel, fail)")
	cmd.Flags().StringVar(&reason, "reason", "", "reason (recorded for fail)")
	_ = cmd.MarkFlagRequired("op")
	return cmd
}

func decideCmd() *cobra.Command {
	var opts engine.DecideOptions
	var strategy string
	var weights []string
	var threshold float64
	cmd := &cobra.Command{
		Use:   "decide <collaboration-id>",
		Short: "Run a decision round",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.CollaborationID = args[0]
			opts.ActorID = viper.GetString("actor-id")
			opts.Strategy = decision.Strategy(strategy)
			if cmd.Flags().Changed("threshold") {
				opts.Threshold = &threshold
			}
			for _, w := range weights {
				kv := strings.SplitN(w, "=", 2)
				if len(kv) != 2 {
					return fmt.Errorf("invalid --weight %q, expected agent=value", w)
				}
				val, err := strconv.ParseFloat(kv[1], 64)
				if err != nil {
					return fmt.Errorf("invalid --weight %q: %w", w, err)
				}
				if opts.Weights == nil {
					opts.Weights = map[string]float64{}
				}
				opts.Weights[kv[0]] = val
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.Decide(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().StringVar(&strategy, "strategy", "", "decision strategy (defaults to the collaboration's decision mode)")
	cmd.Flags().StringArrayVar(&opts.ParticipantIDs, "participant", []string{}, "participant id subset (repeatable)")
	cmd.Flags().StringArrayVar(&weights, "weight", []string{}, "agent=weight override (repeatable)")
	cmd.Flags().Float64Var(&threshold, "threshold", 1.0, "consensus threshold")
	cmd.Flags().StringVar(&opts.Delegate, "delegate", "", "delegate agent id")
	cmd.Flags().IntVar(&opts.TimeoutMS, "timeout-ms", 0, "vote collection timeout override")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "do not record the outcome")
	return cmd
}

func logCmd() *cobra.Command {
	logC := &cobra.Command{Use: "log", Short: "Inspect the event log"}
	logC.AddCommand(logTailCmd())
	return logC
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, collaborationID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, n, collaborationID, evtType)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "TS", "Type", "Collaboration", "Entity", "Actor"})
				for _, evt := range events {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.CollaborationID, evt.EntityID, evt.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&collaborationID, "collaboration", "", "collaboration id filter")
	return cmd
}

func apikeyCmd() *cobra.Command {
	key := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	key.AddCommand(apikeyCreateCmd())
	key.AddCommand(apikeyListCmd())
	key.AddCommand(apikeyDeleteCmd())
	return key
}

func apikeyCreateCmd() *cobra.Command {
	var actorID, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actorID == "" {
				actorID = viper.GetString("actor-id")
			}
			secret := uuid.NewString()
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				err := e.Repo.InsertAPIKey(ctx, nil, domain.APIKey{
					ID:      uuid.NewString(),
					ActorID: actorID,
					Name:    name,
					KeyHash: repo.HashAPIKey(secret),
				})
				if err != nil {
					return err
				}
				// The plaintext key is shown once and never stored.
				fmt.Println(secret)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "actor the key authenticates as")
	cmd.Flags().StringVar(&name, "name", "", "key name")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	var actorID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				keys, err := e.Repo.ListAPIKeys(ctx, actorID)
				if err != nil {
					return err
				}
				return printJSONOrTable(keys)
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "actor filter")
	return cmd
}

func apikeyDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Repo.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := config.Load(workspace)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{
				JWTSecret:              os.Getenv("QUORUMLINE_JWT_SECRET"),
				AllowLegacyActorHeader: cfg.Auth.AllowLegacyActorHeader,
			}
			if authCfg.JWTSecret == "" {
				authCfg.JWTSecret = cfg.Auth.JWTSecret
			}
			if authCfg.JWTSecret == "" && !authCfg.AllowLegacyActorHeader {
				return fmt.Errorf("QUORUMLINE_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg, ShutdownCtx: cmd.Context()})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Quorumline API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := config.Load(workspace)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	return fn(ctx, e)
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
