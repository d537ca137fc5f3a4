package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/lexcodex/mindwell/internal/mindwell/runtime"
	"github.com/lexcodex/mindwell/persistence"
	"github.com/lexcodex/mindwell/routine"
)

var (
	flagModel     string
	flagEndpoint  string
	flagWorkspace string
	flagDatabase  string
	flagDebug     bool
)

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "mindwell",
		Short: "Mental wellness companion: routine lifecycle service and CLI",
	}
	root.PersistentFlags().StringVar(&flagModel, "model", envOrDefault("OLLAMA_MODEL", "llama3"), "Default Ollama model")
	root.PersistentFlags().StringVar(&flagEndpoint, "ollama", envOrDefault("OLLAMA_ENDPOINT", "http://localhost:11434"), "Ollama endpoint")
	root.PersistentFlags().StringVar(&flagWorkspace, "workspace", ".", "Workspace root (database, config and logs live under .mindwell)")
	root.PersistentFlags().StringVar(&flagDatabase, "db", "", "SQLite database path (defaults to <workspace>/.mindwell/mindwell.db)")
	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Verbose model request/response logging")

	root.AddCommand(newServeCmd(), newRoutineCmd(), newUserCmd(), newChatCmd())
	return root
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func buildConfig() runtime.Config {
	return runtime.Config{
		Workspace:      flagWorkspace,
		DatabasePath:   flagDatabase,
		OllamaModel:    flagModel,
		OllamaEndpoint: flagEndpoint,
		Debug:          flagDebug,
	}
}

func newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := runtime.New(cmd.Context(), buildConfig())
			if err != nil {
				return err
			}
			defer rt.Close()
			if addr == "" {
				addr = rt.Config.ServerAddr
			}
			cmd.Printf("Starting API server on %s using model %s\n", addr, rt.Config.OllamaModel)
			stop, err := rt.StartServer(cmd.Context(), addr)
			if err != nil {
				return err
			}
			<-cmd.Context().Done()
			return stop(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", envOrDefault("MINDWELL_SERVER_ADDR", ""), "address for the HTTP API server")
	return cmd
}

func newRoutineCmd() *cobra.Command {
	routineCmd := &cobra.Command{Use: "routine", Short: "Inspect and parse routines"}
	routineCmd.AddCommand(newRoutineParseCmd(), newRoutineListCmd())
	return routineCmd
}

func newRoutineParseCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "parse",
		Short: "Parse routine text and print the task plan per day",
		RunE: func(cmd *cobra.Command, args []string) error {
			var content []byte
			var err error
			if file == "" || file == "-" {
				content, err = io.ReadAll(os.Stdin)
			} else {
				content, err = os.ReadFile(file)
			}
			if err != nil {
				return err
			}
			tasks := routine.ParseTasks(string(content))
			if len(tasks) == 0 {
				return errors.New("no tasks found in routine text")
			}
			buckets := routine.BucketByDay(tasks)
			lastDay := 0
			for day := range buckets {
				if day > lastDay {
					lastDay = day
				}
			}
			for day := 1; day <= lastDay; day++ {
				dayTasks, ok := buckets[day]
				if !ok {
					continue
				}
				cmd.Printf("Day %d:\n", day)
				for _, t := range dayTasks {
					cmd.Printf("  - %s\n", t.Description)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Routine text file (defaults to stdin)")
	return cmd
}

func newRoutineListCmd() *cobra.Command {
	var authID string
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a user's recent routines and their active state",
		RunE: func(cmd *cobra.Command, args []string) error {
			if authID == "" {
				return errors.New("--auth-id is required")
			}
			rt, err := runtime.New(cmd.Context(), buildConfig())
			if err != nil {
				return err
			}
			defer rt.Close()

			ownerID, ok, err := rt.Store.ResolveOwner(cmd.Context(), authID)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("no user with auth id %q", authID)
			}
			now := time.Now()
			routines, err := rt.Store.ListSince(cmd.Context(), ownerID, now.AddDate(0, 0, -60))
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(routines)
			}
			if len(routines) == 0 {
				cmd.Println("No routines in the last 60 days.")
				return nil
			}
			for _, r := range routines {
				state := "lapsed"
				if routine.IsActive(r, now) {
					state = "active"
				}
				done := 0
				for _, t := range r.Tasks {
					if t.Completed {
						done++
					}
				}
				cmd.Printf("%s  start=%s  days=%d  tasks=%d/%d done  [%s]\n",
					r.ID, r.StartDate.Format(time.DateOnly), r.Duration, done, len(r.Tasks), state)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&authID, "auth-id", "", "Caller auth id (required)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print raw JSON documents")
	return cmd
}

func newUserCmd() *cobra.Command {
	userCmd := &cobra.Command{Use: "user", Short: "Manage local user records"}

	var authID, name, email string
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a user record for an auth id",
		RunE: func(cmd *cobra.Command, args []string) error {
			if authID == "" {
				return errors.New("--auth-id is required")
			}
			rt, err := runtime.New(cmd.Context(), buildConfig())
			if err != nil {
				return err
			}
			defer rt.Close()

			if _, ok, err := rt.Store.ResolveOwner(cmd.Context(), authID); err != nil {
				return err
			} else if ok {
				return fmt.Errorf("user with auth id %q already exists", authID)
			}
			id, err := rt.Store.CreateUser(cmd.Context(), persistence.User{
				AuthID: authID,
				Name:   name,
				Email:  email,
			})
			if err != nil {
				return err
			}
			cmd.Printf("created user %s\n", id)
			return nil
		},
	}
	createCmd.Flags().StringVar(&authID, "auth-id", "", "Caller auth id (required)")
	createCmd.Flags().StringVar(&name, "name", "", "Display name")
	createCmd.Flags().StringVar(&email, "email", "", "Email address")

	userCmd.AddCommand(createCmd)
	return userCmd
}

func newChatCmd() *cobra.Command {
	var authID string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the companion; confirmed routines are saved",
		RunE: func(cmd *cobra.Command, args []string) error {
			if authID == "" {
				return errors.New("--auth-id is required")
			}
			rt, err := runtime.New(cmd.Context(), buildConfig())
			if err != nil {
				return err
			}
			defer rt.Close()

			session := rt.NewSession(authID)
			cmd.Printf("Chatting with model %s. Type /quit to leave.\n", rt.Config.OllamaModel)

			scanner := bufio.NewScanner(os.Stdin)
			for {
				cmd.Print("you> ")
				if !scanner.Scan() {
					return scanner.Err()
				}
				line := strings.TrimSpace(scanner.Text())
				if line == "" {
					continue
				}
				if line == "/quit" || line == "/exit" {
					return nil
				}
				reply, err := session.Send(cmd.Context(), line)
				if err != nil && reply.Display == "" {
					cmd.PrintErrf("error: %v\n", err)
					continue
				}
				cmd.Printf("mindy> %s\n", reply.Display)
				if err != nil {
					cmd.PrintErrf("note: %v\n", err)
					continue
				}
				if reply.Saved != nil {
					switch reply.Saved.Outcome {
					case routine.OutcomeAlreadyExists:
						cmd.Println("(a routine already exists for today)")
					default:
						cmd.Printf("(saved routine %s with %d tasks)\n", reply.Saved.RoutineID, reply.Saved.TaskCount)
					}
				}
			}
		},
	}
	cmd.Flags().StringVar(&authID, "auth-id", "", "Caller auth id (required)")
	return cmd
}
