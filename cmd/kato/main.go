// Command kato is the developer-facing CLI for driving a KATO engine
// directly from a shell: observe events, learn patterns, and print
// predictions against a local SQLite-backed store. It is ambient tooling,
// not a transport surface — integrations embed the kato package directly.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kato-engine/kato"
	"github.com/kato-engine/kato/pkg/patternstore"
	"github.com/kato-engine/kato/pkg/prediction"
	"github.com/kato-engine/kato/pkg/recall"
	"github.com/kato-engine/kato/pkg/sessionstore"
	"github.com/kato-engine/kato/pkg/tenant"
	"github.com/kato-engine/kato/pkg/vectorindexer"
)

var (
	patternsPath string
	sessionsPath string
	nodeID       string
	verbose      bool
)

var rootCmd = &cobra.Command{
	Use:   "kato",
	Short: "CLI tool for the KATO pattern-matching and prediction engine",
	Long:  `A command-line interface for observing events, learning patterns, and generating predictions against a KATO store.`,
}

func openEngine() (*kato.Engine, func(), error) {
	logger := kato.NewLogger(io.Discard, kato.LevelWarn)
	if verbose {
		logger = kato.NewLogger(os.Stderr, kato.LevelDebug)
	}

	patterns := patternstore.New(patternstore.Config{Path: patternsPath, Logger: logger})
	ctx := context.Background()
	if err := patterns.Init(ctx); err != nil {
		return nil, nil, fmt.Errorf("init pattern store: %w", err)
	}

	sessions := sessionstore.New(sessionstore.Config{Path: sessionsPath, Logger: logger})
	if err := sessions.Init(ctx); err != nil {
		patterns.Close()
		return nil, nil, fmt.Errorf("init session store: %w", err)
	}

	vectors := vectorindexer.New(logger)
	tenants, err := tenant.New(tenant.DefaultCapacity, vectors, patterns, logger)
	if err != nil {
		sessions.Close()
		patterns.Close()
		return nil, nil, fmt.Errorf("init tenant cache: %w", err)
	}

	proc := kato.NewProcessor(vectors, patterns, recall.New(), prediction.New())
	eng := kato.NewEngine(proc, sessions, tenants)

	cleanup := func() {
		sessions.Close()
		patterns.Close()
	}
	return eng, cleanup, nil
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage sessions",
}

var sessionCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new session for the configured node",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, cleanup, err := openEngine()
		if err != nil {
			return err
		}
		defer cleanup()

		sessionID, err := eng.StartSession(context.Background(), nodeID, kato.DefaultConfig())
		if err != nil {
			return fmt.Errorf("create session: %w", err)
		}
		fmt.Println(sessionID)
		return nil
	},
}

var sessionShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Print a session's current state as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, cleanup, err := openEngine()
		if err != nil {
			return err
		}
		defer cleanup()

		state, err := eng.Sessions.Load(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("load session: %w", err)
		}
		data, _ := json.MarshalIndent(state, "", "  ")
		fmt.Println(string(data))
		return nil
	},
}

var observeCmd = &cobra.Command{
	Use:   "observe <session-id> <symbol> [symbol...]",
	Short: "Observe an event (one or more symbols) into a session",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, cleanup, err := openEngine()
		if err != nil {
			return err
		}
		defer cleanup()

		vectorStr, _ := cmd.Flags().GetString("vector")
		in := kato.Input{Strings: args[1:]}
		if vectorStr != "" {
			vec, err := parseVector(vectorStr)
			if err != nil {
				return err
			}
			in.Vectors = [][]float32{vec}
		}

		state, warnings, err := eng.Observe(context.Background(), args[0], in)
		if err != nil {
			return fmt.Errorf("observe: %w", err)
		}
		printWarnings(warnings)
		fmt.Printf("stm events: %d\n", len(state.STM))
		return nil
	},
}

var learnCmd = &cobra.Command{
	Use:   "learn <session-id>",
	Short: "Learn the current STM as a pattern",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, cleanup, err := openEngine()
		if err != nil {
			return err
		}
		defer cleanup()

		name, _, warnings, err := eng.Learn(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("learn: %w", err)
		}
		printWarnings(warnings)
		if name == nil {
			fmt.Println("(no pattern learned: STM too short)")
			return nil
		}
		fmt.Println(*name)
		return nil
	},
}

var predictCmd = &cobra.Command{
	Use:   "predict <session-id>",
	Short: "Print ranked predictions for the current STM",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, cleanup, err := openEngine()
		if err != nil {
			return err
		}
		defer cleanup()

		predictions, warnings, err := eng.Predict(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("predict: %w", err)
		}
		printWarnings(warnings)

		if outputJSON, _ := cmd.Flags().GetBool("json"); outputJSON {
			data, _ := json.MarshalIndent(predictions, "", "  ")
			fmt.Println(string(data))
			return nil
		}
		fmt.Printf("%d predictions:\n", len(predictions))
		for i, p := range predictions {
			fmt.Printf("%d. %s (potential: %.4f, confidence: %.4f, frequency: %d)\n", i+1, p.Name, p.Potential, p.Confidence, p.Frequency)
		}
		return nil
	},
}

var patternGetCmd = &cobra.Command{
	Use:   "pattern-get <name>",
	Short: "Print a learned pattern by name as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, cleanup, err := openEngine()
		if err != nil {
			return err
		}
		defer cleanup()

		pattern, err := eng.Processor.Patterns.Get(context.Background(), nodeID, args[0])
		if err != nil {
			return fmt.Errorf("get pattern: %w", err)
		}
		data, _ := json.MarshalIndent(pattern, "", "  ")
		fmt.Println(string(data))
		return nil
	},
}

var clearSTMCmd = &cobra.Command{
	Use:   "clear-stm <session-id>",
	Short: "Clear a session's STM without learning a pattern from it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, cleanup, err := openEngine()
		if err != nil {
			return err
		}
		defer cleanup()

		if _, err := eng.ClearSTM(context.Background(), args[0]); err != nil {
			return fmt.Errorf("clear stm: %w", err)
		}
		fmt.Println("stm cleared")
		return nil
	},
}

var clearAllCmd = &cobra.Command{
	Use:   "clear-all",
	Short: "Delete every learned pattern and vector for the configured node",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, cleanup, err := openEngine()
		if err != nil {
			return err
		}
		defer cleanup()

		if err := eng.ClearAll(context.Background(), nodeID); err != nil {
			return fmt.Errorf("clear all: %w", err)
		}
		fmt.Printf("cleared all data for node %q\n", nodeID)
		return nil
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete all expired sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, cleanup, err := openEngine()
		if err != nil {
			return err
		}
		defer cleanup()

		store, ok := eng.Sessions.(*sessionstore.Store)
		if !ok {
			return fmt.Errorf("sweep: session store does not support sweeping")
		}
		n, err := store.Sweep(context.Background())
		if err != nil {
			return fmt.Errorf("sweep: %w", err)
		}
		fmt.Printf("swept %d expired sessions\n", n)
		return nil
	},
}

func parseVector(s string) ([]float32, error) {
	parts := strings.Split(s, ",")
	vec := make([]float32, 0, len(parts))
	for _, part := range parts {
		val, err := strconv.ParseFloat(strings.TrimSpace(part), 32)
		if err != nil {
			return nil, fmt.Errorf("invalid vector format: %w", err)
		}
		vec = append(vec, float32(val))
	}
	return vec, nil
}

func printWarnings(warnings []kato.Warning) {
	for _, w := range warnings {
		fmt.Printf("warning: %s: %s\n", w.Code, w.Message)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&patternsPath, "patterns-db", "kato-patterns.db", "Pattern store database path")
	rootCmd.PersistentFlags().StringVar(&sessionsPath, "sessions-db", "kato-sessions.db", "Session store database path")
	rootCmd.PersistentFlags().StringVar(&nodeID, "node", "default", "Tenant node_id")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose logging")

	observeCmd.Flags().String("vector", "", "Vector values (comma-separated) to resolve to a symbol")
	predictCmd.Flags().Bool("json", false, "Output as JSON")

	sessionCmd.AddCommand(sessionCreateCmd, sessionShowCmd)
	rootCmd.AddCommand(
		sessionCmd,
		observeCmd,
		learnCmd,
		predictCmd,
		patternGetCmd,
		clearSTMCmd,
		clearAllCmd,
		sweepCmd,
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
