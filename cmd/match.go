package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/encodings"
	"github.com/kozaktomas/face-attendance/internal/facematch"
)

var matchCmd = &cobra.Command{
	Use:   "match <probe.json>",
	Short: "Match a probe encoding against enrolled people without recording",
	Long: `Match a probe encoding against the enrolled encodings and print the
result with the nearest people. Nothing is recorded or broadcast.

The probe file holds either a JSON array of numbers or an object with an
"encoding" array.

Examples:
  face-attendance match probe.json
  face-attendance match probe.json --threshold 0.5 --top 10`,
	Args: cobra.ExactArgs(1),
	RunE: runMatch,
}

func init() {
	rootCmd.AddCommand(matchCmd)

	matchCmd.Flags().Float64("threshold", 0, "Match threshold (default: stored setting)")
	matchCmd.Flags().Int("top", 5, "Number of nearest people to list")
}

// parseProbe accepts a bare array or {"encoding": [...]}.
func parseProbe(r io.Reader) ([]float32, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	var vector []float32
	if err := json.Unmarshal(data, &vector); err == nil {
		return vector, nil
	}
	var wrapped struct {
		Encoding []float32 `json:"encoding"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("decoding probe: %w", err)
	}
	if wrapped.Encoding == nil {
		return nil, errors.New("probe has no encoding")
	}
	return wrapped.Encoding, nil
}

func resolveThreshold(ctx context.Context, flag float64, fallback float64) float64 {
	if flag > 0 {
		return flag
	}
	store, err := database.GetSettingsStore(ctx)
	if err != nil {
		return fallback
	}
	s, err := store.GetSettings(ctx)
	if err != nil {
		return fallback
	}
	return s.Threshold
}

func runMatch(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	top := mustGetInt(cmd, "top")

	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("opening probe: %w", err)
	}
	probe, err := parseProbe(f)
	f.Close()
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	pool, err := connectDatabase(cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	identities, err := database.GetIdentityWriter(ctx)
	if err != nil {
		return err
	}
	store := encodings.NewStore(identities)
	if err := store.Load(ctx); err != nil {
		return fmt.Errorf("loading encodings: %w", err)
	}
	threshold := resolveThreshold(ctx, mustGetFloat64(cmd, "threshold"), cfg.Recognition.Threshold)

	candidates := store.Snapshot()
	result, err := facematch.NewMatcher(cfg.Recognition.Dimension).Match(probe, candidates, threshold)
	if err != nil {
		return err
	}

	fmt.Printf("Candidates: %d, threshold: %.3f\n", len(candidates), threshold)
	if result.Matched {
		fmt.Printf("Matched: %s (id %d) at distance %.4f\n", result.Name, result.ID, result.Distance)
	} else {
		fmt.Printf("No match (nearest distance %.4f)\n", result.Distance)
	}

	if top <= 0 || len(candidates) == 0 {
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "\nID\tNAME\tDISTANCE")
	for _, n := range facematch.NewIndex(candidates).Nearest(probe, top) {
		fmt.Fprintf(w, "%d\t%s\t%.4f\n", n.ID, n.Name, n.Distance)
	}
	return w.Flush()
}
