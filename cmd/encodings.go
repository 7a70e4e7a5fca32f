package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/database"
)

var encodingsCmd = &cobra.Command{
	Use:   "encodings",
	Short: "Import and export enrolled face encodings",
}

var encodingsImportCmd = &cobra.Command{
	Use:   "import <file.json>",
	Short: "Enroll people from a JSON file of encodings",
	Long: `Enroll people from a JSON array of {"name", "code", "encoding"} objects.

People are matched by code: existing people get their encoding replaced
(the enrollment image is kept), unknown codes are created.

Examples:
  face-attendance encodings import students.json
  face-attendance encodings import students.json --dry-run`,
	Args: cobra.ExactArgs(1),
	RunE: runEncodingsImport,
}

var encodingsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write all enrolled encodings as JSON",
	RunE:  runEncodingsExport,
}

func init() {
	rootCmd.AddCommand(encodingsCmd)
	encodingsCmd.AddCommand(encodingsImportCmd)
	encodingsCmd.AddCommand(encodingsExportCmd)

	encodingsImportCmd.Flags().Bool("dry-run", false, "Validate the file without writing anything")
	encodingsExportCmd.Flags().StringP("output", "o", "", "Output file (default stdout)")
}

// importEntry is one person in an import file.
type importEntry struct {
	Name     string    `json:"name"`
	Code     string    `json:"code"`
	Encoding []float32 `json:"encoding"`
}

// exportEntry mirrors the public encodings endpoint.
type exportEntry struct {
	UserID   int64     `json:"user_id"`
	Name     string    `json:"name"`
	Encoding []float32 `json:"encoding"`
}

// parseImportFile decodes and validates entries; every encoding must have dim values.
func parseImportFile(r io.Reader, dim int) ([]importEntry, error) {
	var entries []importEntry
	if err := json.NewDecoder(r).Decode(&entries); err != nil {
		return nil, fmt.Errorf("decoding import file: %w", err)
	}
	seen := make(map[string]bool, len(entries))
	for i := range entries {
		e := &entries[i]
		e.Name = strings.TrimSpace(e.Name)
		e.Code = strings.TrimSpace(e.Code)
		switch {
		case e.Name == "" || e.Code == "":
			return nil, fmt.Errorf("entry %d: name and code are required", i)
		case strings.Contains(e.Name, ","):
			return nil, fmt.Errorf("entry %d: name %q must not contain commas", i, e.Name)
		case len(e.Encoding) != dim:
			return nil, fmt.Errorf("entry %d (%s): encoding has %d values, expected %d", i, e.Code, len(e.Encoding), dim)
		case seen[e.Code]:
			return nil, fmt.Errorf("entry %d: duplicate code %q", i, e.Code)
		}
		seen[e.Code] = true
	}
	return entries, nil
}

// findByCode returns the identity whose code equals code exactly.
func findByCode(ctx context.Context, identities database.IdentityReader, code string) (*database.Identity, error) {
	matches, err := identities.List(ctx, database.IdentityFilter{Query: code, Limit: 100})
	if err != nil {
		return nil, err
	}
	for i := range matches {
		if matches[i].Code == code {
			return &matches[i], nil
		}
	}
	return nil, fmt.Errorf("code %q: %w", code, database.ErrNotFound)
}

func importEntryInto(ctx context.Context, identities database.IdentityWriter, e importEntry) (created bool, err error) {
	identity := &database.Identity{Name: e.Name, Code: e.Code}
	err = identities.Create(ctx, identity)
	switch {
	case err == nil:
		created = true
	case errors.Is(err, database.ErrConflict):
		if identity, err = findByCode(ctx, identities, e.Code); err != nil {
			return false, err
		}
	default:
		return false, err
	}
	if _, err := identities.SetEncoding(ctx, identity.ID, e.Encoding, identity.ImagePath); err != nil {
		return created, err
	}
	return created, nil
}

func runEncodingsImport(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	dryRun := mustGetBool(cmd, "dry-run")

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("opening import file: %w", err)
	}
	defer f.Close()

	entries, err := parseImportFile(f, cfg.Recognition.Dimension)
	if err != nil {
		return err
	}
	fmt.Printf("Read %d entries from %s\n", len(entries), args[0])
	if dryRun {
		fmt.Println("Dry run, nothing written")
		return nil
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

	bar := progressbar.NewOptions(len(entries),
		progressbar.OptionSetDescription("Importing encodings"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("people"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionFullWidth(),
	)

	var created, updated int
	var failures []string
	for _, e := range entries {
		isNew, err := importEntryInto(ctx, identities, e)
		switch {
		case err != nil:
			failures = append(failures, fmt.Sprintf("%s: %v", e.Code, err))
		case isNew:
			created++
		default:
			updated++
		}
		_ = bar.Add(1)
	}
	_ = bar.Finish()

	fmt.Printf("\nCreated: %d, updated: %d, failed: %d\n", created, updated, len(failures))
	for _, msg := range failures {
		fmt.Printf("  %s\n", msg)
	}
	if len(failures) > 0 {
		return fmt.Errorf("%d entries failed", len(failures))
	}
	return nil
}

func runEncodingsExport(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	output := mustGetString(cmd, "output")

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
	records, err := identities.ListEncodings(ctx)
	if err != nil {
		return fmt.Errorf("listing encodings: %w", err)
	}

	entries := make([]exportEntry, 0, len(records))
	for _, rec := range records {
		entries = append(entries, exportEntry{UserID: rec.IdentityID, Name: rec.Name, Encoding: rec.Encoding})
	}

	var w io.Writer = os.Stdout
	if output != "" {
		f, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("creating output file: %w", err)
		}
		defer f.Close()
		w = f
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(entries); err != nil {
		return fmt.Errorf("writing encodings: %w", err)
	}
	if output != "" {
		fmt.Fprintf(os.Stderr, "Exported %d encodings to %s\n", len(entries), output)
	}
	return nil
}
