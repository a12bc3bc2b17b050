package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/wasl-gate/internal/config"
	"github.com/kozaktomas/wasl-gate/internal/descriptor"
	"github.com/kozaktomas/wasl-gate/internal/detector"
	"github.com/kozaktomas/wasl-gate/internal/gallery"
	"github.com/kozaktomas/wasl-gate/internal/records"
)

var identifyCmd = &cobra.Command{
	Use:   "identify <photo>",
	Short: "Identify enrolled participants in a photo",
	Long: `Detect faces in a photo and compare each one with every enrolled
participant in the record store. A face is identified when the closest
enrolled descriptor is within the match threshold.

Examples:
  # List the closest enrolled participants for every face
  wasl-gate identify visitor.jpg

  # Check the photo against one participant by name
  wasl-gate identify visitor.jpg --name "Karim Haddad"

  # Output as JSON
  wasl-gate identify visitor.jpg --json`,
	Args: cobra.ExactArgs(1),
	RunE: runIdentify,
}

func init() {
	rootCmd.AddCommand(identifyCmd)

	identifyCmd.Flags().String("name", "", "Only compare against participants with this name")
	identifyCmd.Flags().Int("top", 3, "Candidates to list per face")
	identifyCmd.Flags().Bool("json", false, "Output as JSON")
}

// IdentifyCandidate is one enrolled participant compared with a face.
type IdentifyCandidate struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Distance float64 `json:"distance"`
	Match    bool    `json:"match"`
}

// IdentifyFace is one detected face with its closest candidates.
type IdentifyFace struct {
	Box        detector.Box        `json:"box"`
	Score      float64             `json:"score"`
	Candidates []IdentifyCandidate `json:"candidates"`
	Error      string              `json:"error,omitempty"`
}

// IdentifyOutput is the JSON output of the identify command.
type IdentifyOutput struct {
	Photo    string            `json:"photo"`
	Enrolled int               `json:"enrolled"`
	Skipped  []gallery.Skipped `json:"skipped,omitempty"`
	Faces    []IdentifyFace    `json:"faces"`
}

func runIdentify(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	log := newLogger(cfg)
	photo := args[0]
	name := mustGetString(cmd, "name")
	top := mustGetInt(cmd, "top")
	jsonOutput := mustGetBool(cmd, "json")

	data, err := os.ReadFile(photo)
	if err != nil {
		return fmt.Errorf("reading photo: %w", err)
	}

	ctx, stop := signalContext()
	defer stop()

	gal, skipped, err := loadGallery(ctx, cfg)
	if err != nil {
		return err
	}

	var only []*gallery.Entry
	if name != "" {
		if only = gal.FindByName(name); len(only) == 0 {
			return fmt.Errorf("no enrolled participant named %q", name)
		}
	}

	boot := newBootstrap(cfg, log)
	if err := boot.Load(ctx); err != nil {
		return err
	}
	detections, err := boot.Engine().Detect(ctx, data)
	if err != nil {
		return fmt.Errorf("detecting faces: %w", err)
	}

	out := IdentifyOutput{Photo: photo, Enrolled: gal.Len(), Skipped: skipped}
	for _, d := range detections {
		face := IdentifyFace{Box: d.Box, Score: d.Score}
		switch {
		case len(d.Descriptor) != gal.Length():
			face.Error = (&descriptor.DimensionError{Expected: gal.Length(), Actual: len(d.Descriptor)}).Error()
		case only != nil:
			face.Candidates = compareWith(only, d.Descriptor, cfg.Verification.Threshold)
		default:
			matches, err := gal.Search(d.Descriptor, top)
			if err != nil {
				face.Error = err.Error()
			}
			for _, m := range matches {
				face.Candidates = append(face.Candidates, IdentifyCandidate{
					ID: m.Entry.ID, Name: m.Entry.Name, Distance: m.Distance, Match: m.Match,
				})
			}
		}
		out.Faces = append(out.Faces, face)
	}

	if jsonOutput {
		return printJSON(out)
	}
	printIdentify(out)
	return nil
}

// loadGallery builds the enrolled face gallery from the record store.
func loadGallery(ctx context.Context, cfg *config.Config) (*gallery.Gallery, []gallery.Skipped, error) {
	recs, err := records.NewClient(cfg.Records.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("record store: %w", err)
	}
	participants, err := recs.GetEnrolledFaces(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("fetching enrolled faces: %w", err)
	}

	gal := gallery.New(cfg.Engine.DescriptorLength, cfg.Verification.Threshold)
	skipped := gal.Build(participants)
	if gal.Len() == 0 {
		return nil, nil, errors.New("no usable enrolled faces in the record store")
	}
	return gal, skipped, nil
}

// compareWith measures a face against specific entries.
func compareWith(entries []*gallery.Entry, query []float32, threshold float64) []IdentifyCandidate {
	out := make([]IdentifyCandidate, 0, len(entries))
	for _, e := range entries {
		d := detector.Distance(query, e.Descriptor)
		out = append(out, IdentifyCandidate{ID: e.ID, Name: e.Name, Distance: d, Match: detector.IsMatch(d, threshold)})
	}
	return out
}

func printIdentify(out IdentifyOutput) {
	fmt.Printf("Photo: %s (%d enrolled participants", out.Photo, out.Enrolled)
	if len(out.Skipped) > 0 {
		fmt.Printf(", %d skipped", len(out.Skipped))
	}
	fmt.Println(")")

	if len(out.Faces) == 0 {
		fmt.Println("No faces detected")
		return
	}
	for i, face := range out.Faces {
		fmt.Printf("\nFace %d at %s\n", i+1, face.Box)
		if face.Error != "" {
			fmt.Printf("  error: %s\n", face.Error)
			continue
		}
		for _, c := range face.Candidates {
			mark := " "
			if c.Match {
				mark = "*"
			}
			fmt.Printf("  %s %-30s %-12s %.3f\n", mark, c.Name, c.ID, c.Distance)
		}
	}
}
