package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the detection service's models",
	Long:  `Fetch the face detectors and emotion recognizers offered by the detection service.`,
	Example: `  # List models in table format (default)
  emotionstreamer models --host detector.local:8000

  # List models as JSON
  emotionstreamer models --format json`,
	RunE: runModels,
}

var modelsFormat string

func init() {
	rootCmd.AddCommand(modelsCmd)

	modelsCmd.Flags().StringVarP(&modelsFormat, "format", "f", "table", "output format (table or json)")
}

func runModels(cmd *cobra.Command, args []string) error {
	_, cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	models, err := newCatalog(cfg).Models(ctx)
	if err != nil {
		return err
	}

	switch modelsFormat {
	case "json":
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(models)
	case "table":
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		defer w.Flush()

		fmt.Fprintln(w, "KIND\tNAME\tDEFAULT")
		fmt.Fprintln(w, "----\t----\t-------")
		for i, name := range models.Detectors {
			fmt.Fprintf(w, "detector\t%s\t%s\n", name, yesNo(i == 0))
		}
		for i, name := range models.Recognizers {
			fmt.Fprintf(w, "recognizer\t%s\t%s\n", name, yesNo(i == 0))
		}
		return nil
	default:
		return fmt.Errorf("unsupported format: %s (use 'table' or 'json')", modelsFormat)
	}
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}
