package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/bryanchriswhite/EmotionStreamer/internal/capture"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List video input devices",
	Long: `List the cameras visible to the configured capture driver.

In mobile mode cameras are chosen by facing rather than by id, so the list
is empty.`,
	Example: `  # List cameras in table format (default)
  emotionstreamer devices

  # List cameras as JSON using the OpenCV backend
  emotionstreamer devices --driver opencv --format json`,
	RunE: runDevices,
}

var (
	devicesFormat string
	devicesDriver string
)

func init() {
	rootCmd.AddCommand(devicesCmd)

	devicesCmd.Flags().StringVarP(&devicesFormat, "format", "f", "table", "output format (table or json)")
	devicesCmd.Flags().StringVar(&devicesDriver, "driver", "", "camera driver (mediadevices, or opencv in builds with -tags opencv)")
}

func runDevices(cmd *cobra.Command, args []string) error {
	_, cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if devicesDriver != "" {
		cfg.Camera.Driver = devicesDriver
	}

	camera, err := newCamera(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize camera: %w", err)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()

	devices, err := camera.ListDevices(ctx)
	if err != nil {
		return fmt.Errorf("failed to list devices: %w", err)
	}

	switch devicesFormat {
	case "json":
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(devices)
	case "table":
		return printDevicesTable(devices, camera.SelectedDevice())
	default:
		return fmt.Errorf("unsupported format: %s (use 'table' or 'json')", devicesFormat)
	}
}

func printDevicesTable(devices []capture.DeviceDescriptor, selected string) error {
	if len(devices) == 0 {
		fmt.Println("No cameras listed")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "ID\tLABEL\tFACING\tDEFAULT")
	fmt.Fprintln(w, "--\t-----\t------\t-------")

	for _, d := range devices {
		facing := string(d.Facing)
		if facing == "" {
			facing = "-"
		}
		isDefault := "No"
		if d.ID == selected {
			isDefault = "Yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", d.ID, d.Label, facing, isDefault)
	}

	return nil
}
