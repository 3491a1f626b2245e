package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/bryanchriswhite/EmotionStreamer/internal/detection"
	"github.com/bryanchriswhite/EmotionStreamer/internal/overlay"
)

var predictCmd = &cobra.Command{
	Use:   "predict FILE",
	Short: "Classify the faces in a single image",
	Long: `Upload one image to the detection service and print the detected faces
and their emotions. With --annotate the boxes and labels are drawn onto a
copy of the image.`,
	Example: `  # Print detections for a photo using the default models
  emotionstreamer predict face.jpg

  # Choose models and write an annotated copy
  emotionstreamer predict group.png --detector haar --recognizer cnn7 --annotate out.jpg`,
	Args: cobra.ExactArgs(1),
	RunE: runPredict,
}

var (
	predictDetector   string
	predictRecognizer string
	predictAnnotate   string
	predictFormat     string
)

func init() {
	rootCmd.AddCommand(predictCmd)

	predictCmd.Flags().StringVar(&predictDetector, "detector", "", "face detector model (default from config or catalog)")
	predictCmd.Flags().StringVar(&predictRecognizer, "recognizer", "", "emotion recognizer model (default from config or catalog)")
	predictCmd.Flags().StringVarP(&predictAnnotate, "annotate", "a", "", "write an annotated JPEG to this path")
	predictCmd.Flags().StringVarP(&predictFormat, "format", "f", "table", "output format (table or json)")
}

func runPredict(cmd *cobra.Command, args []string) error {
	_, cfg, err := loadConfig()
	if err != nil {
		return err
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read image: %w", err)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
	defer cancel()

	client := newCatalog(cfg)

	detector, recognizer := predictDetector, predictRecognizer
	if detector == "" {
		detector = cfg.Service.Detector
	}
	if recognizer == "" {
		recognizer = cfg.Service.Recognizer
	}
	if detector == "" || recognizer == "" {
		models, err := client.Models(ctx)
		if err != nil {
			return err
		}
		d, r := models.Default()
		if detector == "" {
			detector = d
		}
		if recognizer == "" {
			recognizer = r
		}
	}

	dets, err := client.Predict(ctx, detector, recognizer, filepath.Base(args[0]), bytes.NewReader(data))
	if err != nil {
		return err
	}

	if predictAnnotate != "" {
		if err := writeAnnotated(data, dets, predictAnnotate); err != nil {
			return err
		}
	}

	switch predictFormat {
	case "json":
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(dets)
	case "table":
		if len(dets) == 0 {
			fmt.Println("No faces detected")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		defer w.Flush()

		fmt.Fprintln(w, "EMOTION\tX1\tY1\tX2\tY2")
		fmt.Fprintln(w, "-------\t--\t--\t--\t--")
		for _, d := range dets {
			fmt.Fprintf(w, "%s %s\t%.0f\t%.0f\t%.0f\t%.0f\n", d.Emotion.Emoji(), d.Emotion.Label(), d.X1, d.Y1, d.X2, d.Y2)
		}
		return nil
	default:
		return fmt.Errorf("unsupported format: %s (use 'table' or 'json')", predictFormat)
	}
}

func writeAnnotated(data []byte, dets []detection.Detection, path string) error {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to decode image: %w", err)
	}
	annotated := overlay.NewAnnotator().Annotate(img, dets)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	if err := jpeg.Encode(f, annotated, &jpeg.Options{Quality: 90}); err != nil {
		return fmt.Errorf("failed to encode JPEG: %w", err)
	}
	return nil
}
