package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bryanchriswhite/EmotionStreamer/internal/config"
	"github.com/bryanchriswhite/EmotionStreamer/internal/logger"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "emotionstreamer",
		Short: "EmotionStreamer - live facial emotion recognition from a camera",
		Long: `EmotionStreamer captures frames from a local camera, streams them to a
face detection and emotion recognition service over a WebSocket, and shows
the classified faces on an annotated live preview.

Features:
  • Camera capture via pion/mediadevices or OpenCV
  • Front/back camera switching and device selection
  • One frame in flight at a time; stale frames are dropped
  • Model catalog and single image prediction over REST
  • Annotated MJPEG preview and a WebSocket detection feed
  • Persistent configuration`,
		SilenceUsage: true,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/emotionstreamer/config.yaml)")
	rootCmd.PersistentFlags().Int("port", 0, "server port (default is 8080)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-pretty", true, "human readable console logs")
	rootCmd.PersistentFlags().String("host", "", "detection service host[:port]")
	rootCmd.PersistentFlags().Bool("secure", false, "use https/wss for the detection service")

	// Bind flags to viper
	viper.BindPFlag("server_port", rootCmd.PersistentFlags().Lookup("port"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log_pretty", rootCmd.PersistentFlags().Lookup("log-pretty"))
	viper.BindPFlag("service.host", rootCmd.PersistentFlags().Lookup("host"))
	viper.BindPFlag("service.secure", rootCmd.PersistentFlags().Lookup("secure"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
}

// loadConfig reads the config file, applies command-line overrides, validates
// the result and initializes logging from it
func loadConfig() (*config.Manager, *config.Config, error) {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	configMgr.ApplyOverrides(viper.GetViper())

	cfg, err := configMgr.Get()
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration in %s: %w", configMgr.GetConfigPath(), err)
	}

	logger.Init(cfg.LogLevel, cfg.LogPretty)
	return configMgr, cfg, nil
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// GetConfigFile returns the config file path
func GetConfigFile() string {
	return cfgFile
}
