//go:build linux

// hspag runs a Bluetooth HSP Audio Gateway: it accepts headset connections
// through BlueZ, bridges their button and volume events to oFono voice calls
// and manages the SCO audio link.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	dbus "github.com/godbus/dbus/v5"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"bluetooth-hsp/internal/config"
	"bluetooth-hsp/internal/gateway"
	"bluetooth-hsp/internal/logger"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "hspag",
	Short: "Bluetooth HSP audio gateway daemon",
	Long: `hspag registers a Headset Profile audio gateway with BlueZ and pairs it
with oFono telephony: incoming calls ring connected headsets, the headset
button answers and hangs up, and the volume keys track speaker and
microphone gain over the RFCOMM control channel.`,
	RunE: run,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./hspag.yaml)")

	rootCmd.Flags().String("service-name", "Headset Audio Gateway", "profile name advertised to BlueZ")
	rootCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.Flags().String("log-format", "text", "log format (text, json)")

	viper.BindPFlag("service_name", rootCmd.Flags().Lookup("service-name"))
	viper.BindPFlag("logging.level", rootCmd.Flags().Lookup("log-level"))
	viper.BindPFlag("logging.format", rootCmd.Flags().Lookup("log-format"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	log := logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	bus, err := dbus.ConnectSystemBus()
	if err != nil {
		return fmt.Errorf("failed to connect to system bus: %w", err)
	}
	defer bus.Close()

	gw, err := gateway.New(gateway.Config{
		Bus:         bus,
		ServiceName: cfg.ServiceName,
		Log:         log,
	})
	if err != nil {
		return err
	}
	defer gw.Close()

	log.Info("audio gateway running", "service", cfg.ServiceName)

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-signalChan
	log.Info("shutting down", "signal", sig.String())

	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
