package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/nerrad567/homesync/internal/infrastructure/config"
	"github.com/nerrad567/homesync/internal/infrastructure/logging"
	"github.com/nerrad567/homesync/internal/infrastructure/mqtt"
	"github.com/nerrad567/homesync/internal/node"
)

func newDoorCommand(opts *rootOptions) *cobra.Command {
	var deviceID string
	cmd := &cobra.Command{
		Use:   "door",
		Short: "Run a DoorNode",
		Long: `Run a DoorNode. Credentials are read from door.reader.port, or from
standard input one per line when no port is configured.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := opts.load("door")
			if err != nil {
				return err
			}
			if deviceID != "" {
				cfg.Door.DeviceID = deviceID
			}
			return runDoor(cmd.Context(), cfg, log)
		},
	}
	cmd.Flags().StringVar(&deviceID, "device-id", "", "override door.device_id")
	return cmd
}

func newLightCommand(opts *rootOptions) *cobra.Command {
	var deviceID string
	cmd := &cobra.Command{
		Use:   "light",
		Short: "Run a LightNode",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := opts.load("light")
			if err != nil {
				return err
			}
			if deviceID != "" {
				cfg.Light.DeviceID = deviceID
			}
			return runLight(cmd.Context(), cfg, log)
		},
	}
	cmd.Flags().StringVar(&deviceID, "device-id", "", "override light.device_id")
	return cmd
}

func newSensorCommand(opts *rootOptions) *cobra.Command {
	var deviceID string
	cmd := &cobra.Command{
		Use:   "sensor",
		Short: "Run a SensorNode",
		Long: `Run a SensorNode. Readings come from sensor.serial.port, or from a
simulated sensor when no port is configured.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := opts.load("sensor")
			if err != nil {
				return err
			}
			if deviceID != "" {
				cfg.Sensor.DeviceID = deviceID
			}
			return runSensor(cmd.Context(), cfg, log)
		},
	}
	cmd.Flags().StringVar(&deviceID, "device-id", "", "override sensor.device_id")
	return cmd
}

// connectNode connects with the device ID as client ID, so the node's
// retained presence is keyed by device.
func connectNode(ctx context.Context, cfg *config.Config, deviceID string, log *logging.Logger) (*mqtt.Client, error) {
	mqttCfg := cfg.MQTT
	mqttCfg.Broker.ClientID = deviceID

	client, err := mqtt.ConnectWithRetry(ctx, mqttCfg, log.Component("mqtt"))
	if err != nil {
		return nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	client.SetOnDisconnect(func(err error) { log.Warn("MQTT disconnected", "error", err) })
	log.Info("MQTT connected", "client_id", client.ClientID())
	return client, nil
}

func closeClient(client *mqtt.Client, log *logging.Logger) {
	log.Info("disconnecting from MQTT")
	if err := client.Close(); err != nil {
		log.Error("error closing MQTT", "error", err)
	}
}

func runDoor(ctx context.Context, cfg *config.Config, log *logging.Logger) error {
	log = log.Device(cfg.Door.DeviceID)

	var reader io.Reader = os.Stdin
	if cfg.Door.Reader.Port != "" {
		port, err := node.OpenSerial(cfg.Door.Reader)
		if err != nil {
			return fmt.Errorf("opening credential reader: %w", err)
		}
		defer port.Close() //nolint:errcheck // shutdown path
		reader = port
		log.Info("credential reader opened", "port", cfg.Door.Reader.Port)
	} else {
		log.Info("reading credentials from standard input")
	}

	client, err := connectNode(ctx, cfg, cfg.Door.DeviceID, log)
	if err != nil {
		return err
	}
	defer closeClient(client, log)

	door := node.NewDoorNode(node.DoorOptions{
		Config:    cfg.Door,
		Publisher: client,
		Lock:      node.LogLock{Logger: log},
		Display:   node.LogDisplay{Logger: log},
		Logger:    log,
	})
	if err := client.Subscribe(door.ResponseTopic(), 1, door.HandleResponse); err != nil {
		return fmt.Errorf("subscribing to %s: %w", door.ResponseTopic(), err)
	}

	// The reader goroutine may stay blocked on stdin after shutdown; the
	// process exits regardless.
	go func() {
		if err := node.PumpTokens(ctx, node.NewLineTokenReader(reader), door); err != nil && !errors.Is(err, io.EOF) {
			log.Error("credential reader stopped", "error", err)
		}
	}()

	log.Info("door node running")
	return door.Run(ctx)
}

func runLight(ctx context.Context, cfg *config.Config, log *logging.Logger) error {
	log = log.Device(cfg.Light.DeviceID)

	client, err := connectNode(ctx, cfg, cfg.Light.DeviceID, log)
	if err != nil {
		return err
	}
	defer closeClient(client, log)

	light := node.NewLightNode(cfg.Light.DeviceID, node.LogOutputs{Logger: log}, client, log)
	log.Info("light node running")
	return light.Run(ctx, client)
}

func runSensor(ctx context.Context, cfg *config.Config, log *logging.Logger) error {
	log = log.Device(cfg.Sensor.DeviceID)

	var sensor node.EnvSensor
	if cfg.Sensor.Serial.Port != "" {
		port, err := node.OpenSerial(cfg.Sensor.Serial)
		if err != nil {
			return fmt.Errorf("opening sensor port: %w", err)
		}
		defer port.Close() //nolint:errcheck // shutdown path
		sensor = node.NewSerialSensor(port)
		log.Info("sensor port opened", "port", cfg.Sensor.Serial.Port)
	} else {
		sensor = node.NewSimulatedSensor()
		log.Info("using simulated sensor")
	}

	client, err := connectNode(ctx, cfg, cfg.Sensor.DeviceID, log)
	if err != nil {
		return err
	}
	defer closeClient(client, log)

	s := node.NewSensorNode(cfg.Sensor.DeviceID, cfg.Sensor.Interval, sensor, client, log)
	log.Info("sensor node running", "interval", cfg.Sensor.Interval.String())
	return s.Run(ctx)
}
