package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kilianp07/organlink/infra/logger"
	"github.com/kilianp07/organlink/infra/mqtt"
	"github.com/kilianp07/organlink/simulator"
)

var (
	simDeliveryID string
	simNoAck      bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Drive a courier along the route of a delivery",
	RunE:  runSimulate,
}

func init() {
	simulateCmd.Flags().StringVar(&simDeliveryID, "delivery", "", "delivery id to drive")
	simulateCmd.Flags().BoolVar(&simNoAck, "no-ack", false, "do not acknowledge the assignment over MQTT")
	_ = simulateCmd.MarkFlagRequired("delivery")
	rootCmd.AddCommand(simulateCmd)
}

func runSimulate(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	var acker simulator.Acker
	if cfg.MQTT.Broker != "" && !simNoAck {
		mcfg := cfg.MQTT
		mcfg.ClientID += "-courier-sim"
		n, err := mqtt.NewNotifier(mcfg, nil, logger.New("courier_sim_mqtt"))
		if err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
		defer n.Disconnect()
		acker = n
	}
	sim := cfg.Simulator
	api := simulator.NewAPIClient(sim.APIURL, cfg.Stores.HTTP.Timeout)
	courier := simulator.NewCourier(api, acker, sim.Interval, sim.StepKm, logger.New("courier_sim"))
	d, err := courier.Run(ctx, simDeliveryID)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "delivery %s %s by %s\n", d.DeliveryID, d.Status, d.DriverID)
	return err
}
