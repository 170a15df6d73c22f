package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kilianp07/organlink/core/messaging"
	"github.com/kilianp07/organlink/infra/amqp"
	"github.com/kilianp07/organlink/infra/logger"
)

var topologyCmd = &cobra.Command{
	Use:   "topology",
	Short: "Declare the exchanges and queues on the broker",
	RunE:  runTopology,
}

func init() {
	rootCmd.AddCommand(topologyCmd)
}

func runTopology(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	conn := amqp.NewConnectionManager(cfg.AMQP, logger.New("amqp"))
	defer func() { _ = conn.Close() }()
	ch, err := conn.Channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close()
	if err := amqp.DeclareTopology(ch); err != nil {
		return fmt.Errorf("declare topology: %w", err)
	}
	out := cmd.OutOrStdout()
	for _, q := range messaging.Queues {
		if _, err := fmt.Fprintf(out, "%s <- %s [%s]\n", q.Name, q.Exchange, q.Key); err != nil {
			return err
		}
	}
	return nil
}
