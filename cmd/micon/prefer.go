package main

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/max-winderbaum/MicOn/pkg/capture"
	"github.com/max-winderbaum/MicOn/pkg/device"
	"github.com/max-winderbaum/MicOn/pkg/prefstore"
)

var preferCmd = &cobra.Command{
	Use:   "prefer <device-id>",
	Short: "Persist the preferred capture device",
	Long: `Persist the preferred capture device for the next 'micon run'.
Device IDs come from 'micon devices'.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := args[0]

		subsystem, err := capture.NewSubsystem(log.Logger)
		if err != nil {
			return err
		}
		defer subsystem.Close()

		devices, err := subsystem.List()
		if err != nil {
			return err
		}
		d, ok := device.Find(devices, id)
		if !ok {
			return fmt.Errorf("device %q is not in the current device set (see 'micon devices')", id)
		}

		if err := prefstore.NewFileStore(afero.NewOsFs(), cfg.Prefs.Path).Set(id); err != nil {
			return err
		}
		fmt.Printf("preferred device set to %s (%s)\n", d.Name, d.ID)
		return nil
	},
}
