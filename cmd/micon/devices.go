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

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List the capture devices the audio subsystem currently reports",
	RunE: func(cmd *cobra.Command, args []string) error {
		subsystem, err := capture.NewSubsystem(log.Logger)
		if err != nil {
			return err
		}
		defer subsystem.Close()

		devices, err := subsystem.List()
		if err != nil {
			return err
		}

		preferredID, _, err := prefstore.NewFileStore(afero.NewOsFs(), cfg.Prefs.Path).Get()
		if err != nil {
			log.Warn().Err(err).Msg("could not read preferred device")
		}

		if len(devices) == 0 {
			fmt.Println("no capture devices found")
			return nil
		}
		for _, d := range device.SortByID(devices) {
			markers := ""
			if d.IsDefault {
				markers += " [default]"
			}
			if d.ID == preferredID {
				markers += " [preferred]"
			}
			fmt.Printf("%s  %s (%s)%s\n", d.ID, d.Name, d.Kind, markers)
		}
		return nil
	},
}
