package main

import (
	"fmt"

	"codadeploy/internal/deployment"

	"github.com/spf13/cobra"
)

var hostsCmd = &cobra.Command{
	Use:   "hosts",
	Short: "List the web instances of a label",
	Args:  cobra.NoArgs,
	RunE:  runHosts,
}

func runHosts(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	for _, host := range deployment.NewSettings(s.cfg).Hosts(deployment.WebRole) {
		fmt.Fprintln(cmd.OutOrStdout(), host)
	}
	return nil
}
