package main

import (
	"codadeploy/internal/website"

	"github.com/spf13/cobra"
)

var websiteConfigCmd = &cobra.Command{
	Use:   "website-config",
	Short: "Print the website configuration JSON without deploying",
	Args:  cobra.NoArgs,
	RunE:  runWebsiteConfig,
}

func runWebsiteConfig(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	data, err := website.Marshal(website.Build(s.cfg))
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}
