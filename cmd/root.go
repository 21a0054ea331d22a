package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "course-payments",
	Short: "Course payments microservice",
	Long:  "A payments microservice handling checkout, provider webhooks, and purchase entitlements for paid courses.",
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
