package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	// No .env file is the normal case outside local development.
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:   "calltriage",
		Short: "Diagnose why an automated phone-booking agent's calls failed",
	}

	root.AddCommand(newAnalyzeCmd())
	root.AddCommand(newDiagnoseCmd())
	root.AddCommand(newServeCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
