package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dperry713/simulator/internal/transport"
)

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List serial ports on this host",
	RunE:  runPorts,
}

func init() {
	rootCmd.AddCommand(portsCmd)
}

func runPorts(cmd *cobra.Command, args []string) error {
	ports, err := transport.ListPorts()
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		fmt.Println("No serial ports found.")
		return nil
	}

	for _, p := range ports {
		if p.USB {
			fmt.Printf("  %-20s USB %s:%s %s\n", p.Name, p.VID, p.PID, p.Product)
		} else {
			fmt.Printf("  %-20s\n", p.Name)
		}
	}

	if auto, err := transport.AutoSelectPort(); err == nil {
		fmt.Printf("\nAuto-select would pick: %s\n", auto)
	}
	return nil
}
