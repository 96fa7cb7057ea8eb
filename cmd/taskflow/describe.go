package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/akriventsev/taskflow"
	"github.com/akriventsev/taskflow/framework/builtin"
	"github.com/akriventsev/taskflow/framework/config"
	"github.com/akriventsev/taskflow/framework/manager"
)

// DescribeCmd строит компоненты без запуска и печатает их интерфейсы
func DescribeCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "describe",
		Short: "Build components and print their interfaces without running them",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			local, remote := splitRemote(cfg)

			m := manager.New(manager.WithProcessName(cfg.Process), manager.WithRegistry(builtin.NewRegistry()))
			if err := m.Configure(context.Background(), local); err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]interface{}{
					"process":     cfg.Process,
					"components":  m.DescribeAll(),
					"connections": m.Connections(),
					"remote":      remote,
				})
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "COMPONENT\tTYPE\tPROVIDED\tREQUIRED\n")
			for _, d := range m.DescribeAll() {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\n", d.Name, d.Type, len(d.Provided), len(d.Required))
			}
			_ = w.Flush()

			fmt.Println()
			for _, c := range m.Connections() {
				fmt.Println(c.String())
			}
			for _, c := range remote {
				fmt.Printf("%s (remote)\n", c)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

// ValidateCmd проверяет файл развертывания
func ValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the deployment file and build its components",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			local, remote := splitRemote(cfg)
			m := manager.New(manager.WithProcessName(cfg.Process), manager.WithRegistry(builtin.NewRegistry()))
			if err := m.Configure(context.Background(), local); err != nil {
				return err
			}
			fmt.Printf("%s: %d components, %d connections, %d remote connections\n",
				cfg.Process, len(cfg.Components), len(local.Connections), len(remote))
			return nil
		},
	}
}

// VersionCmd печатает версию
func VersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Run: func(cmd *cobra.Command, args []string) {
			m := taskflow.GetMetadata()
			fmt.Printf("%s %s\n", m.Name, m.Version)
			fmt.Printf("component types: %v\n", builtin.NewRegistry().Types())
		},
	}
}

// splitRemote отделяет соединения с компонентами других процессов:
// для них нужна работающая шина
func splitRemote(cfg *config.Deployment) (*config.Deployment, []config.ConnectionSpec) {
	local := *cfg
	local.Connections = nil
	var remote []config.ConnectionSpec
	for _, c := range cfg.Connections {
		if c.Process != "" && c.Process != cfg.Process {
			remote = append(remote, c)
			continue
		}
		local.Connections = append(local.Connections, c)
	}
	if len(remote) > 0 {
		local.Proxy.Enabled = false
	}
	return &local, remote
}
