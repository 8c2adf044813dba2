package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/lcf-connectors/internal/store"
)

func newConnectionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "connections",
		Aliases: []string{"conn"},
		Short:   "Manages repository connections",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "Lists connections",
			Args:  cobra.NoArgs,
			RunE:  listConnections,
		},
		&cobra.Command{
			Use:   "save FILE",
			Short: "Creates or replaces a connection from a JSON file",
			Args:  cobra.ExactArgs(1),
			RunE:  saveConnection,
		},
		&cobra.Command{
			Use:   "delete NAME",
			Short: "Deletes a connection no job references",
			Args:  cobra.ExactArgs(1),
			RunE:  deleteConnection,
		},
		&cobra.Command{
			Use:   "check NAME",
			Short: "Connects and reports the repository status",
			Args:  cobra.ExactArgs(1),
			RunE:  checkConnection,
		},
		&cobra.Command{
			Use:   "export FILE",
			Short: "Writes every connection to FILE (- for stdout)",
			Args:  cobra.ExactArgs(1),
			RunE:  exportConnections,
		},
		&cobra.Command{
			Use:   "import FILE",
			Short: "Reads connections written by export (- for stdin)",
			Args:  cobra.ExactArgs(1),
			RunE:  importConnections,
		},
	)
	return cmd
}

func listConnections(cmd *cobra.Command, _ []string) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	conns, err := a.Connections.All(cmd.Context())
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tCLASS\tMAX CONNECTIONS\tTHROTTLES\tDESCRIPTION")
	for _, c := range conns {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n", c.Name, c.ClassName, c.MaxConnections, len(c.Throttles), c.Description)
	}
	return tw.Flush()
}

func saveConnection(cmd *cobra.Command, args []string) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read connection file: %w", err)
	}
	var conn store.Connection
	if err := json.Unmarshal(data, &conn); err != nil {
		return fmt.Errorf("parse connection file %s: %w", args[0], err)
	}
	if conn.Name == "" {
		return fmt.Errorf("connection file %s has no name", args[0])
	}
	if !a.Connections.CheckConnectorExists(conn.ClassName) {
		return fmt.Errorf("unknown connector class %q", conn.ClassName)
	}
	if err := a.Connections.Save(cmd.Context(), conn); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "saved %s\n", conn.Name)
	return nil
}

func deleteConnection(cmd *cobra.Command, args []string) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	if err := a.Connections.Delete(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
	return nil
}

func checkConnection(cmd *cobra.Command, args []string) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	status, err := a.Connections.CheckConnection(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", args[0], status)
	return nil
}

func exportConnections(cmd *cobra.Command, args []string) (err error) {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	var w io.Writer = cmd.OutOrStdout()
	if args[0] != "-" {
		f, err := os.Create(args[0])
		if err != nil {
			return fmt.Errorf("create export file: %w", err)
		}
		defer func() {
			if cerr := f.Close(); cerr != nil && err == nil {
				err = fmt.Errorf("close export file: %w", cerr)
			}
		}()
		w = f
	}
	return a.Connections.Export(cmd.Context(), w)
}

func importConnections(cmd *cobra.Command, args []string) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	var r io.Reader = bufio.NewReader(cmd.InOrStdin())
	if args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("open import file: %w", err)
		}
		defer f.Close()
		r = f
	}
	if err := a.Connections.Import(cmd.Context(), r); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "imported")
	return nil
}
