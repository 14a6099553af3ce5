// Command kerneldemo is a thin smoke-test CLI over the transactional
// storage kernel: it opens a session, runs a couple of canned
// transactions, and prints what happened. It is not a SQL front end —
// the wire protocol and SQL surface are out of scope (spec.md §1) — just
// enough ambient tooling to exercise the session/txn/catalog/rights
// packages end to end, a small cobra entry point in the same vein as
// other single-binary database demo CLIs.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/beads-db/kernel/internal/catalog"
	"github.com/beads-db/kernel/internal/config"
	"github.com/beads-db/kernel/internal/locktable"
	"github.com/beads-db/kernel/internal/name"
	"github.com/beads-db/kernel/internal/rights"
	"github.com/beads-db/kernel/internal/rowlog"
	"github.com/beads-db/kernel/internal/rowstore"
	"github.com/beads-db/kernel/internal/session"
	"github.com/beads-db/kernel/internal/txn"
)

func main() {
	// A manual reader gives the demo something to print without standing
	// up a real metrics backend; a real deployment would register an OTLP
	// or Prometheus exporter here instead.
	reader := sdkmetric.NewManualReader()
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))

	root := &cobra.Command{
		Use:   "kerneldemo",
		Short: "Exercise the transactional storage kernel end to end",
	}
	root.AddCommand(newTxnCommand())
	root.AddCommand(newGrantCommand())
	root.AddCommand(newMetricsCommand(reader))
	root.AddCommand(newConfigDumpCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// engine wires the kernel's components together the way a real
// embedding application would: one name registry, one catalog, one
// transaction coordinator, one row store per table.
type engine struct {
	registry *name.Registry
	catalog  *catalog.Catalog
	coord    *txn.Coordinator
	stores   map[*name.Name]rowstore.Collaborator
}

func newEngine(cfg config.DatabaseConfig) *engine {
	e := &engine{
		registry: name.NewRegistry(),
		stores:   make(map[*name.Name]rowstore.Collaborator),
	}
	e.catalog = catalog.New(e.registry)
	e.coord = txn.NewCoordinator(e.storeFor, nil, nil, cfg.Mode())
	return e
}

func (e *engine) storeFor(table *name.Name) rowstore.Collaborator {
	return e.stores[table]
}

func (e *engine) createTable(schema *name.Name, local string, maxMemoryRowCount int) *name.Name {
	table := e.registry.NewName(local, name.TypeTable, schema)
	e.stores[table] = rowstore.NewStore(table, maxMemoryRowCount)
	_ = e.catalog.AddSchemaObject(&catalog.Object{Name: table, Schema: schema})
	return table
}

func newTxnCommand() *cobra.Command {
	var mode string
	cmd := &cobra.Command{
		Use:   "txn",
		Short: "Run a canned insert/commit transaction and print the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Defaults()
			cfg.DefaultMode = mode
			e := newEngine(cfg)

			schema := e.catalog.CreateSchema("PUBLIC", nil, false)
			table := e.createTable(schema, "ACCOUNTS", 1000)

			sess := session.New(e.coord, nil, false, false)
			ctx := context.Background()

			stmt := locktable.Statement{WriteTables: []*name.Name{table}}
			store := e.stores[table]
			var row *rowstore.Row
			err := sess.Execute(ctx, stmt, func() ([]rowlog.Action, error) {
				row = &rowstore.Row{Values: []any{"alice", 100}}
				if err := store.Add(ctx, row); err != nil {
					return nil, err
				}
				return []rowlog.Action{{
					Session: sess.ID(),
					Table:   table,
					Store:   row,
					Kind:    rowlog.Insert,
				}}, nil
			})
			if err != nil {
				return err
			}

			if err := sess.Commit(ctx); err != nil {
				return err
			}

			got, err := store.Get(ctx, row.ID)
			if err != nil {
				return err
			}
			fmt.Printf("mode=%s committed row id=%d values=%v\n", mode, got.ID, got.Values)
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "LOCKS", "transaction mode: LOCKS, MV2PL, or MVCC")
	return cmd
}

func newGrantCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "grant",
		Short: "Demonstrate a role grant and the resulting access check",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := name.NewRegistry()
			cat := catalog.New(reg)
			schema := cat.CreateSchema("PUBLIC", nil, false)
			table := reg.NewName("ACCOUNTS", name.TypeTable, schema)
			_ = cat.AddSchemaObject(&catalog.Object{Name: table, Schema: schema})

			grantees := rights.NewGranteeManager(cat)
			admin := grantees.CreateUser(reg.NewName("DBA", name.TypeGrantee, nil))
			grantees.GrantAdmin(admin)
			role := grantees.CreateRole(reg.NewName("ANALYST", name.TypeGrantee, nil))
			alice := grantees.CreateUser(reg.NewName("ALICE", name.TypeGrantee, nil))

			if err := grantees.Grant(role, admin, table, rights.NewPrivilegeRight(rights.Select), false); err != nil {
				return err
			}
			grantees.GrantRole(alice, role)

			fmt.Printf("alice can SELECT on ACCOUNTS: %v\n", grantees.IsAccessible(alice, table, rights.Select))
			fmt.Printf("alice can INSERT on ACCOUNTS: %v\n", grantees.IsAccessible(alice, table, rights.Insert))
			return nil
		},
	}
	return cmd
}

// newConfigDumpCommand prints the engine's default configuration as
// YAML, using the same keys config.Loader reads from a config file.
func newConfigDumpCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "config-dump",
		Short: "Print the default engine configuration as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := config.Defaults().Dump()
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	}
}

// newMetricsCommand dumps whatever the transaction manager's otel
// instruments have recorded so far in this process. Each invocation is a
// separate process and this subcommand runs no transactions itself, so
// it reports nothing recorded by an earlier `txn` run.
func newMetricsCommand(reader sdkmetric.Reader) *cobra.Command {
	return &cobra.Command{
		Use:   "metrics",
		Short: "Print collected kernel.txn.* counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			var data metricdata.ResourceMetrics
			if err := reader.Collect(context.Background(), &data); err != nil {
				return err
			}
			for _, scope := range data.ScopeMetrics {
				for _, m := range scope.Metrics {
					fmt.Printf("%s: %v\n", m.Name, m.Data)
				}
			}
			return nil
		},
	}
}

