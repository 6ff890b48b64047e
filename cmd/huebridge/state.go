package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dokzlo13/huebridge/internal/app"
	"github.com/dokzlo13/huebridge/internal/datastore"
	"github.com/dokzlo13/huebridge/internal/eventbus"
	"github.com/dokzlo13/huebridge/internal/ledger"
)

// The commands in this file work on stored state directly. Run them while
// the bridges are stopped; a running bridge overwrites what they persist.

var bridgeFlag string

// selectBridge resolves --bridge (bridge ID or MAC) to a configured MAC.
// An empty selector picks the first bridge.
func selectBridge(sel string) (string, error) {
	if sel == "" {
		return cfg.Bridges[0].MAC, nil
	}
	for _, b := range cfg.Bridges {
		if strings.EqualFold(b.MAC, sel) || strings.EqualFold(datastore.BridgeID(b.MAC), sel) {
			return b.MAC, nil
		}
	}
	return "", fmt.Errorf("no configured bridge matches %q", sel)
}

// withDatastore loads the stored state of a bridge, runs fn and persists the result.
func withDatastore(sel string, fn func(ds *datastore.Datastore) error) error {
	mac, err := selectBridge(sel)
	if err != nil {
		return err
	}
	database, manager, err := app.OpenStorage(cfg)
	if err != nil {
		return err
	}
	defer database.Close()
	defer manager.Close()

	bucket, err := manager.Bucket(datastore.BridgeID(mac))
	if err != nil {
		return err
	}
	for i := range cfg.Bridges {
		if cfg.Bridges[i].MAC != mac {
			continue
		}
		ds := datastore.New(bucket, eventbus.New(), app.BridgeConfig(cfg, i).Network)
		if err := ds.Load(); err != nil {
			return err
		}
		if err := fn(ds); err != nil {
			return err
		}
		return ds.Flush()
	}
	return nil
}

func clearState(ds *datastore.Datastore) error {
	ds.ClearConfiguration()
	return nil
}

var backupOutput string

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Write the complete state of a bridge as JSON",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDatastore(bridgeFlag, func(ds *datastore.Datastore) error {
			data, err := ds.Everything()
			if err != nil {
				return err
			}
			if backupOutput == "" || backupOutput == "-" {
				_, err = cmd.OutOrStdout().Write(append(data, '\n'))
				return err
			}
			return os.WriteFile(backupOutput, data, 0o600)
		})
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore <file>",
	Short: "Replace the state of a bridge with a backup",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var data []byte
		var err error
		if args[0] == "-" {
			data, err = io.ReadAll(cmd.InOrStdin())
		} else {
			data, err = os.ReadFile(args[0])
		}
		if err != nil {
			return err
		}
		return withDatastore(bridgeFlag, func(ds *datastore.Datastore) error {
			if err := ds.SetEverything(data); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Restored bridge %s\n", ds.BridgeID())
			return nil
		})
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Reset a bridge to factory defaults, keeping its network settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDatastore(bridgeFlag, func(ds *datastore.Datastore) error {
			ds.ClearConfiguration()
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared bridge %s\n", ds.BridgeID())
			return nil
		})
	},
}

var lightsCmd = &cobra.Command{
	Use:   "lights",
	Short: "List the lights registered on a bridge",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDatastore(bridgeFlag, func(ds *datastore.Datastore) error {
			nodes := ds.AllLightNodes()
			ids := make([]string, 0, len(nodes))
			for id := range nodes {
				ids = append(ids, id)
			}
			sort.Slice(ids, func(i, j int) bool {
				a, _ := strconv.Atoi(ids[i])
				b, _ := strconv.Atoi(ids[j])
				return a < b
			})

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tCLIENT ID\tTYPE\tNAME")
			for _, id := range ids {
				name := ""
				if l, ok := ds.Light(id); ok {
					name = l.Name
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", id, nodes[id].ClientID, nodes[id].Type, name)
			}
			return w.Flush()
		})
	},
}

var deleteLightCmd = &cobra.Command{
	Use:   "delete-light <id>",
	Short: "Remove a light and its group and scene references",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDatastore(bridgeFlag, func(ds *datastore.Datastore) error {
			if !ds.DeleteLight(args[0]) {
				return fmt.Errorf("light %s not found", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted light %s\n", args[0])
			return nil
		})
	},
}

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent rule and schedule firings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		bridgeID := ""
		if bridgeFlag != "" {
			mac, err := selectBridge(bridgeFlag)
			if err != nil {
				return err
			}
			bridgeID = datastore.BridgeID(mac)
		}

		database, manager, err := app.OpenStorage(cfg)
		if err != nil {
			return err
		}
		defer database.Close()
		defer manager.Close()

		entries, err := ledger.New(database.DB).Recent(bridgeID, historyLimit)
		if err != nil {
			return err
		}
		return printHistory(cmd.OutOrStdout(), entries)
	},
}

func printHistory(out io.Writer, entries []*ledger.Entry) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tBRIDGE\tKIND\tSOURCE\tREQUEST\tBODY")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s %s\t%s\n",
			e.Timestamp.Local().Format(time.RFC3339), e.Bridge, e.Kind, e.SourceID,
			e.Method, e.Address, compactJSON(e.Body))
	}
	return w.Flush()
}

func compactJSON(s string) string {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return s
	}
	out, err := json.Marshal(v)
	if err != nil {
		return s
	}
	return string(out)
}

func init() {
	for _, c := range []*cobra.Command{backupCmd, restoreCmd, clearCmd, lightsCmd, deleteLightCmd, historyCmd} {
		c.Flags().StringVarP(&bridgeFlag, "bridge", "b", "", "Bridge ID or MAC (default: first configured bridge)")
		rootCmd.AddCommand(c)
	}
	backupCmd.Flags().StringVarP(&backupOutput, "output", "o", "", "Write to file instead of stdout")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 50, "Number of entries to show")
}
