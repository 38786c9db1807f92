package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/cuemby/paramd/pkg/client"
	"github.com/cuemby/paramd/pkg/param"
	"github.com/cuemby/paramd/pkg/types"
	"github.com/cuemby/paramd/pkg/watcher"
	"github.com/spf13/cobra"
)

func newClient(cmd *cobra.Command) (*client.Client, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	c, err := client.NewClient(cfg.API.Socket)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to paramd: %w", err)
	}
	return c, nil
}

var getCmd = &cobra.Command{
	Use:   "get NAME",
	Short: "Print a parameter's value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		entry, err := c.GetEntry(args[0])
		if err != nil {
			return err
		}
		if verbose, _ := cmd.Flags().GetBool("commit"); verbose {
			fmt.Printf("%s (commit %d)\n", entry.Value, entry.CommitID)
			return nil
		}
		fmt.Println(entry.Value)
		return nil
	},
}

var setCmd = &cobra.Command{
	Use:   "set NAME VALUE",
	Short: "Set a parameter",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		commit, err := c.Set(args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Printf("✓ %s = %s (commit %d)\n", args[0], args[1], commit)
		return nil
	},
}

var dumpCmd = &cobra.Command{
	Use:   "dump [PREFIX]",
	Short: "Print every readable parameter",
	Long: `Print every readable parameter, optionally limited to a prefix such
as "persist.*".

With --direct the workspace is mapped read-only and read in this process
instead of asking the daemon; the local DAC and label policies decide what
is visible.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDump,
}

func init() {
	getCmd.Flags().Bool("commit", false, "Also print the commit id")
	dumpCmd.Flags().Bool("direct", false, "Read the shared workspace directly")
	dumpCmd.Flags().Bool("commit", false, "Also print commit ids")
}

func runDump(cmd *cobra.Command, args []string) error {
	prefix := ""
	if len(args) == 1 {
		prefix = args[0]
		if err := types.ValidatePrefix(prefix); err != nil {
			return err
		}
	}

	var entries []types.Entry
	if direct, _ := cmd.Flags().GetBool("direct"); direct {
		var err error
		if entries, err = dumpDirect(cmd, prefix); err != nil {
			return err
		}
	} else {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		defer c.Close()
		if entries, err = c.ListParameters(cmd.Context(), prefix); err != nil {
			return err
		}
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	showCommit, _ := cmd.Flags().GetBool("commit")
	out := cmd.OutOrStdout()
	for _, e := range entries {
		if showCommit {
			fmt.Fprintf(out, "%s = %s (commit %d)\n", e.Name, e.Value, e.CommitID)
		} else {
			fmt.Fprintf(out, "%s = %s\n", e.Name, e.Value)
		}
	}
	return nil
}

func dumpDirect(cmd *cobra.Command, prefix string) ([]types.Entry, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	dispatcher, labels := newDispatcher(cfg)
	defer dispatcher.Close()
	// checkers that fail to load deny, so the dump shows less, not more
	_ = dispatcher.Init()

	r, err := param.OpenReader(cfg.Workspace.Path, dispatcher)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	labels.UseNodeLabels(r.Workspace().NodeLabelRef)

	var entries []types.Entry
	err = r.TraverseParameters(types.LocalCredentials(), func(e types.Entry) error {
		if prefix == "" || types.MatchPrefix(prefix, e.Name) {
			entries = append(entries, e)
		}
		return nil
	})
	return entries, err
}

var waitCmd = &cobra.Command{
	Use:   "wait NAME [VALUE]",
	Short: "Block until a parameter holds a value",
	Long: `Block until a parameter holds VALUE, or any value when VALUE is
omitted or "*".`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		value := param.AnyValue
		if len(args) == 2 {
			value = args[1]
		}
		timeout, _ := cmd.Flags().GetDuration("timeout")

		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		entry, err := c.Wait(ctx, args[0], value, timeout)
		if err != nil {
			return err
		}
		fmt.Printf("%s = %s\n", entry.Name, entry.Value)
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch PREFIX",
	Short: "Print changes to parameters matching a prefix",
	Long: `Print current values of parameters matching PREFIX, then every
change until interrupted. PREFIX is a name or a name followed by '*'.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if v, _ := cmd.Flags().GetString("watcher-socket"); v != "" {
			cfg.Watcher.Socket = v
		}

		c, err := client.NewClient(cfg.API.Socket)
		if err != nil {
			return fmt.Errorf("failed to connect to paramd: %w", err)
		}
		defer c.Close()

		mgr := watcher.NewManager(watcher.ManagerConfig{
			SocketPath: cfg.Watcher.Socket,
			Snapshot:   c,
		})
		defer mgr.Stop()

		if _, err := mgr.AddWatcher(args[0], func(name, value string) {
			fmt.Printf("%s %s = %s\n", time.Now().Format(time.RFC3339), name, value)
		}); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		<-ctx.Done()
		return nil
	},
}

func init() {
	waitCmd.Flags().Duration("timeout", 0, "Give up after this long (0 waits forever)")
	watchCmd.Flags().String("watcher-socket", "", "Watcher socket path")
}
