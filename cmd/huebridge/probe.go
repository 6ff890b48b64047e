package main

import (
	"fmt"
	"net"
	"strconv"
	"text/tabwriter"

	"github.com/amimof/huego"
	"github.com/spf13/cobra"
)

var (
	probeUser       string
	probeDeviceType string
)

var probeCmd = &cobra.Command{
	Use:   "probe <host[:port]>",
	Short: "Talk to a running bridge the way a Hue client does",
	Long: `probe connects to a bridge with a stock Hue client library, prints its
configuration and lights, and reports whether it behaves like a real bridge.

Without --user it registers a new user, which only succeeds while the
link button is pressed.`,
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{"config": "none"},
	RunE: func(cmd *cobra.Command, args []string) error {
		host := args[0]
		if _, _, err := net.SplitHostPort(host); err != nil {
			host = net.JoinHostPort(host, "80")
		}
		out := cmd.OutOrStdout()

		user := probeUser
		if user == "" {
			created, err := huego.New(host, "").CreateUser(probeDeviceType)
			if err != nil {
				return fmt.Errorf("register user (is the link button pressed?): %w", err)
			}
			user = created
			fmt.Fprintf(out, "Registered user %s\n", user)
		}

		bridge := huego.New(host, user)
		conf, err := bridge.GetConfig()
		if err != nil {
			return fmt.Errorf("get config: %w", err)
		}
		fmt.Fprintf(out, "Bridge %s (%s), API %s, software %s\n", conf.Name, conf.BridgeID, conf.APIVersion, conf.SwVersion)

		lights, err := bridge.GetLights()
		if err != nil {
			return fmt.Errorf("get lights: %w", err)
		}
		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tTYPE\tMODEL\tON\tBRI")
		for _, l := range lights {
			on, bri := "-", "-"
			if l.State != nil {
				on = strconv.FormatBool(l.State.On)
				bri = strconv.Itoa(int(l.State.Bri))
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n", l.ID, l.Name, l.Type, l.ModelID, on, bri)
		}
		return w.Flush()
	},
}

func init() {
	probeCmd.Flags().StringVarP(&probeUser, "user", "u", "", "Existing username (default: register a new one)")
	probeCmd.Flags().StringVar(&probeDeviceType, "devicetype", "huebridge#probe", "Device type used when registering")
	rootCmd.AddCommand(probeCmd)
}
