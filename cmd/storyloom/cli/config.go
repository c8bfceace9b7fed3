package cli

import (
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/storyloom/internal/config"
	"github.com/felixgeelhaar/storyloom/internal/credential"
)

func newConfigCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage stored configuration",
		Long: `Values saved here sit below the config file, STORYLOOM_* environment
variables and flags. API keys are sealed before they are written.`,
	}

	set := &cobra.Command{
		Use:   "set [key] [value]",
		Short: "Store a configuration value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, value := strings.ToLower(args[0]), args[1]
			if err := checkKey(key); err != nil {
				return err
			}
			if slices.Contains(config.Unstorable, key) {
				return fmt.Errorf("%s cannot be stored; set it with a flag, the environment or the config file", key)
			}

			st, creds, err := o.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			if credential.IsSecretKey(key) {
				if value, err = creds.Seal(value); err != nil {
					return fmt.Errorf("failed to seal %s: %w", key, err)
				}
			}
			if err := st.SetConfig(key, value); err != nil {
				return fmt.Errorf("failed to set config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Configuration saved: %s\n", key)
			return nil
		},
	}

	get := &cobra.Command{
		Use:   "get [key]",
		Short: "Show a stored configuration value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := strings.ToLower(args[0])
			if err := checkKey(key); err != nil {
				return err
			}

			st, creds, err := o.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			val, err := st.GetConfig(key)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), display(creds, key, val))
			return nil
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "Show every setting and its stored value",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, creds, err := o.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			stored, err := st.ListConfig()
			if err != nil {
				return err
			}
			t := newTable("KEY", "STORED VALUE")
			for _, key := range config.Keys() {
				t.Row(key, display(creds, key, stored[key]))
			}
			fmt.Fprintln(cmd.OutOrStdout(), t.String())
			return nil
		},
	}

	cmd.AddCommand(set, get, list)
	return cmd
}

func checkKey(key string) error {
	if !config.Known(key) {
		return fmt.Errorf("unknown configuration key %q (one of %s)", key, strings.Join(config.Keys(), ", "))
	}
	return nil
}

// display opens sealed values and masks secrets. Key material is never
// printed in full.
func display(creds *credential.Manager, key, stored string) string {
	if stored == "" {
		return "(not set)"
	}
	if !credential.IsSecretKey(key) {
		return stored
	}
	plain, err := creds.Open(stored)
	if err != nil {
		return "(sealed on another machine)"
	}
	return credential.Mask(plain)
}
