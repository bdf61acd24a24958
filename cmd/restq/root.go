package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/SirClappington/restq/internal/client"
	"github.com/SirClappington/restq/internal/config"
)

// app is the state shared by every subcommand once flags are parsed.
type app struct {
	cfg    config.Client
	client *client.Client
	out    io.Writer
}

func (a *app) realm() *client.Realm { return a.client.Realm(a.cfg.Realm) }

func (a *app) print(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "restq",
		Short:         "Command line access to a restq server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var (
		uri     string
		realmID string
		timeout time.Duration
	)
	root.PersistentFlags().StringVar(&uri, "uri", "", "server uri (default $RESTQ_CLIENT_URI)")
	root.PersistentFlags().StringVarP(&realmID, "realm", "r", "", "realm to operate on (default $RESTQ_CLI_REALM)")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 0, "request timeout (default $RESTQ_CLIENT_TIMEOUT)")

	root.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.LoadClient()
		if err != nil {
			return err
		}
		if uri != "" {
			cfg.URI = uri
		}
		if realmID != "" {
			cfg.Realm = realmID
		}
		if timeout > 0 {
			cfg.Timeout = timeout
		}
		c, err := client.New(cfg.URI, client.WithTimeout(cfg.Timeout))
		if err != nil {
			return err
		}
		a.cfg, a.client, a.out = cfg, c, cmd.OutOrStdout()
		return nil
	}

	root.AddCommand(
		statusCmd(a),
		addCmd(a),
		removeCmd(a),
		jobCmd(a),
		pullCmd(a),
		leaseCmd(a),
		watchCmd(a),
	)
	return root
}

// jobData turns a --data flag into a job payload. Valid JSON is sent as is,
// anything else as a JSON string.
func jobData(raw string) any {
	if raw == "" {
		return nil
	}
	if json.Valid([]byte(raw)) {
		return json.RawMessage(raw)
	}
	return raw
}

func requireAnyFlag(cmd *cobra.Command, names ...string) error {
	set := 0
	for _, n := range names {
		if cmd.Flags().Changed(n) {
			set++
		}
	}
	if set == 0 {
		return fmt.Errorf("one of --%s or --%s is required", names[0], names[1])
	}
	return nil
}
