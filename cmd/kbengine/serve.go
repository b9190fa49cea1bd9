package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/kbengine/kbengine/internal/engine"
	"github.com/kbengine/kbengine/internal/lanserver"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the LAN exchange endpoint until interrupted",
	Long: `serve opens the local store and listens for peer ping/export/import
requests on the configured LAN port until interrupted (Ctrl-C or SIGTERM).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine(rootCtx)
		if err != nil {
			return err
		}
		defer func() { _ = eng.Close() }()

		srv, err := lanserver.Listen(lanserver.Config{
			Port:      eng.Settings.LANPort,
			SharedKey: eng.Settings.LANSharedKey,
			Timeout:   eng.Settings.SocketTimeout,
			Log:       eng.Log,
			Metrics:   eng.Metrics,
		})
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		srv.Bind(engine.LANAdapter{Engine: eng})

		eng.Log.Info("lanserver listening", slog.String("addr", srv.Addr().String()))
		fmt.Fprintf(os.Stderr, "kbengine listening on %s (instance %s)\n", srv.Addr(), eng.InstanceID())

		return srv.Serve(rootCtx)
	},
}
