// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


package main

import (
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianInfer/services/infer/config"
	"github.com/AleutianAI/AleutianInfer/services/infer/server"
)

func newServeCmd(g *globalOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the inference HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), g, cmd.OutOrStdout(), cmd.ErrOrStderr(), appSetup{
				metrics: true,
				adjust: func(c *config.Config) {
					if cmd.Flags().Changed("addr") {
						c.Server.Addr = addr
					}
				},
			})
			if err != nil {
				return err
			}
			defer a.Close()

			gin.SetMode(gin.ReleaseMode)
			opts := []server.Option{
				server.WithLogger(a.logger.Slog()),
				server.WithDefaults(a.cfg.Inference),
				server.WithServiceName(a.cfg.Telemetry.ServiceName),
			}
			if h := a.telemetry.MetricsHandler(); h != nil {
				opts = append(opts, server.WithMetrics(h, a.telemetry.Registry()))
			}
			srv := server.New(a.cfg.Server, a.runner, opts...)
			return srv.ListenAndServe(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address, host:port (default from config)")
	return cmd
}
