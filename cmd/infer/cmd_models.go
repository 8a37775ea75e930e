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
	"github.com/spf13/cobra"
)

func newModelsCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List the built-in models",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), g, cmd.OutOrStdout(), cmd.ErrOrStderr(), appSetup{})
			if err != nil {
				return err
			}
			defer a.Close()

			list := a.runner.Catalog().List()
			rows := make([][]string, 0, len(list))
			for _, m := range list {
				rows = append(rows, []string{m.Name, m.Returns, m.Description})
			}
			a.out.Title("Models")
			a.out.Table([]string{"name", "returns", "description"}, rows)
			return nil
		},
	}
}
