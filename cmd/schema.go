package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newSchemaCmd(c *cli) *cobra.Command {
	schemaCmd := &cobra.Command{
		Use:     "schema <endpoint>",
		Short:   "schema prints the SDL of a remote schema to std out",
		Example: "gqlurl schema https://countries.trevorblades.com/ > countries.graphql",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := c.loaderOptions()
			if err != nil {
				return err
			}
			opts.UseGETForQueries = c.v.GetBool("schema.get")

			source, err := c.loader().Load(cmd.Context(), args[0], opts)
			if err != nil {
				return err
			}
			defer source.Close()

			sdl := source.SDL
			if !strings.HasSuffix(sdl, "\n") {
				sdl += "\n"
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), sdl)
			return err
		},
	}

	schemaCmd.Flags().Bool("get", false, "send the introspection query as GET")
	_ = c.v.BindPFlag("schema.get", schemaCmd.Flags().Lookup("get"))

	return schemaCmd
}
