package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wundergraph/graphql-url-loader/pkg/common"
	"github.com/wundergraph/graphql-url-loader/pkg/httpexec"
	"github.com/wundergraph/graphql-url-loader/pkg/uploads"
)

func newQueryCmd(c *cli) *cobra.Command {
	var (
		query         string
		variables     string
		operationName string
		files         []string
	)

	queryCmd := &cobra.Command{
		Use:   "query <endpoint>",
		Short: "query runs a query or mutation and prints every result",
		Long: `query runs a query or mutation against a remote endpoint.

Incremental responses (@defer, @stream) print one accumulated result per received part.
Files given with --file are sent as multipart uploads and require --multipart.`,
		Example: `gqlurl query http://localhost:4000/graphql -q '{ hello }'
gqlurl query http://localhost:4000/graphql --multipart -q 'mutation($f: Upload!) { upload(file: $f) }' --file f=./avatar.png`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := c.loaderOptions()
			if err != nil {
				return err
			}
			opts.UseGETForQueries = c.v.GetBool("query.get")
			opts.Multipart = c.v.GetBool("query.multipart")

			if len(files) > 0 && !opts.Multipart {
				return fmt.Errorf("--file requires --multipart")
			}

			req, err := buildRequest(query, variables, operationName)
			if err != nil {
				return err
			}
			for _, f := range files {
				if err := setFile(req.Variables, f); err != nil {
					return err
				}
			}

			executor, err := c.loader().Executor(args[0], opts)
			if err != nil {
				return err
			}

			return runQuery(cmd.Context(), cmd, c.v.GetString("output"), executor, req)
		},
	}

	flags := queryCmd.Flags()
	flags.StringVarP(&query, "query", "q", "", "GraphQL document")
	flags.StringVarP(&variables, "variables", "v", "", "variables as JSON object")
	flags.StringVar(&operationName, "operation-name", "", "operation to run when the document has several")
	flags.StringArrayVar(&files, "file", nil, "upload as variable=path, repeatable, dots address nested variables")
	flags.Bool("get", false, "send queries as GET")
	flags.Bool("multipart", false, "send uploads as multipart requests")
	_ = queryCmd.MarkFlagRequired("query")
	_ = c.v.BindPFlag("query.get", flags.Lookup("get"))
	_ = c.v.BindPFlag("query.multipart", flags.Lookup("multipart"))

	return queryCmd
}

func buildRequest(query, variables, operationName string) (*common.Request, error) {
	vars := map[string]any{}
	if variables != "" {
		if err := json.Unmarshal([]byte(variables), &vars); err != nil {
			return nil, fmt.Errorf("parse variables: %w", err)
		}
	}

	req, err := common.NewRequest(query, vars)
	if err != nil {
		return nil, err
	}
	req.OperationName = operationName
	return req, nil
}

func runQuery(ctx context.Context, cmd *cobra.Command, format string, executor *httpexec.Executor, req *common.Request) error {
	resp, err := executor.Execute(ctx, req)
	if err != nil {
		return err
	}
	if !resp.IsStream() {
		return printResult(cmd.OutOrStdout(), format, resp.Result)
	}
	defer resp.Close()

	for msg := range resp.Stream {
		if msg.Err != nil {
			return msg.Err
		}
		if msg.Payload == nil {
			continue
		}
		if err := printResult(cmd.OutOrStdout(), format, msg.Payload); err != nil {
			return err
		}
	}
	return nil
}

// setFile places a lazily read upload at the variable path given as "a.b=path".
func setFile(variables map[string]any, spec string) error {
	name, path, ok := strings.Cut(spec, "=")
	if !ok || name == "" || path == "" {
		return fmt.Errorf("invalid file %q, expected variable=path", spec)
	}
	if _, err := os.Stat(path); err != nil {
		return err
	}

	upload := uploads.Promise(func(ctx context.Context) (any, error) {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		return &uploads.Blob{
			Data:     data,
			Filename: filepath.Base(path),
			MimeType: mime.TypeByExtension(filepath.Ext(path)),
		}, nil
	})

	keys := strings.Split(name, ".")
	current := variables
	for _, key := range keys[:len(keys)-1] {
		next, ok := current[key].(map[string]any)
		if !ok {
			next = map[string]any{}
			current[key] = next
		}
		current = next
	}
	current[keys[len(keys)-1]] = upload
	return nil
}
