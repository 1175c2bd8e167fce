package cmd

import (
	"context"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/wundergraph/graphql-url-loader/pkg/common"
	"github.com/wundergraph/graphql-url-loader/pkg/subscription"
)

func newSubscribeCmd(c *cli) *cobra.Command {
	var (
		query         string
		variables     string
		operationName string
		endpoint      string
	)

	subscribeCmd := &cobra.Command{
		Use:   "subscribe <endpoint>",
		Short: "subscribe prints subscription events until the stream ends or on interrupt",
		Example: `gqlurl subscribe http://localhost:4000/graphql -q 'subscription { tick }'
gqlurl subscribe http://localhost:4000/graphql --sse -q 'subscription { tick }'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := c.loaderOptions()
			if err != nil {
				return err
			}
			opts.UseSSEForSubscription = c.v.GetBool("subscribe.sse")
			opts.UseWebSocketLegacyProtocol = c.v.GetBool("subscribe.legacy")
			opts.SubscriptionsEndpoint = endpoint

			req, err := buildRequest(query, variables, operationName)
			if err != nil {
				return err
			}

			subscriber, err := c.loader().Subscriber(args[0], opts)
			if err != nil {
				return err
			}
			defer subscriber.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			return runSubscription(ctx, cmd, c.v.GetString("output"), subscriber, req)
		},
	}

	flags := subscribeCmd.Flags()
	flags.StringVarP(&query, "query", "q", "", "GraphQL subscription document")
	flags.StringVarP(&variables, "variables", "v", "", "variables as JSON object")
	flags.StringVar(&operationName, "operation-name", "", "operation to run when the document has several")
	flags.StringVar(&endpoint, "subscriptions-endpoint", "", "endpoint for subscriptions, defaults to <endpoint>")
	flags.Bool("sse", false, "subscribe over server-sent events")
	flags.Bool("legacy", false, "use the legacy graphql-ws websocket protocol")
	_ = subscribeCmd.MarkFlagRequired("query")
	_ = c.v.BindPFlag("subscribe.sse", flags.Lookup("sse"))
	_ = c.v.BindPFlag("subscribe.legacy", flags.Lookup("legacy"))

	return subscribeCmd
}

func runSubscription(ctx context.Context, cmd *cobra.Command, format string, s subscription.Subscriber, req *common.Request) error {
	results, cancel, err := s.Subscribe(ctx, req)
	if err != nil {
		return err
	}
	defer cancel()

	for msg := range results {
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
