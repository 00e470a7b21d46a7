package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/urfave/cli"

	"github.com/sensei-labs/senseid/admin"
	"github.com/sensei-labs/senseid/store"
)

var statusCommand = cli.Command{
	Name:  "status",
	Usage: "report whether the admin node exists/is running and node counts",
	Action: withService(func(c *cli.Context, svc *admin.Service) error {
		status, err := svc.GetStatus(context.Background())
		if err != nil {
			return err
		}
		fmt.Printf("admin node:    %s\n", status.AdminNodeID)
		fmt.Printf("admin running: %v\n", status.AdminRunning)
		fmt.Printf("total nodes:   %d\n", status.TotalNodes)
		fmt.Printf("running nodes: %d\n", status.RunningNodes)
		return nil
	}),
}

func createNodeFlags() []cli.Flag {
	return []cli.Flag{
		cli.StringFlag{Name: "username", Usage: "login username"},
		cli.StringFlag{Name: "passphrase", Usage: "wallet seed passphrase"},
		cli.StringFlag{Name: "alias", Usage: "node alias"},
		cli.StringFlag{Name: "listen_addr", Usage: "p2p listen address"},
		cli.IntFlag{Name: "listen_port", Usage: "p2p listen port"},
		cli.BoolFlag{Name: "start", Usage: "bring the node up before returning"},
	}
}

func createNodeRequest(c *cli.Context) admin.CreateNodeRequest {
	return admin.CreateNodeRequest{
		Username:   c.String("username"),
		Passphrase: c.String("passphrase"),
		Alias:      c.String("alias"),
		ListenAddr: c.String("listen_addr"),
		ListenPort: int32(c.Int("listen_port")),
		Start:      c.Bool("start"),
	}
}

func printCreateResult(result *admin.CreateNodeResult) {
	fmt.Printf("node id: %s\n", result.Node.ID)
	if result.IdentityPubkey != "" {
		fmt.Printf("pubkey:  %s\n", result.IdentityPubkey)
	}
}

var createAdminCommand = cli.Command{
	Name:  "create-admin",
	Usage: "provision the singleton administrator node",
	Flags: createNodeFlags(),
	Action: withService(func(c *cli.Context, svc *admin.Service) error {
		result, err := svc.CreateAdmin(context.Background(), createNodeRequest(c))
		if err != nil {
			return err
		}
		printCreateResult(result)
		return nil
	}),
}

var startAdminCommand = cli.Command{
	Name:  "start-admin",
	Usage: "unlock the previously-created admin node",
	Flags: []cli.Flag{
		cli.StringFlag{Name: "passphrase", Usage: "wallet seed passphrase"},
	},
	Action: withService(func(c *cli.Context, svc *admin.Service) error {
		return svc.StartAdmin(context.Background(), c.String("passphrase"))
	}),
}

var createNodeCommand = cli.Command{
	Name:  "create-node",
	Usage: "provision a new non-root hosted node",
	Flags: createNodeFlags(),
	Action: withService(func(c *cli.Context, svc *admin.Service) error {
		result, err := svc.CreateNode(context.Background(), createNodeRequest(c))
		if err != nil {
			return err
		}
		printCreateResult(result)
		return nil
	}),
}

var listNodesCommand = cli.Command{
	Name:  "list-nodes",
	Usage: "list hosted nodes",
	Flags: []cli.Flag{
		cli.StringFlag{Name: "query", Usage: "filter by username/alias"},
		cli.IntFlag{Name: "offset", Value: 0},
		cli.IntFlag{Name: "limit", Value: 50},
	},
	Action: withService(func(c *cli.Context, svc *admin.Service) error {
		result, err := svc.ListNodes(context.Background(), store.ListNodesParams{
			Query: c.String("query"), Offset: c.Int("offset"), Limit: c.Int("limit"),
		})
		if err != nil {
			return err
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"ID", "ROLE", "USERNAME", "ALIAS", "NETWORK", "STATUS"})
		for _, n := range result.Nodes {
			t.AppendRow(table.Row{n.ID, n.Role, n.Username, n.Alias, n.Network, n.Status})
		}
		t.Render()
		fmt.Printf("total: %d, has more: %v\n", result.Total, result.HasMore)
		return nil
	}),
}

var startNodeCommand = cli.Command{
	Name:      "start-node",
	Usage:     "bring up an already-created node",
	ArgsUsage: "<node-id>",
	Flags: []cli.Flag{
		cli.StringFlag{Name: "passphrase", Usage: "wallet seed passphrase"},
	},
	Action: withService(func(c *cli.Context, svc *admin.Service) error {
		if !c.Args().Present() {
			return cli.NewExitError("node id is required", 1)
		}
		return svc.StartNode(context.Background(), c.Args().First(), c.String("passphrase"))
	}),
}

var stopNodeCommand = cli.Command{
	Name:      "stop-node",
	Usage:     "halt a running node",
	ArgsUsage: "<node-id>",
	Action: withService(func(c *cli.Context, svc *admin.Service) error {
		if !c.Args().Present() {
			return cli.NewExitError("node id is required", 1)
		}
		return svc.StopNode(context.Background(), c.Args().First())
	}),
}

var deleteNodeCommand = cli.Command{
	Name:      "delete-node",
	Usage:     "remove a stopped node and its per-node state",
	ArgsUsage: "<node-id>",
	Action: withService(func(c *cli.Context, svc *admin.Service) error {
		if !c.Args().Present() {
			return cli.NewExitError("node id is required", 1)
		}
		return svc.DeleteNode(context.Background(), c.Args().First())
	}),
}

var listTokensCommand = cli.Command{
	Name:  "list-tokens",
	Usage: "list outstanding bearer access tokens",
	Action: withService(func(c *cli.Context, svc *admin.Service) error {
		tokens, err := svc.ListTokens(context.Background())
		if err != nil {
			return err
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"ID", "NAME", "SCOPE", "SINGLE USE", "TOKEN"})
		for _, tok := range tokens {
			t.AppendRow(table.Row{tok.ID, tok.Name, tok.Scope, tok.SingleUse, tok.Token})
		}
		t.Render()
		return nil
	}),
}

var createTokenCommand = cli.Command{
	Name:  "create-token",
	Usage: "mint a fresh bearer access token",
	Flags: []cli.Flag{
		cli.StringFlag{Name: "name", Usage: "a label for the token"},
		cli.StringFlag{Name: "scope", Usage: "required capability, or * for all"},
		cli.BoolFlag{Name: "single_use", Usage: "token is consumed on first use"},
		cli.Int64Flag{Name: "expires_at", Usage: "unix seconds, 0 for never"},
	},
	Action: withService(func(c *cli.Context, svc *admin.Service) error {
		token, err := svc.CreateToken(context.Background(), admin.CreateTokenRequest{
			Name:      c.String("name"),
			Scope:     c.String("scope"),
			SingleUse: c.Bool("single_use"),
			ExpiresAt: c.Int64("expires_at"),
		})
		if err != nil {
			return err
		}
		fmt.Printf("token id: %s\n", token.ID)
		fmt.Printf("token:    %s\n", token.Token)
		return nil
	}),
}

var deleteTokenCommand = cli.Command{
	Name:      "delete-token",
	Usage:     "revoke a token outright",
	ArgsUsage: "<token-id>",
	Action: withService(func(c *cli.Context, svc *admin.Service) error {
		if !c.Args().Present() {
			return cli.NewExitError("token id is required", 1)
		}
		return svc.DeleteToken(context.Background(), c.Args().First())
	}),
}
