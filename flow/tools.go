package flow

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"slices"

	"github.com/petal-labs/flowmcp/network"
	"github.com/petal-labs/flowmcp/tool"
)

// EventTransactionStatus is broadcast whenever a transaction result is read.
const EventTransactionStatus = "transaction.status"

// CatalogConfig configures the Flow tool catalogue.
type CatalogConfig struct {
	Client    *Client
	Selection network.Selection
	Logger    *slog.Logger
}

// Catalog implements the Flow tools against one access node.
type Catalog struct {
	client    *Client
	selection network.Selection
	logger    *slog.Logger
}

// NewCatalog creates a Catalog.
func NewCatalog(cfg CatalogConfig) (*Catalog, error) {
	if cfg.Client == nil {
		return nil, errors.New("flow: catalog client is nil")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{client: cfg.Client, selection: cfg.Selection, logger: logger}, nil
}

type noParams struct{}

type contractParams struct {
	Name string `json:"name" jsonschema:"contract name, for example FlowToken"`
}

type blockParams struct {
	Height *uint64 `json:"height,omitempty" jsonschema:"block height; mutually exclusive with id"`
	ID     string  `json:"id,omitempty" jsonschema:"block id as 64 hex characters; mutually exclusive with height"`
}

type addressParams struct {
	Address string `json:"address" jsonschema:"Flow account address, with or without the 0x prefix"`
}

type transactionParams struct {
	ID string `json:"id" jsonschema:"transaction id as 64 hex characters"`
}

// Register adds every Flow tool to reg, in catalogue order.
func (c *Catalog) Register(reg *tool.Registry) error {
	builders := []func() (tool.Definition, tool.Handler, error){
		func() (tool.Definition, tool.Handler, error) {
			return typedTool("health", "Report that the adapter is alive.", c.health)
		},
		func() (tool.Definition, tool.Handler, error) {
			return typedTool("get_network_info", "Describe the Flow network this adapter is bound to.", c.networkInfo)
		},
		func() (tool.Definition, tool.Handler, error) {
			return typedTool("resolve_contract", "Resolve a core contract name to its address on the current network.", c.resolveContract)
		},
		func() (tool.Definition, tool.Handler, error) {
			return typedTool("get_latest_block", "Fetch the latest sealed block header.", c.latestBlock)
		},
		func() (tool.Definition, tool.Handler, error) {
			return typedTool("get_block", "Fetch a block header by height or id.", c.block)
		},
		func() (tool.Definition, tool.Handler, error) {
			return typedTool("get_account", "Fetch an account with its keys and deployed contract names.", c.account)
		},
		func() (tool.Definition, tool.Handler, error) {
			return typedTool("get_account_balance", "Fetch the FLOW balance of an account.", c.accountBalance)
		},
		func() (tool.Definition, tool.Handler, error) {
			return typedTool("get_transaction_result", "Fetch the execution result of a transaction.", c.transactionResult)
		},
	}
	for _, build := range builders {
		def, handler, err := build()
		if err != nil {
			return err
		}
		if err := reg.Register(def, handler); err != nil {
			return err
		}
	}
	return nil
}

func (c *Catalog) health(context.Context, tool.Call, noParams) (any, error) {
	return map[string]any{"ok": true}, nil
}

func (c *Catalog) networkInfo(context.Context, tool.Call, noParams) (any, error) {
	return c.selection.Info(), nil
}

func (c *Catalog) resolveContract(_ context.Context, _ tool.Call, params contractParams) (any, error) {
	address, ok := c.selection.Network.Contract(params.Name)
	if !ok {
		return nil, tool.InvalidParameters("unknown contract %q on %s", params.Name, c.selection.Network.Name)
	}
	return map[string]any{
		"name":    params.Name,
		"address": address,
		"network": c.selection.Network.Name,
	}, nil
}

func (c *Catalog) latestBlock(ctx context.Context, _ tool.Call, _ noParams) (any, error) {
	block, err := c.client.LatestBlock(ctx)
	if err != nil {
		return nil, upstreamError("get latest block", err)
	}
	return block.Header, nil
}

func (c *Catalog) block(ctx context.Context, _ tool.Call, params blockParams) (any, error) {
	switch {
	case params.Height != nil && params.ID != "":
		return nil, tool.InvalidParameters("height and id are mutually exclusive")
	case params.Height != nil:
		block, err := c.client.BlockByHeight(ctx, *params.Height)
		if err != nil {
			return nil, upstreamError("get block", err)
		}
		return block.Header, nil
	case params.ID != "":
		id, err := normalizeID("block", params.ID)
		if err != nil {
			return nil, err
		}
		block, err := c.client.BlockByID(ctx, id)
		if err != nil {
			return nil, upstreamError("get block", err)
		}
		return block.Header, nil
	default:
		return nil, tool.InvalidParameters("one of height or id is required")
	}
}

func (c *Catalog) account(ctx context.Context, _ tool.Call, params addressParams) (any, error) {
	address, err := normalizeAddress(params.Address)
	if err != nil {
		return nil, err
	}
	account, err := c.client.Account(ctx, address)
	if err != nil {
		return nil, upstreamError("get account", err)
	}
	return map[string]any{
		"address":   account.Address,
		"balance":   account.Balance,
		"keys":      account.Keys,
		"contracts": slices.Sorted(maps.Keys(account.Contracts)),
	}, nil
}

func (c *Catalog) accountBalance(ctx context.Context, _ tool.Call, params addressParams) (any, error) {
	address, err := normalizeAddress(params.Address)
	if err != nil {
		return nil, err
	}
	account, err := c.client.Account(ctx, address)
	if err != nil {
		return nil, upstreamError("get account balance", err)
	}
	formatted, err := FormatUFix64(account.Balance)
	if err != nil {
		return nil, tool.NewToolError(tool.ToolErrorCodeUpstreamFailure, "", err)
	}
	return map[string]any{
		"address":    address,
		"balance":    formatted,
		"balanceRaw": account.Balance,
		"unit":       "FLOW",
	}, nil
}

func (c *Catalog) transactionResult(ctx context.Context, call tool.Call, params transactionParams) (any, error) {
	id, err := normalizeID("transaction", params.ID)
	if err != nil {
		return nil, err
	}
	result, err := c.client.TransactionResult(ctx, id)
	if err != nil {
		return nil, upstreamError("get transaction result", err)
	}
	call.Emit(EventTransactionStatus, map[string]any{
		"id":         id,
		"status":     result.Status,
		"statusCode": result.StatusCode,
		"execution":  result.Execution,
	})
	return result, nil
}
