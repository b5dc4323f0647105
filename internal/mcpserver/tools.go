package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the ledger MCP server.
// Descriptions are what the LLM reads to decide which tool to use.
// Amounts and nonces are whole units passed as decimal strings so that
// values above 2^53 survive JSON.

var ToolCheckBalance = mcp.NewTool("check_balance",
	mcp.WithDescription(
		"Check the ledger balance of an account. Defaults to your own account."),
	mcp.WithString("address",
		mcp.Description("Account address (e.g. '0x1234...'). Omit for your own balance.")),
)

var ToolDeposit = mcp.NewTool("deposit",
	mcp.WithDescription(
		"Credit your own account. Deposits are not fraud screened."),
	mcp.WithString("amount",
		mcp.Required(),
		mcp.Description("Whole units to deposit (e.g. '1000')")),
)

var ToolSecurePayment = mcp.NewTool("secure_payment",
	mcp.WithDescription(
		"Send a fraud-screened payment from your account to another account. "+
			"Rejected if either side is frozen or blacklisted, if the amount exceeds the daily limit, "+
			"or if the fraud score reaches the threshold."),
	mcp.WithString("recipient",
		mcp.Required(),
		mcp.Description("Recipient address (e.g. '0x1234...')")),
	mcp.WithString("amount",
		mcp.Required(),
		mcp.Description("Whole units to pay (e.g. '250')")),
)

var ToolCreateEscrow = mcp.NewTool("create_escrow",
	mcp.WithDescription(
		"Lock funds from your account for a recipient. The funds leave your balance now "+
			"and reach the recipient only when you (or the ledger owner) release the escrow. "+
			"Each (you, recipient, nonce) triple can be used once."),
	mcp.WithString("recipient",
		mcp.Required(),
		mcp.Description("Recipient address (e.g. '0x1234...')")),
	mcp.WithString("amount",
		mcp.Required(),
		mcp.Description("Whole units to lock")),
	mcp.WithString("nonce",
		mcp.Required(),
		mcp.Description("Caller-chosen number distinguishing escrows to the same recipient")),
)

var ToolReleaseEscrow = mcp.NewTool("release_escrow",
	mcp.WithDescription(
		"Release a locked escrow, paying the recipient. Only the escrow's sender or the ledger owner may release."),
	mcp.WithString("sender",
		mcp.Description("Escrow sender address. Omit if you are the sender.")),
	mcp.WithString("recipient",
		mcp.Required(),
		mcp.Description("Escrow recipient address")),
	mcp.WithString("nonce",
		mcp.Required(),
		mcp.Description("Escrow nonce")),
)

var ToolGetEscrow = mcp.NewTool("get_escrow",
	mcp.WithDescription(
		"Look up an escrow by sender, recipient, and nonce."),
	mcp.WithString("sender",
		mcp.Description("Escrow sender address. Omit if you are the sender.")),
	mcp.WithString("recipient",
		mcp.Required(),
		mcp.Description("Escrow recipient address")),
	mcp.WithString("nonce",
		mcp.Required(),
		mcp.Description("Escrow nonce")),
)

var ToolGetFraudScore = mcp.NewTool("get_fraud_score",
	mcp.WithDescription(
		"Preview the fraud score a payment of the given amount would receive, with the per-factor breakdown. "+
			"Scores of 100 or more are rejected while fraud detection is enabled."),
	mcp.WithString("address",
		mcp.Description("Account address. Omit for your own account.")),
	mcp.WithString("amount",
		mcp.Required(),
		mcp.Description("Whole units of the hypothetical payment")),
)

var ToolGetAccountStatus = mcp.NewTool("get_account_status",
	mcp.WithDescription(
		"Show whether an account is frozen or blacklisted, and what it has spent today."),
	mcp.WithString("address",
		mcp.Description("Account address. Omit for your own account.")),
)

var ToolGetSettings = mcp.NewTool("get_settings",
	mcp.WithDescription(
		"Show the ledger settings: owner, fraud detection flag, transaction and daily limits, and the current day."),
)
