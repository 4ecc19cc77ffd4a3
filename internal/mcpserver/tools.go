package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the GuardianShield MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolEvaluateTransaction = mcp.NewTool("evaluate_transaction",
	mcp.WithDescription(
		"Score a UPI payment for fraud risk before it is sent. "+
			"Returns a 0-100 risk score, a decision (SAFE, CAUTION, CHALLENGE or BLOCK) "+
			"and plain-language reasons. The evaluation is logged."),
	mcp.WithString("user_id",
		mcp.Required(),
		mcp.Description("The paying user's identifier (e.g. 'user_123')")),
	mcp.WithNumber("amount",
		mcp.Required(),
		mcp.Description("Payment amount in rupees")),
	mcp.WithString("merchant",
		mcp.Required(),
		mcp.Description("Payee or merchant name as shown to the user")),
	mcp.WithNumber("time_hour",
		mcp.Required(),
		mcp.Description("Local hour of the payment, 0-23")),
	mcp.WithBoolean("phone_activity",
		mcp.Description("True if the user is on a phone call while paying (default false)")),
)

var ToolGetBaseline = mcp.NewTool("get_baseline",
	mcp.WithDescription(
		"Get a user's normal spending pattern: average amount, typical hour and usual merchants. "+
			"Users without history get a default profile."),
	mcp.WithString("user_id",
		mcp.Required(),
		mcp.Description("The user's identifier")),
)

var ToolCheckMerchant = mcp.NewTool("check_merchant",
	mcp.WithDescription(
		"Look up how risky a merchant name looks: category, blacklist status and scam keywords."),
	mcp.WithString("name",
		mcp.Required(),
		mcp.Description("Merchant name to check")),
)

var ToolRecentTransactions = mcp.NewTool("recent_transactions",
	mcp.WithDescription(
		"List the most recent evaluated transactions, newest first."),
	mcp.WithString("user_id",
		mcp.Description("Only show this user's transactions")),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of transactions to return (default 10, max 100)")),
)

var ToolGetFraudStats = mcp.NewTool("get_fraud_stats",
	mcp.WithDescription(
		"Get decision counts (safe, caution, challenge, blocked) for today, yesterday and the last seven days."),
)
