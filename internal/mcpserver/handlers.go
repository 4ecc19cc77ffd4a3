package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *Client
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *Client) *Handlers {
	return &Handlers{client: client}
}

// HandleEvaluateTransaction scores a payment.
func (h *Handlers) HandleEvaluateTransaction(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()

	in := TransactionInput{
		UserID:   req.GetString("user_id", ""),
		Merchant: req.GetString("merchant", ""),
	}
	if in.UserID == "" {
		return mcp.NewToolResultError("user_id is required"), nil
	}
	if in.Merchant == "" {
		return mcp.NewToolResultError("merchant is required"), nil
	}

	amount, ok := numberArg(args, "amount")
	if !ok {
		return mcp.NewToolResultError("amount is required"), nil
	}
	if amount < 0 {
		return mcp.NewToolResultError("amount must not be negative"), nil
	}
	in.Amount = amount

	hour, ok := numberArg(args, "time_hour")
	if !ok {
		return mcp.NewToolResultError("time_hour is required"), nil
	}
	if hour != math.Trunc(hour) || hour < 0 || hour > 23 {
		return mcp.NewToolResultError("time_hour must be a whole hour between 0 and 23"), nil
	}
	in.TimeHour = int(hour)
	in.PhoneActivity, _ = args["phone_activity"].(bool)

	raw, err := h.client.Evaluate(ctx, in)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to evaluate transaction: %v", err)), nil
	}

	text, err := formatAssessment(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse assessment: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleGetBaseline returns a user's spending baseline.
func (h *Handlers) HandleGetBaseline(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID := req.GetString("user_id", "")
	if userID == "" {
		return mcp.NewToolResultError("user_id is required"), nil
	}

	raw, err := h.client.GetBaseline(ctx, userID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get baseline: %v", err)), nil
	}

	text, err := formatBaseline(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse baseline: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleCheckMerchant returns the risk insight for a merchant.
func (h *Handlers) HandleCheckMerchant(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := req.GetString("name", "")
	if name == "" {
		return mcp.NewToolResultError("name is required"), nil
	}

	raw, err := h.client.GetMerchant(ctx, name)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to check merchant: %v", err)), nil
	}

	text, err := formatMerchant(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse merchant: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleRecentTransactions lists recent evaluations.
func (h *Handlers) HandleRecentTransactions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID := req.GetString("user_id", "")
	limit := req.GetInt("limit", 10)
	if limit <= 0 {
		return mcp.NewToolResultError("limit must be positive"), nil
	}

	raw, err := h.client.ListTransactions(ctx, userID, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list transactions: %v", err)), nil
	}

	text, err := formatTransactionList(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse transactions: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleGetFraudStats returns decision counts.
func (h *Handlers) HandleGetFraudStats(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.GetStats(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get stats: %v", err)), nil
	}

	text, err := formatStats(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse stats: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// --- Formatting ---

func formatAssessment(raw json.RawMessage) (string, error) {
	var a struct {
		RiskScore        int      `json:"risk_score"`
		Decision         string   `json:"decision"`
		Reasons          []string `json:"reasons"`
		FraudProbability float64  `json:"fraud_probability"`
		AmountDeviation  float64  `json:"amount_deviation"`
		Adjustments      []string `json:"adjustments"`
	}
	if err := json.Unmarshal(raw, &a); err != nil {
		return "", err
	}
	if a.Decision == "" {
		return "", fmt.Errorf("response has no decision")
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Decision: %s\n", a.Decision)
	fmt.Fprintf(&sb, "Risk score: %d/100\n", a.RiskScore)
	fmt.Fprintf(&sb, "Model probability: %.1f%%\n", a.FraudProbability*100)
	fmt.Fprintf(&sb, "Amount vs usual: %.1fx\n", a.AmountDeviation)
	if len(a.Reasons) > 0 {
		sb.WriteString("\nReasons:\n")
		for _, r := range a.Reasons {
			fmt.Fprintf(&sb, "  - %s\n", r)
		}
	}
	if len(a.Adjustments) > 0 {
		sb.WriteString("\nAdjustments:\n")
		for _, adj := range a.Adjustments {
			fmt.Fprintf(&sb, "  - %s\n", adj)
		}
	}
	return sb.String(), nil
}

func formatBaseline(raw json.RawMessage) (string, error) {
	var p struct {
		UserID            string   `json:"user_id"`
		AvgAmount         float64  `json:"avg_amount"`
		StdAmount         float64  `json:"std_amount"`
		AvgTime           int      `json:"avg_time"`
		TotalTransactions int      `json:"total_transactions"`
		CommonMerchants   []string `json:"common_merchants"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Baseline for %s:\n", p.UserID)
	fmt.Fprintf(&sb, "  Average amount: ₹%.2f (std ₹%.2f)\n", p.AvgAmount, p.StdAmount)
	fmt.Fprintf(&sb, "  Typical hour: %d:00\n", p.AvgTime)
	fmt.Fprintf(&sb, "  Transactions: %d\n", p.TotalTransactions)
	if len(p.CommonMerchants) > 0 {
		fmt.Fprintf(&sb, "  Usual merchants: %s\n", strings.Join(p.CommonMerchants, ", "))
	}
	return sb.String(), nil
}

func formatMerchant(raw json.RawMessage) (string, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Merchant: %s\n", getString(m, "merchant_name"))
	if v := getString(m, "category"); v != "" {
		fmt.Fprintf(&sb, "  Category: %s\n", v)
	}
	if v, ok := getFloat(m, "risk_score"); ok {
		fmt.Fprintf(&sb, "  Risk score: %.0f/100\n", v)
	}
	for _, flag := range []struct{ key, label string }{
		{"verified", "Verified"},
		{"blacklisted", "Blacklisted"},
		{"suspicious_keywords", "Scam keywords"},
	} {
		if b, ok := m[flag.key].(bool); ok {
			fmt.Fprintf(&sb, "  %s: %s\n", flag.label, yesNo(b))
		}
	}
	return sb.String(), nil
}

func formatTransactionList(raw json.RawMessage) (string, error) {
	var resp struct {
		Transactions []map[string]any `json:"transactions"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("unexpected transactions response format")
	}
	if len(resp.Transactions) == 0 {
		return "No transactions found.", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d transaction(s):\n\n", len(resp.Transactions))
	for i, tx := range resp.Transactions {
		amount, _ := getFloat(tx, "amount")
		score, _ := getFloat(tx, "risk_score")
		fmt.Fprintf(&sb, "%d. ₹%.2f to %s (%s)\n", i+1, amount, getString(tx, "merchant"), getString(tx, "user_id"))
		fmt.Fprintf(&sb, "   %s | score %.0f | %s\n", getString(tx, "decision"), score, getString(tx, "created_at"))
	}
	return sb.String(), nil
}

func formatStats(raw json.RawMessage) (string, error) {
	type counts struct {
		Total     int `json:"total"`
		Safe      int `json:"safe"`
		Blocked   int `json:"blocked"`
		Challenge int `json:"challenge"`
		Caution   int `json:"caution"`
	}
	var s struct {
		Today     counts `json:"today"`
		Yesterday counts `json:"yesterday"`
		Week      counts `json:"week"`
	}
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", err
	}

	var sb strings.Builder
	for _, p := range []struct {
		label string
		c     counts
	}{
		{"Today", s.Today},
		{"Yesterday", s.Yesterday},
		{"Last 7 days", s.Week},
	} {
		fmt.Fprintf(&sb, "%s: %d total, %d safe, %d caution, %d challenge, %d blocked\n",
			p.label, p.c.Total, p.c.Safe, p.c.Caution, p.c.Challenge, p.c.Blocked)
	}
	return sb.String(), nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// numberArg reads a numeric tool argument. JSON numbers arrive as float64.
func numberArg(args map[string]any, key string) (float64, bool) {
	switch v := args[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	}
	return 0, false
}

// getString extracts a string value from a map, trying multiple key names.
func getString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
			if f, ok := v.(float64); ok {
				return fmt.Sprintf("%g", f)
			}
		}
	}
	return ""
}

// getFloat extracts a float64 value from a map, trying multiple key names.
func getFloat(m map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if f, ok := v.(float64); ok {
				return f, true
			}
		}
	}
	return 0, false
}
