package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *SentinelClient
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *SentinelClient) *Handlers {
	return &Handlers{client: client}
}

// HandleCheckBalance returns an account balance.
func (h *Handlers) HandleCheckBalance(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	address := h.addressArg(req, "address")

	raw, err := h.client.GetBalance(ctx, address)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to check balance: %v", err)), nil
	}

	var resp struct {
		Address string `json:"address"`
		Balance uint64 `json:"balance"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse balance: %v", err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("Balance of %s: %d", resp.Address, resp.Balance)), nil
}

// HandleDeposit credits the caller.
func (h *Handlers) HandleDeposit(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	amount, errResult := uintArg(req, "amount")
	if errResult != nil {
		return errResult, nil
	}

	raw, err := h.client.Deposit(ctx, amount)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Deposit failed: %v", err)), nil
	}

	var resp struct {
		Balance uint64 `json:"balance"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse deposit: %v", err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf(
		"Deposited %d\nNew balance: %d", amount, resp.Balance)), nil
}

// HandleSecurePayment sends a screened payment.
func (h *Handlers) HandleSecurePayment(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	recipient := req.GetString("recipient", "")
	if recipient == "" {
		return mcp.NewToolResultError("recipient is required"), nil
	}
	amount, errResult := uintArg(req, "amount")
	if errResult != nil {
		return errResult, nil
	}

	if _, err := h.client.SecurePayment(ctx, recipient, amount); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Payment failed: %v", err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf(
		"Paid %d to %s\nStatus: Settled", amount, recipient)), nil
}

// HandleCreateEscrow locks funds for a recipient.
func (h *Handlers) HandleCreateEscrow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	recipient := req.GetString("recipient", "")
	if recipient == "" {
		return mcp.NewToolResultError("recipient is required"), nil
	}
	amount, errResult := uintArg(req, "amount")
	if errResult != nil {
		return errResult, nil
	}
	nonce, errResult := uintArg(req, "nonce")
	if errResult != nil {
		return errResult, nil
	}

	raw, err := h.client.CreateEscrow(ctx, recipient, amount, nonce)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Escrow creation failed: %v", err)), nil
	}

	text, err := formatEscrow(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse escrow: %v", err)), nil
	}

	return mcp.NewToolResultText("Escrow created.\n\n" + text +
		"\nUse release_escrow with this recipient and nonce to pay it out."), nil
}

// HandleReleaseEscrow pays out a locked escrow.
func (h *Handlers) HandleReleaseEscrow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sender, recipient, nonce, errResult := h.escrowKeyArgs(req)
	if errResult != nil {
		return errResult, nil
	}

	raw, err := h.client.ReleaseEscrow(ctx, sender, recipient, nonce)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Release failed: %v", err)), nil
	}

	text, err := formatEscrow(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse escrow: %v", err)), nil
	}

	return mcp.NewToolResultText("Escrow released.\n\n" + text), nil
}

// HandleGetEscrow looks up an escrow.
func (h *Handlers) HandleGetEscrow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sender, recipient, nonce, errResult := h.escrowKeyArgs(req)
	if errResult != nil {
		return errResult, nil
	}

	raw, err := h.client.GetEscrow(ctx, sender, recipient, nonce)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get escrow: %v", err)), nil
	}

	text, err := formatEscrow(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse escrow: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleGetFraudScore previews a fraud score.
func (h *Handlers) HandleGetFraudScore(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	address := h.addressArg(req, "address")
	amount, errResult := uintArg(req, "amount")
	if errResult != nil {
		return errResult, nil
	}

	raw, err := h.client.GetFraudScore(ctx, address, amount)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get fraud score: %v", err)), nil
	}

	text, err := formatAssessment(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse fraud score: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleGetAccountStatus reports freeze, blacklist, and today's spend.
func (h *Handlers) HandleGetAccountStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	address := h.addressArg(req, "address")

	var flags struct {
		Frozen      bool `json:"frozen"`
		Blacklisted bool `json:"blacklisted"`
	}
	raw, err := h.client.IsFrozen(ctx, address)
	if err == nil {
		err = json.Unmarshal(raw, &flags)
	}
	if err == nil {
		raw, err = h.client.IsBlacklisted(ctx, address)
	}
	if err == nil {
		err = json.Unmarshal(raw, &flags)
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get account status: %v", err)), nil
	}

	var daily struct {
		Stats struct {
			Day    uint64 `json:"day"`
			Amount uint64 `json:"amount"`
			Count  uint64 `json:"count"`
		} `json:"stats"`
	}
	raw, err = h.client.GetDailyStats(ctx, address)
	if err == nil {
		err = json.Unmarshal(raw, &daily)
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get daily stats: %v", err)), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Account %s:\n", address)
	fmt.Fprintf(&sb, "  Frozen:      %s\n", yesNo(flags.Frozen))
	fmt.Fprintf(&sb, "  Blacklisted: %s\n", yesNo(flags.Blacklisted))
	fmt.Fprintf(&sb, "  Day %d: %d spent across %d payment(s)\n", daily.Stats.Day, daily.Stats.Amount, daily.Stats.Count)
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleGetSettings returns the ledger settings.
func (h *Handlers) HandleGetSettings(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.GetSettings(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get settings: %v", err)), nil
	}

	return mcp.NewToolResultText(formatJSON(raw)), nil
}

// --- Argument helpers ---

// addressArg returns the named address argument, defaulting to the caller.
func (h *Handlers) addressArg(req mcp.CallToolRequest, name string) string {
	if v := req.GetString(name, ""); v != "" {
		return v
	}
	return h.client.Caller()
}

func (h *Handlers) escrowKeyArgs(req mcp.CallToolRequest) (string, string, uint64, *mcp.CallToolResult) {
	sender := h.addressArg(req, "sender")
	recipient := req.GetString("recipient", "")
	if recipient == "" {
		return "", "", 0, mcp.NewToolResultError("recipient is required")
	}
	nonce, errResult := uintArg(req, "nonce")
	if errResult != nil {
		return "", "", 0, errResult
	}
	return sender, recipient, nonce, nil
}

// maxExactFloat is the largest float64 below which every integer is
// represented exactly. Larger JSON numbers may already have been rounded.
const maxExactFloat = 1 << 53

// uintArg parses a whole-unit argument. Strings are preferred; numbers are
// accepted only when they are integers small enough to have survived JSON
// decoding unrounded.
func uintArg(req mcp.CallToolRequest, name string) (uint64, *mcp.CallToolResult) {
	raw, ok := req.GetArguments()[name]
	if !ok || raw == nil {
		return 0, mcp.NewToolResultError(name + " is required")
	}
	switch v := raw.(type) {
	case string:
		n, err := strconv.ParseUint(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, mcp.NewToolResultError(fmt.Sprintf("%s must be a non-negative integer, got %q", name, v))
		}
		return n, nil
	case float64:
		if v < 0 || v != float64(uint64(v)) {
			return 0, mcp.NewToolResultError(fmt.Sprintf("%s must be a non-negative integer, got %v", name, v))
		}
		if v >= maxExactFloat {
			return 0, mcp.NewToolResultError(fmt.Sprintf("%s is too large to pass as a number; send it as a decimal string", name))
		}
		return uint64(v), nil
	}
	return 0, mcp.NewToolResultError(name + " must be a non-negative integer")
}

// --- Formatting helpers ---

type escrowInfo struct {
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	Nonce     uint64 `json:"nonce"`
	Amount    uint64 `json:"amount"`
	Timestamp uint64 `json:"timestamp"`
	Released  bool   `json:"released"`
	Status    string `json:"status"`
}

func formatEscrow(raw json.RawMessage) (string, error) {
	var resp struct {
		Escrow *escrowInfo `json:"escrow"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}
	if resp.Escrow == nil {
		return "", fmt.Errorf("no escrow in response: %s", string(raw))
	}
	e := resp.Escrow

	var sb strings.Builder
	fmt.Fprintf(&sb, "Escrow %s -> %s (nonce %d)\n", e.Sender, e.Recipient, e.Nonce)
	fmt.Fprintf(&sb, "  Amount: %d\n", e.Amount)
	fmt.Fprintf(&sb, "  Status: %s\n", e.Status)
	fmt.Fprintf(&sb, "  Created on day: %d\n", e.Timestamp)
	return sb.String(), nil
}

func formatAssessment(raw json.RawMessage) (string, error) {
	var resp struct {
		Assessment *struct {
			User    string `json:"user"`
			Amount  uint64 `json:"amount"`
			Day     uint64 `json:"day"`
			Score   uint64 `json:"score"`
			Flagged bool   `json:"flagged"`
			Factors struct {
				Base      uint64 `json:"base"`
				Frequency uint64 `json:"frequency"`
				Oversize  uint64 `json:"oversize"`
				History   uint64 `json:"history"`
			} `json:"factors"`
		} `json:"assessment"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}
	a := resp.Assessment
	if a == nil {
		return "", fmt.Errorf("no assessment in response: %s", string(raw))
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Fraud score for %s paying %d on day %d: %d\n", a.User, a.Amount, a.Day, a.Score)
	fmt.Fprintf(&sb, "  Amount:    %d\n", a.Factors.Base)
	fmt.Fprintf(&sb, "  Frequency: %d\n", a.Factors.Frequency)
	fmt.Fprintf(&sb, "  Oversize:  %d\n", a.Factors.Oversize)
	fmt.Fprintf(&sb, "  History:   %d\n", a.Factors.History)
	if a.Flagged {
		sb.WriteString("Verdict: would be REJECTED\n")
	} else {
		sb.WriteString("Verdict: would pass\n")
	}
	return sb.String(), nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func formatJSON(raw json.RawMessage) string {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		return string(raw)
	}
	return pretty.String()
}
