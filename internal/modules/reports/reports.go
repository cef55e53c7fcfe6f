// Package reports renders the operator-facing chat texts for the trade
// lifecycle: the pre-trade analysis report and the follow-up notices for
// execution, rejection and expiry. Every text is a pure function of its
// inputs so callers can format without touching any shared state.
package reports

import (
	"fmt"
	"strings"

	"github.com/aristath/nse-trader/internal/domain"
)

const divider = "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━"

// timeLayout renders timestamps as dd-MMM-yyyy HH:mm
const timeLayout = "02-Jan-2006 15:04"

// PreTrade builds the full pre-trade analysis report for a proposal.
// Warnings from risk validation, when present, are listed in their own
// block above the reply instructions.
func PreTrade(sig *domain.TradeSignal, warnings []string) string {
	var sb strings.Builder

	sb.WriteString("📊 PRE-TRADE ANALYSIS REPORT — " + sig.GeneratedAt.Format(timeLayout) + "\n")
	sb.WriteString(divider + "\n")
	sb.WriteString(fmt.Sprintf("TRADE ID          :  %s\n", sig.TradeID))
	sb.WriteString(fmt.Sprintf("ASSET NAME        :  %s (%s: %s)\n", sig.Symbol, sig.Exchange, sig.Symbol))
	sb.WriteString(fmt.Sprintf("SIGNAL TYPE       :  %s\n", sig.Action))
	sb.WriteString(divider + "\n")
	sb.WriteString(fmt.Sprintf("BUY PRICE         :  ₹%.2f  (Limit order)\n", sig.EntryPrice))
	sb.WriteString(fmt.Sprintf("TARGET PRICE      :  ₹%.2f\n", sig.TargetPrice))
	sb.WriteString(fmt.Sprintf("STOP-LOSS PRICE   :  ₹%.2f  (NEVER moved down)\n", sig.StopLoss))
	sb.WriteString(fmt.Sprintf("RISK-REWARD RATIO :  1 : %.1f\n", sig.RRRatio))
	sb.WriteString(fmt.Sprintf("CONFIDENCE SCORE  :  %.0f%%  [F:%.0f%% T:%.0f%% M:%.0f%% RR:%.0f%%]\n",
		sig.Confidence.Composite,
		sig.Confidence.Fundamental,
		sig.Confidence.Technical,
		sig.Confidence.Macro,
		sig.Confidence.RiskReward))
	sb.WriteString(divider + "\n")
	sb.WriteString(fmt.Sprintf("CAPITAL ALLOC     :  ₹%.0f  (%.1f%% of portfolio)\n", sig.Allocation, sig.AllocationPct))
	sb.WriteString(divider + "\n")

	if len(warnings) > 0 {
		sb.WriteString("⚠️  RISK WARNINGS:\n")
		for _, w := range warnings {
			sb.WriteString("   • " + w + "\n")
		}
		sb.WriteString(divider + "\n")
	}

	sb.WriteString(fmt.Sprintf("📲 Reply: APPROVE %s  or  REJECT %s [reason]\n", sig.TradeID, sig.TradeID))
	sb.WriteString("⏰ Signal expires at: " + sig.ExpiresAt.Format(timeLayout))

	return sb.String()
}

// ExecutionConfirmation announces a placed buy order
func ExecutionConfirmation(sig *domain.TradeSignal, quantity int, brokerOrderID string) string {
	return fmt.Sprintf("✅ ORDER PLACED\n"+
		"Trade ID  : %s\n"+
		"Symbol    : %s @ ₹%.2f\n"+
		"Qty       : %d shares\n"+
		"Stop-loss : ₹%.2f\n"+
		"Target    : ₹%.2f\n"+
		"Order ID  : %s",
		sig.TradeID, sig.Symbol, sig.EntryPrice,
		quantity, sig.StopLoss, sig.TargetPrice, brokerOrderID)
}

// PaperFill announces a simulated fill for an approved proposal
func PaperFill(sig *domain.TradeSignal) string {
	return fmt.Sprintf("📄 <b>PAPER TRADE EXECUTED</b>\n"+
		"Trade ID : %s\n"+
		"Symbol   : %s @ ₹%.2f\n"+
		"No real order placed (paper trading mode).",
		sig.TradeID, sig.Symbol, sig.EntryPrice)
}

// RejectionAck acknowledges an operator rejection
func RejectionAck(tradeID, reason string) string {
	return fmt.Sprintf("❌ SIGNAL REJECTED\nTrade ID: %s\nReason: %s\n"+
		"Signal archived for learning module.", tradeID, reason)
}

// ExpiryNotice announces that a proposal timed out without a reply
func ExpiryNotice(tradeID string) string {
	return fmt.Sprintf("⏰ SIGNAL EXPIRED\nTrade ID: %s\n"+
		"No response received — signal auto-expired. No trade placed.", tradeID)
}

// Alert wraps a body under a bold title line
func Alert(title, body string) string {
	return fmt.Sprintf("<b>%s</b>\n%s", title, body)
}
