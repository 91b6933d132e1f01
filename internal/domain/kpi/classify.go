// Package kpi computes range-scoped transaction KPIs and geography breakdowns.
package kpi

import (
	"strings"
)

// Class is the revenue classification of a status.
type Class int

const (
	ClassOther Class = iota
	ClassRevenue
	ClassRefund
)

func (c Class) String() string {
	switch c {
	case ClassRevenue:
		return "revenue"
	case ClassRefund:
		return "refund"
	default:
		return "other"
	}
}

var (
	refundWords   = []string{"refund", "chargeback", "reversed", "reversal", "disputed"}
	excludedWords = []string{"pending", "processing", "failed", "declined", "canceled", "cancelled", "void", "unpaid", "incomplete"}
	revenueWords  = []string{"succeeded", "success", "paid", "completed", "captured", "settled"}
)

// Classify maps a free-text upstream status to a Class. Refund-like words
// win over everything, excluded words over revenue words.
func Classify(status string) Class {
	s := strings.ToLower(strings.TrimSpace(status))
	if s == "" {
		return ClassOther
	}
	if containsAny(s, refundWords) {
		return ClassRefund
	}
	if containsAny(s, excludedWords) {
		return ClassOther
	}
	if containsAny(s, revenueWords) {
		return ClassRevenue
	}
	return ClassOther
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
