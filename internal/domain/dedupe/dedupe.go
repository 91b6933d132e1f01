// Package dedupe merges transaction rows by their stable identity.
package dedupe

import (
	"sort"
	"strings"

	"github.com/okian/kpisync/internal/domain/model"
)

// Key returns the identity of a row, or "" when it has none.
// Rows without an id fall back to contactId|createdAt|amount|status, which
// needs at least a contact id or a timestamp to be meaningful.
func Key(r model.TransactionRecord) string {
	if id := strings.TrimSpace(r.ID); id != "" {
		return id
	}
	contact := strings.TrimSpace(r.ContactID)
	created := strings.TrimSpace(r.CreatedAt)
	if contact == "" && created == "" {
		return ""
	}
	return "c:" + contact + "|" + created + "|" + r.Amount.String() + "|" + strings.ToLower(strings.TrimSpace(r.Status))
}

// Merge folds fetched rows into prior rows. Per key the row with the greater
// CreatedMs wins and on a tie the fetched row replaces the stored one.
// Keyless rows are dropped. Output is ordered newest first, then by key.
func Merge(prior, fetched []model.TransactionRecord) []model.TransactionRecord {
	byKey := make(map[string]model.TransactionRecord, len(prior)+len(fetched))
	put := func(r model.TransactionRecord) {
		k := Key(r)
		if k == "" {
			return
		}
		if cur, ok := byKey[k]; ok && cur.CreatedMs > r.CreatedMs {
			return
		}
		byKey[k] = r
	}
	for _, r := range prior {
		put(r)
	}
	for _, r := range fetched {
		put(r)
	}

	out := make([]model.TransactionRecord, 0, len(byKey))
	for _, r := range byKey {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedMs != out[j].CreatedMs {
			return out[i].CreatedMs > out[j].CreatedMs
		}
		return Key(out[i]) < Key(out[j])
	})
	return out
}

// Coverage returns the newest and oldest known CreatedMs of rows.
// Rows with an unknown timestamp are ignored; both are 0 when none is known.
func Coverage(rows []model.TransactionRecord) (newest, oldest int64) {
	for _, r := range rows {
		if r.CreatedMs <= 0 {
			continue
		}
		if newest == 0 || r.CreatedMs > newest {
			newest = r.CreatedMs
		}
		if oldest == 0 || r.CreatedMs < oldest {
			oldest = r.CreatedMs
		}
	}
	return newest, oldest
}

// PageSignature identifies a page by its row keys so a repeated page can be
// spotted when upstream ignores the pagination parameters.
func PageSignature(rows []model.TransactionRecord) string {
	if len(rows) == 0 {
		return ""
	}
	var b strings.Builder
	for i, r := range rows {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(Key(r))
	}
	return b.String()
}
