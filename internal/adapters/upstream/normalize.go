package upstream

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/okian/kpisync/internal/domain/model"
)

type object = map[string]any

// ParsePage normalizes any of the listing shapes upstream has been seen to
// return into a Page. A body without a row container, such as an error
// object sent with a 2xx status, is ErrUnrecognizedShape. An explicitly
// empty list is a valid empty page.
func ParsePage(body []byte) (model.Page, error) {
	root, err := decode(body)
	if err != nil {
		return model.Page{}, err
	}
	list, ok := rowList(root)
	if !ok {
		return model.Page{}, fmt.Errorf("%w: %s", ErrUnrecognizedShape, truncate(string(body), maxErrorBody))
	}

	var page model.Page
	for _, item := range list {
		obj, ok := item.(object)
		if !ok {
			continue
		}
		page.Rows = append(page.Rows, parseRow(obj))
	}
	if obj, ok := root.(object); ok {
		page.Meta = parseMeta(obj)
	}
	return page, nil
}

func decode(body []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var root any
	if err := dec.Decode(&root); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return root, nil
}

// rowList finds the row container. ok is false when the body has none.
func rowList(root any) ([]any, bool) {
	switch v := root.(type) {
	case []any:
		return v, true
	case object:
		if list, ok := v["transactions"].([]any); ok {
			return list, true
		}
		switch data := v["data"].(type) {
		case []any:
			return data, true
		case object:
			if list, ok := data["items"].([]any); ok {
				return list, true
			}
			if list, ok := data["transactions"].([]any); ok {
				return list, true
			}
		}
		if list, ok := v["items"].([]any); ok {
			return list, true
		}
	}
	return nil, false
}

func parseMeta(root object) model.PageMeta {
	var meta model.PageMeta
	scopes := []object{}
	for _, k := range []string{"pagination", "meta"} {
		if o, ok := root[k].(object); ok {
			scopes = append(scopes, o)
		}
	}
	if data, ok := root["data"].(object); ok {
		scopes = append(scopes, data)
	}
	scopes = append(scopes, root)

	for _, s := range scopes {
		if !meta.HasMoreKnown {
			if b, ok := firstBool(s, "hasMore", "has_more", "hasNext", "hasNextPage"); ok {
				meta.HasMore, meta.HasMoreKnown = b, true
			}
		}
		if meta.NextPage == 0 {
			meta.NextPage = firstInt(s, "nextPage", "next_page")
		}
		if meta.NextCursor == "" {
			meta.NextCursor = firstString(s, "nextCursor", "next_cursor", "startAfterId", "nextPageToken")
		}
		if meta.TotalCount == 0 {
			meta.TotalCount = firstInt(s, "total", "totalCount", "total_count", "totalItems")
		}
	}
	return meta
}

func parseRow(o object) model.TransactionRecord {
	r := model.TransactionRecord{
		ID:             firstString(o, "_id", "id", "transactionId"),
		ContactID:      firstString(o, "contactId", "contact_id"),
		Amount:         firstDecimal(o, "amount", "total", "value"),
		AmountRefunded: firstDecimal(o, "amountRefunded", "amount_refunded", "refundedAmount"),
		Currency:       strings.ToUpper(firstString(o, "currency")),
		Status:         firstString(o, "status", "paymentStatus"),
		PaymentMethod:  firstString(o, "paymentProviderType", "paymentMethod", "method"),
		State:          firstString(o, "state"),
		City:           firstString(o, "city"),
		County:         firstString(o, "county"),
	}
	if r.ContactID == "" {
		if c, ok := o["contact"].(object); ok {
			r.ContactID = firstString(c, "id", "_id")
		}
	}
	if r.Currency == "" {
		r.Currency = model.DefaultCurrency
	}

	r.Source = firstString(o, "entitySourceName", "source")
	if r.Source == "" {
		for _, k := range []string{"source", "entitySource"} {
			if s, ok := o[k].(object); ok {
				r.Source = firstString(s, "name", "type")
				break
			}
		}
	}
	r.Source = NormalizeText(r.Source)

	if addr, ok := o["address"].(object); ok {
		if r.State == "" {
			r.State = firstString(addr, "state")
		}
		if r.City == "" {
			r.City = firstString(addr, "city")
		}
		if r.County == "" {
			r.County = firstString(addr, "county")
		}
	}

	for _, k := range []string{"liveMode", "live_mode", "livemode"} {
		if b, ok := o[k].(bool); ok {
			live := b
			r.LiveMode = &live
			break
		}
	}

	for _, k := range []string{"createdAt", "created_at", "dateAdded", "createdOn"} {
		v, ok := o[k]
		if !ok || v == nil {
			continue
		}
		r.CreatedAt, r.CreatedMs = parseTimestamp(v)
		if r.CreatedMs > 0 {
			break
		}
	}
	return r
}

// NormalizeText trims and collapses whitespace runs.
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// parseTimestamp accepts ISO-8601 strings and epoch seconds or milliseconds.
func parseTimestamp(v any) (string, int64) {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05", time.DateOnly} {
			if ts, err := time.Parse(layout, s); err == nil {
				return s, ts.UnixMilli()
			}
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return epoch(n)
		}
		return s, 0
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return epoch(n)
		}
		if f, err := t.Float64(); err == nil {
			return epoch(int64(f))
		}
	}
	return "", 0
}

func epoch(n int64) (string, int64) {
	if n <= 0 {
		return "", 0
	}
	ms := n
	if n < 1e12 {
		ms = n * 1000
	}
	return time.UnixMilli(ms).UTC().Format(time.RFC3339Nano), ms
}

func firstString(o object, keys ...string) string {
	for _, k := range keys {
		switch v := o[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case json.Number:
			return v.String()
		}
	}
	return ""
}

func firstInt(o object, keys ...string) int {
	for _, k := range keys {
		switch v := o[k].(type) {
		case json.Number:
			if n, err := v.Int64(); err == nil {
				return int(n)
			}
		case string:
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				return n
			}
		}
	}
	return 0
}

func firstBool(o object, keys ...string) (bool, bool) {
	for _, k := range keys {
		if b, ok := o[k].(bool); ok {
			return b, true
		}
	}
	return false, false
}

func firstDecimal(o object, keys ...string) decimal.Decimal {
	for _, k := range keys {
		var raw string
		switch v := o[k].(type) {
		case json.Number:
			raw = v.String()
		case string:
			raw = strings.TrimSpace(v)
		default:
			continue
		}
		if d, err := decimal.NewFromString(raw); err == nil {
			return d
		}
	}
	return decimal.Zero
}
