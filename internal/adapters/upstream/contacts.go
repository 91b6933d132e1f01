package upstream

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/okian/kpisync/internal/domain/model"
)

// ContactsAPI loads contact profiles.
type ContactsAPI struct {
	exec    Executor
	baseURL string
	version string
}

// NewContactsAPI creates a contact source against baseURL.
func NewContactsAPI(exec Executor, baseURL, version string) *ContactsAPI {
	return &ContactsAPI{
		exec:    exec,
		baseURL: strings.TrimRight(baseURL, "/"),
		version: version,
	}
}

// GetContact fetches one contact; the tenant token is preferred over the agency one.
func (c *ContactsAPI) GetContact(ctx context.Context, integ model.Integration, id string) (model.ContactProfile, error) {
	token := integ.Token
	if token == "" {
		token = integ.AgencyToken
	}
	var headers map[string]string
	if c.version != "" {
		headers = map[string]string{"Version": c.version}
	}

	body, err := c.exec.Execute(ctx, RequestSpec{
		Endpoint: "contacts",
		Method:   http.MethodGet,
		URL:      c.baseURL + "/contacts/" + url.PathEscape(id),
		Token:    token,
		Headers:  headers,
	})
	if err != nil {
		return model.ContactProfile{}, err
	}
	return ParseContact(body)
}

// ParseContact accepts {"contact": {...}} or a bare contact object.
func ParseContact(body []byte) (model.ContactProfile, error) {
	root, err := decode(body)
	if err != nil {
		return model.ContactProfile{}, err
	}
	obj, ok := root.(object)
	if !ok {
		return model.ContactProfile{}, fmt.Errorf("%w: contact is not an object", ErrDecode)
	}
	if inner, ok := obj["contact"].(object); ok {
		obj = inner
	}

	p := model.ContactProfile{
		ID:     firstString(obj, "id", "_id"),
		State:  firstString(obj, "state"),
		City:   firstString(obj, "city"),
		County: firstString(obj, "county"),
		Source: NormalizeText(firstString(obj, "source")),
	}
	if addr, ok := obj["address"].(object); ok {
		if p.State == "" {
			p.State = firstString(addr, "state")
		}
		if p.City == "" {
			p.City = firstString(addr, "city")
		}
	}

	fields, _ := obj["customFields"].([]any)
	if fields == nil {
		fields, _ = obj["customField"].([]any)
	}
	for _, f := range fields {
		fo, ok := f.(object)
		if !ok {
			continue
		}
		cf := model.CustomField{
			ID:    firstString(fo, "id"),
			Key:   firstString(fo, "key", "fieldKey"),
			Name:  firstString(fo, "name"),
			Value: firstString(fo, "value", "fieldValue"),
		}
		if cf.Value == "" {
			continue
		}
		p.CustomFields = append(p.CustomFields, cf)
	}
	return p, nil
}
