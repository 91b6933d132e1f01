package pagination

import (
	"github.com/okian/kpisync/internal/domain/model"
)

// TokenSource selects which credential an attempt authenticates with.
type TokenSource string

// Mode selects how pages are addressed.
type Mode string

// LocationMode selects how the location scope is passed upstream.
type LocationMode string

const (
	TokenTenant TokenSource = "tenant"
	TokenAgency TokenSource = "agency"

	ModeOffset Mode = "offset"
	ModePage   Mode = "page"

	// LocationExplicit sends locationId.
	LocationExplicit LocationMode = "explicit"
	// LocationAltID sends altId with altType=location.
	LocationAltID LocationMode = "alt_id"
	// LocationInferred sends no location and lets the token scope it.
	LocationInferred LocationMode = "inferred"
)

// Attempt is one pagination strategy against the upstream contract.
type Attempt struct {
	Name     string
	Token    TokenSource
	Mode     Mode
	Location LocationMode
}

// DefaultAttempts returns the strategies in the order they are tried.
func DefaultAttempts() []Attempt {
	return []Attempt{
		{Name: "tenant_offset_explicit", Token: TokenTenant, Mode: ModeOffset, Location: LocationExplicit},
		{Name: "tenant_page_explicit", Token: TokenTenant, Mode: ModePage, Location: LocationExplicit},
		{Name: "tenant_offset_alt_id", Token: TokenTenant, Mode: ModeOffset, Location: LocationAltID},
		{Name: "agency_offset_explicit", Token: TokenAgency, Mode: ModeOffset, Location: LocationExplicit},
		{Name: "agency_page_explicit", Token: TokenAgency, Mode: ModePage, Location: LocationExplicit},
		{Name: "tenant_offset_inferred", Token: TokenTenant, Mode: ModeOffset, Location: LocationInferred},
	}
}

// TokenFor returns the credential the attempt uses for integ.
func (a Attempt) TokenFor(integ model.Integration) string {
	if a.Token == TokenAgency {
		return integ.AgencyToken
	}
	return integ.Token
}

// missingPrerequisite names what integ lacks for this attempt, or "".
func (a Attempt) missingPrerequisite(integ model.Integration) string {
	if a.TokenFor(integ) == "" {
		return "no " + string(a.Token) + " token configured"
	}
	if a.Location != LocationInferred && integ.LocationID == "" {
		return "no location id configured"
	}
	return ""
}

// PageRequest addresses one page. Offset-mode fetchers read Offset and
// Limit; page-mode fetchers read Page, Limit and Cursor.
type PageRequest struct {
	Index  int
	Offset int
	Limit  int
	// Page is 1-based.
	Page   int
	Cursor string
}
