package scopes

// Scope is a capability string bound to an account. The set of legal scopes
// is closed: anything not present in the registry below is invalid.
type Scope string

const (
	// root admin, may grant every other admin scope
	CuriAdmin Scope = "curi:admin"

	// product admin scopes, held at the customer level
	MantarrayAdmin        Scope = "mantarray:admin"
	NautilaiAdmin         Scope = "nautilai:admin"
	Pulse3DAdmin          Scope = "pulse3d:admin"
	AdvancedAnalysisAdmin Scope = "advanced_analysis:admin"

	// internal analysis-algorithm scopes, admin-level
	MantarrayNMJ    Scope = "mantarray:nmj"
	MantarrayClsAlg Scope = "mantarray:cls_alg"

	// product user scopes
	MantarrayBase         Scope = "mantarray:base"
	MantarrayRWAllData    Scope = "mantarray:rw_all_data"
	NautilaiBase          Scope = "nautilai:base"
	NautilaiRWAllData     Scope = "nautilai:rw_all_data"
	Pulse3DBase           Scope = "pulse3d:base"
	Pulse3DRWAllData      Scope = "pulse3d:rw_all_data"
	AdvancedAnalysisBase  Scope = "advanced_analysis:base"
	MantarrayFirmwareList Scope = "mantarray:firmware:list"
	MantarrayFirmwareEdit Scope = "mantarray:firmware:edit"

	// account-lifecycle scopes: single-scope tokens sent in email links
	UserVerify  Scope = "user:verify"
	UserReset   Scope = "user:reset"
	AdminVerify Scope = "admin:verify"
	AdminReset  Scope = "admin:reset"

	// the only scope a refresh token may carry
	Refresh Scope = "refresh"
)

type Tag string

const (
	TagAdmin                Tag = "admin"
	TagAccount              Tag = "account"
	TagPulse3DRead          Tag = "pulse3d_read"
	TagPulse3DWrite         Tag = "pulse3d_write"
	TagAdvancedAnalysisRead Tag = "advanced_analysis_read"
)

type spec struct {
	tags          []Tag
	prerequisite  Scope
	requiredAdmin Scope
}

// registry is the single source of truth for the scope graph. Prerequisite
// edges always connect scopes of matching admin-ness; requiredAdmin names
// the admin scope a granter must hold to assign the scope to a user.
var registry = map[Scope]spec{
	CuriAdmin: {tags: []Tag{TagAdmin, TagPulse3DRead, TagAdvancedAnalysisRead}},

	MantarrayAdmin:        {tags: []Tag{TagAdmin, TagPulse3DRead}},
	NautilaiAdmin:         {tags: []Tag{TagAdmin, TagPulse3DRead}},
	Pulse3DAdmin:          {tags: []Tag{TagAdmin, TagPulse3DRead}},
	AdvancedAnalysisAdmin: {tags: []Tag{TagAdmin, TagAdvancedAnalysisRead}},

	MantarrayNMJ:    {tags: []Tag{TagAdmin}, prerequisite: MantarrayAdmin},
	MantarrayClsAlg: {tags: []Tag{TagAdmin}, prerequisite: MantarrayAdmin},

	MantarrayBase: {tags: []Tag{TagPulse3DRead, TagPulse3DWrite}, requiredAdmin: MantarrayAdmin},
	MantarrayRWAllData: {
		tags:          []Tag{TagPulse3DRead, TagPulse3DWrite},
		prerequisite:  MantarrayBase,
		requiredAdmin: MantarrayAdmin,
	},
	NautilaiBase: {tags: []Tag{TagPulse3DRead, TagPulse3DWrite}, requiredAdmin: NautilaiAdmin},
	NautilaiRWAllData: {
		tags:          []Tag{TagPulse3DRead, TagPulse3DWrite},
		prerequisite:  NautilaiBase,
		requiredAdmin: NautilaiAdmin,
	},
	Pulse3DBase: {tags: []Tag{TagPulse3DRead, TagPulse3DWrite}, requiredAdmin: Pulse3DAdmin},
	Pulse3DRWAllData: {
		tags:          []Tag{TagPulse3DRead, TagPulse3DWrite},
		prerequisite:  Pulse3DBase,
		requiredAdmin: Pulse3DAdmin,
	},
	AdvancedAnalysisBase: {
		tags:          []Tag{TagAdvancedAnalysisRead},
		requiredAdmin: AdvancedAnalysisAdmin,
	},
	MantarrayFirmwareList: {requiredAdmin: CuriAdmin},
	MantarrayFirmwareEdit: {prerequisite: MantarrayFirmwareList, requiredAdmin: CuriAdmin},

	UserVerify:  {tags: []Tag{TagAccount}},
	UserReset:   {tags: []Tag{TagAccount}},
	AdminVerify: {tags: []Tag{TagAccount, TagAdmin}},
	AdminReset:  {tags: []Tag{TagAccount, TagAdmin}},

	Refresh: {},
}

// All returns every legal scope. Order is unspecified.
func All() []Scope {
	all := make([]Scope, 0, len(registry))
	for s := range registry {
		all = append(all, s)
	}
	return all
}

func (s Scope) Valid() bool {
	_, ok := registry[s]
	return ok
}

func (s Scope) HasTag(t Tag) bool {
	for _, tag := range registry[s].tags {
		if tag == t {
			return true
		}
	}
	return false
}

// IsAdmin reports whether the scope may only ever be held by an admin
// account.
func (s Scope) IsAdmin() bool {
	return s.HasTag(TagAdmin)
}

func (s Scope) IsAccount() bool {
	return s.HasTag(TagAccount)
}

// Prerequisite returns the scope that must also be held for s to be valid,
// if any.
func (s Scope) Prerequisite() (Scope, bool) {
	p := registry[s].prerequisite
	return p, p != ""
}

// RequiredAdmin returns the admin scope a granter must hold to assign s to
// a user, if any.
func (s Scope) RequiredAdmin() (Scope, bool) {
	r := registry[s].requiredAdmin
	return r, r != ""
}

// WithTag returns all scopes carrying the given tag.
func WithTag(t Tag) []Scope {
	var matched []Scope
	for s := range registry {
		if s.HasTag(t) {
			matched = append(matched, s)
		}
	}
	return matched
}

// Parse converts a stored scope string, rejecting anything outside the
// closed set.
func Parse(raw string) (Scope, error) {
	s := Scope(raw)
	if !s.Valid() {
		return "", &InvalidScopeError{Raw: raw}
	}
	return s, nil
}
