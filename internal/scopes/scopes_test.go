package scopes

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistryInvariants(t *testing.T) {
	t.Run("required_admin_edges_point_at_admin_scopes", func(t *testing.T) {
		for _, s := range All() {
			if required, ok := s.RequiredAdmin(); ok {
				require.True(t, required.IsAdmin(), "scope %q", s)
			}
		}
	})

	t.Run("prerequisites_have_matching_admin_status", func(t *testing.T) {
		for _, s := range All() {
			if prereq, ok := s.Prerequisite(); ok {
				require.Equal(t, s.IsAdmin(), prereq.IsAdmin(), "scope %q", s)
			}
		}
	})

	t.Run("prerequisites_are_valid_scopes", func(t *testing.T) {
		for _, s := range All() {
			if prereq, ok := s.Prerequisite(); ok {
				require.True(t, prereq.Valid(), "scope %q", s)
			}
		}
	})
}

func TestParse(t *testing.T) {
	s, err := Parse("mantarray:base")
	require.NoError(t, err)
	require.Equal(t, MantarrayBase, s)

	_, err = Parse("mantarray:bogus")
	var invalid *InvalidScopeError
	require.ErrorAs(t, err, &invalid)
	require.Equal(t, "mantarray:bogus", invalid.Raw)
}

func TestValidateDependencies(t *testing.T) {
	valid := [][]Scope{
		{MantarrayAdmin},
		{MantarrayAdmin, MantarrayNMJ},
		{MantarrayAdmin, MantarrayClsAlg},
		{MantarrayBase},
		{MantarrayBase, MantarrayRWAllData},
		{MantarrayBase, MantarrayFirmwareList, MantarrayFirmwareEdit},
	}
	for _, set := range valid {
		require.NoError(t, ValidateDependencies(set), "%v", set)
	}

	invalid := [][]Scope{
		{MantarrayNMJ},
		{MantarrayClsAlg},
		{MantarrayRWAllData},
		{MantarrayFirmwareList, MantarrayFirmwareEdit},
		{MantarrayBase, MantarrayFirmwareEdit},
	}
	for _, set := range invalid {
		err := ValidateDependencies(set)
		var missing *MissingScopeDependencyError
		require.ErrorAs(t, err, &missing, "%v", set)
	}
}

func TestCheckProhibitedUserScopes(t *testing.T) {
	valid := []struct {
		admin []Scope
		user  Scope
	}{
		{[]Scope{MantarrayAdmin}, MantarrayBase},
		{[]Scope{MantarrayAdmin, NautilaiAdmin}, MantarrayBase},
		{[]Scope{MantarrayAdmin}, MantarrayRWAllData},
		{[]Scope{CuriAdmin}, MantarrayFirmwareList},
		{[]Scope{NautilaiAdmin}, NautilaiBase},
		{[]Scope{Pulse3DAdmin}, Pulse3DRWAllData},
	}
	for _, tc := range valid {
		require.NoError(t, CheckProhibitedUserScopes([]Scope{tc.user}, tc.admin),
			"user=%v admin=%v", tc.user, tc.admin)
	}

	invalid := []struct {
		admin []Scope
		user  Scope
	}{
		{[]Scope{NautilaiAdmin}, MantarrayBase},
		{[]Scope{MantarrayAdmin}, MantarrayFirmwareList},
		{[]Scope{MantarrayAdmin}, NautilaiBase},
		{[]Scope{CuriAdmin, MantarrayAdmin}, CuriAdmin},
		{[]Scope{CuriAdmin, MantarrayAdmin}, MantarrayAdmin},
		{[]Scope{CuriAdmin, MantarrayAdmin}, UserVerify},
		{[]Scope{CuriAdmin, MantarrayAdmin}, UserReset},
		{[]Scope{CuriAdmin, MantarrayAdmin}, AdminVerify},
		{[]Scope{CuriAdmin, MantarrayAdmin}, AdminReset},
		{[]Scope{CuriAdmin, MantarrayAdmin}, Refresh},
	}
	for _, tc := range invalid {
		err := CheckProhibitedUserScopes([]Scope{tc.user}, tc.admin)
		var prohibited *ProhibitedScopeError
		require.ErrorAs(t, err, &prohibited, "user=%v admin=%v", tc.user, tc.admin)
	}
}

func TestCheckProhibitedAdminScopes(t *testing.T) {
	for _, s := range []Scope{MantarrayAdmin, MantarrayNMJ, MantarrayClsAlg, NautilaiAdmin} {
		require.NoError(t, CheckProhibitedAdminScopes([]Scope{s}, []Scope{CuriAdmin}), "%v", s)
	}

	invalid := []struct {
		target  Scope
		granter []Scope
	}{
		{CuriAdmin, []Scope{CuriAdmin}},
		{MantarrayAdmin, nil},
		{MantarrayAdmin, []Scope{MantarrayAdmin}},
		{CuriAdmin, []Scope{MantarrayBase}},
		{MantarrayAdmin, []Scope{MantarrayBase}},
		{CuriAdmin, []Scope{Refresh}},
		{MantarrayBase, []Scope{CuriAdmin}},
		{AdminVerify, []Scope{CuriAdmin}},
	}
	for _, tc := range invalid {
		err := CheckProhibitedAdminScopes([]Scope{tc.target}, tc.granter)
		var prohibited *ProhibitedScopeError
		require.ErrorAs(t, err, &prohibited, "target=%v granter=%v", tc.target, tc.granter)
	}
}

func TestWithTag(t *testing.T) {
	readers := WithTag(TagPulse3DRead)
	require.Contains(t, readers, MantarrayBase)
	require.Contains(t, readers, Pulse3DRWAllData)
	require.Contains(t, readers, MantarrayAdmin)
	require.NotContains(t, readers, AdvancedAnalysisBase)
	require.NotContains(t, readers, Refresh)
}
