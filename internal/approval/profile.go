package approval

import (
	"context"
	"errors"

	"github.com/mcpbox/control-plane/internal/store"
	"github.com/mcpbox/control-plane/pkg/models"
)

// SettingSecurityProfile is the Setting key the admin panel writes when it
// applies one of the three presets.
const SettingSecurityProfile = "approval.security_profile"

type SecurityProfile string

const (
	ProfileStrict     SecurityProfile = "strict"
	ProfileBalanced   SecurityProfile = "balanced"
	ProfilePermissive SecurityProfile = "permissive"
)

// Policy is the set of auto-approve toggles a security profile maps to:
// strict requires approval everywhere and disables remote editing;
// balanced auto-approves tools and modules but still requires network
// approval; permissive auto-approves everything and enables remote
// editing, with secret redaction always on regardless of profile.
type Policy struct {
	AutoApproveTools     bool
	AutoApproveModules   bool
	AutoApproveNetwork   bool
	RemoteEditingEnabled bool
}

var policies = map[SecurityProfile]Policy{
	ProfileStrict: {
		AutoApproveTools:     false,
		AutoApproveModules:   false,
		AutoApproveNetwork:   false,
		RemoteEditingEnabled: false,
	},
	ProfileBalanced: {
		AutoApproveTools:     true,
		AutoApproveModules:   true,
		AutoApproveNetwork:   false,
		RemoteEditingEnabled: false,
	},
	ProfilePermissive: {
		AutoApproveTools:     true,
		AutoApproveModules:   true,
		AutoApproveNetwork:   true,
		RemoteEditingEnabled: true,
	},
}

// PolicyFor returns the auto-approve policy for a named profile, defaulting
// to ProfileStrict (the conservative choice) for an unknown or unset name.
func PolicyFor(profile SecurityProfile) Policy {
	if p, ok := policies[profile]; ok {
		return p
	}
	return policies[ProfileStrict]
}

// CurrentPolicy loads the admin-configured security profile from Settings
// and returns its policy, defaulting to strict when none has been set.
func (s *Service) CurrentPolicy(ctx context.Context) Policy {
	setting, err := s.store.GetSetting(ctx, SettingSecurityProfile)
	if err != nil {
		return PolicyFor(ProfileStrict)
	}
	return PolicyFor(SecurityProfile(setting.Value))
}

// SetSecurityProfile validates and persists the named profile.
func (s *Service) SetSecurityProfile(ctx context.Context, profile SecurityProfile, actor string) error {
	if _, ok := policies[profile]; !ok {
		return errors.New("approval: unknown security profile")
	}
	if err := s.store.UpsertSetting(ctx, &models.Setting{
		Key:       SettingSecurityProfile,
		Value:     string(profile),
		UpdatedBy: actor,
	}); err != nil {
		return err
	}
	s.audit(ctx, actor, "security_profile.set", "setting", SettingSecurityProfile, map[string]interface{}{"profile": string(profile)})
	return nil
}
