package media

import (
	"fmt"
	"regexp"
	"strings"
)

// ResolutionProfile is one rung of the transcode ladder.
type ResolutionProfile struct {
	Name       string
	Resolution string
	Bitrate    string
}

// ProfileTable is the ordered, immutable set of profiles an Ingestor encodes.
// The zero value is an empty table.
type ProfileTable struct {
	profiles []ResolutionProfile
}

var resolutionPattern = regexp.MustCompile(`^[1-9][0-9]*x[1-9][0-9]*$`)

// ParseProfiles parses a `name:WxH:bitrate,...` ladder. Order is preserved.
// A blank ladder is an error rather than an implicit default.
func ParseProfiles(spec string) (ProfileTable, error) {
	if strings.TrimSpace(spec) == "" {
		return ProfileTable{}, ErrNoProfiles
	}
	entries := strings.Split(spec, ",")
	profiles := make([]ResolutionProfile, 0, len(entries))
	seen := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		fields := strings.Split(entry, ":")
		if len(fields) != 3 {
			return ProfileTable{}, fmt.Errorf("profile %q: expected name:WxH:bitrate", entry)
		}
		profile := ResolutionProfile{
			Name:       strings.TrimSpace(fields[0]),
			Resolution: strings.ToLower(strings.TrimSpace(fields[1])),
			Bitrate:    strings.TrimSpace(fields[2]),
		}
		if profile.Name == "" || profile.Resolution == "" || profile.Bitrate == "" {
			return ProfileTable{}, fmt.Errorf("profile %q: empty field", entry)
		}
		if strings.ContainsAny(profile.Name, `/\ `) || profile.Name == "original" {
			return ProfileTable{}, fmt.Errorf("profile %q: invalid name %q", entry, profile.Name)
		}
		if !resolutionPattern.MatchString(profile.Resolution) {
			return ProfileTable{}, fmt.Errorf("profile %q: resolution must look like 1280x720", entry)
		}
		if _, dup := seen[profile.Name]; dup {
			return ProfileTable{}, fmt.Errorf("profile %q: duplicate name", entry)
		}
		seen[profile.Name] = struct{}{}
		profiles = append(profiles, profile)
	}
	if len(profiles) == 0 {
		return ProfileTable{}, ErrNoProfiles
	}
	return ProfileTable{profiles: profiles}, nil
}

// NewProfileTable builds a table from already-validated profiles.
func NewProfileTable(profiles ...ResolutionProfile) ProfileTable {
	return ProfileTable{profiles: append([]ResolutionProfile(nil), profiles...)}
}

// Profiles returns a copy of the profiles in configured order.
func (t ProfileTable) Profiles() []ResolutionProfile {
	return append([]ResolutionProfile(nil), t.profiles...)
}

func (t ProfileTable) Len() int {
	return len(t.profiles)
}

// String renders the table back into its configuration form.
func (t ProfileTable) String() string {
	parts := make([]string, 0, len(t.profiles))
	for _, p := range t.profiles {
		parts = append(parts, p.Name+":"+p.Resolution+":"+p.Bitrate)
	}
	return strings.Join(parts, ",")
}
