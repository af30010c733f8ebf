package notify

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/paul-bdio/zorro/pkg/profile"
	"gopkg.in/yaml.v3"
)

// Templates maps event types to message bodies. "{profileId}" is replaced with the
// profile id. An event type without a template is recorded but never sent.
type Templates map[profile.EventType]string

// DefaultTemplates returns the built-in bodies. Submissions are silent.
func DefaultTemplates() Templates {
	return Templates{
		profile.EventNewChallenge:     "New challenge to profile {profileId}",
		profile.EventAdjudicated:      "Profile {profileId} has been adjudicated",
		profile.EventAppealed:         "Adjudication of profile {profileId} has been appealed",
		profile.EventSuperAdjudicated: "Appeal of profile {profileId} has been decided",
		profile.EventVerdictChanged:   "Verification status of profile {profileId} changed",
	}
}

type templatesFile struct {
	Templates map[string]string `yaml:"templates"`
}

// LoadTemplates overlays the YAML file at path on the defaults. An empty body silences
// that event type. An empty path returns the defaults.
//
//	templates:
//	  NEW_CHALLENGE: "Profile {profileId} was challenged"
//	  PROFILE_SUBMITTED: "Profile {profileId} submitted"
func LoadTemplates(path string) (Templates, error) {
	t := DefaultTemplates()
	if path == "" {
		return t, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read templates %s: %w", path, err)
	}
	var f templatesFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse templates %s: %w", path, err)
	}
	for name, body := range f.Templates {
		et := profile.EventType(name)
		if !et.Valid() {
			return nil, fmt.Errorf("templates %s: unknown event type %q", path, name)
		}
		if body == "" {
			delete(t, et)
			continue
		}
		t[et] = body
	}
	return t, nil
}

// Render returns the body for a transition, or false when the event type is silent.
func (t Templates) Render(tr profile.Transition) (string, bool) {
	body, ok := t[tr.Type]
	if !ok {
		return "", false
	}
	r := strings.NewReplacer(
		"{profileId}", strconv.FormatUint(tr.ProfileID, 10),
		"{eventType}", string(tr.Type),
		"{eventTimestamp}", tr.EventTimestamp.UTC().Format(profile.TimestampLayout),
	)
	return r.Replace(body), true
}
