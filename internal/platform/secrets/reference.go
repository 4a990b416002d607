package secrets

import (
	"fmt"
	"net/url"
	"strings"
)

// Reference identifies one Secret Manager secret version.
type Reference struct {
	Project string
	Secret  string
	Version string
}

// ResourceName returns projects/{p}/secrets/{s}/versions/{v}.
func (r Reference) ResourceName() string {
	return fmt.Sprintf("projects/%s/secrets/%s/versions/%s", r.Project, r.Secret, r.Version)
}

// ParseReference accepts secret://NAME, secret://NAME?version=V&project=P and
// secret://projects/P/secrets/NAME[/versions/V]. sm:// is an alias for secret://.
func ParseReference(ref, defaultProject string) (Reference, error) {
	ref = strings.TrimSpace(ref)
	if rest, ok := strings.CutPrefix(ref, "sm://"); ok {
		ref = "secret://" + rest
	}
	u, err := url.Parse(ref)
	if err != nil || u.Scheme != "secret" {
		return Reference{}, fmt.Errorf("secrets: invalid reference %q", ref)
	}
	out := Reference{
		Project: firstNonEmpty(u.Query().Get("project"), defaultProject),
		Version: firstNonEmpty(u.Query().Get("version"), "latest"),
	}
	parts := strings.Split(strings.Trim(u.Host+u.Path, "/"), "/")
	switch {
	case len(parts) == 1 && parts[0] != "":
		out.Secret = parts[0]
	case len(parts) >= 4 && parts[0] == "projects" && parts[2] == "secrets":
		out.Project = parts[1]
		out.Secret = parts[3]
		if len(parts) == 6 && parts[4] == "versions" {
			out.Version = parts[5]
		} else if len(parts) != 4 {
			return Reference{}, fmt.Errorf("secrets: invalid reference %q", ref)
		}
	default:
		return Reference{}, fmt.Errorf("secrets: invalid reference %q", ref)
	}
	if out.Secret == "" {
		return Reference{}, fmt.Errorf("secrets: missing secret name in %q", ref)
	}
	return out, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
