package subscription

import (
	"os"
	"strings"

	"github.com/gofiber/fiber/v2/log"

	"github.com/safarilist/safarilist/internal/pkg/env"
)

const groupEnvPrefix = "MAILERLITE_GROUP_"

// GroupResolver maps an industry string to a MailerLite group ID. The
// mapping is built once at startup and immutable afterwards; per-industry
// entries win over the configured default, and an empty result means the
// subscriber is enrolled without a group.
type GroupResolver struct {
	byIndustry   map[string]string
	defaultGroup string
}

func NewGroupResolver(byIndustry map[string]string, defaultGroup string) *GroupResolver {
	m := make(map[string]string, len(byIndustry))
	for k, v := range byIndustry {
		m[NormalizeIndustry(k)] = strings.TrimSpace(v)
	}
	return &GroupResolver{byIndustry: m, defaultGroup: strings.TrimSpace(defaultGroup)}
}

// NewGroupResolverFromEnv collects MAILERLITE_GROUP_<INDUSTRY> entries from
// the environment plus the MAILERLITE_GROUP_ID default.
func NewGroupResolverFromEnv() *GroupResolver {
	byIndustry := make(map[string]string)

	collect := func(key, value string) {
		if !strings.HasPrefix(key, groupEnvPrefix) || key == "MAILERLITE_GROUP_ID" {
			return
		}
		token := strings.TrimPrefix(key, groupEnvPrefix)
		if token != "" && strings.TrimSpace(value) != "" {
			byIndustry[token] = strings.TrimSpace(value)
		}
	}

	for key, value := range env.Env {
		collect(key, value)
	}
	for _, kv := range os.Environ() {
		if idx := strings.Index(kv, "="); idx > 0 {
			collect(kv[:idx], kv[idx+1:])
		}
	}

	return NewGroupResolver(byIndustry, env.GetEnv("MAILERLITE_GROUP_ID", ""))
}

// Resolve returns the group ID for an industry. Resolution order: exact
// industry mapping, configured default, then empty (no group).
func (r *GroupResolver) Resolve(industry string) string {
	token := NormalizeIndustry(industry)
	if g, ok := r.byIndustry[token]; ok && g != "" {
		return g
	}
	if r.defaultGroup != "" {
		return r.defaultGroup
	}
	log.Infof("[Groups] No group mapping for industry %q and no default configured; enrolling without a group", industry)
	return ""
}

// NormalizeIndustry turns a free-form industry string into the uppercase
// token used for configuration lookups: "Real Estate" -> "REAL_ESTATE".
func NormalizeIndustry(industry string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(strings.TrimSpace(industry)) {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
