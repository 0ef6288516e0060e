package platform

import (
	"fmt"
	"strings"

	"github.com/Guizzs26/go-aid-sync/internal/models"
)

// Well known platform names with dedicated mention syntax
const (
	Telegram models.Platform = "telegram"
	VK       models.Platform = "vk"
	Discord  models.Platform = "discord"
)

// Mention formats a reference to u for platform p. Users registered on a
// different platform cannot be addressed natively and get their display name.
func Mention(p models.Platform, u models.User) string {
	name := u.DisplayName
	if name == "" {
		name = u.ID
	}
	if u.Platform != p {
		return name
	}

	switch p {
	case Telegram:
		if u.Username != "" {
			return "@" + strings.TrimPrefix(u.Username, "@")
		}
		if u.PlatformUserID != "" {
			return fmt.Sprintf("[%s](tg://user?id=%s)", name, u.PlatformUserID)
		}
	case VK:
		if u.PlatformUserID != "" {
			return fmt.Sprintf("[id%s|%s]", u.PlatformUserID, name)
		}
	case Discord:
		if u.PlatformUserID != "" {
			return fmt.Sprintf("<@%s>", u.PlatformUserID)
		}
	}
	return name
}

// BuildContent renders the text posted to a target platform: the description
// followed by an attribution footer and, optionally, the origin notice.
func BuildContent(e models.Entity, owner models.User, a Adapter, showOrigin bool) string {
	mention := a.BuildUserMention(owner)

	var footer string
	if e.Kind == models.KindResource {
		footer = "Resource provided by " + mention
	} else {
		footer = "Need of " + mention
	}

	var b strings.Builder
	b.WriteString(e.Description)
	b.WriteString("\n\n")
	b.WriteString(footer)
	if showOrigin && e.OriginPlatform != "" && e.OriginPlatform != a.Name() {
		fmt.Fprintf(&b, "\nOriginally posted on %s", e.OriginPlatform)
	}
	return b.String()
}
