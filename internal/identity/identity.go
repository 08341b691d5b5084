package identity

import (
	"path"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Separator joins the identifier components.
const Separator = "_"

// New returns the identifier for a bot.
func New(username, pkg, server string) string {
	return Join(PackageName(pkg), ServerTag(server), username)
}

// Join assembles an identifier from an already reduced package name and
// server tag.
func Join(pkgName, serverTag, username string) string {
	var b strings.Builder
	b.WriteString(pkgName)
	b.WriteString(Separator)
	b.WriteString(serverTag)
	b.WriteString(Separator)
	b.WriteString(norm.NFC.String(username))
	return b.String()
}

// PackageName reduces a package reference ("packages/du", `C:\pkgs\du`,
// "du") to its base name.
func PackageName(pkg string) string {
	p := strings.ReplaceAll(norm.NFC.String(pkg), `\`, "/")
	p = strings.TrimRight(p, "/")
	if p == "" {
		return ""
	}
	return path.Base(p)
}

// ServerTag reduces a server address to its host-like tag.
func ServerTag(server string) string {
	s := strings.ToLower(strings.TrimSpace(norm.NFC.String(server)))
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}
	s = strings.TrimPrefix(s, "www.")
	return strings.TrimRight(s, "/")
}
