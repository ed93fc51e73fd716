package guard

import "strings"

// Route はページのパスパターンと要件の組。
// パターンの {name} セグメントは空でない任意の1セグメントに一致する。
type Route struct {
	Pattern     string
	Page        string
	Requirement Requirement
}

// Match はLookupの結果。
type Match struct {
	Route
	Params map[string]string
}

// Table はページ一覧。先頭から順に照合する。
type Table []Route

// DefaultTable はポータルのページ一覧。
var DefaultTable = Table{
	{Pattern: "/", Page: "home", Requirement: Public},
	{Pattern: "/issues", Page: "issues", Requirement: Public},
	{Pattern: "/edu", Page: "edu", Requirement: Public},
	{Pattern: "/edu/{id}", Page: "edu-detail", Requirement: Public},
	{Pattern: "/topic/{id}", Page: "topic", Requirement: Public},
	{Pattern: "/forum", Page: "forum", Requirement: Public},
	{Pattern: "/forum/reply/{id}", Page: "forum-reply", Requirement: RequiresUser},
	{Pattern: "/forum/delete/{id}", Page: "forum-delete", Requirement: RequiresUser},
	{Pattern: "/feedback", Page: "feedback", Requirement: RequiresUser},
	{Pattern: "/reports", Page: "reports", Requirement: RequiresUser},
	{Pattern: "/profile", Page: "profile", Requirement: RequiresUser},
	{Pattern: "/complete-profile", Page: "complete-profile", Requirement: Public},
	{Pattern: "/login", Page: "login", Requirement: Public},
	{Pattern: "/register", Page: "register", Requirement: Public},
	{Pattern: "/admin/login", Page: "admin-login", Requirement: Public},
	{Pattern: "/admin/dashboard", Page: "admin-dashboard", Requirement: RequiresAdmin},
	{Pattern: "/admin/users", Page: "admin-users", Requirement: RequiresAdmin},
}

// Lookup はパスに一致するページを返す。
// どのパターンにも一致しない /admin 配下はAdminFallbackとして扱う。
func (t Table) Lookup(path string) (Match, bool) {
	path = normalize(path)
	segs := split(path)

	for _, r := range t {
		if params, ok := matchSegments(split(r.Pattern), segs); ok {
			return Match{Route: r, Params: params}, true
		}
	}

	if path == "/admin" || strings.HasPrefix(path, "/admin/") {
		return Match{
			Route: Route{Pattern: "/admin/*", Page: "admin-fallback", Requirement: AdminFallback},
		}, true
	}
	return Match{}, false
}

func normalize(path string) string {
	if path == "" {
		return "/"
	}
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
		if path == "" {
			return "/"
		}
	}
	return path
}

func split(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func matchSegments(pattern, segs []string) (map[string]string, bool) {
	if len(pattern) != len(segs) {
		return nil, false
	}
	var params map[string]string
	for i, p := range pattern {
		if strings.HasPrefix(p, "{") && strings.HasSuffix(p, "}") {
			if segs[i] == "" {
				return nil, false
			}
			if params == nil {
				params = make(map[string]string)
			}
			params[p[1:len(p)-1]] = segs[i]
			continue
		}
		if p != segs[i] {
			return nil, false
		}
	}
	return params, true
}
