package ingest

import "strings"

// Resolution is the outcome of mapping a free-text name to a canonical
// entity. Resolved is false when the name fell back to the role's default,
// so callers can surface the fallback instead of hiding it.
type Resolution struct {
	ID       int64
	Name     string
	Resolved bool
}

// Resolver maps name spelling variants (accents included) to canonical
// identifiers using per-role alias tables from the rules document.
type Resolver struct {
	roles map[Role]roleIndex
}

type roleIndex struct {
	byAlias   map[string]int64
	canonical map[int64]string
	fallback  int64
}

func NewResolver(rules *Rules) *Resolver {
	r := &Resolver{roles: make(map[Role]roleIndex, len(rules.Roles))}
	for role, rr := range rules.Roles {
		idx := roleIndex{
			byAlias:   make(map[string]int64, len(rr.Aliases)),
			canonical: make(map[int64]string, len(rr.Canonical)),
			fallback:  rr.FallbackID,
		}
		for alias, id := range rr.Aliases {
			idx.byAlias[aliasKey(alias)] = id
		}
		for id, name := range rr.Canonical {
			idx.canonical[id] = name
			// A canonical name always resolves to itself.
			if _, taken := idx.byAlias[aliasKey(name)]; !taken {
				idx.byAlias[aliasKey(name)] = id
			}
		}
		r.roles[role] = idx
	}
	return r
}

// Resolve maps rawName to the role's canonical identifier. Unknown names
// resolve to the role's fallback with Resolved=false.
func (r *Resolver) Resolve(role Role, rawName string) Resolution {
	idx, ok := r.roles[role]
	if !ok {
		return Resolution{}
	}
	if id, ok := idx.byAlias[aliasKey(rawName)]; ok {
		return Resolution{ID: id, Name: idx.canonical[id], Resolved: true}
	}
	return Resolution{ID: idx.fallback, Name: idx.canonical[idx.fallback], Resolved: false}
}

// CanonicalName returns the display name for an already-known identifier.
func (r *Resolver) CanonicalName(role Role, id int64) string {
	return r.roles[role].canonical[id]
}

// aliasKey folds case and whitespace; accent variants stay distinct and are
// listed explicitly in the alias table, which is business data.
func aliasKey(name string) string {
	return strings.ToLower(NormalizeText(name))
}
